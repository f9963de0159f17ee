package tcp_protocol

import (
	"net/netip"
	"testing"

	"github.com/google/netstack/tcpip/header"
	"github.com/stretchr/testify/require"

	protocol "tcp-core-pa/pkg"
)

var (
	addrA = netip.MustParseAddr("10.0.0.1")
	addrB = netip.MustParseAddr("10.0.0.2")
)

func TestSegmentRoundTrip(t *testing.T) {
	ackno := protocol.NewWrap32(777)
	seg := Segment{
		SrcPort: 9000,
		DstPort: 80,
		Sender: TCPSenderMessage{
			Seqno:   protocol.NewWrap32(0xdeadbeef),
			SYN:     true,
			FIN:     true,
			Payload: []byte("payload"),
		},
		Receiver: TCPReceiverMessage{Ackno: &ackno, WindowSize: 4321},
	}
	b := MarshalSegment(seg, addrA, addrB)
	require.Len(t, b, TcpHeaderLen+len("payload"))

	hdr := header.TCP(b)
	require.Equal(t, uint8(header.TCPFlagSyn|header.TCPFlagFin|header.TCPFlagAck), hdr.Flags())

	got, err := UnmarshalSegment(b, addrA, addrB)
	require.NoError(t, err)
	require.Equal(t, seg, got)
}

func TestSegmentWithoutAck(t *testing.T) {
	seg := Segment{
		SrcPort:  1,
		DstPort:  2,
		Sender:   TCPSenderMessage{Seqno: protocol.NewWrap32(5), SYN: true},
		Receiver: TCPReceiverMessage{WindowSize: 100},
	}
	got, err := UnmarshalSegment(MarshalSegment(seg, addrA, addrB), addrA, addrB)
	require.NoError(t, err)
	require.Nil(t, got.Receiver.Ackno)
	require.Nil(t, got.Sender.Payload)
	require.Equal(t, seg, got)
}

func TestSegmentRSTOnBothHalves(t *testing.T) {
	seg := Segment{Sender: TCPSenderMessage{RST: true}}
	got, err := UnmarshalSegment(MarshalSegment(seg, addrA, addrB), addrA, addrB)
	require.NoError(t, err)
	require.True(t, got.Sender.RST)
	require.True(t, got.Receiver.RST)

	seg = Segment{Receiver: TCPReceiverMessage{RST: true}}
	got, err = UnmarshalSegment(MarshalSegment(seg, addrA, addrB), addrA, addrB)
	require.NoError(t, err)
	require.True(t, got.Sender.RST)
}

func TestSegmentChecksumCoversAddresses(t *testing.T) {
	seg := Segment{SrcPort: 1, DstPort: 2, Sender: TCPSenderMessage{Payload: []byte("x")}}
	b := MarshalSegment(seg, addrA, addrB)
	_, err := UnmarshalSegment(b, addrA, netip.MustParseAddr("10.0.0.3"))
	require.ErrorIs(t, err, ErrBadChecksum)
}

func TestSegmentCorruptPayload(t *testing.T) {
	seg := Segment{SrcPort: 1, DstPort: 2, Sender: TCPSenderMessage{Payload: []byte("hello")}}
	b := MarshalSegment(seg, addrA, addrB)
	b[len(b)-1] ^= 0x40
	_, err := UnmarshalSegment(b, addrA, addrB)
	require.ErrorIs(t, err, ErrBadChecksum)
}

func TestSegmentMalformed(t *testing.T) {
	_, err := UnmarshalSegment(make([]byte, 10), addrA, addrB)
	require.ErrorIs(t, err, ErrMalformedSegment)

	b := MarshalSegment(Segment{}, addrA, addrB)
	// data offset of 15 words is longer than the packet
	b[12] = 0xf0
	_, err = UnmarshalSegment(b, addrA, addrB)
	require.ErrorIs(t, err, ErrMalformedSegment)
}
