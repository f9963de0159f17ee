package tcp_protocol

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"

	protocol "tcp-core-pa/pkg"
)

const (
	TcpHeaderLen       = header.TCPMinimumSize
	TcpPseudoHeaderLen = 12
)

var (
	ErrMalformedSegment = errors.New("malformed tcp segment")
	ErrBadChecksum      = errors.New("tcp checksum mismatch")
)

// Segment is what travels between two endpoints: the sender half of one side
// and the receiver half of the same side, sharing one TCP header.
type Segment struct {
	SrcPort  uint16
	DstPort  uint16
	Sender   TCPSenderMessage
	Receiver TCPReceiverMessage
}

func (seg Segment) String() string {
	return fmt.Sprintf("%d->%d %v %v", seg.SrcPort, seg.DstPort, seg.Sender, seg.Receiver)
}

// MarshalSegment encodes seg as a TCP header plus payload, with the checksum
// computed over the IPv4 pseudo-header for srcAddr and destAddr.
func MarshalSegment(seg Segment, srcAddr, destAddr netip.Addr) []byte {
	var flags uint8
	if seg.Sender.SYN {
		flags |= header.TCPFlagSyn
	}
	if seg.Sender.FIN {
		flags |= header.TCPFlagFin
	}
	if seg.Sender.RST || seg.Receiver.RST {
		flags |= header.TCPFlagRst
	}
	var ackNum uint32
	if seg.Receiver.Ackno != nil {
		flags |= header.TCPFlagAck
		ackNum = seg.Receiver.Ackno.Raw()
	}

	tcpHeader := header.TCPFields{
		SrcPort:       seg.SrcPort,
		DstPort:       seg.DstPort,
		SeqNum:        seg.Sender.Seqno.Raw(),
		AckNum:        ackNum,
		DataOffset:    TcpHeaderLen,
		Flags:         flags,
		WindowSize:    seg.Receiver.WindowSize,
		Checksum:      0,
		UrgentPointer: 0,
	}
	packet := make([]byte, TcpHeaderLen+len(seg.Sender.Payload))
	tcpHdr := header.TCP(packet)
	tcpHdr.Encode(&tcpHeader)
	copy(packet[TcpHeaderLen:], seg.Sender.Payload)
	tcpHdr.SetChecksum(ComputeTCPChecksum(packet, srcAddr, destAddr))
	return packet
}

// UnmarshalSegment decodes a TCP header plus payload and checks its checksum.
// The RST flag is reported on both halves since either side may have set it.
func UnmarshalSegment(packet []byte, srcAddr, destAddr netip.Addr) (Segment, error) {
	if len(packet) < TcpHeaderLen {
		return Segment{}, errors.Wrapf(ErrMalformedSegment, "%d bytes is shorter than a header", len(packet))
	}
	tcpHdr := header.TCP(packet)
	dataOffset := int(tcpHdr.DataOffset())
	if dataOffset < TcpHeaderLen || dataOffset > len(packet) {
		return Segment{}, errors.Wrapf(ErrMalformedSegment, "data offset %d out of range", dataOffset)
	}
	if protocol.ComputeChecksum(append(pseudoHeader(srcAddr, destAddr, len(packet)), packet...)) != 0 {
		return Segment{}, ErrBadChecksum
	}

	flags := tcpHdr.Flags()
	rst := flags&header.TCPFlagRst != 0
	seg := Segment{
		SrcPort: tcpHdr.SourcePort(),
		DstPort: tcpHdr.DestinationPort(),
		Sender: TCPSenderMessage{
			Seqno: protocol.NewWrap32(tcpHdr.SequenceNumber()),
			SYN:   flags&header.TCPFlagSyn != 0,
			FIN:   flags&header.TCPFlagFin != 0,
			RST:   rst,
		},
		Receiver: TCPReceiverMessage{
			WindowSize: tcpHdr.WindowSize(),
			RST:        rst,
		},
	}
	if payload := packet[dataOffset:]; len(payload) > 0 {
		seg.Sender.Payload = append([]byte(nil), payload...)
	}
	if flags&header.TCPFlagAck != 0 {
		ackno := protocol.NewWrap32(tcpHdr.AckNumber())
		seg.Receiver.Ackno = &ackno
	}
	return seg, nil
}

// ComputeTCPChecksum returns the checksum of a TCP header plus payload whose
// checksum field is zero.
func ComputeTCPChecksum(packet []byte, sourceIP, destIP netip.Addr) uint16 {
	bytesToChecksum := append(pseudoHeader(sourceIP, destIP, len(packet)), packet...)
	return protocol.ComputeChecksum(bytesToChecksum)
}

func pseudoHeader(sourceIP, destIP netip.Addr, tcpLength int) []byte {
	pseudoHeaderBytes := make([]byte, TcpPseudoHeaderLen, TcpPseudoHeaderLen+tcpLength)
	src := sourceIP.As4()
	dst := destIP.As4()
	copy(pseudoHeaderBytes[0:4], src[:])
	copy(pseudoHeaderBytes[4:8], dst[:])
	pseudoHeaderBytes[8] = 0
	pseudoHeaderBytes[9] = uint8(protocol.IP_PROTO_TCP)
	binary.BigEndian.PutUint16(pseudoHeaderBytes[10:12], uint16(tcpLength))
	return pseudoHeaderBytes
}
