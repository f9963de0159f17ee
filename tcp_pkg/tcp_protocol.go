package tcp_protocol

import (
	"fmt"

	protocol "tcp-core-pa/pkg"
)

const (
	// MAX_WINDOW is the largest window a 16-bit header field can advertise
	MAX_WINDOW = 65535
)

// TCPSenderMessage is the part of a segment written by the sender: a sequence
// number, SYN/FIN/RST flags and payload.
type TCPSenderMessage struct {
	Seqno   protocol.Wrap32
	SYN     bool
	FIN     bool
	RST     bool
	Payload []byte
}

// SequenceLength counts the sequence numbers the message occupies, SYN and
// FIN take one each.
func (msg TCPSenderMessage) SequenceLength() uint64 {
	length := uint64(len(msg.Payload))
	if msg.SYN {
		length++
	}
	if msg.FIN {
		length++
	}
	return length
}

func (msg TCPSenderMessage) String() string {
	return fmt.Sprintf("[Seq=%v SYN=%t FIN=%t RST=%t Len=%d]", msg.Seqno, msg.SYN, msg.FIN, msg.RST, len(msg.Payload))
}

// TCPReceiverMessage is the part of a segment written by the receiver. Ackno
// is nil until the receiver has seen a SYN.
type TCPReceiverMessage struct {
	Ackno      *protocol.Wrap32
	WindowSize uint16
	RST        bool
}

func (msg TCPReceiverMessage) String() string {
	ackno := "none"
	if msg.Ackno != nil {
		ackno = msg.Ackno.String()
	}
	return fmt.Sprintf("[Ack=%s Win=%d RST=%t]", ackno, msg.WindowSize, msg.RST)
}

// TransmitFunc hands one segment to the network. It cannot fail, lost
// segments are recovered by retransmission.
type TransmitFunc func(msg TCPSenderMessage)
