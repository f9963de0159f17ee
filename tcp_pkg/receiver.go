package tcp_protocol

import (
	"github.com/rs/zerolog/log"

	protocol "tcp-core-pa/pkg"
)

// TCPReceiver turns inbound segments into the inbound byte stream and
// produces the ackno/window that goes back to the peer's sender.
type TCPReceiver struct {
	reassembler *protocol.Reassembler
	metrics     *Metrics

	isn    protocol.Wrap32
	isnSet bool
	hasRST bool
}

func NewTCPReceiver(capacity uint64, metrics *Metrics) *TCPReceiver {
	return &TCPReceiver{
		reassembler: protocol.NewReassembler(capacity),
		metrics:     metrics,
	}
}

// Receive processes one segment from the peer.
func (r *TCPReceiver) Receive(msg TCPSenderMessage) {
	if msg.RST {
		if !r.hasRST {
			log.Debug().Str("component", "receiver").Stringer("seg", msg).Msg("peer reset the stream")
			r.metrics.reset("inbound")
		}
		r.hasRST = true
		r.reassembler.Writer().SetError()
		return
	}

	// Nothing is accepted until the SYN tells us where the stream starts
	if !r.isnSet {
		if !msg.SYN {
			return
		}
		r.isn = msg.Seqno
		r.isnSet = true
		log.Debug().Str("component", "receiver").Stringer("isn", r.isn).Msg("learned initial sequence number")
	}

	// Absolute seqno 0 is the SYN, so stream index = absolute seqno - 1
	writer := r.reassembler.Writer()
	checkpoint := 1 + writer.BytesPushed()
	absSeqno := msg.Seqno.Unwrap(r.isn, checkpoint)
	if absSeqno == 0 && !msg.SYN {
		// Claims the SYN's slot without being a SYN
		return
	}
	streamIndex := absSeqno - 1
	if msg.SYN {
		streamIndex++
	}

	before := writer.BytesPushed()
	r.reassembler.Insert(streamIndex, msg.Payload, msg.FIN)
	r.metrics.delivered(writer.BytesPushed() - before)
}

// Send builds the acknowledgement for the peer's sender.
func (r *TCPReceiver) Send() TCPReceiverMessage {
	writer := r.reassembler.Writer()
	var msg TCPReceiverMessage
	if r.isnSet {
		// The SYN occupies one sequence number, and so does FIN once the
		// stream has been closed
		ackAbs := writer.BytesPushed() + 1
		if writer.IsClosed() {
			ackAbs++
		}
		ackno := protocol.Wrap(ackAbs, r.isn)
		msg.Ackno = &ackno
	}
	msg.WindowSize = uint16(min(MAX_WINDOW, writer.AvailableCapacity()))
	msg.RST = r.hasRST || writer.HasError()
	return msg
}

// Reader is the application's read side of the inbound stream.
func (r *TCPReceiver) Reader() protocol.Reader {
	return r.reassembler.Reader()
}

func (r *TCPReceiver) Reassembler() *protocol.Reassembler {
	return r.reassembler
}
