package tcp_protocol

import (
	"github.com/rs/zerolog/log"

	protocol "tcp-core-pa/pkg"
)

// inFlightSegment is a transmitted segment that has not been fully acked,
// together with the absolute seqno of its first sequence number.
type inFlightSegment struct {
	absSeqno uint64
	msg      TCPSenderMessage
}

func (seg inFlightSegment) end() uint64 {
	return seg.absSeqno + seg.msg.SequenceLength()
}

// segmentQueue is a FIFO of in-flight segments. Popped slots before head are
// reclaimed once they make up half the slice.
type segmentQueue struct {
	segments []inFlightSegment
	head     int
}

func (q *segmentQueue) push(seg inFlightSegment) {
	q.segments = append(q.segments, seg)
}

func (q *segmentQueue) empty() bool {
	return q.head == len(q.segments)
}

func (q *segmentQueue) front() inFlightSegment {
	return q.segments[q.head]
}

func (q *segmentQueue) pop() {
	q.segments[q.head] = inFlightSegment{}
	q.head++
	if q.head == len(q.segments) {
		q.segments = q.segments[:0]
		q.head = 0
	} else if q.head > len(q.segments)/2 {
		n := copy(q.segments, q.segments[q.head:])
		q.segments = q.segments[:n]
		q.head = 0
	}
}

func (q *segmentQueue) pending() []inFlightSegment {
	return q.segments[q.head:]
}

// TCPSender reads the outbound stream, cuts it into segments that fit the
// peer's window, and retransmits the oldest unacked segment when the
// retransmission timer expires.
type TCPSender struct {
	input   *protocol.ByteStream
	isn     protocol.Wrap32
	cfg     Config
	metrics *Metrics

	nextSeqno uint64
	maxAckno  uint64
	// window is the peer's last advertised window, 0 until told otherwise
	window     uint64
	zeroWindow bool
	synSent    bool
	finSent    bool

	inFlight segmentQueue

	timerRunning               bool
	timerElapsed               uint64
	rto                        uint64
	consecutiveRetransmissions uint64
}

func NewTCPSender(cfg Config, metrics *Metrics) *TCPSender {
	return &TCPSender{
		input:   protocol.NewByteStream(cfg.Capacity),
		isn:     protocol.NewWrap32(cfg.ISN),
		cfg:     cfg,
		metrics: metrics,
		rto:     cfg.InitialRTOms,
	}
}

// Push sends as many segments as the peer's window allows.
func (s *TCPSender) Push(transmit TransmitFunc) {
	reader := s.input.Reader()
	windowBorder := s.maxAckno + s.window
	var leftSpace uint64
	if windowBorder > s.nextSeqno {
		leftSpace = windowBorder - s.nextSeqno
	}

	// A zero window is treated as one, so a single probe keeps the peer
	// telling us when the window opens again
	if s.window == 0 {
		msg := TCPSenderMessage{Seqno: protocol.Wrap(s.nextSeqno, s.isn)}
		if !s.synSent {
			msg.SYN = true
		} else if !s.finSent && reader.IsFinished() {
			msg.FIN = true
		} else if !reader.IsFinished() && s.maxAckno > 0 && s.inFlight.empty() {
			// one byte probe, only if nothing is already out there
			msg.Payload = protocol.ReadAtMost(reader, 1)
		}
		if msg.SequenceLength() == 0 {
			return
		}
		s.send(msg, transmit)
		return
	}

	for leftSpace > 0 {
		msg := TCPSenderMessage{Seqno: protocol.Wrap(s.nextSeqno, s.isn)}
		if !s.synSent {
			// SYN carries as much payload as fits after its own slot
			msg.SYN = true
			maxPayload := min(s.cfg.MaxPayloadSize, leftSpace-1)
			if maxPayload > 0 && !reader.IsFinished() {
				msg.Payload = protocol.ReadAtMost(reader, maxPayload)
			}
			if !s.finSent && reader.IsFinished() && leftSpace >= uint64(len(msg.Payload))+2 {
				msg.FIN = true
			}
		} else if reader.IsFinished() {
			if s.finSent {
				break
			}
			msg.FIN = true
		} else {
			msg.Payload = protocol.ReadAtMost(reader, min(leftSpace, s.cfg.MaxPayloadSize))
			if !s.finSent && reader.IsFinished() && leftSpace >= uint64(len(msg.Payload))+1 {
				msg.FIN = true
			}
			if msg.SequenceLength() == 0 {
				break
			}
		}
		s.send(msg, transmit)
		leftSpace -= min(leftSpace, msg.SequenceLength())
	}
}

// send records msg as in flight, starts the timer if it is idle, and hands msg
// to transmit.
func (s *TCPSender) send(msg TCPSenderMessage, transmit TransmitFunc) {
	if msg.SYN {
		s.synSent = true
	}
	if msg.FIN {
		s.finSent = true
	}
	if s.input.HasError() {
		msg.RST = true
	}
	s.inFlight.push(inFlightSegment{absSeqno: s.nextSeqno, msg: msg})
	s.nextSeqno += msg.SequenceLength()
	// The RTO itself is only reset by a fresh ack
	if !s.timerRunning {
		s.timerRunning = true
		s.timerElapsed = 0
		s.consecutiveRetransmissions = 0
	}
	s.metrics.segmentSent(msg)
	transmit(msg)
}

// MakeEmptyMessage returns a segment that occupies no sequence numbers, for
// replies that only carry an ack.
func (s *TCPSender) MakeEmptyMessage() TCPSenderMessage {
	return TCPSenderMessage{
		Seqno: protocol.Wrap(s.nextSeqno, s.isn),
		RST:   s.input.HasError(),
	}
}

// Receive takes the peer receiver's ackno and window.
func (s *TCPSender) Receive(msg TCPReceiverMessage) {
	if msg.RST {
		if !s.input.HasError() {
			log.Debug().Str("component", "sender").Msg("peer reset the stream")
			s.metrics.reset("outbound")
		}
		s.input.SetError()
		return
	}
	if msg.Ackno == nil {
		s.window = uint64(msg.WindowSize)
		return
	}

	ackAbs := msg.Ackno.Unwrap(s.isn, s.maxAckno)
	if ackAbs > s.nextSeqno {
		// Acks something we never sent
		log.Debug().Str("component", "sender").
			Uint64("ackno", ackAbs).
			Uint64("next_seqno", s.nextSeqno).
			Msg("dropping ack beyond next seqno")
		s.metrics.invalidAck()
		return
	}
	s.window = uint64(msg.WindowSize)
	s.zeroWindow = s.window == 0

	if ackAbs <= s.maxAckno {
		return
	}
	s.maxAckno = ackAbs
	for !s.inFlight.empty() && s.inFlight.front().end() <= s.maxAckno {
		s.inFlight.pop()
	}
	s.rto = s.cfg.InitialRTOms
	s.consecutiveRetransmissions = 0
	s.timerElapsed = 0
	s.timerRunning = !s.inFlight.empty()
}

// Tick tells the sender ms milliseconds have passed since the last call.
func (s *TCPSender) Tick(ms uint64, transmit TransmitFunc) {
	if !s.timerRunning || s.inFlight.empty() {
		return
	}
	s.timerElapsed += ms
	if s.timerElapsed < s.rto {
		return
	}

	oldest := s.inFlight.front()
	log.Debug().Str("component", "sender").
		Stringer("seg", oldest.msg).
		Uint64("rto_ms", s.rto).
		Uint64("consecutive", s.consecutiveRetransmissions).
		Msg("retransmission timer expired")
	s.metrics.retransmitted()
	transmit(oldest.msg)
	s.timerElapsed = 0

	// A zero window is not a sign of congestion, keep probing at the same rate
	if s.zeroWindow {
		return
	}
	s.rto *= 2
	s.consecutiveRetransmissions++
}

// SequenceNumbersInFlight sums the sequence lengths of every unacked segment.
func (s *TCPSender) SequenceNumbersInFlight() uint64 {
	var total uint64
	for _, seg := range s.inFlight.pending() {
		total += seg.msg.SequenceLength()
	}
	return total
}

func (s *TCPSender) ConsecutiveRetransmissions() uint64 {
	return s.consecutiveRetransmissions
}

func (s *TCPSender) RTO() uint64 {
	return s.rto
}

// Writer is the application's write side of the outbound stream.
func (s *TCPSender) Writer() protocol.Writer {
	return s.input.Writer()
}

func (s *TCPSender) NextSeqno() uint64 {
	return s.nextSeqno
}
