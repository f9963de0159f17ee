package tcp_protocol

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnReset  = errors.New("connection reset")
	ErrConnClosed = errors.New("connection closed for writing")
)

// TCPConn pairs the sender for our outbound stream with the receiver for the
// peer's stream. Every segment it emits carries both halves. It is not safe
// for concurrent use, callers serialise all calls.
type TCPConn struct {
	LocalPort  uint16
	RemotePort uint16

	sender   *TCPSender
	receiver *TCPReceiver
	output   func(Segment)

	// sent counts segments emitted, used to tell whether a reply already
	// carried our ack
	sent uint64
}

func NewTCPConn(cfg Config, localPort, remotePort uint16, metrics *Metrics, output func(Segment)) (*TCPConn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid tcp config")
	}
	return &TCPConn{
		LocalPort:  localPort,
		RemotePort: remotePort,
		sender:     NewTCPSender(cfg, metrics),
		receiver:   NewTCPReceiver(cfg.Capacity, metrics),
		output:     output,
	}, nil
}

func (tcpConn *TCPConn) transmit(msg TCPSenderMessage) {
	tcpConn.sent++
	tcpConn.output(Segment{
		SrcPort:  tcpConn.LocalPort,
		DstPort:  tcpConn.RemotePort,
		Sender:   msg,
		Receiver: tcpConn.receiver.Send(),
	})
}

// Connect sends our SYN, plus whatever data and window allow.
func (tcpConn *TCPConn) Connect() {
	tcpConn.sender.Push(tcpConn.transmit)
}

// SegmentReceived feeds a segment from the peer into both halves and sends
// whatever that unblocks. A segment that used sequence space always gets an
// ack, on an empty segment if nothing else went out.
func (tcpConn *TCPConn) SegmentReceived(seg Segment) {
	before := tcpConn.sent
	tcpConn.sender.Receive(seg.Receiver)
	tcpConn.receiver.Receive(seg.Sender)
	if seg.Sender.RST || seg.Receiver.RST {
		log.Debug().Uint16("port", tcpConn.LocalPort).Msg("connection reset by peer")
		return
	}
	tcpConn.sender.Push(tcpConn.transmit)
	if seg.Sender.SequenceLength() > 0 && tcpConn.sent == before {
		tcpConn.transmit(tcpConn.sender.MakeEmptyMessage())
	}
}

// Tick advances the retransmission timer by ms milliseconds.
func (tcpConn *TCPConn) Tick(ms uint64) {
	tcpConn.sender.Tick(ms, tcpConn.transmit)
}

// VWrite queues as much of data as the outbound stream has room for and
// returns the number of bytes taken. It never blocks.
func (tcpConn *TCPConn) VWrite(data []byte) (int, error) {
	writer := tcpConn.sender.Writer()
	if writer.HasError() {
		return 0, ErrConnReset
	}
	if writer.IsClosed() {
		return 0, ErrConnClosed
	}
	n := min(writer.AvailableCapacity(), uint64(len(data)))
	writer.Push(data[:n])
	tcpConn.sender.Push(tcpConn.transmit)
	return int(n), nil
}

// VRead copies buffered inbound bytes into buf. It returns io.EOF once the
// peer has finished and everything was read, and ErrConnReset after a reset.
func (tcpConn *TCPConn) VRead(buf []byte) (int, error) {
	reader := tcpConn.receiver.Reader()
	if reader.HasError() {
		return 0, ErrConnReset
	}
	if reader.BytesBuffered() == 0 {
		if reader.IsFinished() {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(buf, reader.Peek())
	reader.Pop(uint64(n))
	return n, nil
}

// VClose half-closes the connection: no more writes, FIN follows the data.
func (tcpConn *TCPConn) VClose() {
	tcpConn.sender.Writer().Close()
	tcpConn.sender.Push(tcpConn.transmit)
}

// VAbort resets both streams and tells the peer with an RST.
func (tcpConn *TCPConn) VAbort() {
	log.Debug().Uint16("port", tcpConn.LocalPort).Msg("aborting connection")
	tcpConn.sender.Writer().SetError()
	tcpConn.receiver.Reassembler().Writer().SetError()
	tcpConn.transmit(tcpConn.sender.MakeEmptyMessage())
}

// Done reports whether the connection has nothing left to do: either it was
// reset, or both streams ended and our FIN has been acknowledged.
func (tcpConn *TCPConn) Done() bool {
	if tcpConn.sender.Writer().HasError() || tcpConn.receiver.Reader().HasError() {
		return true
	}
	outboundDone := tcpConn.sender.finSent && tcpConn.sender.SequenceNumbersInFlight() == 0
	return outboundDone && tcpConn.receiver.Reader().IsFinished()
}

// State names the connection's phase for listings.
func (tcpConn *TCPConn) State() string {
	switch {
	case tcpConn.sender.Writer().HasError() || tcpConn.receiver.Reader().HasError():
		return "RESET"
	case tcpConn.Done():
		return "CLOSED"
	case !tcpConn.sender.synSent:
		return "IDLE"
	case tcpConn.sender.finSent:
		return "CLOSING"
	default:
		return "ESTABLISHED"
	}
}

func (tcpConn *TCPConn) Sender() *TCPSender {
	return tcpConn.sender
}

func (tcpConn *TCPConn) Receiver() *TCPReceiver {
	return tcpConn.receiver
}
