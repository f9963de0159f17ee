// Package link simulates an unreliable network path between two TCPConns.
// Segments travel as IPv4 packets and can be dropped, duplicated, corrupted
// or delayed, which reorders them. Time is virtual and only moves on Step.
package link

import (
	"math/rand/v2"
	"net/netip"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	protocol "tcp-core-pa/pkg"
	"tcp-core-pa/priorityQueue"
	tcp_protocol "tcp-core-pa/tcp_pkg"
)

// Config controls how badly the link behaves. Rates are probabilities in
// [0, 1].
type Config struct {
	DropRate      float64
	DuplicateRate float64
	CorruptRate   float64
	// MaxDelayMs is the most a packet can be delayed beyond the minimum of 1ms
	MaxDelayMs uint64
	Seed       uint64
}

// Stats counts what happened to the packets handed to the link.
type Stats struct {
	Sent       uint64
	Dropped    uint64
	Duplicated uint64
	Corrupted  uint64
	Delivered  uint64
	Rejected   uint64
}

// Link connects end 0 and end 1. It is not safe for concurrent use.
type Link struct {
	cfg   Config
	rng   *rand.Rand
	addrs [2]netip.Addr
	conns [2]*tcp_protocol.TCPConn

	queue priorityQueue.PriorityQueue
	now   uint64
	order uint64
	stats Stats
}

func New(cfg Config, addr0, addr1 netip.Addr) (*Link, error) {
	for _, rate := range []float64{cfg.DropRate, cfg.DuplicateRate, cfg.CorruptRate} {
		if rate < 0 || rate > 1 {
			return nil, errors.Errorf("rate %v outside [0, 1]", rate)
		}
	}
	if !addr0.Is4() || !addr1.Is4() {
		return nil, errors.New("link endpoints need IPv4 addresses")
	}
	return &Link{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		addrs: [2]netip.Addr{addr0, addr1},
	}, nil
}

// Output returns the function end uses to put segments on the link. It is
// meant to be passed to NewTCPConn before the conn is attached.
func (l *Link) Output(end int) func(tcp_protocol.Segment) {
	return func(seg tcp_protocol.Segment) {
		l.send(end, seg)
	}
}

// Attach sets the conns that receive packets at each end.
func (l *Link) Attach(conn0, conn1 *tcp_protocol.TCPConn) {
	l.conns = [2]*tcp_protocol.TCPConn{conn0, conn1}
}

func (l *Link) send(from int, seg tcp_protocol.Segment) {
	l.stats.Sent++
	src, dst := l.addrs[from], l.addrs[1-from]
	tcpBytes := tcp_protocol.MarshalSegment(seg, src, dst)
	packet, err := protocol.MarshalIPPacket(src, dst, protocol.IP_PROTO_TCP, tcpBytes)
	if err != nil {
		log.Warn().Err(err).Msg("could not encapsulate segment")
		return
	}

	if l.rng.Float64() < l.cfg.DropRate {
		l.stats.Dropped++
		log.Debug().Str("component", "link").Stringer("seg", seg).Msg("dropping segment")
		return
	}
	copies := 1
	if l.rng.Float64() < l.cfg.DuplicateRate {
		l.stats.Duplicated++
		copies = 2
	}
	for i := 0; i < copies; i++ {
		data := packet
		if l.rng.Float64() < l.cfg.CorruptRate {
			l.stats.Corrupted++
			data = append([]byte(nil), packet...)
			// flip a bit somewhere in the tcp part so the ip header still parses
			pos := len(packet) - len(tcpBytes) + l.rng.IntN(len(tcpBytes))
			data[pos] ^= 1 << l.rng.IntN(8)
		}
		l.order++
		l.queue.Schedule(&priorityQueue.DelayedPacket{
			DeliverAt:  l.now + 1 + l.rng.Uint64N(l.cfg.MaxDelayMs+1),
			Order:      l.order,
			Dest:       1 - from,
			PacketData: data,
		})
	}
}

// Step advances the clock by ms, delivers every packet due by then, and ticks
// both conns.
func (l *Link) Step(ms uint64) {
	l.now += ms
	for {
		pkt, ok := l.queue.PopDue(l.now)
		if !ok {
			break
		}
		l.deliver(pkt)
	}
	for _, conn := range l.conns {
		if conn != nil {
			conn.Tick(ms)
		}
	}
}

func (l *Link) deliver(pkt *priorityQueue.DelayedPacket) {
	conn := l.conns[pkt.Dest]
	if conn == nil {
		return
	}
	ipPacket, err := protocol.UnmarshalIPPacket(pkt.PacketData)
	if err != nil {
		l.stats.Rejected++
		log.Debug().Str("component", "link").Err(err).Msg("bad ip packet")
		return
	}
	seg, err := tcp_protocol.UnmarshalSegment(ipPacket.Payload, ipPacket.Header.Src, ipPacket.Header.Dst)
	if err != nil {
		l.stats.Rejected++
		log.Debug().Str("component", "link").Err(err).Msg("bad tcp segment")
		return
	}
	l.stats.Delivered++
	conn.SegmentReceived(seg)
}

// Run steps the link until both conns are done or maxSteps have passed, and
// reports whether both finished.
func (l *Link) Run(maxSteps int, ms uint64) bool {
	for i := 0; i < maxSteps; i++ {
		if l.bothDone() {
			return true
		}
		l.Step(ms)
	}
	return l.bothDone()
}

func (l *Link) bothDone() bool {
	return l.conns[0] != nil && l.conns[1] != nil && l.conns[0].Done() && l.conns[1].Done()
}

// InFlight is the number of packets still on the wire.
func (l *Link) InFlight() int {
	return l.queue.Len()
}

func (l *Link) Now() uint64 {
	return l.now
}

func (l *Link) Stats() Stats {
	return l.stats
}
