package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	protocol "tcp-core-pa/pkg"
	tcp_protocol "tcp-core-pa/tcp_pkg"
)

// host owns one TCPConn. The UDP reader, the ticker and the REPL all go
// through mu since the conn itself is single-threaded.
type host struct {
	mu   sync.Mutex
	cfg  HostConfig
	conn *tcp_protocol.TCPConn
	// sendPacket puts an encapsulated packet on the link
	sendPacket func([]byte) error
}

func newHost(cfg HostConfig, metrics *tcp_protocol.Metrics, sendPacket func([]byte) error) (*host, error) {
	h := &host{cfg: cfg, sendPacket: sendPacket}
	conn, err := tcp_protocol.NewTCPConn(cfg.TCP, cfg.LocalPort, cfg.RemotePort, metrics, h.output)
	if err != nil {
		return nil, err
	}
	h.conn = conn
	return h, nil
}

func (h *host) output(seg tcp_protocol.Segment) {
	tcpBytes := tcp_protocol.MarshalSegment(seg, h.cfg.LocalIP, h.cfg.RemoteIP)
	packet, err := protocol.MarshalIPPacket(h.cfg.LocalIP, h.cfg.RemoteIP, protocol.IP_PROTO_TCP, tcpBytes)
	if err != nil {
		log.Error().Err(err).Msg("could not build ip packet")
		return
	}
	if err := h.sendPacket(packet); err != nil {
		// the retransmission timer covers this
		log.Warn().Err(err).Stringer("seg", seg).Msg("send failed")
	}
}

// packetReceived decodes one packet from the link and hands it to the conn if
// it is addressed to us.
func (h *host) packetReceived(b []byte) error {
	ipPacket, err := protocol.UnmarshalIPPacket(b)
	if err != nil {
		return err
	}
	if ipPacket.Header.Protocol != protocol.IP_PROTO_TCP {
		return errors.Errorf("unexpected protocol %d", ipPacket.Header.Protocol)
	}
	if ipPacket.Header.Dst != h.cfg.LocalIP {
		return errors.Errorf("packet for %v, we are %v", ipPacket.Header.Dst, h.cfg.LocalIP)
	}
	seg, err := tcp_protocol.UnmarshalSegment(ipPacket.Payload, ipPacket.Header.Src, ipPacket.Header.Dst)
	if err != nil {
		return err
	}
	if seg.DstPort != h.cfg.LocalPort || seg.SrcPort != h.cfg.RemotePort {
		return errors.Errorf("segment for port %d from %d does not match the connection", seg.DstPort, seg.SrcPort)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	log.Debug().Stringer("seg", seg).Msg("segment received")
	h.conn.SegmentReceived(seg)
	return nil
}

func (h *host) tick(ms uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn.Tick(ms)
}

func (h *host) connect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn.Connect()
}

// handleCommand runs one REPL line and writes the result to out. It returns
// false when the user asked to quit.
func (h *host) handleCommand(userInput string, out io.Writer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	userInput = strings.TrimSpace(userInput)
	if userInput == "" {
		return true
	}

	if userInput == "q" {
		return false

	} else if userInput == "c" {
		h.conn.Connect()

	} else if userInput == "ls" {
		h.listConn(out)

	} else if userInput == "cl" {
		h.conn.VClose()
		fmt.Fprintln(out, "Closed outbound stream")

	} else if userInput == "ab" {
		h.conn.VAbort()
		fmt.Fprintln(out, "Connection aborted")

	} else if strings.HasPrefix(userInput, "s ") {
		bytesSent, err := h.conn.VWrite([]byte(userInput[2:]))
		if err != nil {
			fmt.Fprintln(out, "Error:", err)
			return true
		}
		fmt.Fprintln(out, "Sent "+strconv.Itoa(bytesSent)+" bytes")

	} else if strings.HasPrefix(userInput, "r ") {
		numBytes, err := strconv.Atoi(strings.TrimSpace(userInput[2:]))
		if err != nil || numBytes <= 0 {
			fmt.Fprintln(out, "Usage: r <numbytes>")
			return true
		}
		appBuffer := make([]byte, numBytes)
		bytesRead, err := h.conn.VRead(appBuffer)
		if err == io.EOF {
			fmt.Fprintln(out, "Peer closed the stream")
			return true
		} else if err != nil {
			fmt.Fprintln(out, "Error:", err)
			return true
		}
		fmt.Fprintln(out, "Read "+strconv.Itoa(bytesRead)+" bytes: "+string(appBuffer[:bytesRead]))

	} else {
		fmt.Fprintln(out, "Invalid command: "+userInput)
	}
	return true
}

func (h *host) listConn(out io.Writer) {
	sender := h.conn.Sender()
	fmt.Fprintln(out, "LAddr           LPort      RAddr          RPort    Status       InFlight  Retx  RTO")
	fmt.Fprintf(out, "%-15s %-10d %-14s %-8d %-12s %-9d %-5d %d\n",
		h.cfg.LocalIP, h.cfg.LocalPort, h.cfg.RemoteIP, h.cfg.RemotePort, h.conn.State(),
		sender.SequenceNumbersInFlight(), sender.ConsecutiveRetransmissions(), sender.RTO())
}
