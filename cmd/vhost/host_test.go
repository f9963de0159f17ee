package main

import (
	"bytes"
	"net/netip"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	tcp_protocol "tcp-core-pa/tcp_pkg"
)

// hostPair wires two hosts back to back. Packets wait in a queue until flush
// so no host is re-entered while it holds its lock.
type hostPair struct {
	a, b       *host
	toA, toB   [][]byte
	metricsA   *tcp_protocol.Metrics
	receiveErr []error
}

func testHostConfig(local, remote string, localPort, remotePort uint16, isn uint32) HostConfig {
	cfg := DefaultHostConfig()
	cfg.UDPListen = "127.0.0.1:0"
	cfg.UDPPeer = "127.0.0.1:0"
	cfg.LocalIP = netip.MustParseAddr(local)
	cfg.RemoteIP = netip.MustParseAddr(remote)
	cfg.LocalPort = localPort
	cfg.RemotePort = remotePort
	cfg.TCP.ISN = isn
	return cfg
}

func newHostPair(t *testing.T) *hostPair {
	t.Helper()
	p := &hostPair{metricsA: tcp_protocol.NewMetrics()}
	var err error
	p.a, err = newHost(testHostConfig("10.0.0.1", "10.0.0.2", 9000, 80, 1), p.metricsA, func(b []byte) error {
		p.toB = append(p.toB, b)
		return nil
	})
	require.NoError(t, err)
	p.b, err = newHost(testHostConfig("10.0.0.2", "10.0.0.1", 80, 9000, 2), nil, func(b []byte) error {
		p.toA = append(p.toA, b)
		return nil
	})
	require.NoError(t, err)
	return p
}

func (p *hostPair) flush() {
	for len(p.toA) > 0 || len(p.toB) > 0 {
		toA, toB := p.toA, p.toB
		p.toA, p.toB = nil, nil
		for _, b := range toB {
			if err := p.b.packetReceived(b); err != nil {
				p.receiveErr = append(p.receiveErr, err)
			}
		}
		for _, b := range toA {
			if err := p.a.packetReceived(b); err != nil {
				p.receiveErr = append(p.receiveErr, err)
			}
		}
	}
}

func runCommand(t *testing.T, h *host, cmd string) string {
	t.Helper()
	var out bytes.Buffer
	require.True(t, h.handleCommand(cmd, &out))
	return out.String()
}

func TestHostSendAndReceive(t *testing.T) {
	p := newHostPair(t)
	p.a.connect()
	p.flush()

	require.Equal(t, "Sent 5 bytes\n", runCommand(t, p.a, "s hello"))
	p.flush()
	require.Equal(t, "Read 3 bytes: hel\n", runCommand(t, p.b, "r 3"))
	require.Equal(t, "Read 2 bytes: lo\n", runCommand(t, p.b, "r 10"))
	require.Empty(t, p.receiveErr)
	require.Equal(t, 1.0, testutil.ToFloat64(p.metricsA.SegmentsSent.WithLabelValues("data")))
}

func TestHostCloseAndList(t *testing.T) {
	p := newHostPair(t)
	p.a.connect()
	p.flush()

	require.Equal(t, "Closed outbound stream\n", runCommand(t, p.a, "cl"))
	p.flush()
	require.Equal(t, "Peer closed the stream\n", runCommand(t, p.b, "r 1"))

	listing := runCommand(t, p.a, "ls")
	require.Contains(t, listing, "CLOSING")
	require.Contains(t, listing, "10.0.0.2")
}

func TestHostAbort(t *testing.T) {
	p := newHostPair(t)
	p.a.connect()
	p.flush()

	require.Equal(t, "Connection aborted\n", runCommand(t, p.a, "ab"))
	p.flush()
	require.Contains(t, runCommand(t, p.b, "s more"), "connection reset")
	require.Contains(t, runCommand(t, p.b, "ls"), "RESET")
}

func TestHostBadCommands(t *testing.T) {
	p := newHostPair(t)
	require.Equal(t, "Usage: r <numbytes>\n", runCommand(t, p.a, "r x"))
	require.True(t, strings.HasPrefix(runCommand(t, p.a, "bogus"), "Invalid command"))
	require.Empty(t, runCommand(t, p.a, "   "))

	var out bytes.Buffer
	require.False(t, p.a.handleCommand("q", &out))
}

func TestHostDropsMisaddressedPackets(t *testing.T) {
	p := newHostPair(t)
	p.a.connect()
	require.Len(t, p.toB, 1)

	// b's packet delivered back to a is addressed to the wrong host
	err := p.a.packetReceived(p.toB[0])
	require.Error(t, err)

	corrupt := append([]byte(nil), p.toB[0]...)
	corrupt[len(corrupt)-1] ^= 0xff
	require.Error(t, p.b.packetReceived(corrupt))
	require.NoError(t, p.b.packetReceived(p.toB[0]))
}
