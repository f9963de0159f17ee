package main

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	tcp_protocol "tcp-core-pa/tcp_pkg"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("testdata/host_a.yaml")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:5000", cfg.UDPListen)
	require.Equal(t, netip.MustParseAddr("10.0.0.1"), cfg.LocalIP)
	require.Equal(t, uint16(9000), cfg.LocalPort)
	require.True(t, cfg.Active)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, uint64(5), cfg.TickMs)
	require.Equal(t, uint64(200), cfg.TCP.InitialRTOms)
	require.Equal(t, uint32(12345), cfg.TCP.ISN)
}

func TestLoadConfigFillsDefaults(t *testing.T) {
	cfg, err := LoadConfig("testdata/host_b.yaml")
	require.NoError(t, err)
	require.False(t, cfg.Active)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, uint64(10), cfg.TickMs)
	require.Equal(t, uint64(tcp_protocol.DEFAULT_RTO_MS), cfg.TCP.InitialRTOms)
	require.Equal(t, uint64(tcp_protocol.DEFAULT_MAX_PAYLOAD_SIZE), cfg.TCP.MaxPayloadSize)
	require.Empty(t, cfg.MetricsListen)
}

func TestLoadConfigRejectsBadTCP(t *testing.T) {
	_, err := LoadConfig("testdata/bad_payload.yaml")
	require.ErrorContains(t, err, "max_payload_size")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("testdata/nope.yaml")
	require.Error(t, err)
}

func TestHostConfigValidate(t *testing.T) {
	cfg, err := LoadConfig("testdata/host_a.yaml")
	require.NoError(t, err)

	bad := cfg
	bad.LocalPort = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.LogLevel = "loud"
	require.Error(t, bad.Validate())

	bad = cfg
	bad.RemoteIP = netip.Addr{}
	require.Error(t, bad.Validate())
}
