package main

import (
	"net/netip"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	tcp_protocol "tcp-core-pa/tcp_pkg"
)

// HostConfig describes one end of a connection carried over UDP.
type HostConfig struct {
	// UDP addresses that stand in for the link layer
	UDPListen string `yaml:"udp_listen"`
	UDPPeer   string `yaml:"udp_peer"`

	LocalIP    netip.Addr `yaml:"local_ip"`
	RemoteIP   netip.Addr `yaml:"remote_ip"`
	LocalPort  uint16     `yaml:"local_port"`
	RemotePort uint16     `yaml:"remote_port"`
	// Active hosts send their SYN on start, passive ones wait for the peer's
	Active bool `yaml:"active"`

	LogLevel      string `yaml:"log_level"`
	MetricsListen string `yaml:"metrics_listen"`
	TickMs        uint64 `yaml:"tick_ms"`

	TCP tcp_protocol.Config `yaml:"tcp"`
}

func DefaultHostConfig() HostConfig {
	return HostConfig{
		LogLevel: "info",
		TickMs:   10,
		TCP:      tcp_protocol.DefaultConfig(),
	}
}

// LoadConfig reads a yaml file over the defaults.
func LoadConfig(path string) (HostConfig, error) {
	cfg := DefaultHostConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	cfg.TCP = cfg.TCP.WithDefaults()
	return cfg, cfg.Validate()
}

func (cfg HostConfig) Validate() error {
	if cfg.UDPListen == "" || cfg.UDPPeer == "" {
		return errors.New("udp_listen and udp_peer are required")
	}
	if !cfg.LocalIP.Is4() || !cfg.RemoteIP.Is4() {
		return errors.New("local_ip and remote_ip must be IPv4 addresses")
	}
	if cfg.LocalPort == 0 || cfg.RemotePort == 0 {
		return errors.New("local_port and remote_port are required")
	}
	if cfg.TickMs == 0 {
		return errors.New("tick_ms must be positive")
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	return errors.Wrap(cfg.TCP.Validate(), "tcp")
}
