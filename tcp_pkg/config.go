package tcp_protocol

import (
	"math/rand/v2"

	"github.com/pkg/errors"

	protocol "tcp-core-pa/pkg"
)

const (
	DEFAULT_RTO_MS           = 1000
	DEFAULT_MAX_PAYLOAD_SIZE = 1000
	// MAX_PAYLOAD_SIZE keeps a segment inside one 1400 byte IP packet
	MAX_PAYLOAD_SIZE = protocol.MAX_PACKET_SIZE - 20 - 20
)

// Config holds the per-connection parameters. They are fixed once a sender or
// receiver has been built.
type Config struct {
	InitialRTOms   uint64 `yaml:"initial_rto_ms"`
	MaxPayloadSize uint64 `yaml:"max_payload_size"`
	Capacity       uint64 `yaml:"capacity"`
	// ISN is the sender's zero point. Zero asks for a random one.
	ISN uint32 `yaml:"isn"`
}

func DefaultConfig() Config {
	return Config{
		InitialRTOms:   DEFAULT_RTO_MS,
		MaxPayloadSize: DEFAULT_MAX_PAYLOAD_SIZE,
		Capacity:       protocol.DEFAULT_CAPACITY,
		ISN:            rand.Uint32(),
	}
}

// Validate rejects parameters the sender cannot work with.
func (cfg Config) Validate() error {
	if cfg.InitialRTOms == 0 {
		return errors.New("initial_rto_ms must be positive")
	}
	if cfg.MaxPayloadSize == 0 {
		return errors.New("max_payload_size must be positive")
	}
	if cfg.MaxPayloadSize > MAX_PAYLOAD_SIZE {
		return errors.Errorf("max_payload_size %d exceeds %d", cfg.MaxPayloadSize, MAX_PAYLOAD_SIZE)
	}
	if cfg.Capacity == 0 {
		return errors.New("capacity must be positive")
	}
	return nil
}

// WithDefaults fills zero fields from DefaultConfig.
func (cfg Config) WithDefaults() Config {
	def := DefaultConfig()
	if cfg.InitialRTOms == 0 {
		cfg.InitialRTOms = def.InitialRTOms
	}
	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = def.MaxPayloadSize
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.ISN == 0 {
		cfg.ISN = def.ISN
	}
	return cfg
}
