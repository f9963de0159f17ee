package protocol

import (
	"net/netip"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

const (
	IP_PROTO_TCP = 6
	DEFAULT_TTL  = 16
	// MAX_PACKET_SIZE is the largest IP packet the virtual links carry
	MAX_PACKET_SIZE = 1400
)

var ErrBadIPChecksum = errors.New("ip header checksum mismatch")

type IPPacket struct {
	Header  ipv4header.IPv4Header
	Payload []byte
}

// MarshalIPPacket wraps data in an IPv4 header addressed from src to dest.
func MarshalIPPacket(src, dest netip.Addr, protocolNum int, data []byte) ([]byte, error) {
	// Construct IP packet header
	hdr := ipv4header.IPv4Header{
		Version:  4,
		Len:      ipv4header.HeaderLen, // no IP options
		TOS:      0,
		TotalLen: ipv4header.HeaderLen + len(data),
		ID:       0,
		Flags:    0,
		FragOff:  0,
		TTL:      DEFAULT_TTL,
		Protocol: protocolNum,
		Checksum: 0, // Should be 0 until checksum is computed
		Src:      src,
		Dst:      dest,
		Options:  []byte{},
	}
	headerBytes, err := hdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal ip header")
	}
	hdr.Checksum = int(ComputeChecksum(headerBytes))
	headerBytes, err = hdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal ip header")
	}

	// Construct all bytes of the IP packet
	bytesToSend := make([]byte, 0, len(headerBytes)+len(data))
	bytesToSend = append(bytesToSend, headerBytes...)
	bytesToSend = append(bytesToSend, data...)
	return bytesToSend, nil
}

// UnmarshalIPPacket parses an IPv4 packet and verifies its header checksum.
func UnmarshalIPPacket(b []byte) (*IPPacket, error) {
	hdr, err := ipv4header.ParseHeader(b)
	if err != nil {
		return nil, errors.Wrap(err, "parse ip header")
	}
	if hdr.Len > len(b) || hdr.TotalLen > len(b) || hdr.TotalLen < hdr.Len {
		return nil, errors.Errorf("ip packet truncated: header says %d bytes, got %d", hdr.TotalLen, len(b))
	}
	// The checksum over a header that carries its own checksum is zero
	if header.Checksum(b[:hdr.Len], 0)^0xffff != 0 {
		return nil, ErrBadIPChecksum
	}
	return &IPPacket{
		Header:  *hdr,
		Payload: b[hdr.Len:hdr.TotalLen],
	}, nil
}

func ComputeChecksum(headerBytes []byte) uint16 {
	checksum := header.Checksum(headerBytes, 0)
	checksumInv := checksum ^ 0xffff
	return checksumInv
}
