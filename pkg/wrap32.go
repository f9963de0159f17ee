package protocol

import (
	"strconv"

	"github.com/google/netstack/tcpip/seqnum"
)

const wrapPeriod = uint64(1) << 32

// Wrap32 is a 32-bit sequence number that wraps around modulo 2^32. Absolute
// sequence numbers are 64 bits wide and never wrap.
type Wrap32 struct {
	raw seqnum.Value
}

func NewWrap32(raw uint32) Wrap32 {
	return Wrap32{raw: seqnum.Value(raw)}
}

// Wrap converts the absolute sequence number n into its 32-bit form relative
// to zeroPoint.
func Wrap(n uint64, zeroPoint Wrap32) Wrap32 {
	return Wrap32{raw: zeroPoint.raw.Add(seqnum.Size(uint32(n)))}
}

// Unwrap returns the absolute sequence number that wraps to w and is closest
// to checkpoint. On a distance tie the candidate sharing checkpoint's upper
// 32 bits wins.
func (w Wrap32) Unwrap(zeroPoint Wrap32, checkpoint uint64) uint64 {
	offset := uint64(zeroPoint.raw.Size(w.raw))
	base := checkpoint &^ (wrapPeriod - 1)

	best := base + offset
	bestDist := distance(best, checkpoint)
	candidates := [2]uint64{best + wrapPeriod, best}
	if best >= wrapPeriod {
		candidates[1] = best - wrapPeriod
	}
	for _, c := range candidates {
		if d := distance(c, checkpoint); d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best
}

func (w Wrap32) Raw() uint32 {
	return uint32(w.raw)
}

func (w Wrap32) Value() seqnum.Value {
	return w.raw
}

func (w Wrap32) String() string {
	return strconv.FormatUint(uint64(w.raw), 10)
}

func distance(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
