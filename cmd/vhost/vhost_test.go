package main

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	os.Exit(m.Run())
}

func TestTickClockCarriesFraction(t *testing.T) {
	start := time.Unix(1000, 0)
	clock := tickClock{last: start}

	var total uint64
	now := start
	for i := 0; i < 100; i++ {
		now = now.Add(5*time.Millisecond + 900*time.Microsecond)
		total += clock.advance(now)
	}
	// 100 ticks of 5.9ms is 590ms, none of it lost to rounding
	require.Equal(t, uint64(590), total)
}

func TestTickClockIgnoresBackwardsTime(t *testing.T) {
	start := time.Unix(1000, 0)
	clock := tickClock{last: start}
	require.Equal(t, uint64(0), clock.advance(start.Add(-time.Second)))
	require.Equal(t, uint64(3), clock.advance(start.Add(3*time.Millisecond)))
}
