package protocol

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByteStreamPushTruncates(t *testing.T) {
	bs := NewByteStream(4)
	bs.Push([]byte("abcdef"))
	require.Equal(t, []byte("abcd"), bs.Peek())
	require.Equal(t, uint64(4), bs.BytesPushed())
	require.Equal(t, uint64(0), bs.AvailableCapacity())

	bs.Pop(3)
	require.Equal(t, []byte("d"), bs.Peek())
	require.Equal(t, uint64(3), bs.BytesPopped())
	require.Equal(t, uint64(3), bs.AvailableCapacity())

	bs.Push([]byte("efghij"))
	require.Equal(t, []byte("defg"), bs.Peek())
	require.Equal(t, uint64(7), bs.BytesPushed())
}

func TestByteStreamPopMoreThanBuffered(t *testing.T) {
	bs := NewByteStream(10)
	bs.Push([]byte("hi"))
	bs.Pop(100)
	require.Equal(t, uint64(2), bs.BytesPopped())
	require.Equal(t, uint64(0), bs.BytesBuffered())
	require.Empty(t, bs.Peek())
}

func TestByteStreamCloseAndFinish(t *testing.T) {
	bs := NewByteStream(10)
	bs.Push([]byte("xyz"))
	bs.Close()
	bs.Close()
	require.True(t, bs.IsClosed())
	require.False(t, bs.IsFinished())

	// push after close is ignored
	bs.Push([]byte("more"))
	require.Equal(t, uint64(3), bs.BytesPushed())

	bs.Pop(3)
	require.True(t, bs.IsFinished())
}

func TestByteStreamErrorIsSticky(t *testing.T) {
	bs := NewByteStream(10)
	require.False(t, bs.HasError())
	bs.SetError()
	bs.SetError()
	require.True(t, bs.HasError())
	require.False(t, bs.IsClosed())
	require.True(t, bs.Reader().HasError())
}

func TestByteStreamRolesShareState(t *testing.T) {
	bs := NewByteStream(8)
	w, r := bs.Writer(), bs.Reader()
	w.Push([]byte("abc"))
	require.Equal(t, []byte("abc"), r.Peek())
	require.Equal(t, []byte("ab"), ReadAtMost(r, 2))
	require.Equal(t, []byte("c"), ReadAtMost(r, 5))
	require.Empty(t, ReadAtMost(r, 1))
	require.Equal(t, uint64(3), r.BytesPopped())
}

func TestByteStreamCounterInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	const capacity = 37
	bs := NewByteStream(capacity)
	for i := 0; i < 2000; i++ {
		if rng.IntN(2) == 0 {
			bs.Push(make([]byte, rng.IntN(20)))
		} else {
			bs.Pop(uint64(rng.IntN(20)))
		}
		require.Equal(t, bs.BytesPushed()-bs.BytesPopped(), bs.BytesBuffered())
		require.LessOrEqual(t, bs.BytesBuffered(), uint64(capacity))
		require.Equal(t, uint64(capacity)-bs.BytesBuffered(), bs.AvailableCapacity())
	}
}
