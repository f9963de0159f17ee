package protocol

// DEFAULT_CAPACITY is the stream capacity used when a config leaves it unset.
const DEFAULT_CAPACITY = 64000

// Writer is the write role of a ByteStream.
type Writer interface {
	Push(data []byte)
	Close()
	SetError()
	IsClosed() bool
	HasError() bool
	AvailableCapacity() uint64
	BytesPushed() uint64
}

// Reader is the read role of a ByteStream.
type Reader interface {
	Peek() []byte
	Pop(n uint64)
	IsFinished() bool
	HasError() bool
	BytesBuffered() uint64
	BytesPopped() uint64
}

// ByteStream is a capacity-bounded FIFO of bytes. One component owns it, the
// writer and reader are two roles on the same object.
type ByteStream struct {
	capacity uint64
	buffer   []byte
	pushed   uint64
	popped   uint64
	closed   bool
	errored  bool
}

func NewByteStream(capacity uint64) *ByteStream {
	return &ByteStream{
		capacity: capacity,
		buffer:   make([]byte, 0, min(capacity, 4096)),
	}
}

func (bs *ByteStream) Writer() Writer { return bs }

func (bs *ByteStream) Reader() Reader { return bs }

// Push appends as much of data as fits. The rest is dropped without error.
func (bs *ByteStream) Push(data []byte) {
	if bs.closed {
		return
	}
	n := min(bs.AvailableCapacity(), uint64(len(data)))
	bs.buffer = append(bs.buffer, data[:n]...)
	bs.pushed += n
}

// Close marks the end of the stream; later pushes are ignored.
func (bs *ByteStream) Close() {
	bs.closed = true
}

// SetError marks the stream as aborted. It never clears.
func (bs *ByteStream) SetError() {
	bs.errored = true
}

func (bs *ByteStream) IsClosed() bool {
	return bs.closed
}

func (bs *ByteStream) HasError() bool {
	return bs.errored
}

func (bs *ByteStream) AvailableCapacity() uint64 {
	return bs.capacity - uint64(len(bs.buffer))
}

func (bs *ByteStream) BytesPushed() uint64 {
	return bs.pushed
}

// Peek returns the buffered bytes without consuming them. The slice is only
// valid until the next Push or Pop.
func (bs *ByteStream) Peek() []byte {
	return bs.buffer
}

// Pop discards up to n bytes from the front.
func (bs *ByteStream) Pop(n uint64) {
	n = min(n, uint64(len(bs.buffer)))
	bs.buffer = bs.buffer[n:]
	bs.popped += n
	// Move the remaining bytes back to the start once the buffer drains,
	// otherwise the backing array keeps creeping forward.
	if len(bs.buffer) == 0 {
		bs.buffer = bs.buffer[:0:0]
	}
}

// IsFinished reports whether the stream is closed and fully drained.
func (bs *ByteStream) IsFinished() bool {
	return bs.closed && len(bs.buffer) == 0
}

func (bs *ByteStream) BytesBuffered() uint64 {
	return uint64(len(bs.buffer))
}

func (bs *ByteStream) BytesPopped() uint64 {
	return bs.popped
}

func (bs *ByteStream) Capacity() uint64 {
	return bs.capacity
}

// ReadAtMost pops up to n bytes from the reader and returns a copy of them.
func ReadAtMost(r Reader, n uint64) []byte {
	peeked := r.Peek()
	n = min(n, uint64(len(peeked)))
	out := make([]byte, n)
	copy(out, peeked[:n])
	r.Pop(n)
	return out
}
