package protocol

import (
	"github.com/google/btree"
)

// pendingSpan is a run of bytes that arrived ahead of nextIndex.
type pendingSpan struct {
	start uint64
	data  []byte
}

func (span pendingSpan) end() uint64 {
	return span.start + uint64(len(span.data))
}

func spanLess(a, b pendingSpan) bool {
	return a.start < b.start
}

// Reassembler takes substrings of a byte stream, possibly out of order and
// overlapping, and writes the contiguous prefix into its output ByteStream.
// Bytes beyond the output's available capacity are discarded.
type Reassembler struct {
	output *ByteStream

	// pending holds non-overlapping, non-adjacent spans keyed by start index,
	// every key is greater than nextIndex.
	pending      *btree.BTreeG[pendingSpan]
	pendingCount uint64

	nextIndex uint64
	eofIndex  uint64
	eofKnown  bool
}

func NewReassembler(capacity uint64) *Reassembler {
	return &Reassembler{
		output:  NewByteStream(capacity),
		pending: btree.NewG(8, spanLess),
	}
}

// Insert records data as the bytes starting at firstIndex. isLast marks data
// as the final substring of the stream.
func (r *Reassembler) Insert(firstIndex uint64, data []byte, isLast bool) {
	if isLast {
		r.eofIndex = firstIndex + uint64(len(data))
		r.eofKnown = true
	}
	// Every return path closes the output once the last byte is in
	defer r.closeAtEOF()

	// Everything already delivered
	end := firstIndex + uint64(len(data))
	if end <= r.nextIndex {
		return
	}

	// Trim to what the output can still take
	start := max(firstIndex, r.nextIndex)
	border := r.nextIndex + r.output.AvailableCapacity()
	if border <= start {
		return
	}
	stop := min(end, border)
	if stop <= start {
		return
	}
	chunk := make([]byte, stop-start)
	copy(chunk, data[start-firstIndex:stop-firstIndex])

	// Both candidates start at the same index, keep the longer one
	cur := pendingSpan{start: start, data: chunk}
	if existing, found := r.pending.Get(cur); found {
		if len(existing.data) >= len(chunk) {
			cur = existing
		} else {
			r.pendingCount += uint64(len(chunk) - len(existing.data))
			r.pending.ReplaceOrInsert(cur)
		}
	} else {
		r.pending.ReplaceOrInsert(cur)
		r.pendingCount += uint64(len(chunk))
	}

	cur = r.mergeLeft(cur)
	r.mergeRight(cur, border)
	r.commit()
}

func (r *Reassembler) closeAtEOF() {
	if r.eofKnown && r.nextIndex == r.eofIndex {
		r.output.Close()
	}
}

// mergeLeft folds cur into its predecessors while they touch or overlap, and
// returns the span that now contains cur's bytes.
func (r *Reassembler) mergeLeft(cur pendingSpan) pendingSpan {
	for {
		prev, found := r.before(cur.start)
		if !found {
			return cur
		}
		tail := prev.end()
		if tail < cur.start {
			return cur
		}
		if tail < cur.end() {
			extra := cur.data[tail-cur.start:]
			prev.data = append(prev.data, extra...)
			r.pendingCount += uint64(len(extra))
		}
		r.pendingCount -= uint64(len(cur.data))
		r.pending.Delete(cur)
		r.pending.ReplaceOrInsert(prev)
		cur = prev
	}
}

// mergeRight absorbs successors of cur that start at or before its end and
// below border.
func (r *Reassembler) mergeRight(cur pendingSpan, border uint64) {
	for {
		next, found := r.after(cur.start)
		if !found || next.start >= border {
			return
		}
		curEnd := cur.end()
		if next.start > curEnd {
			return
		}
		right := min(next.end(), border)
		if right > curEnd {
			cur.data = append(cur.data, next.data[curEnd-next.start:right-next.start]...)
			r.pendingCount += right - curEnd
		}
		r.pendingCount -= uint64(len(next.data))
		r.pending.Delete(next)
		r.pending.ReplaceOrInsert(cur)
	}
}

// commit writes every span that starts at nextIndex into the output.
func (r *Reassembler) commit() {
	for {
		first, found := r.pending.Min()
		if !found || first.start > r.nextIndex {
			return
		}
		r.pending.DeleteMin()
		r.pendingCount -= uint64(len(first.data))
		if len(first.data) == 0 {
			continue
		}
		r.output.Push(first.data)
		r.nextIndex += uint64(len(first.data))
	}
}

func (r *Reassembler) before(index uint64) (span pendingSpan, found bool) {
	r.pending.DescendLessOrEqual(pendingSpan{start: index}, func(item pendingSpan) bool {
		if item.start == index {
			return true
		}
		span, found = item, true
		return false
	})
	return
}

func (r *Reassembler) after(index uint64) (span pendingSpan, found bool) {
	r.pending.AscendGreaterOrEqual(pendingSpan{start: index}, func(item pendingSpan) bool {
		if item.start == index {
			return true
		}
		span, found = item, true
		return false
	})
	return
}

// BytesPending is the number of bytes held inside the reassembler and not yet
// written to the output.
func (r *Reassembler) BytesPending() uint64 {
	return r.pendingCount
}

func (r *Reassembler) NextIndex() uint64 {
	return r.nextIndex
}

func (r *Reassembler) Writer() Writer {
	return r.output
}

func (r *Reassembler) Reader() Reader {
	return r.output
}
