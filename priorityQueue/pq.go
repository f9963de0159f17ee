package priorityQueue

import (
	"container/heap"
)

// A DelayedPacket is a packet waiting on a simulated link until DeliverAt.
type DelayedPacket struct {
	DeliverAt  uint64 // virtual time in ms when the packet comes out of the link
	Order      uint64 // tie-break so equal times come out in the order queued
	Dest       int    // which end of the link receives it
	Index      int    // The index of the item in the heap
	PacketData []byte
}

// A PriorityQueue implements heap.Interface and holds DelayedPackets.
type PriorityQueue []*DelayedPacket

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	// We want Pop to give us the earliest delivery, so we use less than here
	if pq[i].DeliverAt != pq[j].DeliverAt {
		return pq[i].DeliverAt < pq[j].DeliverAt
	}
	return pq[i].Order < pq[j].Order
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*DelayedPacket)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // don't stop the GC from reclaiming the item eventually
	item.Index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}

// Schedule queues a packet for delivery at the given time.
func (pq *PriorityQueue) Schedule(packet *DelayedPacket) {
	heap.Push(pq, packet)
}

// PopDue removes and returns the earliest packet if it is due at or before
// now.
func (pq *PriorityQueue) PopDue(now uint64) (*DelayedPacket, bool) {
	if pq.Len() == 0 || (*pq)[0].DeliverAt > now {
		return nil, false
	}
	return heap.Pop(pq).(*DelayedPacket), true
}
