// Package wafer provides the bounded-priority transfer queue backing the
// CMP wafer-transfer robot scenario: requests are drained lowest-priority-
// number-first, FIFO within a priority class.
package wafer

import "container/heap"

// TransferRequest is one pending wafer move, queued by a robot machine's
// action while it is busy and drained on its next placing->idle transition.
type TransferRequest struct {
	WaferID  string
	Priority int
	From     string
	To       string

	seq int
}

// transferHeap implements heap.Interface over []*TransferRequest. Lower
// Priority values sort first; seq (assignment order) breaks ties so
// requests within the same priority class drain FIFO.
type transferHeap []*TransferRequest

func (h transferHeap) Len() int { return len(h) }

func (h transferHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h transferHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *transferHeap) Push(x any) {
	*h = append(*h, x.(*TransferRequest))
}

func (h *transferHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is a bounded-priority FIFO-within-class queue of TransferRequests.
// Not safe for concurrent use; callers driving it from a single machine's
// action table get that for free since actions run on one interpreter
// goroutine.
type Queue struct {
	heap     transferHeap
	capacity int
	nextSeq  int
}

// NewQueue returns an empty queue. capacity <= 0 means unbounded.
func NewQueue(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	heap.Init(&q.heap)
	return q
}

// ErrFull is returned by Enqueue when the queue is at capacity.
type ErrFull struct{ Capacity int }

func (e *ErrFull) Error() string {
	return "wafer: transfer queue at capacity"
}

// Enqueue adds req to the queue, assigning it the next FIFO sequence
// number within its priority class.
func (q *Queue) Enqueue(req TransferRequest) error {
	if q.capacity > 0 && q.heap.Len() >= q.capacity {
		return &ErrFull{Capacity: q.capacity}
	}
	req.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.heap, &req)
	return nil
}

// Dequeue removes and returns the highest-priority (lowest Priority value)
// pending request, oldest first within a class. Returns false if empty.
func (q *Queue) Dequeue() (TransferRequest, bool) {
	if q.heap.Len() == 0 {
		return TransferRequest{}, false
	}
	item := heap.Pop(&q.heap).(*TransferRequest)
	return *item, true
}

// Len reports the number of pending requests.
func (q *Queue) Len() int { return q.heap.Len() }
