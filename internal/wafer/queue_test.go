package wafer

import "testing"

func TestQueueDrainsLowestPriorityFirst(t *testing.T) {
	q := NewQueue(0)
	_ = q.Enqueue(TransferRequest{WaferID: "w1", Priority: 3})
	_ = q.Enqueue(TransferRequest{WaferID: "w2", Priority: 1})
	_ = q.Enqueue(TransferRequest{WaferID: "w3", Priority: 2})

	order := []string{}
	for q.Len() > 0 {
		req, ok := q.Dequeue()
		if !ok {
			t.Fatal("Dequeue reported empty while Len > 0")
		}
		order = append(order, req.WaferID)
	}

	want := []string{"w2", "w3", "w1"}
	for i, id := range want {
		if order[i] != id {
			t.Errorf("drain order[%d] = %q, want %q (full order %v)", i, order[i], id, order)
		}
	}
}

func TestQueueFIFOWithinPriorityClass(t *testing.T) {
	q := NewQueue(0)
	_ = q.Enqueue(TransferRequest{WaferID: "first", Priority: 1})
	_ = q.Enqueue(TransferRequest{WaferID: "second", Priority: 1})
	_ = q.Enqueue(TransferRequest{WaferID: "third", Priority: 1})

	for _, want := range []string{"first", "second", "third"} {
		req, ok := q.Dequeue()
		if !ok || req.WaferID != want {
			t.Errorf("got %q, want %q", req.WaferID, want)
		}
	}
}

func TestQueueEnqueueRejectsOverCapacity(t *testing.T) {
	q := NewQueue(1)
	if err := q.Enqueue(TransferRequest{WaferID: "w1"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	err := q.Enqueue(TransferRequest{WaferID: "w2"})
	if err == nil {
		t.Fatal("expected ErrFull")
	}
	if _, ok := err.(*ErrFull); !ok {
		t.Errorf("err = %#v, want *ErrFull", err)
	}
}

func TestQueueDequeueEmpty(t *testing.T) {
	q := NewQueue(0)
	if _, ok := q.Dequeue(); ok {
		t.Error("expected Dequeue on empty queue to report false")
	}
}
