package containers

import "testing"

func TestRingQueueWrapsAround(t *testing.T) {
	rq := NewRingQueue[int](3)
	if _, err := rq.Dequeue(); err != ErrQueueEmpty {
		t.Fatalf("Dequeue on empty queue: %v", err)
	}

	for round := 0; round < 4; round++ {
		for i := 0; i < 3; i++ {
			if err := rq.Enqueue(round*10 + i); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
		}
		if err := rq.Enqueue(99); err != ErrQueueFull {
			t.Fatalf("Enqueue on full queue: %v", err)
		}
		if v, _ := rq.Peek(); v != round*10 {
			t.Errorf("Peek=%d; expected %d", v, round*10)
		}
		for i := 0; i < 3; i++ {
			v, err := rq.Dequeue()
			if err != nil || v != round*10+i {
				t.Errorf("Dequeue=%d,%v; expected %d", v, err, round*10+i)
			}
		}
		if rq.Len() != 0 {
			t.Errorf("Len=%d after drain", rq.Len())
		}
	}
}
