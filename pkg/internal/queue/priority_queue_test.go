package queue

import (
	"testing"
	"time"
)

func TestTimeQueue_Order(t *testing.T) {
	q := NewTimeQueue()
	base := time.Unix(1000, 0)

	q.Push("c", base.Add(3*time.Millisecond))
	q.Push("a", base.Add(1*time.Millisecond))
	q.Push("b1", base.Add(2*time.Millisecond))
	q.Push("b2", base.Add(2*time.Millisecond))

	want := []string{"a", "b1", "b2", "c"}
	for _, w := range want {
		item, ok := q.PopReady(base.Add(time.Second))
		if !ok {
			t.Fatalf("PopReady returned nothing, want %s", w)
		}
		if item.Value.(string) != w {
			t.Errorf("PopReady = %v, want %s", item.Value, w)
		}
	}

	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestTimeQueue_PopReadyNotDue(t *testing.T) {
	q := NewTimeQueue()
	base := time.Unix(1000, 0)

	q.Push("later", base.Add(time.Second))

	if _, ok := q.PopReady(base); ok {
		t.Errorf("PopReady returned an item before it was due")
	}
	if _, ok := q.PopReady(base.Add(time.Second)); !ok {
		t.Errorf("PopReady returned nothing at the due time")
	}
}

func TestTimeQueue_Remove(t *testing.T) {
	q := NewTimeQueue()
	base := time.Unix(1000, 0)

	a := q.Push("a", base)
	b := q.Push("b", base.Add(time.Millisecond))

	if !q.Remove(a) {
		t.Fatalf("Remove(a) = false, want true")
	}
	if a.Scheduled() {
		t.Errorf("removed item still reports Scheduled")
	}
	if q.Remove(a) {
		t.Errorf("second Remove(a) = true, want false")
	}

	if got := q.Peek(); got != b {
		t.Errorf("Peek = %v, want b", got.Value)
	}

	q.Clear()
	if b.Scheduled() {
		t.Errorf("cleared item still reports Scheduled")
	}
	if q.Peek() != nil {
		t.Errorf("Peek after Clear should be nil")
	}
}
