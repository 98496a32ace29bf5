package queue

import (
	"container/heap"
	"sync"
	"time"
)

// Item represents a scheduled entry
type Item struct {
	Value interface{} // The scheduled value
	When  time.Time   // When this item is due
	seq   uint64      // Insertion order, breaks ties between equal deadlines
	index int         // Index in the heap, -1 once removed
}

// Scheduled reports whether the item is still queued
func (i *Item) Scheduled() bool {
	return i.index >= 0
}

// TimeQueue orders items by due time, then by insertion order
type TimeQueue struct {
	items   itemHeap
	nextSeq uint64
	mu      sync.Mutex
}

// NewTimeQueue creates an empty queue
func NewTimeQueue() *TimeQueue {
	q := &TimeQueue{
		items: make(itemHeap, 0),
	}
	heap.Init(&q.items)
	return q
}

// Push adds a value due at when
func (q *TimeQueue) Push(value interface{}, when time.Time) *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := &Item{
		Value: value,
		When:  when,
		seq:   q.nextSeq,
	}
	q.nextSeq++
	heap.Push(&q.items, item)
	return item
}

// Remove removes item from the queue, returning false if it was not queued
func (q *TimeQueue) Remove(item *Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.index < 0 || item.index >= len(q.items) || q.items[item.index] != item {
		return false
	}
	heap.Remove(&q.items, item.index)
	return true
}

// Peek returns the earliest item without removing it
func (q *TimeQueue) Peek() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return nil
	}
	return q.items[0]
}

// PopReady removes and returns the earliest item if it is due at now
func (q *TimeQueue) PopReady(now time.Time) (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return nil, false
	}

	if now.Before(q.items[0].When) {
		return nil, false
	}

	item := heap.Pop(&q.items).(*Item)
	return item, true
}

// Len returns the number of items in the queue
func (q *TimeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Clear removes all items
func (q *TimeQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		item.index = -1
	}
	q.items = make(itemHeap, 0)
}

// itemHeap implements heap.Interface
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if !h[i].When.Equal(h[j].When) {
		return h[i].When.Before(h[j].When)
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x interface{}) {
	item := x.(*Item)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}
