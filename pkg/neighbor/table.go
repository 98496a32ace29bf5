// Package neighbor keeps the per-neighbor records the link consults for
// TREL ack tracking.
package neighbor

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"avaneesh/trel-go/pkg/link"
	"avaneesh/trel-go/pkg/mac"
)

// Neighbor is a device this node exchanges acknowledged unicast frames with
type Neighbor struct {
	ExtAddress mac.ExtAddress
	link.AckWindow
}

// String returns string representation of the neighbor
func (n *Neighbor) String() string {
	return fmt.Sprintf("Neighbor{%s, Next=%d, Pending=%d}",
		n.ExtAddress, n.NextTxPacketNumber(), n.PendingCount())
}

// Table maps extended addresses to neighbor records
type Table struct {
	neighbors map[mac.ExtAddress]*Neighbor
	// initialPacketNumber seeds the ack window of new neighbors
	initialPacketNumber func() uint32
	mu                  sync.RWMutex
}

// NewTable creates an empty neighbor table.
// New neighbors start their packet numbers at a random value.
func NewTable() *Table {
	return &Table{
		neighbors:           make(map[mac.ExtAddress]*Neighbor),
		initialPacketNumber: rand.Uint32,
	}
}

// Add returns the neighbor for ext, creating it if needed
func (t *Table) Add(ext mac.ExtAddress) *Neighbor {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n, exists := t.neighbors[ext]; exists {
		return n
	}

	n := &Neighbor{
		ExtAddress: ext,
		AckWindow:  link.NewAckWindow(t.initialPacketNumber()),
	}
	t.neighbors[ext] = n
	return n
}

// Remove removes the neighbor for ext
func (t *Table) Remove(ext mac.ExtAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.neighbors, ext)
}

// Find returns the neighbor for ext, or nil
func (t *Table) Find(ext mac.ExtAddress) *Neighbor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.neighbors[ext]
}

// FindNeighbor returns the ack window of the neighbor for ext, or nil
func (t *Table) FindNeighbor(ext mac.ExtAddress) *link.AckWindow {
	n := t.Find(ext)
	if n == nil {
		return nil
	}
	return &n.AckWindow
}

// Neighbors returns all neighbors
func (t *Table) Neighbors() []*Neighbor {
	t.mu.RLock()
	defer t.mu.RUnlock()

	neighbors := make([]*Neighbor, 0, len(t.neighbors))
	for _, n := range t.neighbors {
		neighbors = append(neighbors, n)
	}
	return neighbors
}

// Len returns the number of neighbors
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.neighbors)
}
