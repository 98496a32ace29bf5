package peer

import (
	"fmt"
	"net/netip"
	"sync"

	"avaneesh/trel-go/pkg/mac"
)

// Peer is a remote TREL device reachable at a socket address.
//
// Table returns pointers to its entries and writes SockAddr under its lock.
// Callers that read entry fields without the lock, such as the link, must run
// on the same goroutine as every Table writer; other goroutines should use
// Snapshot.
type Peer struct {
	ExtAddress mac.ExtAddress
	SockAddr   netip.AddrPort
}

// String returns string representation of the peer
func (p *Peer) String() string {
	return fmt.Sprintf("Peer{Ext=%s, Addr=%s}", p.ExtAddress, p.SockAddr)
}

// Table maps extended addresses to peers
// Lookups are possible by extended address or by socket address
type Table struct {
	peers map[mac.ExtAddress]*Peer
	mu    sync.RWMutex
}

// NewTable creates an empty peer table
func NewTable() *Table {
	return &Table{
		peers: make(map[mac.ExtAddress]*Peer),
	}
}

// Add adds a peer or updates the socket address of an existing one
func (t *Table) Add(ext mac.ExtAddress, addr netip.AddrPort) (*Peer, error) {
	if !addr.IsValid() {
		return nil, fmt.Errorf("invalid socket address for peer %s", ext)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if p, exists := t.peers[ext]; exists {
		p.SockAddr = addr
		return p, nil
	}

	p := &Peer{ExtAddress: ext, SockAddr: addr}
	t.peers[ext] = p
	return p, nil
}

// Remove removes a peer
func (t *Table) Remove(ext mac.ExtAddress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.peers, ext)
}

// FindPeer returns the peer with the given extended address or nil
func (t *Table) FindPeer(ext mac.ExtAddress) *Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.peers[ext]
}

// FindPeerBySockAddr returns the first peer recorded at addr or nil
func (t *Table) FindPeerBySockAddr(addr netip.AddrPort) *Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, p := range t.peers {
		if p.SockAddr == addr {
			return p
		}
	}
	return nil
}

// Peers returns a snapshot of all peers
func (t *Table) Peers() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	peers := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	return peers
}

// Snapshot returns a copy of the peer with the given extended address
func (t *Table) Snapshot(ext mac.ExtAddress) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, exists := t.peers[ext]
	if !exists {
		return Peer{}, false
	}
	return *p, true
}

// Len returns the number of peers
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.peers)
}

// UpdateSockAddr changes the socket address of an existing peer
// Returns false if the peer is unknown
func (t *Table) UpdateSockAddr(ext mac.ExtAddress, addr netip.AddrPort) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, exists := t.peers[ext]
	if !exists {
		return false
	}
	p.SockAddr = addr
	return true
}
