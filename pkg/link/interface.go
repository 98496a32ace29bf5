package link

import (
	"net/netip"
	"time"

	"avaneesh/trel-go/pkg/internal/logger"
	"avaneesh/trel-go/pkg/mac"
	"avaneesh/trel-go/pkg/peer"
	"avaneesh/trel-go/pkg/scheduler"
)

// Mac is the upper MAC layer driving the link
type Mac interface {
	// ExtAddress returns the local extended address
	ExtAddress() mac.ExtAddress

	// HandleReceivedFrame is called for every received data frame
	// The frame is only valid for the duration of the call
	HandleReceivedFrame(frame *mac.RxFrame)

	// HandleTransmitDone reports completion of Send
	// ack is the synthetic ack frame for acknowledged frames, nil otherwise
	HandleTransmitDone(frame *mac.TxFrame, ack *mac.RxFrame, err error)
}

// DeferredAckHandler receives the real TREL ack outcome when the link runs
// with DeferredAck enabled
type DeferredAckHandler interface {
	HandleDeferredAck(neighbor mac.ExtAddress, err error)
}

// Transport carries TREL packets over IP
type Transport interface {
	// Enable opens the transport
	Enable() error

	// Disable closes the transport
	Disable()

	// Send queues packet for dst and returns without blocking
	// The transport copies packet before returning
	Send(packet []byte, dst netip.AddrPort) error

	// NotifyPeerSockAddrDifference signals that a peer was heard from an
	// address other than the recorded one
	NotifyPeerSockAddrDifference(recorded, actual netip.AddrPort)
}

// PeerTable resolves peers
type PeerTable interface {
	FindPeer(ext mac.ExtAddress) *peer.Peer
	Peers() []*peer.Peer
	UpdateSockAddr(ext mac.ExtAddress, addr netip.AddrPort) bool
}

// NeighborTable resolves the ack window embedded in a neighbor record
type NeighborTable interface {
	// FindNeighbor returns nil if ext is not a neighbor
	FindNeighbor(ext mac.ExtAddress) *AckWindow
}

// PeerDiscoverer is told about local address changes
type PeerDiscoverer interface {
	HandleExtAddressChange()
}

// Scheduler runs timer callbacks and deferred tasks on the link goroutine
type Scheduler interface {
	Post(f func())
	AfterFunc(d time.Duration, f func()) *scheduler.Timer
}

// Collaborators bundles the components the link depends on
type Collaborators struct {
	Mac        Mac
	Transport  Transport
	Peers      PeerTable
	Neighbors  NeighborTable
	Discoverer PeerDiscoverer
	Scheduler  Scheduler
}

// Config contains configuration for the link
type Config struct {
	AckWaitWindow time.Duration      // Time to wait for a TREL ack
	DeferredAck   bool               // Complete acked sends at once, report the ack later
	RxOnWhenIdle  bool               // Clear means the synthetic ack carries frame pending
	DeferredAcks  DeferredAckHandler // Receives deferred ack outcomes
	Logger        logger.Logger
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		AckWaitWindow: AckWaitWindow,
		DeferredAck:   false,
		RxOnWhenIdle:  true,
	}
}
