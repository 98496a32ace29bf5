package channel

import (
	"context"
	"net/netip"
)

// PacketConn is a datagram transport carrying TREL packets between peers.
// Implementations exist for plain UDP and for QUIC datagrams.
type PacketConn interface {
	// ReadFrom blocks until a packet arrives or ctx is cancelled
	// The returned slice is owned by the caller
	// The sender address is the one the packet was received from, with any
	// IPv4-in-IPv6 mapping removed
	ReadFrom(ctx context.Context) ([]byte, netip.AddrPort, error)

	// WriteTo sends one packet to dst
	// Must be safe to call concurrently with ReadFrom
	WriteTo(ctx context.Context, data []byte, dst netip.AddrPort) error

	// Close closes the transport and unblocks pending reads
	Close() error

	// LocalAddr returns the address packets are received on
	LocalAddr() netip.AddrPort

	// Statistics returns transport-level statistics
	Statistics() TransportStats
}

// Opener creates a PacketConn each time the channel is opened
type Opener func() (PacketConn, error)

// Receiver consumes packets read by the channel.
// It is always called from the scheduler goroutine.
type Receiver interface {
	HandleReceivedPacket(data []byte, sender netip.AddrPort)
}

// Poster queues work on the scheduler goroutine
type Poster interface {
	Post(f func())
}

// TransportStats provides transport-level statistics
type TransportStats struct {
	BytesSent     uint64 // Total bytes sent
	BytesReceived uint64 // Total bytes received
	WriteErrors   uint64 // Number of write errors
	ReadErrors    uint64 // Number of read errors
	Connects      uint64 // Number of connections (QUIC only)
	Disconnects   uint64 // Number of disconnections (QUIC only)
}

// ChannelState represents the state of a channel
type ChannelState int

const (
	ChannelStateOpen ChannelState = iota
	ChannelStateClosed
)

// String returns string representation of ChannelState
func (s ChannelState) String() string {
	switch s {
	case ChannelStateOpen:
		return "Open"
	case ChannelStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// unmap strips an IPv4-in-IPv6 mapping so addresses compare equal to the
// ones configured for peers
func unmap(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}
