package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"time"
)

// maxDatagramSize bounds a single read. Larger TREL packets are rejected by
// the link, so anything past it is never useful.
const maxDatagramSize = 2048

// UDPChannel implements PacketConn over a single UDP socket
type UDPChannel struct {
	conn *net.UDPConn

	readTimeout  time.Duration
	writeTimeout time.Duration

	// Statistics
	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
	}

	closed atomic.Bool
}

// UDPChannelConfig configures a UDP channel
type UDPChannelConfig struct {
	Address      string        // Local "host:port" to bind
	ReadTimeout  time.Duration // Poll interval for context cancellation
	WriteTimeout time.Duration // Write timeout (0 = default)
}

// NewUDPChannel binds a UDP socket
func NewUDPChannel(config UDPChannelConfig) (*UDPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	// Set defaults
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 500 * time.Millisecond
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 2 * time.Second
	}

	addr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", config.Address, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", config.Address, err)
	}

	return &UDPChannel{
		conn:         conn,
		readTimeout:  config.ReadTimeout,
		writeTimeout: config.WriteTimeout,
	}, nil
}

// UDPOpener returns an Opener binding a new UDP socket on each open
func UDPOpener(config UDPChannelConfig) Opener {
	return func() (PacketConn, error) {
		return NewUDPChannel(config)
	}
}

// ReadFrom implements PacketConn.ReadFrom
func (uc *UDPChannel) ReadFrom(ctx context.Context) ([]byte, netip.AddrPort, error) {
	buffer := make([]byte, maxDatagramSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, netip.AddrPort{}, err
		}
		if uc.closed.Load() {
			return nil, netip.AddrPort{}, ErrChannelClosed
		}

		// Short deadline so cancellation is noticed
		uc.conn.SetReadDeadline(time.Now().Add(uc.readTimeout))

		n, from, err := uc.conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if uc.closed.Load() {
				return nil, netip.AddrPort{}, ErrChannelClosed
			}
			uc.stats.readErrors.Add(1)
			return nil, netip.AddrPort{}, err
		}

		uc.stats.bytesReceived.Add(uint64(n))
		return buffer[:n], unmap(from), nil
	}
}

// WriteTo implements PacketConn.WriteTo
func (uc *UDPChannel) WriteTo(ctx context.Context, data []byte, dst netip.AddrPort) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if uc.closed.Load() {
		return ErrChannelClosed
	}

	deadline := time.Now().Add(uc.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	uc.conn.SetWriteDeadline(deadline)

	if _, err := uc.conn.WriteToUDPAddrPort(data, dst); err != nil {
		uc.stats.writeErrors.Add(1)
		return err
	}

	uc.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

// Close implements PacketConn.Close
func (uc *UDPChannel) Close() error {
	if !uc.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}
	return uc.conn.Close()
}

// LocalAddr implements PacketConn.LocalAddr
func (uc *UDPChannel) LocalAddr() netip.AddrPort {
	return unmap(uc.conn.LocalAddr().(*net.UDPAddr).AddrPort())
}

// Statistics implements PacketConn.Statistics
func (uc *UDPChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     uc.stats.bytesSent.Load(),
		BytesReceived: uc.stats.bytesReceived.Load(),
		WriteErrors:   uc.stats.writeErrors.Load(),
		ReadErrors:    uc.stats.readErrors.Load(),
	}
}
