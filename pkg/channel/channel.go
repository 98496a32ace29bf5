package channel

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"avaneesh/trel-go/pkg/internal/logger"
)

var (
	ErrChannelClosed = errors.New("channel is closed")
	ErrChannelOpen   = errors.New("channel is already open")
	ErrQueueFull     = errors.New("channel write queue is full")
)

const defaultWriteQueueSize = 100

// Channel connects a link to a PacketConn.
//
// Send never blocks: packets are queued and written by a dedicated goroutine.
// Received packets are posted to the scheduler and handed to the Receiver
// from there, so the receiver never runs concurrently with the link.
type Channel struct {
	id       string
	opener   Opener
	poster   Poster
	receiver Receiver
	stats    *Statistics
	logger   logger.Logger

	// OnPeerAddrDifference is called when the link hears a peer from an
	// address other than the recorded one
	OnPeerAddrDifference func(recorded, actual netip.AddrPort)

	// State
	conn    PacketConn
	state   ChannelState
	stateMu sync.RWMutex

	// Concurrency
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeQueue chan *writeRequest
}

// writeRequest is a packet waiting to be written
type writeRequest struct {
	data []byte
	dst  netip.AddrPort
}

// New creates a closed channel. opener is called on every Enable.
func New(id string, opener Opener, poster Poster, log logger.Logger) *Channel {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Channel{
		id:     id,
		opener: opener,
		poster: poster,
		stats:  NewStatistics(),
		logger: log,
		state:  ChannelStateClosed,
	}
}

// ID returns the channel ID
func (c *Channel) ID() string {
	return c.id
}

// SetReceiver sets where received packets go
func (c *Channel) SetReceiver(r Receiver) {
	c.receiver = r
}

// Enable opens the transport and starts the read and write loops
func (c *Channel) Enable() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state == ChannelStateOpen {
		return ErrChannelOpen
	}

	conn, err := c.opener()
	if err != nil {
		return fmt.Errorf("channel %s: open transport: %w", c.id, err)
	}

	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.writeQueue = make(chan *writeRequest, defaultWriteQueueSize)
	c.state = ChannelStateOpen

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readLoop(c.ctx, conn)
	}()
	go func() {
		defer c.wg.Done()
		c.writeLoop(c.ctx, conn, c.writeQueue)
	}()

	c.logger.Info("Channel %s opened on %s", c.id, conn.LocalAddr())
	return nil
}

// Disable stops the loops and closes the transport.
// Packets still queued are discarded.
func (c *Channel) Disable() {
	c.stateMu.Lock()
	if c.state == ChannelStateClosed {
		c.stateMu.Unlock()
		return
	}
	c.state = ChannelStateClosed
	conn := c.conn
	c.conn = nil
	c.stateMu.Unlock()

	c.cancel()

	if err := conn.Close(); err != nil {
		c.logger.Error("Channel %s: error closing transport: %v", c.id, err)
	}

	c.wg.Wait()
	c.logger.Info("Channel %s closed", c.id)
}

// Send queues packet for dst. The packet is copied before returning.
func (c *Channel) Send(packet []byte, dst netip.AddrPort) error {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	if c.state != ChannelStateOpen {
		return ErrChannelClosed
	}

	req := &writeRequest{
		data: append([]byte(nil), packet...),
		dst:  dst,
	}

	select {
	case c.writeQueue <- req:
		return nil
	default:
		c.stats.QueueDrop()
		return ErrQueueFull
	}
}

// NotifyPeerSockAddrDifference records a peer heard from a new address
func (c *Channel) NotifyPeerSockAddrDifference(recorded, actual netip.AddrPort) {
	c.stats.PeerAddrChange()
	c.logger.Info("Channel %s: peer at %s now sending from %s", c.id, recorded, actual)

	if c.OnPeerAddrDifference != nil {
		c.OnPeerAddrDifference(recorded, actual)
	}
}

// readLoop reads packets and posts them to the scheduler
func (c *Channel) readLoop(ctx context.Context, conn PacketConn) {
	c.logger.Debug("Channel %s read loop started", c.id)
	defer c.logger.Debug("Channel %s read loop stopped", c.id)

	for {
		data, sender, err := conn.ReadFrom(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Channel %s read error: %v", c.id, err)
			c.stats.ReadError()
			continue
		}

		c.stats.PacketRx()

		c.poster.Post(func() {
			if c.receiver != nil {
				c.receiver.HandleReceivedPacket(data, sender)
			}
		})
	}
}

// writeLoop writes queued packets in order
func (c *Channel) writeLoop(ctx context.Context, conn PacketConn, queue <-chan *writeRequest) {
	c.logger.Debug("Channel %s write loop started", c.id)
	defer c.logger.Debug("Channel %s write loop stopped", c.id)

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-queue:
			if err := conn.WriteTo(ctx, req.data, req.dst); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("Channel %s write to %s failed: %v", c.id, req.dst, err)
				c.stats.WriteError()
				continue
			}
			c.stats.PacketTx()
		}
	}
}

// GetStatistics returns channel statistics
func (c *Channel) GetStatistics() *Statistics {
	return c.stats
}

// GetTransportStatistics returns statistics of the open transport
func (c *Channel) GetTransportStatistics() TransportStats {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.conn == nil {
		return TransportStats{}
	}
	return c.conn.Statistics()
}

// LocalAddr returns the local transport address, or the zero value if closed
func (c *Channel) LocalAddr() netip.AddrPort {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.conn == nil {
		return netip.AddrPort{}
	}
	return c.conn.LocalAddr()
}

// State returns the current channel state
func (c *Channel) State() ChannelState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// String returns string representation of channel
func (c *Channel) String() string {
	return fmt.Sprintf("Channel{ID=%s, State=%s, Local=%s}", c.id, c.State(), c.LocalAddr())
}
