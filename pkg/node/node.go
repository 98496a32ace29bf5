// Package node assembles a TREL link with its transport, peer and neighbor
// tables and scheduler, and acts as the MAC layer above the link.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"

	"avaneesh/trel-go/pkg/channel"
	"avaneesh/trel-go/pkg/internal/logger"
	"avaneesh/trel-go/pkg/link"
	"avaneesh/trel-go/pkg/mac"
	"avaneesh/trel-go/pkg/neighbor"
	"avaneesh/trel-go/pkg/peer"
	"avaneesh/trel-go/pkg/scheduler"
)

var (
	ErrStopped      = errors.New("node stopped")
	ErrPayloadEmpty = errors.New("payload is empty")
)

// Message is a payload received from another node
type Message struct {
	Src     mac.Address
	Dst     mac.Address
	Payload []byte
	Rssi    int8
}

// MessageHandler is called for every received message.
// It runs on the node's scheduler goroutine and must not block.
type MessageHandler func(msg Message)

// outgoing is a queued send waiting for the link
type outgoing struct {
	dst      mac.Address
	payload  []byte
	seq      uint8
	attempts int
	done     chan error
}

// Node runs one TREL link.
//
// Every field below is owned by the scheduler goroutine. Public methods
// reach it through Scheduler.Do.
type Node struct {
	cfg    Config
	logger logger.Logger

	sched      *scheduler.Scheduler
	channel    *channel.Channel
	peers      *peer.Table
	neighbors  *neighbor.Table
	discoverer *peer.StaticDiscoverer
	link       *link.Link

	extAddr mac.ExtAddress
	seq     uint8
	queue   []*outgoing
	current *outgoing
	handler MessageHandler
	running bool

	ran     atomic.Bool
	started chan struct{} // Closed when the loop starts
	stopped chan struct{} // Closed when Run returns

	stats Statistics
}

// Statistics counts node-level events
type Statistics struct {
	Sent          uint64 // Messages delivered to the link successfully
	Failed        uint64 // Messages given up on
	Retries       uint64 // Retransmissions after a missing ack
	Received      uint64 // Messages handed to the handler
	DeferredAcks  uint64 // Deferred ack successes
	DeferredLosts uint64 // Deferred ack timeouts
}

// New creates a node from cfg. opener supplies the transport; if nil it is
// derived from cfg.Transport.
func New(cfg Config, opener channel.Opener, log logger.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetDefault()
	}
	if opener == nil {
		var err error
		if opener, err = cfg.Opener(); err != nil {
			return nil, err
		}
	}

	n := &Node{
		cfg:       cfg,
		logger:    log,
		sched:     scheduler.New(nil, logger.Named(log, "scheduler")),
		peers:     peer.NewTable(),
		neighbors: neighbor.NewTable(),
		extAddr:   cfg.ExtAddress,
		started:   make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	n.channel = channel.New(cfg.ExtAddress.String(), opener, n.sched, logger.Named(log, "channel"))
	n.channel.OnPeerAddrDifference = n.checkAddrCollision

	n.discoverer = peer.NewStaticDiscoverer(n.peers, cfg.Peers, n.ExtAddress, logger.Named(log, "discovery"))
	n.discoverer.Announce = func(ext mac.ExtAddress) {
		n.logger.Info("Node: announcing %s to %d peers", ext, n.peers.Len())
	}

	linkCfg := cfg.LinkConfig()
	linkCfg.Logger = logger.Named(log, "link")
	linkCfg.DeferredAcks = n

	l, err := link.New(linkCfg, link.Collaborators{
		Mac:        n,
		Transport:  n.channel,
		Peers:      n.peers,
		Neighbors:  n.neighbors,
		Discoverer: n.discoverer,
		Scheduler:  n.sched,
	})
	if err != nil {
		return nil, err
	}
	n.link = l
	n.link.SetPanID(mac.PanID(cfg.PanID))
	n.channel.SetReceiver(l)

	return n, nil
}

// Run starts the link and processes events until ctx is cancelled.
// A node runs once; later calls return ErrStopped.
func (n *Node) Run(ctx context.Context) error {
	if !n.ran.CompareAndSwap(false, true) {
		return ErrStopped
	}
	defer close(n.stopped)

	// The loop is not running yet, so this goroutine owns the node
	if err := n.start(); err != nil {
		return err
	}

	close(n.started)
	err := n.sched.Run(ctx)

	// The loop has stopped, so this goroutine owns the node again
	n.stop()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (n *Node) start() error {
	if err := n.link.Enable(); err != nil {
		return err
	}
	if err := n.link.Receive(n.cfg.Channel); err != nil {
		n.link.Disable()
		return err
	}

	n.discoverer.Start()
	n.addNeighbors()
	n.running = true

	n.logger.Info("Node %s: listening on %s, channel %d, PAN 0x%04x",
		n.extAddr, n.channel.LocalAddr(), n.cfg.Channel, n.cfg.PanID)
	return nil
}

// addNeighbors sets up ack tracking for the configured neighbors, or for
// every peer when none are configured
func (n *Node) addNeighbors() {
	if len(n.cfg.Neighbors) > 0 {
		for _, ext := range n.cfg.Neighbors {
			n.neighbors.Add(ext)
		}
		return
	}
	for _, p := range n.peers.Peers() {
		n.neighbors.Add(p.ExtAddress)
	}
}

func (n *Node) stop() {
	n.running = false
	n.link.Disable()

	if n.current != nil {
		n.current.done <- ErrStopped
		n.current = nil
	}
	for _, o := range n.queue {
		o.done <- ErrStopped
	}
	n.queue = nil

	n.logger.Info("Node %s: stopped", n.extAddr)
}

// checkAddrCollision warns when a peer moves to an address already
// recorded for another peer
func (n *Node) checkAddrCollision(recorded, actual netip.AddrPort) {
	if other := n.peers.FindPeerBySockAddr(actual); other != nil {
		n.logger.Warn("Node: peer at %s moved to %s, already used by %s", recorded, actual, other.ExtAddress)
	}
}

// Send delivers payload to the node with extended address dst and waits
// for the acknowledgment. Called before Run it waits for the node to start;
// once Run has returned it fails with ErrStopped.
func (n *Node) Send(ctx context.Context, dst mac.ExtAddress, payload []byte) error {
	return n.send(ctx, mac.NewExtAddress(dst), payload)
}

// Broadcast sends payload to every peer without acknowledgment
func (n *Node) Broadcast(ctx context.Context, payload []byte) error {
	return n.send(ctx, mac.NewShortAddress(mac.ShortAddrBroadcast), payload)
}

func (n *Node) send(ctx context.Context, dst mac.Address, payload []byte) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}

	o := &outgoing{
		dst:     dst,
		payload: append([]byte(nil), payload...),
		done:    make(chan error, 1),
	}

	if err := n.do(ctx, func() { n.enqueue(o) }); err != nil {
		return err
	}

	select {
	case err := <-o.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// do runs f on the loop, waiting for Run to start it
func (n *Node) do(ctx context.Context, f func()) error {
	select {
	case <-n.stopped:
		return ErrStopped
	default:
	}

	select {
	case <-n.started:
	case <-n.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := n.sched.Do(ctx, f); err != nil {
		if errors.Is(err, scheduler.ErrStopped) {
			return ErrStopped
		}
		return err
	}
	return nil
}

// looping reports whether the loop is running
func (n *Node) looping() bool {
	select {
	case <-n.started:
	default:
		return false
	}
	select {
	case <-n.sched.Stopped():
		return false
	default:
		return true
	}
}

// SetMessageHandler sets the handler for received messages
func (n *Node) SetMessageHandler(h MessageHandler) {
	n.sched.Post(func() { n.handler = h })
}

// SetExtAddress changes the local extended address
func (n *Node) SetExtAddress(ctx context.Context, ext mac.ExtAddress) error {
	return n.do(ctx, func() {
		n.extAddr = ext
		n.link.HandleExtAddressChange()
	})
}

// AddPeer adds or moves a peer and tracks acks for it
func (n *Node) AddPeer(ctx context.Context, ext mac.ExtAddress, addr netip.AddrPort) error {
	var err error
	doErr := n.do(ctx, func() {
		if _, err = n.peers.Add(ext, addr); err == nil {
			n.neighbors.Add(ext)
		}
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// Stats returns a copy of the node and link statistics.
// Once Run has returned it reads the final counters directly.
func (n *Node) Stats(ctx context.Context) (Statistics, link.StatisticsSnapshot, error) {
	if !n.looping() {
		return n.stats, n.link.Statistics().Snapshot(), nil
	}

	var s Statistics
	err := n.do(ctx, func() { s = n.stats })
	if errors.Is(err, ErrStopped) {
		return n.stats, n.link.Statistics().Snapshot(), nil
	}
	return s, n.link.Statistics().Snapshot(), err
}

// ChannelStats returns the channel statistics and the statistics of the
// open transport
func (n *Node) ChannelStats() (*channel.Statistics, channel.TransportStats) {
	return n.channel.GetStatistics(), n.channel.GetTransportStatistics()
}

// PeerAddr returns the socket address recorded for a peer
func (n *Node) PeerAddr(ext mac.ExtAddress) (netip.AddrPort, bool) {
	p, ok := n.peers.Snapshot(ext)
	return p.SockAddr, ok
}

// LocalAddr returns the transport address the node receives on
func (n *Node) LocalAddr() netip.AddrPort {
	return n.channel.LocalAddr()
}

// String returns string representation of the node
func (n *Node) String() string {
	return fmt.Sprintf("Node{Ext=%s, %s, %s}", n.cfg.ExtAddress, n.channel, n.link)
}

func (n *Node) enqueue(o *outgoing) {
	if !n.running {
		o.done <- ErrStopped
		return
	}
	o.seq = n.seq
	n.seq++
	n.queue = append(n.queue, o)
	n.startNext()
}

// startNext hands the next queued message to the link if it is idle
func (n *Node) startNext() {
	if n.current != nil || len(n.queue) == 0 || n.link.State() != link.StateReceive {
		return
	}

	n.current = n.queue[0]
	n.queue = n.queue[1:]
	n.transmit(n.current)
}

func (n *Node) transmit(o *outgoing) {
	frame := n.link.TransmitFrame()
	err := frame.BuildData(mac.DataHeader{
		Sequence:   o.seq,
		DstPanID:   mac.PanID(n.cfg.PanID),
		Dst:        o.dst,
		Src:        mac.NewExtAddress(n.extAddr),
		AckRequest: o.dst.IsExtended(),
	}, o.payload)
	if err != nil {
		n.finish(fmt.Errorf("build frame: %w", err))
		return
	}
	frame.Channel = n.cfg.Channel

	o.attempts++
	if err := n.link.Send(); err != nil {
		n.finish(err)
	}
}

// finish completes the current message and moves to the next one
func (n *Node) finish(err error) {
	o := n.current
	n.current = nil

	if err != nil {
		n.stats.Failed++
		n.logger.Debug("Node: send to %s failed after %d attempts: %v", o.dst, o.attempts, err)
	} else {
		n.stats.Sent++
	}
	o.done <- err

	n.sched.Post(n.startNext)
}

// ExtAddress implements link.Mac
func (n *Node) ExtAddress() mac.ExtAddress {
	return n.extAddr
}

// HandleReceivedFrame implements link.Mac
func (n *Node) HandleReceivedFrame(frame *mac.RxFrame) {
	if frame.Type() != mac.FcfTypeData {
		return
	}

	src, err := frame.SrcAddr()
	if err != nil {
		n.logger.Debug("Node: frame without source: %v", err)
		return
	}
	dst, err := frame.DstAddr()
	if err != nil {
		n.logger.Debug("Node: frame without destination: %v", err)
		return
	}
	payload, err := frame.Payload()
	if err != nil {
		n.logger.Debug("Node: bad frame: %v", err)
		return
	}

	// The frame is accepted, so the sender address can be trusted
	n.link.CheckPeerAddrOnRxSuccess(link.AllowPeerSockAddrUpdate)

	n.stats.Received++
	if n.handler != nil {
		n.handler(Message{
			Src:     src,
			Dst:     dst,
			Payload: append([]byte(nil), payload...),
			Rssi:    frame.Rssi,
		})
	}
}

// HandleTransmitDone implements link.Mac
func (n *Node) HandleTransmitDone(frame *mac.TxFrame, ack *mac.RxFrame, err error) {
	o := n.current
	if o == nil {
		return
	}

	if errors.Is(err, link.ErrNoAck) && !errors.Is(err, link.ErrUnknownPeer) && o.attempts <= n.cfg.MaxRetries {
		n.stats.Retries++
		n.logger.Debug("Node: no ack from %s, retry %d", o.dst, o.attempts)
		n.sched.Post(func() {
			if n.current == o {
				n.transmit(o)
			}
		})
		return
	}

	if err == nil && o.dst.IsExtended() && ack == nil {
		err = link.ErrNoAck
	}
	n.finish(err)
}

// HandleDeferredAck implements link.DeferredAckHandler
func (n *Node) HandleDeferredAck(ext mac.ExtAddress, err error) {
	if err != nil {
		n.stats.DeferredLosts++
		n.logger.Debug("Node: deferred ack from %s lost", ext)
		return
	}
	n.stats.DeferredAcks++
}
