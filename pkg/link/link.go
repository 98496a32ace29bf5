package link

import (
	"errors"
	"fmt"
	"net/netip"

	"avaneesh/trel-go/pkg/internal/logger"
	"avaneesh/trel-go/pkg/mac"
	"avaneesh/trel-go/pkg/peer"
	"avaneesh/trel-go/pkg/scheduler"
)

// Link emulates an IEEE 802.15.4 radio over an IP transport.
//
// All methods must be called from the scheduler goroutine, the same one that
// runs the link's timers and deferred tasks. Peer entries are read without
// the peer table lock, so every peer table writer runs there too.
type Link struct {
	// Configuration
	cfg    Config
	logger logger.Logger
	stats  *Statistics

	// Collaborators
	mac        Mac
	transport  Transport
	peers      PeerTable
	neighbors  NeighborTable
	discoverer PeerDiscoverer
	sched      Scheduler

	// State
	state          State
	rxChannel      uint8
	panID          mac.PanID
	txPacketNumber uint32 // Packet number for sends without ack tracking
	txTaskPosted   bool
	awaitingAck    bool           // In-flight send waits for a TREL ack
	txNeighbor     mac.ExtAddress // Destination of the in-flight send
	txSlotCarried  bool           // In-flight slot moved to the previous generation
	txTimer        *scheduler.Timer
	ackTimers      map[mac.ExtAddress]*scheduler.Timer

	// Last received data packet, for CheckPeerAddrOnRxSuccess
	rxPacketSenderAddr netip.AddrPort
	rxPacketPeer       *peer.Peer

	// Frames and their fixed buffers
	txFrame         mac.TxFrame
	rxFrame         mac.RxFrame
	ackFrame        mac.RxFrame
	txFrameBuffer   [Mtu]byte
	txPacketBuffer  [MaxHeaderSize + Mtu]byte
	rxFrameBuffer   [MaxHeaderSize + Mtu]byte
	ackPacketBuffer [MaxHeaderSize]byte
	ackFrameBuffer  [AckFrameSize]byte
}

// New creates a link in the Disabled state
func New(config Config, c Collaborators) (*Link, error) {
	if c.Mac == nil || c.Transport == nil || c.Peers == nil || c.Neighbors == nil || c.Scheduler == nil {
		return nil, errors.New("link: mac, transport, peers, neighbors and scheduler are required")
	}
	if config.AckWaitWindow <= 0 {
		config.AckWaitWindow = AckWaitWindow
	}
	if config.Logger == nil {
		config.Logger = logger.NewNoOpLogger()
	}

	l := &Link{
		cfg:        config,
		logger:     config.Logger,
		stats:      NewStatistics(),
		mac:        c.Mac,
		transport:  c.Transport,
		peers:      c.Peers,
		neighbors:  c.Neighbors,
		discoverer: c.Discoverer,
		sched:      c.Scheduler,
		state:      StateDisabled,
		panID:      mac.PanIDBroadcast,
		ackTimers:  make(map[mac.ExtAddress]*scheduler.Timer),
	}

	l.txFrame.Init(l.txFrameBuffer[:])
	l.rxFrame.Init(l.rxFrameBuffer[:])
	l.ackFrame.Init(l.ackFrameBuffer[:])

	return l, nil
}

// SetPanID sets the PAN identifier used to filter received packets
func (l *Link) SetPanID(pan mac.PanID) {
	l.panID = pan
}

// PanID returns the PAN identifier
func (l *Link) PanID() mac.PanID {
	return l.panID
}

// HandleExtAddressChange tells peer discovery that the local extended
// address has changed
func (l *Link) HandleExtAddressChange() {
	if l.discoverer != nil {
		l.discoverer.HandleExtAddressChange()
	}
}

// State returns the current state
func (l *Link) State() State {
	return l.state
}

// RxChannel returns the channel the link receives on
func (l *Link) RxChannel() uint8 {
	return l.rxChannel
}

// Statistics returns link statistics
func (l *Link) Statistics() *Statistics {
	return l.stats
}

// TransmitFrame returns the frame to fill before calling Send
func (l *Link) TransmitFrame() *mac.TxFrame {
	return &l.txFrame
}

// Enable enables the transport and moves from Disabled to Sleep
func (l *Link) Enable() error {
	if l.state != StateDisabled {
		return nil
	}

	if err := l.transport.Enable(); err != nil {
		return fmt.Errorf("enable transport: %w", err)
	}

	l.setState(StateSleep)
	return nil
}

// Disable moves to Disabled from any state.
// Armed ack timers are cancelled, their pending slots dropped, and an
// in-flight send is discarded without a completion.
func (l *Link) Disable() {
	if l.state == StateDisabled {
		return
	}

	for ext, t := range l.ackTimers {
		t.Stop()
		if w := l.neighbors.FindNeighbor(ext); w != nil {
			w.RetireAll()
		}
	}
	clear(l.ackTimers)

	l.stopTxTimer()
	l.awaitingAck = false
	l.rxPacketPeer = nil

	l.transport.Disable()
	l.setState(StateDisabled)
}

// Sleep moves to Sleep. A send in flight is aborted with ErrAbort and its
// ack slot is retired.
func (l *Link) Sleep() error {
	switch l.state {
	case StateDisabled:
		return ErrInvalidState

	case StateTransmit:
		if l.awaitingAck {
			l.stopTxTimer()
			l.awaitingAck = false
			l.retireSlot(l.txNeighbor)
		}
		l.setState(StateSleep)
		l.stats.Abort()
		l.mac.HandleTransmitDone(&l.txFrame, nil, ErrAbort)

	default:
		l.setState(StateSleep)
	}
	return nil
}

// Receive moves to Receive on channel
// Not allowed while Disabled or while a send is in flight
func (l *Link) Receive(channel uint8) error {
	if l.state == StateDisabled || l.state == StateTransmit {
		return ErrInvalidState
	}

	l.rxChannel = channel
	l.setState(StateReceive)
	return nil
}

// Send starts transmission of TransmitFrame().
// Completion is reported through Mac.HandleTransmitDone.
func (l *Link) Send() error {
	if l.state != StateReceive {
		return ErrInvalidState
	}

	l.setState(StateTransmit)

	// Transmission runs from a posted task, so a Send issued from
	// HandleTransmitDone never recurses into the transmit path.
	if !l.txTaskPosted {
		l.txTaskPosted = true
		l.sched.Post(l.handleTxTask)
	}
	return nil
}

// CheckPeerAddrOnRxSuccess compares the socket address of the last received
// data packet with the one recorded for its peer. A difference is always
// signalled to the transport; the peer entry is updated only if mode allows.
func (l *Link) CheckPeerAddrOnRxSuccess(mode PeerSockAddrUpdateMode) {
	p := l.rxPacketPeer
	l.rxPacketPeer = nil

	if p == nil || p.SockAddr == l.rxPacketSenderAddr {
		return
	}

	l.stats.PeerAddrDiscrepancy()
	l.transport.NotifyPeerSockAddrDifference(p.SockAddr, l.rxPacketSenderAddr)

	if mode == AllowPeerSockAddrUpdate {
		l.logger.Info("Link: peer %s moved %s -> %s", p.ExtAddress, p.SockAddr, l.rxPacketSenderAddr)
		l.peers.UpdateSockAddr(p.ExtAddress, l.rxPacketSenderAddr)
	}
}

// setState changes state and logs the transition
func (l *Link) setState(state State) {
	if l.state == state {
		return
	}
	l.logger.Debug("Link: state %s -> %s", l.state, state)
	l.state = state
}

// invokeSendDone ends the in-flight send and reports err to the MAC
func (l *Link) invokeSendDone(err error, ack *mac.RxFrame) {
	l.stopTxTimer()
	l.awaitingAck = false
	l.setState(StateReceive)

	switch {
	case err == nil:
		l.stats.TxDone()
	case errors.Is(err, ErrNoAck):
		l.stats.AckTimeout()
	case errors.Is(err, ErrAbort):
		l.stats.Abort()
	}

	l.mac.HandleTransmitDone(&l.txFrame, ack, err)
}

// String returns string representation of the link
func (l *Link) String() string {
	return fmt.Sprintf("Link{State=%s, Channel=%d, Pan=0x%04x, Timers=%d}",
		l.state, l.rxChannel, uint16(l.panID), len(l.ackTimers))
}
