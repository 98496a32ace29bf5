package link

import (
	"fmt"

	"avaneesh/trel-go/pkg/internal/logger"
	"avaneesh/trel-go/pkg/mac"
	"avaneesh/trel-go/pkg/peer"
	"avaneesh/trel-go/pkg/scheduler"
)

func (l *Link) handleTxTask() {
	l.txTaskPosted = false
	l.beginTransmit()
}

// beginTransmit encapsulates the transmit frame and hands it to the transport
func (l *Link) beginTransmit() {
	if l.state != StateTransmit || l.awaitingAck {
		return
	}

	// Keep receiving on the channel just used for tx
	l.rxChannel = l.txFrame.Channel

	if l.txFrame.IsEmpty() {
		l.invokeSendDone(ErrAbort, nil)
		return
	}
	// The link's own buffer caps the frame at Mtu; a caller may have
	// re-initialized the frame over a larger buffer
	if l.txFrame.Length() > Mtu {
		l.invokeSendDone(fmt.Errorf("%w: %w", ErrAbort, ErrFrameTooLong), nil)
		return
	}

	dst, err := l.txFrame.DstAddr()
	if err != nil {
		l.invokeSendDone(fmt.Errorf("%w: %v", ErrAbort, err), nil)
		return
	}

	pktType := TypeUnicast
	var dstPeer *peer.Peer

	switch {
	case dst.IsNone() || dst.IsBroadcast():
		pktType = TypeBroadcast
	case !dst.IsExtended():
		l.invokeSendDone(fmt.Errorf("%w: short destination %s", ErrAbort, dst), nil)
		return
	default:
		dstPeer = l.peers.FindPeer(dst.Ext)
		if dstPeer == nil {
			l.logger.Debug("Link: no peer for %s", dst.Ext)
			l.invokeSendDone(fmt.Errorf("%w: %w %s", ErrNoAck, ErrUnknownPeer, dst.Ext), nil)
			return
		}
	}

	dstPan, err := l.txFrame.DstPanID()
	if err != nil {
		dstPan = mac.PanIDBroadcast
	}

	var pkt Packet
	if err := pkt.Init(l.txPacketBuffer[:], pktType, l.txFrame.Psdu()); err != nil {
		l.invokeSendDone(fmt.Errorf("%w: %w", ErrAbort, err), nil)
		return
	}

	h := pkt.Header()
	h.SetChannel(l.txFrame.Channel)
	h.SetPanID(dstPan)
	h.SetSource(l.mac.ExtAddress())

	var window *AckWindow
	if pktType == TypeUnicast {
		h.SetDestination(dst.Ext)
		window = l.neighbors.FindNeighbor(dst.Ext)
	}

	ackTracked := window != nil && l.txFrame.AckRequest()
	if ackTracked {
		h.SetPacketNumber(window.Allocate())
		h.SetAckRequested(true)
	} else {
		h.SetPacketNumber(l.txPacketNumber)
		l.txPacketNumber++
	}

	l.logger.Debug("Link: tx %s", h)
	logger.LogFrame(l.logger, "TREL tx", pkt.Bytes())

	if pktType == TypeBroadcast {
		for _, p := range l.peers.Peers() {
			l.transmitPacket(pkt.Bytes(), p)
		}
	} else {
		l.transmitPacket(pkt.Bytes(), dstPeer)
	}

	switch {
	case !l.txFrame.AckRequest():
		l.invokeSendDone(nil, nil)

	case !ackTracked:
		// Nothing to wait for; the MAC still expects an ack frame
		l.invokeSendDone(nil, l.prepareAckFrame())

	case l.cfg.DeferredAck:
		l.armAckTimer(dst.Ext)
		l.invokeSendDone(nil, l.prepareAckFrame())

	default:
		l.awaitingAck = true
		l.txNeighbor = dst.Ext
		l.txSlotCarried = false
		l.armAckTimer(dst.Ext)
		l.armTxTimer()
	}
}

// transmitPacket hands one packet to the transport.
// A failure is treated like a packet lost on the medium.
func (l *Link) transmitPacket(data []byte, p *peer.Peer) {
	if err := l.transport.Send(data, p.SockAddr); err != nil {
		l.stats.TxError()
		l.logger.Warn("Link: send to %s failed: %v", p, err)
		return
	}
	l.stats.PacketTx()
}

// prepareAckFrame builds the synthetic 802.15.4 ack for the transmit frame
func (l *Link) prepareAckFrame() *mac.RxFrame {
	l.ackFrame.Init(l.ackFrameBuffer[:])

	n, _ := mac.WriteAckFrame(l.ackFrameBuffer[:], l.txFrame.Sequence(), !l.cfg.RxOnWhenIdle)
	l.ackFrame.SetLength(n)

	l.ackFrame.Channel = l.txFrame.Channel
	l.ackFrame.Rssi = RxRssi
	l.ackFrame.Lqi = 0
	l.ackFrame.AckedWithFramePending = false

	return &l.ackFrame
}

// armAckTimer starts the ack wait window timer of a neighbor unless it is
// already running. Sends never push a running window back.
func (l *Link) armAckTimer(ext mac.ExtAddress) {
	if _, running := l.ackTimers[ext]; running {
		return
	}

	var t *scheduler.Timer
	t = l.sched.AfterFunc(l.cfg.AckWaitWindow, func() {
		if l.ackTimers[ext] != t {
			return
		}
		l.handleAckTimer(ext)
	})
	l.ackTimers[ext] = t
}

// stopAckTimerIfIdle stops the window timer of a neighbor with nothing pending
func (l *Link) stopAckTimerIfIdle(ext mac.ExtAddress, window *AckWindow) {
	if window.PendingCount() != 0 {
		return
	}
	if t, running := l.ackTimers[ext]; running {
		t.Stop()
		delete(l.ackTimers, ext)
	}
}

// retireSlot drops one pending slot of a neighbor
func (l *Link) retireSlot(ext mac.ExtAddress) {
	if window := l.neighbors.FindNeighbor(ext); window != nil {
		window.Decrement()
		l.stopAckTimerIfIdle(ext, window)
	}
}

// armTxTimer starts the ack deadline of the in-flight send
func (l *Link) armTxTimer() {
	l.stopTxTimer()

	var t *scheduler.Timer
	t = l.sched.AfterFunc(l.cfg.AckWaitWindow, func() {
		if l.txTimer != t {
			return
		}
		l.txTimer = nil
		l.handleTxTimeout()
	})
	l.txTimer = t
}

func (l *Link) stopTxTimer() {
	if l.txTimer != nil {
		l.txTimer.Stop()
		l.txTimer = nil
	}
}

// handleTxTimeout fails the in-flight send when no ack came within one window
func (l *Link) handleTxTimeout() {
	if !l.awaitingAck || l.state != StateTransmit {
		return
	}

	l.logger.Debug("Link: no ack from %s", l.txNeighbor)
	l.retireSlot(l.txNeighbor)
	l.invokeSendDone(ErrNoAck, nil)
}

// handleAckTimer ends an ack wait window of a neighbor.
//
// Slots carried over from the previous window are timed out and slots still
// pending move to the previous generation. The timer is re-armed while
// anything is pending, so no slot stays pending for more than two windows.
// The in-flight send normally ends on its own deadline; if its slot is
// retired here first, it ends here.
func (l *Link) handleAckTimer(ext mac.ExtAddress) {
	delete(l.ackTimers, ext)

	awaiting := l.awaitingAck && l.txNeighbor == ext && l.state == StateTransmit

	window := l.neighbors.FindNeighbor(ext)
	if window == nil {
		// Neighbor removed while waiting
		if awaiting {
			l.invokeSendDone(ErrNoAck, nil)
		}
		return
	}

	stale := window.RetireStale()

	expired := awaiting && l.txSlotCarried && stale > 0
	if expired {
		stale--
	}

	window.Rollover()
	if awaiting && !expired {
		l.txSlotCarried = true
	}
	if window.PendingCount() != 0 {
		l.armAckTimer(ext)
	}

	if stale > 0 {
		l.logger.Debug("Link: %d acks from %s timed out", stale, ext)
	}
	for i := 0; i < stale; i++ {
		l.stats.AckTimeout()
		l.reportDeferredAck(ext, ErrNoAck)
	}

	if expired {
		l.logger.Debug("Link: no ack from %s", ext)
		l.invokeSendDone(ErrNoAck, nil)
	}
}

// reportDeferredAck passes an ack outcome to the deferred ack handler
func (l *Link) reportDeferredAck(ext mac.ExtAddress, err error) {
	if !l.cfg.DeferredAck || l.cfg.DeferredAcks == nil {
		return
	}
	l.cfg.DeferredAcks.HandleDeferredAck(ext, err)
}
