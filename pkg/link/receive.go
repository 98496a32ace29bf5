package link

import (
	"net/netip"

	"avaneesh/trel-go/pkg/internal/logger"
	"avaneesh/trel-go/pkg/mac"
)

// HandleReceivedPacket processes a packet delivered by the transport.
// Packets that fail any check are dropped silently.
func (l *Link) HandleReceivedPacket(data []byte, sender netip.AddrPort) {
	if l.state == StateDisabled {
		return
	}

	logger.LogFrame(l.logger, "TREL rx", data)

	pkt, err := ParsePacket(data)
	if err != nil {
		l.drop("parse from %s: %v", sender, err)
		return
	}

	h := pkt.Header()

	if h.Type() != TypeAck {
		// A TREL ack may arrive long after the tx, possibly on another
		// channel, so state and channel are only checked for data.
		if l.state != StateReceive && l.state != StateTransmit {
			l.drop("state %s", l.state)
			return
		}
		if h.Channel() != l.rxChannel {
			l.drop("channel %d, listening on %d", h.Channel(), l.rxChannel)
			return
		}
	}

	if l.panID != mac.PanIDBroadcast {
		rxPan := h.PanID()
		if rxPan != l.panID && rxPan != mac.PanIDBroadcast {
			l.drop("PAN 0x%04x", uint16(rxPan))
			return
		}
	}

	local := l.mac.ExtAddress()

	// Drop packets originating from this device
	if h.Source() == local {
		l.drop("own packet")
		return
	}

	if h.Type() != TypeBroadcast {
		if h.Destination() != local {
			l.drop("destination %s", h.Destination())
			return
		}
		if h.Type() == TypeAck {
			l.handleAck(h)
			return
		}
	}

	l.stats.PacketRx()
	l.logger.Debug("Link: rx %s from %s", h, sender)

	l.rxPacketSenderAddr = sender
	l.rxPacketPeer = l.peers.FindPeer(h.Source())

	if h.Type() == TypeUnicast && h.AckRequested() {
		l.sendAck(h, sender)
	}

	l.rxFrame.Init(l.rxFrameBuffer[:])
	if err := l.rxFrame.SetPsdu(pkt.Payload()); err != nil {
		l.drop("payload: %v", err)
		return
	}
	l.rxFrame.Channel = h.Channel()
	l.rxFrame.Rssi = RxRssi
	l.rxFrame.Lqi = 0
	l.rxFrame.AckedWithFramePending = false

	l.mac.HandleReceivedFrame(&l.rxFrame)
}

// handleAck validates a TREL ack against the sender's ack window
func (l *Link) handleAck(h Header) {
	src := h.Source()

	window := l.neighbors.FindNeighbor(src)
	if window == nil {
		l.stats.InvalidAck()
		l.logger.Debug("Link: ack from non-neighbor %s", src)
		return
	}

	ackNumber := h.PacketNumber()
	if !window.IsAckNumberValid(ackNumber) {
		l.stats.InvalidAck()
		l.logger.Debug("Link: ack %d from %s outside window [%d, +%d)",
			ackNumber, src, window.ExpectedAckNumber(), window.PendingCount())
		return
	}

	window.Decrement()
	l.stats.AckRx()
	l.stopAckTimerIfIdle(src, window)

	if l.awaitingAck && l.txNeighbor == src && l.state == StateTransmit {
		l.invokeSendDone(nil, l.prepareAckFrame())
		return
	}

	l.reportDeferredAck(src, nil)
}

// sendAck answers an ack-requesting unicast packet with a TREL ack sent to
// the socket address the packet came from
func (l *Link) sendAck(rx Header, sender netip.AddrPort) {
	var ack Packet
	if err := ack.Init(l.ackPacketBuffer[:], TypeAck, nil); err != nil {
		return
	}

	h := ack.Header()
	h.SetChannel(rx.Channel())
	h.SetPanID(rx.PanID())
	h.SetPacketNumber(rx.PacketNumber())
	h.SetSource(l.mac.ExtAddress())
	h.SetDestination(rx.Source())

	if err := l.transport.Send(ack.Bytes(), sender); err != nil {
		l.stats.TxError()
		l.logger.Warn("Link: ack to %s failed: %v", sender, err)
		return
	}
	l.stats.AckTx()
}

func (l *Link) drop(format string, args ...interface{}) {
	l.stats.RxDropped()
	l.logger.Debug("Link: dropped rx, "+format, args...)
}
