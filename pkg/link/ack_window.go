package link

// AckWindow holds the TREL ack bookkeeping for one neighbor.
//
// Sent packets that requested an ack are numbered consecutively. The numbers
// still waiting for an ack are the last PendingCount() numbers before
// nextTxPacketNumber. Pending slots are split in two generations: the ones
// sent in the current ack wait window and the ones carried over from the
// previous window. A slot still pending after two windows is timed out.
//
// Neighbor records embed AckWindow by value.
type AckWindow struct {
	nextTxPacketNumber uint32 // Next packet number to use for tx
	currentPending     uint16 // Number of pending acks for current window
	previousPending    uint16 // Number of pending acks for previous window
}

// NewAckWindow returns a window whose first packet number is next
func NewAckWindow(next uint32) AckWindow {
	return AckWindow{nextTxPacketNumber: next}
}

// NextTxPacketNumber returns the number the next sent packet will use
func (w *AckWindow) NextTxPacketNumber() uint32 {
	return w.nextTxPacketNumber
}

// CurrentPending returns the pending acks of the current window
func (w *AckWindow) CurrentPending() uint16 {
	return w.currentPending
}

// PreviousPending returns the pending acks carried over from the previous window
func (w *AckWindow) PreviousPending() uint16 {
	return w.previousPending
}

// PendingCount returns the number of acks still expected
func (w *AckWindow) PendingCount() uint32 {
	return uint32(w.previousPending) + uint32(w.currentPending)
}

// ExpectedAckNumber returns the oldest packet number still waiting for an ack
func (w *AckWindow) ExpectedAckNumber() uint32 {
	return w.nextTxPacketNumber - w.PendingCount()
}

// IsAckNumberValid reports whether ackNumber is within the pending window.
// The unsigned difference wraps, so the check holds across counter roll-over.
func (w *AckWindow) IsAckNumberValid(ackNumber uint32) bool {
	pending := w.PendingCount()
	return pending != 0 && ackNumber-w.ExpectedAckNumber() < pending
}

// Decrement retires one pending slot, oldest generation first
func (w *AckWindow) Decrement() {
	if w.previousPending != 0 {
		w.previousPending--
	} else if w.currentPending != 0 {
		w.currentPending--
	}
}

// Allocate returns the packet number for a new ack-requesting send and
// records it as pending in the current window
func (w *AckWindow) Allocate() uint32 {
	n := w.nextTxPacketNumber
	w.nextTxPacketNumber++
	if w.currentPending != ^uint16(0) {
		w.currentPending++
	}
	return n
}

// RetireStale times out every slot carried over from the previous window
// and returns how many were retired
func (w *AckWindow) RetireStale() int {
	n := 0
	for w.previousPending != 0 {
		w.Decrement()
		n++
	}
	return n
}

// RetireAll drops every pending slot and returns how many were retired
func (w *AckWindow) RetireAll() int {
	n := 0
	for w.PendingCount() != 0 {
		w.Decrement()
		n++
	}
	return n
}

// Rollover starts a new wait window: slots still pending in the current
// window become the previous generation
func (w *AckWindow) Rollover() {
	sum := uint32(w.previousPending) + uint32(w.currentPending)
	if sum > 0xffff {
		sum = 0xffff
	}
	w.previousPending = uint16(sum)
	w.currentPending = 0
}
