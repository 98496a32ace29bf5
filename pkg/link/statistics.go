package link

import "sync/atomic"

// Statistics tracks link-level counters
// Counters are atomic so they can be read from outside the link goroutine
type Statistics struct {
	numPacketsTx         uint64
	numPacketsRx         uint64
	numTxDone            uint64
	numAcksTx            uint64
	numAcksRx            uint64
	numInvalidAcks       uint64
	numAckTimeouts       uint64
	numAborts            uint64
	numTxErrors          uint64
	numRxDropped         uint64
	numAddrDiscrepancies uint64
}

// StatisticsSnapshot is a point-in-time copy of Statistics
type StatisticsSnapshot struct {
	PacketsTx         uint64 // Data packets handed to the transport
	PacketsRx         uint64 // Data packets delivered to the MAC
	TxDone            uint64 // Sends completed successfully
	AcksTx            uint64 // TREL acks sent
	AcksRx            uint64 // Valid TREL acks received
	InvalidAcks       uint64 // Stale, duplicate or unknown acks dropped
	AckTimeouts       uint64 // Pending acks retired by timeout
	Aborts            uint64 // Sends aborted
	TxErrors          uint64 // Transport send failures
	RxDropped         uint64 // Received packets dropped by filtering
	AddrDiscrepancies uint64 // Peers heard from a different socket address
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// PacketTx increments transmitted data packets
func (s *Statistics) PacketTx() {
	atomic.AddUint64(&s.numPacketsTx, 1)
}

// PacketRx increments received data packets
func (s *Statistics) PacketRx() {
	atomic.AddUint64(&s.numPacketsRx, 1)
}

// TxDone increments successful sends
func (s *Statistics) TxDone() {
	atomic.AddUint64(&s.numTxDone, 1)
}

// AckTx increments sent TREL acks
func (s *Statistics) AckTx() {
	atomic.AddUint64(&s.numAcksTx, 1)
}

// AckRx increments valid received TREL acks
func (s *Statistics) AckRx() {
	atomic.AddUint64(&s.numAcksRx, 1)
}

// InvalidAck increments dropped acks
func (s *Statistics) InvalidAck() {
	atomic.AddUint64(&s.numInvalidAcks, 1)
}

// AckTimeout increments timed out acks
func (s *Statistics) AckTimeout() {
	atomic.AddUint64(&s.numAckTimeouts, 1)
}

// Abort increments aborted sends
func (s *Statistics) Abort() {
	atomic.AddUint64(&s.numAborts, 1)
}

// TxError increments transport send failures
func (s *Statistics) TxError() {
	atomic.AddUint64(&s.numTxErrors, 1)
}

// RxDropped increments dropped received packets
func (s *Statistics) RxDropped() {
	atomic.AddUint64(&s.numRxDropped, 1)
}

// PeerAddrDiscrepancy increments detected peer address changes
func (s *Statistics) PeerAddrDiscrepancy() {
	atomic.AddUint64(&s.numAddrDiscrepancies, 1)
}

// Snapshot returns a copy of all counters
func (s *Statistics) Snapshot() StatisticsSnapshot {
	return StatisticsSnapshot{
		PacketsTx:         atomic.LoadUint64(&s.numPacketsTx),
		PacketsRx:         atomic.LoadUint64(&s.numPacketsRx),
		TxDone:            atomic.LoadUint64(&s.numTxDone),
		AcksTx:            atomic.LoadUint64(&s.numAcksTx),
		AcksRx:            atomic.LoadUint64(&s.numAcksRx),
		InvalidAcks:       atomic.LoadUint64(&s.numInvalidAcks),
		AckTimeouts:       atomic.LoadUint64(&s.numAckTimeouts),
		Aborts:            atomic.LoadUint64(&s.numAborts),
		TxErrors:          atomic.LoadUint64(&s.numTxErrors),
		RxDropped:         atomic.LoadUint64(&s.numRxDropped),
		AddrDiscrepancies: atomic.LoadUint64(&s.numAddrDiscrepancies),
	}
}

// Reset resets all statistics
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.numPacketsTx, 0)
	atomic.StoreUint64(&s.numPacketsRx, 0)
	atomic.StoreUint64(&s.numTxDone, 0)
	atomic.StoreUint64(&s.numAcksTx, 0)
	atomic.StoreUint64(&s.numAcksRx, 0)
	atomic.StoreUint64(&s.numInvalidAcks, 0)
	atomic.StoreUint64(&s.numAckTimeouts, 0)
	atomic.StoreUint64(&s.numAborts, 0)
	atomic.StoreUint64(&s.numTxErrors, 0)
	atomic.StoreUint64(&s.numRxDropped, 0)
	atomic.StoreUint64(&s.numAddrDiscrepancies, 0)
}
