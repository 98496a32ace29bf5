package channel

import "sync/atomic"

// Statistics tracks channel-level statistics
type Statistics struct {
	numPacketsTx       uint64
	numPacketsRx       uint64
	numWriteErrors     uint64
	numReadErrors      uint64
	numQueueDrops      uint64
	numPeerAddrChanges uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// PacketTx increments packets written to the transport
func (s *Statistics) PacketTx() {
	atomic.AddUint64(&s.numPacketsTx, 1)
}

// PacketRx increments packets read from the transport
func (s *Statistics) PacketRx() {
	atomic.AddUint64(&s.numPacketsRx, 1)
}

// WriteError increments failed writes
func (s *Statistics) WriteError() {
	atomic.AddUint64(&s.numWriteErrors, 1)
}

// ReadError increments failed reads
func (s *Statistics) ReadError() {
	atomic.AddUint64(&s.numReadErrors, 1)
}

// QueueDrop increments packets dropped because the write queue was full
func (s *Statistics) QueueDrop() {
	atomic.AddUint64(&s.numQueueDrops, 1)
}

// PeerAddrChange increments reported peer address differences
func (s *Statistics) PeerAddrChange() {
	atomic.AddUint64(&s.numPeerAddrChanges, 1)
}

// GetPacketsTx returns packets written to the transport
func (s *Statistics) GetPacketsTx() uint64 {
	return atomic.LoadUint64(&s.numPacketsTx)
}

// GetPacketsRx returns packets read from the transport
func (s *Statistics) GetPacketsRx() uint64 {
	return atomic.LoadUint64(&s.numPacketsRx)
}

// GetWriteErrors returns failed writes
func (s *Statistics) GetWriteErrors() uint64 {
	return atomic.LoadUint64(&s.numWriteErrors)
}

// GetReadErrors returns failed reads
func (s *Statistics) GetReadErrors() uint64 {
	return atomic.LoadUint64(&s.numReadErrors)
}

// GetQueueDrops returns packets dropped on a full write queue
func (s *Statistics) GetQueueDrops() uint64 {
	return atomic.LoadUint64(&s.numQueueDrops)
}

// GetPeerAddrChanges returns reported peer address differences
func (s *Statistics) GetPeerAddrChanges() uint64 {
	return atomic.LoadUint64(&s.numPeerAddrChanges)
}

// Reset resets all statistics
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.numPacketsTx, 0)
	atomic.StoreUint64(&s.numPacketsRx, 0)
	atomic.StoreUint64(&s.numWriteErrors, 0)
	atomic.StoreUint64(&s.numReadErrors, 0)
	atomic.StoreUint64(&s.numQueueDrops, 0)
	atomic.StoreUint64(&s.numPeerAddrChanges, 0)
}
