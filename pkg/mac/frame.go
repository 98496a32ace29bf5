package mac

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame control field bits (IEEE 802.15.4)
const (
	FcfTypeMask        uint16 = 0x0007
	FcfTypeBeacon      uint16 = 0x0000
	FcfTypeData        uint16 = 0x0001
	FcfTypeAck         uint16 = 0x0002
	FcfTypeCommand     uint16 = 0x0003
	FcfSecurityEnabled uint16 = 1 << 3
	FcfFramePending    uint16 = 1 << 4
	FcfAckRequest      uint16 = 1 << 5
	FcfPanIDCompress   uint16 = 1 << 6
	FcfDstAddrShift           = 10
	FcfVersionShift           = 12
	FcfSrcAddrShift           = 14
	FcfAddrModeMask    uint16 = 0x3
	FcfVersion2006     uint16 = 1 << FcfVersionShift

	addrModeNone  uint16 = 0
	addrModeShort uint16 = 2
	addrModeExt   uint16 = 3
)

// Frame sizes
const (
	FcfSize      = 2
	SeqSize      = 1
	AckFrameSize = FcfSize + SeqSize // Minimal ack frame without FCS
)

// Errors
var (
	ErrFrameTooShort   = errors.New("frame too short")
	ErrFrameTooLong    = errors.New("frame too long")
	ErrInvalidAddrMode = errors.New("invalid address mode")
	ErrNoAddress       = errors.New("address not present")
	ErrBufferTooSmall  = errors.New("buffer too small")
)

// Frame is an IEEE 802.15.4 PSDU held in a fixed-capacity buffer
type Frame struct {
	psdu    []byte
	length  int
	Channel uint8
}

// Init attaches buf as the frame storage; the frame capacity is len(buf)
func (f *Frame) Init(buf []byte) {
	f.psdu = buf
	f.length = 0
}

// Psdu returns the frame bytes
func (f *Frame) Psdu() []byte {
	return f.psdu[:f.length]
}

// Buffer returns the whole backing buffer for in-place construction
func (f *Frame) Buffer() []byte {
	return f.psdu
}

// Capacity returns the maximum frame length
func (f *Frame) Capacity() int {
	return len(f.psdu)
}

// Length returns the frame length
func (f *Frame) Length() int {
	return f.length
}

// SetLength sets the frame length after writing into Buffer()
func (f *Frame) SetLength(n int) error {
	if n < 0 || n > len(f.psdu) {
		return ErrFrameTooLong
	}
	f.length = n
	return nil
}

// SetPsdu copies data into the frame
func (f *Frame) SetPsdu(data []byte) error {
	if len(data) > len(f.psdu) {
		return ErrFrameTooLong
	}
	f.length = copy(f.psdu, data)
	return nil
}

// IsEmpty reports whether the frame holds no bytes
func (f *Frame) IsEmpty() bool {
	return f.length == 0
}

// FrameControl returns the frame control field
func (f *Frame) FrameControl() uint16 {
	if f.length < FcfSize {
		return 0
	}
	return binary.LittleEndian.Uint16(f.psdu)
}

// Type returns the frame type bits
func (f *Frame) Type() uint16 {
	return f.FrameControl() & FcfTypeMask
}

// AckRequest reports whether the frame requests an acknowledgment
func (f *Frame) AckRequest() bool {
	return f.FrameControl()&FcfAckRequest != 0
}

// FramePending reports whether the frame pending bit is set
func (f *Frame) FramePending() bool {
	return f.FrameControl()&FcfFramePending != 0
}

// Sequence returns the sequence number
func (f *Frame) Sequence() uint8 {
	if f.length < FcfSize+SeqSize {
		return 0
	}
	return f.psdu[FcfSize]
}

func addrSize(mode uint16) (int, error) {
	switch mode {
	case addrModeNone:
		return 0, nil
	case addrModeShort:
		return 2, nil
	case addrModeExt:
		return ExtAddressSize, nil
	default:
		return 0, ErrInvalidAddrMode
	}
}

// layout holds offsets of the addressing fields
type layout struct {
	dstMode, srcMode uint16
	dstPan, dstAddr  int
	srcPan, srcAddr  int
	payload          int
}

func (f *Frame) layout() (layout, error) {
	var l layout

	if f.length < FcfSize+SeqSize {
		return l, ErrFrameTooShort
	}

	fcf := f.FrameControl()
	l.dstMode = (fcf >> FcfDstAddrShift) & FcfAddrModeMask
	l.srcMode = (fcf >> FcfSrcAddrShift) & FcfAddrModeMask

	dstLen, err := addrSize(l.dstMode)
	if err != nil {
		return l, err
	}
	srcLen, err := addrSize(l.srcMode)
	if err != nil {
		return l, err
	}

	off := FcfSize + SeqSize
	l.dstPan, l.dstAddr, l.srcPan, l.srcAddr = -1, -1, -1, -1

	if l.dstMode != addrModeNone {
		l.dstPan = off
		off += 2
		l.dstAddr = off
		off += dstLen
	}
	if l.srcMode != addrModeNone {
		if l.dstMode == addrModeNone || fcf&FcfPanIDCompress == 0 {
			l.srcPan = off
			off += 2
		}
		l.srcAddr = off
		off += srcLen
	}

	if off > f.length {
		return l, ErrFrameTooShort
	}
	l.payload = off
	return l, nil
}

func readAddress(b []byte, mode uint16) Address {
	switch mode {
	case addrModeShort:
		return NewShortAddress(ShortAddress(binary.LittleEndian.Uint16(b)))
	case addrModeExt:
		var ext ExtAddress
		// Extended addresses are sent in reverse byte order
		for i := 0; i < ExtAddressSize; i++ {
			ext[i] = b[ExtAddressSize-1-i]
		}
		return NewExtAddress(ext)
	default:
		return Address{}
	}
}

// DstPanID returns the destination PAN identifier
func (f *Frame) DstPanID() (PanID, error) {
	l, err := f.layout()
	if err != nil {
		return 0, err
	}
	if l.dstPan < 0 {
		return 0, ErrNoAddress
	}
	return PanID(binary.LittleEndian.Uint16(f.psdu[l.dstPan:])), nil
}

// DstAddr returns the destination address (Type None when absent)
func (f *Frame) DstAddr() (Address, error) {
	l, err := f.layout()
	if err != nil {
		return Address{}, err
	}
	if l.dstAddr < 0 {
		return Address{}, nil
	}
	return readAddress(f.psdu[l.dstAddr:], l.dstMode), nil
}

// SrcAddr returns the source address (Type None when absent)
func (f *Frame) SrcAddr() (Address, error) {
	l, err := f.layout()
	if err != nil {
		return Address{}, err
	}
	if l.srcAddr < 0 {
		return Address{}, nil
	}
	return readAddress(f.psdu[l.srcAddr:], l.srcMode), nil
}

// Payload returns the MAC payload following the addressing fields
func (f *Frame) Payload() ([]byte, error) {
	l, err := f.layout()
	if err != nil {
		return nil, err
	}
	return f.psdu[l.payload:f.length], nil
}

// String returns a string representation of the frame
func (f *Frame) String() string {
	dst, _ := f.DstAddr()
	src, _ := f.SrcAddr()
	return fmt.Sprintf("Frame{Type=%d, Seq=%d, AR=%t, Dst=%s, Src=%s, Len=%d, Ch=%d}",
		f.Type(), f.Sequence(), f.AckRequest(), dst, src, f.length, f.Channel)
}

// TxFrame is a frame to be transmitted
type TxFrame struct {
	Frame
}

// RxFrame is a received frame with its reception info
type RxFrame struct {
	Frame
	Rssi                  int8
	Lqi                   uint8
	AckedWithFramePending bool
}

// DataHeader describes the MAC header of a data frame
type DataHeader struct {
	Sequence     uint8
	DstPanID     PanID
	Dst          Address
	Src          Address
	AckRequest   bool
	FramePending bool
}

func addrMode(a Address) uint16 {
	switch a.Type {
	case AddressShort:
		return addrModeShort
	case AddressExtended:
		return addrModeExt
	default:
		return addrModeNone
	}
}

func writeAddress(b []byte, a Address) int {
	switch a.Type {
	case AddressShort:
		binary.LittleEndian.PutUint16(b, uint16(a.Short))
		return 2
	case AddressExtended:
		for i := 0; i < ExtAddressSize; i++ {
			b[i] = a.Ext[ExtAddressSize-1-i]
		}
		return ExtAddressSize
	default:
		return 0
	}
}

// BuildData writes a 2006-version data frame with PAN ID compression
func (f *Frame) BuildData(h DataHeader, payload []byte) error {
	dstLen, _ := addrSize(addrMode(h.Dst))
	srcLen, _ := addrSize(addrMode(h.Src))

	size := FcfSize + SeqSize + srcLen + len(payload)
	if h.Dst.Type != AddressNone {
		size += 2 + dstLen
	} else if h.Src.Type != AddressNone {
		size += 2
	}
	if size > len(f.psdu) {
		return ErrFrameTooLong
	}

	fcf := FcfTypeData | FcfVersion2006
	fcf |= addrMode(h.Dst) << FcfDstAddrShift
	fcf |= addrMode(h.Src) << FcfSrcAddrShift
	if h.AckRequest {
		fcf |= FcfAckRequest
	}
	if h.FramePending {
		fcf |= FcfFramePending
	}
	if h.Dst.Type != AddressNone && h.Src.Type != AddressNone {
		fcf |= FcfPanIDCompress
	}

	b := f.psdu
	binary.LittleEndian.PutUint16(b, fcf)
	b[FcfSize] = h.Sequence
	off := FcfSize + SeqSize

	if h.Dst.Type != AddressNone {
		binary.LittleEndian.PutUint16(b[off:], uint16(h.DstPanID))
		off += 2
		off += writeAddress(b[off:], h.Dst)
	}
	if h.Src.Type != AddressNone {
		if h.Dst.Type == AddressNone {
			binary.LittleEndian.PutUint16(b[off:], uint16(h.DstPanID))
			off += 2
		}
		off += writeAddress(b[off:], h.Src)
	}
	off += copy(b[off:], payload)

	f.length = off
	return nil
}

// WriteAckFrame writes a minimal ack frame (FCF + sequence) into buf
func WriteAckFrame(buf []byte, seq uint8, framePending bool) (int, error) {
	if len(buf) < AckFrameSize {
		return 0, ErrBufferTooSmall
	}
	fcf := FcfTypeAck
	if framePending {
		fcf |= FcfFramePending
	}
	binary.LittleEndian.PutUint16(buf, fcf)
	buf[FcfSize] = seq
	return AckFrameSize, nil
}
