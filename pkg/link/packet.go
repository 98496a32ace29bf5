package link

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"avaneesh/trel-go/pkg/mac"
)

// Header control byte
const (
	Version         uint8 = 0
	ctrlVersionMask uint8 = 0xE0 // Version (bits 7..5)
	ctrlVersionPos        = 5
	ctrlAckMode     uint8 = 0x04 // Ack requested (bit 2)
	ctrlTypeMask    uint8 = 0x03 // Packet type (bits 1..0)
)

// Header field offsets
const (
	offControl      = 0
	offChannel      = 1
	offPanID        = 2
	offPacketNumber = 4
	offSource       = 8
	offDestination  = 16
)

// PacketType identifies a TREL packet
type PacketType uint8

const (
	TypeBroadcast PacketType = 0 // Broadcast data frame
	TypeUnicast   PacketType = 1 // Unicast data frame
	TypeAck       PacketType = 2 // TREL acknowledgment
)

// String returns string representation of PacketType
func (t PacketType) String() string {
	switch t {
	case TypeBroadcast:
		return "Broadcast"
	case TypeUnicast:
		return "Unicast"
	case TypeAck:
		return "Ack"
	default:
		return "Unknown"
	}
}

// HeaderSize returns the header size used by packets of type t
func (t PacketType) HeaderSize() int {
	if t == TypeBroadcast {
		return BroadcastHeaderSize
	}
	return UnicastHeaderSize
}

// Header is a view over the TREL header at the start of a packet buffer
type Header []byte

// Type returns the packet type
func (h Header) Type() PacketType {
	return PacketType(h[offControl] & ctrlTypeMask)
}

// Version returns the header version
func (h Header) Version() uint8 {
	return (h[offControl] & ctrlVersionMask) >> ctrlVersionPos
}

// AckRequested reports whether the sender expects a TREL ack
func (h Header) AckRequested() bool {
	return h[offControl]&ctrlAckMode != 0
}

// SetAckRequested sets the ack mode bit
func (h Header) SetAckRequested(requested bool) {
	if requested {
		h[offControl] |= ctrlAckMode
	} else {
		h[offControl] &^= ctrlAckMode
	}
}

// Channel returns the channel
func (h Header) Channel() uint8 {
	return h[offChannel]
}

// SetChannel sets the channel
func (h Header) SetChannel(ch uint8) {
	h[offChannel] = ch
}

// PanID returns the PAN identifier
func (h Header) PanID() mac.PanID {
	return mac.PanID(binary.BigEndian.Uint16(h[offPanID:]))
}

// SetPanID sets the PAN identifier
func (h Header) SetPanID(pan mac.PanID) {
	binary.BigEndian.PutUint16(h[offPanID:], uint16(pan))
}

// PacketNumber returns the packet number
func (h Header) PacketNumber() uint32 {
	return binary.BigEndian.Uint32(h[offPacketNumber:])
}

// SetPacketNumber sets the packet number
func (h Header) SetPacketNumber(n uint32) {
	binary.BigEndian.PutUint32(h[offPacketNumber:], n)
}

// Source returns the source extended address
func (h Header) Source() mac.ExtAddress {
	var ext mac.ExtAddress
	copy(ext[:], h[offSource:offSource+mac.ExtAddressSize])
	return ext
}

// SetSource sets the source extended address
func (h Header) SetSource(ext mac.ExtAddress) {
	copy(h[offSource:], ext[:])
}

// Destination returns the destination extended address
// Only valid for unicast and ack packets
func (h Header) Destination() mac.ExtAddress {
	var ext mac.ExtAddress
	if h.Type() == TypeBroadcast {
		return ext
	}
	copy(ext[:], h[offDestination:offDestination+mac.ExtAddressSize])
	return ext
}

// SetDestination sets the destination extended address
func (h Header) SetDestination(ext mac.ExtAddress) {
	copy(h[offDestination:], ext[:])
}

// String returns a string representation of the header
func (h Header) String() string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("Header{Type=%s, ", h.Type()))
	buf.WriteString(fmt.Sprintf("Ack=%t, Ch=%d, Pan=0x%04x, ", h.AckRequested(), h.Channel(), uint16(h.PanID())))
	buf.WriteString(fmt.Sprintf("Num=%d, Src=%s", h.PacketNumber(), h.Source()))
	if h.Type() != TypeBroadcast {
		buf.WriteString(fmt.Sprintf(", Dst=%s", h.Destination()))
	}
	buf.WriteString("}")
	return buf.String()
}

// Packet is a TREL packet: a header followed by a MAC frame payload
type Packet struct {
	buf    []byte
	length int
}

// Init builds a packet of type t in buf with payload copied after the header
// The remaining header fields are zeroed
func (p *Packet) Init(buf []byte, t PacketType, payload []byte) error {
	hdrLen := t.HeaderSize()
	total := hdrLen + len(payload)

	if total > MaxPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLong, total)
	}
	if total > len(buf) {
		return fmt.Errorf("%w: buffer holds %d of %d bytes", ErrFrameTooLong, len(buf), total)
	}

	clear(buf[:hdrLen])
	buf[offControl] = (Version << ctrlVersionPos) | uint8(t)
	copy(buf[hdrLen:], payload)

	p.buf = buf
	p.length = total
	return nil
}

// ParsePacket validates the header of data and returns a packet view over it
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < BroadcastHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(data))
	}

	h := Header(data)
	if h.Version() != Version {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidHeader, h.Version())
	}

	switch h.Type() {
	case TypeBroadcast, TypeUnicast, TypeAck:
	default:
		return nil, fmt.Errorf("%w: type %d", ErrInvalidHeader, h.Type())
	}

	if len(data) < h.Type().HeaderSize() {
		return nil, fmt.Errorf("%w: %d bytes for %s", ErrInvalidHeader, len(data), h.Type())
	}
	if len(data) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLong, len(data))
	}

	return &Packet{buf: data, length: len(data)}, nil
}

// Header returns the packet header
func (p *Packet) Header() Header {
	return Header(p.buf[:p.length])
}

// Payload returns the MAC frame carried by the packet
func (p *Packet) Payload() []byte {
	return p.buf[p.Header().Type().HeaderSize():p.length]
}

// Bytes returns the wire representation
func (p *Packet) Bytes() []byte {
	return p.buf[:p.length]
}

// Len returns the packet length
func (p *Packet) Len() int {
	return p.length
}
