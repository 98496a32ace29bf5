package mac

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ExtAddressSize is the size of an IEEE 802.15.4 extended address
const ExtAddressSize = 8

// ExtAddress is an IEEE 802.15.4 extended (EUI-64) address
type ExtAddress [ExtAddressSize]byte

// ParseExtAddress parses a 16 hex digit string, optionally with ':' separators
func ParseExtAddress(s string) (ExtAddress, error) {
	var ext ExtAddress

	clean := strings.ReplaceAll(s, ":", "")
	if len(clean) != 2*ExtAddressSize {
		return ext, fmt.Errorf("invalid extended address %q: want %d hex digits", s, 2*ExtAddressSize)
	}
	if _, err := hex.Decode(ext[:], []byte(clean)); err != nil {
		return ext, fmt.Errorf("invalid extended address %q: %w", s, err)
	}
	return ext, nil
}

// String returns the address as 16 lowercase hex digits
func (e ExtAddress) String() string {
	return hex.EncodeToString(e[:])
}

// MarshalText implements encoding.TextMarshaler
func (e ExtAddress) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (e *ExtAddress) UnmarshalText(text []byte) error {
	ext, err := ParseExtAddress(string(text))
	if err != nil {
		return err
	}
	*e = ext
	return nil
}

// ShortAddress is an IEEE 802.15.4 short address
type ShortAddress uint16

// ShortAddrBroadcast is the broadcast short address
const ShortAddrBroadcast ShortAddress = 0xffff

// PanID is an IEEE 802.15.4 PAN identifier
type PanID uint16

// PanIDBroadcast is the broadcast PAN identifier
const PanIDBroadcast PanID = 0xffff

// AddressType identifies which form of address is present
type AddressType uint8

const (
	AddressNone AddressType = iota
	AddressShort
	AddressExtended
)

// String returns string representation of AddressType
func (t AddressType) String() string {
	switch t {
	case AddressNone:
		return "None"
	case AddressShort:
		return "Short"
	case AddressExtended:
		return "Extended"
	default:
		return "Unknown"
	}
}

// Address is a MAC address that is either absent, short, or extended
type Address struct {
	Type  AddressType
	Short ShortAddress
	Ext   ExtAddress
}

// NewShortAddress returns a short Address
func NewShortAddress(s ShortAddress) Address {
	return Address{Type: AddressShort, Short: s}
}

// NewExtAddress returns an extended Address
func NewExtAddress(e ExtAddress) Address {
	return Address{Type: AddressExtended, Ext: e}
}

// IsNone reports whether no address is present
func (a Address) IsNone() bool {
	return a.Type == AddressNone
}

// IsBroadcast reports whether the address is the broadcast short address
func (a Address) IsBroadcast() bool {
	return a.Type == AddressShort && a.Short == ShortAddrBroadcast
}

// IsExtended reports whether the address is an extended address
func (a Address) IsExtended() bool {
	return a.Type == AddressExtended
}

// String returns a string representation of the address
func (a Address) String() string {
	switch a.Type {
	case AddressShort:
		return fmt.Sprintf("0x%04x", uint16(a.Short))
	case AddressExtended:
		return a.Ext.String()
	default:
		return "none"
	}
}
