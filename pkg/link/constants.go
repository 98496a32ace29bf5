package link

import (
	"errors"
	"time"

	"avaneesh/trel-go/pkg/mac"
)

// TREL Link Constants

// Packet sizes
const (
	MaxPacketSize          = 1280 - 48                      // Largest TREL packet carried over the IP transport
	BroadcastHeaderSize    = 16                             // Header without destination address
	UnicastHeaderSize      = 24                             // Header with destination address
	MaxHeaderSize          = UnicastHeaderSize              // Largest header size
	Mtu                    = MaxPacketSize - MaxHeaderSize  // Largest MAC frame carried in a packet
	FcsSize                = 0                              // No FCS, the IP transport checks integrity
	AckFrameSize           = mac.AckFrameSize + FcsSize     // Synthetic 802.15.4 ack frame size
	RxRssi            int8 = -20                            // RSSI reported for every received frame
	AckWaitWindow          = 750 * time.Millisecond         // Time to wait for a TREL ack
	FcfFramePending        = mac.FcfFramePending            // Frame pending bit in the synthetic ack
)

// State is the operating mode of the link
type State uint8

const (
	StateDisabled State = iota // Link disabled, transport closed
	StateSleep                 // Enabled but not receiving
	StateReceive               // Receiving on the current channel
	StateTransmit              // Transmit in flight
)

// String returns string representation of State
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "Disabled"
	case StateSleep:
		return "Sleep"
	case StateReceive:
		return "Receive"
	case StateTransmit:
		return "Transmit"
	default:
		return "Unknown"
	}
}

// PeerSockAddrUpdateMode selects whether CheckPeerAddrOnRxSuccess may
// update the recorded peer socket address
type PeerSockAddrUpdateMode uint8

const (
	AllowPeerSockAddrUpdate    PeerSockAddrUpdateMode = iota // Peer socket address can be updated
	DisallowPeerSockAddrUpdate                               // Peer socket address cannot be updated
)

// String returns string representation of PeerSockAddrUpdateMode
func (m PeerSockAddrUpdateMode) String() string {
	switch m {
	case AllowPeerSockAddrUpdate:
		return "AllowUpdate"
	case DisallowPeerSockAddrUpdate:
		return "DisallowUpdate"
	default:
		return "Unknown"
	}
}

// Errors
var (
	ErrNoAck         = errors.New("no acknowledgment received")
	ErrAbort         = errors.New("transmission aborted")
	ErrInvalidState  = errors.New("invalid link state")
	ErrFrameTooLong  = errors.New("frame exceeds TREL MTU")
	ErrInvalidHeader = errors.New("invalid TREL header")
	ErrUnknownPeer   = errors.New("unknown peer")
)
