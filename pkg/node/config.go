package node

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"avaneesh/trel-go/pkg/channel"
	"avaneesh/trel-go/pkg/link"
	"avaneesh/trel-go/pkg/mac"
	"avaneesh/trel-go/pkg/peer"
)

// Transport names accepted in Config.Transport
const (
	TransportUDP  = "udp"
	TransportQUIC = "quic"
)

// Config describes one TREL node
type Config struct {
	ExtAddress    mac.ExtAddress   `json:"ext_address"`
	PanID         uint16           `json:"pan_id"`
	Channel       uint8            `json:"channel"`
	Listen        string           `json:"listen"`
	Transport     string           `json:"transport"`
	Peers         []peer.Static    `json:"peers"`
	Neighbors     []mac.ExtAddress `json:"neighbors,omitempty"` // Ack-tracked peers, all peers if empty
	AckWaitWindow Duration         `json:"ack_wait_window"`
	DeferredAck   bool             `json:"deferred_ack"`
	RxOnWhenIdle  bool             `json:"rx_on_when_idle"`
	MaxRetries    int              `json:"max_retries"`
	LogLevel      string           `json:"log_level"`
	FrameDebug    bool             `json:"frame_debug"`
}

// Duration is a time.Duration read from JSON as "750ms" or as nanoseconds
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		PanID:         uint16(mac.PanIDBroadcast),
		Channel:       11,
		Listen:        ":19788",
		Transport:     TransportUDP,
		AckWaitWindow: Duration(link.AckWaitWindow),
		RxOnWhenIdle:  true,
		MaxRetries:    3,
		LogLevel:      "info",
	}
}

// LoadConfig reads a JSON config file over DefaultConfig
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(buf) == 0 {
		return cfg, fmt.Errorf("configuration file %s is empty", path)
	}
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.ExtAddress == (mac.ExtAddress{}) {
		return fmt.Errorf("ext_address is required")
	}
	if c.Transport != TransportUDP && c.Transport != TransportQUIC {
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

// LinkConfig returns the link configuration part
func (c Config) LinkConfig() link.Config {
	cfg := link.DefaultConfig()
	cfg.AckWaitWindow = time.Duration(c.AckWaitWindow)
	cfg.DeferredAck = c.DeferredAck
	cfg.RxOnWhenIdle = c.RxOnWhenIdle
	return cfg
}

// Opener returns the transport opener for the configured transport
func (c Config) Opener() (channel.Opener, error) {
	switch c.Transport {
	case TransportUDP:
		return channel.UDPOpener(channel.UDPChannelConfig{Address: c.Listen}), nil
	case TransportQUIC:
		return channel.QUICOpener(channel.QUICChannelConfig{Address: c.Listen}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", c.Transport)
	}
}
