package node

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"avaneesh/trel-go/pkg/mac"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"ext_address": "12:34:56:78:9a:bc:de:f0",
		"channel": 15,
		"listen": "127.0.0.1:19788",
		"transport": "quic",
		"ack_wait_window": "500ms",
		"deferred_ack": true,
		"peers": [
			{"ext_address": "0102030405060708", "address": "192.0.2.1:19788"}
		]
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := mac.ExtAddress{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	if cfg.ExtAddress != want {
		t.Errorf("ExtAddress = %s, want %s", cfg.ExtAddress, want)
	}
	if cfg.Channel != 15 || cfg.Transport != TransportQUIC || !cfg.DeferredAck {
		t.Errorf("cfg = %+v", cfg)
	}
	if time.Duration(cfg.AckWaitWindow) != 500*time.Millisecond {
		t.Errorf("AckWaitWindow = %v, want 500ms", time.Duration(cfg.AckWaitWindow))
	}
	if len(cfg.Peers) != 1 || cfg.Peers[0].ExtAddress != (mac.ExtAddress{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("Peers = %+v", cfg.Peers)
	}

	// Defaults survive for fields not in the file
	if cfg.MaxRetries != 3 || !cfg.RxOnWhenIdle || cfg.PanID != 0xffff {
		t.Errorf("defaults lost: %+v", cfg)
	}

	lc := cfg.LinkConfig()
	if lc.AckWaitWindow != 500*time.Millisecond || !lc.DeferredAck {
		t.Errorf("LinkConfig = %+v", lc)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ``},
		{"bad json", `{`},
		{"missing ext address", `{"channel": 11}`},
		{"bad ext address", `{"ext_address": "xyz"}`},
		{"unknown transport", `{"ext_address": "0102030405060708", "transport": "tcp"}`},
		{"bad duration", `{"ext_address": "0102030405060708", "ack_wait_window": "soon"}`},
		{"negative retries", `{"ext_address": "0102030405060708", "max_retries": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.content)); err == nil {
				t.Errorf("LoadConfig accepted %q", tt.content)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Errorf("LoadConfig accepted a missing file")
	}
}

func TestDuration_Numeric(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte("1000000")); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if time.Duration(d) != time.Millisecond {
		t.Errorf("d = %v, want 1ms", time.Duration(d))
	}

	b, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(b) != `"1ms"` {
		t.Errorf("MarshalJSON = %s, want \"1ms\"", b)
	}
}
