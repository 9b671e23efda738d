package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/saker-ai/convai/pkg/transport"
)

// ErrConfig reports an unusable ws config block.
var ErrConfig = errors.New("ws: invalid config")

// Config is the "ws" block of the engine config.
type Config struct {
	URL string `json:"url"`
	// AudioCodec tags inbound audio frames. Outbound audio is sent as-is.
	AudioCodec         transport.AudioCodec `json:"audio_codec"`
	HandshakeTimeoutMs int                  `json:"handshake_timeout_ms"`
	WriteTimeoutMs     int                  `json:"write_timeout_ms"`
	PingIntervalMs     int                  `json:"ping_interval_ms"`
}

func parseConfig(raw json.RawMessage) (Config, error) {
	var cfg Config
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return Config{}, fmt.Errorf("%w: url is empty", ErrConfig)
	}
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		return Config{}, fmt.Errorf("%w: url %q is not ws:// or wss://", ErrConfig, cfg.URL)
	}
	if cfg.HandshakeTimeoutMs <= 0 {
		cfg.HandshakeTimeoutMs = 5000
	}
	if cfg.WriteTimeoutMs <= 0 {
		cfg.WriteTimeoutMs = 5000
	}
	if cfg.PingIntervalMs < 0 {
		cfg.PingIntervalMs = 0
	}
	return cfg, nil
}

func (c Config) handshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

func (c Config) writeTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

func (c Config) pingInterval() time.Duration {
	return time.Duration(c.PingIntervalMs) * time.Millisecond
}
