package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/saker-ai/convai/pkg/transport"
)

// ErrConfig reports an unusable rtc config block.
var ErrConfig = errors.New("rtc: invalid config")

// Config is the "rtc" block of the engine config.
type Config struct {
	AudioCodec transport.AudioCodec `json:"audio_codec"`
	VideoCodec transport.VideoCodec `json:"video_codec"`

	// TaskID resumes a previous agent task when set.
	TaskID         string `json:"task_id"`
	LeaveTimeoutMs int    `json:"leave_timeout_ms"`

	// SDK holds settings for the room implementation, passed through as-is.
	SDK json.RawMessage `json:"sdk,omitempty"`
}

func parseConfig(raw json.RawMessage) (Config, error) {
	var cfg Config
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}
	switch cfg.AudioCodec {
	case transport.AudioCodecPCM, transport.AudioCodecOpus, transport.AudioCodecG711A, transport.AudioCodecG722, transport.AudioCodecAAC:
	default:
		return Config{}, fmt.Errorf("%w: audio_codec %d", ErrConfig, cfg.AudioCodec)
	}
	if cfg.LeaveTimeoutMs <= 0 {
		cfg.LeaveTimeoutMs = 3000
	}
	return cfg, nil
}

func (c Config) leaveTimeout() time.Duration {
	return time.Duration(c.LeaveTimeoutMs) * time.Millisecond
}
