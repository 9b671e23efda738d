package convai

import (
	"encoding/json"
	"fmt"

	"github.com/saker-ai/convai/pkg/provision"
)

type iotConfig struct {
	InstanceID    string `json:"instance_id"`
	ProductKey    string `json:"product_key"`
	ProductSecret string `json:"product_secret"`
	DeviceName    string `json:"device_name"`
}

type engineConfig struct {
	Ver json.RawMessage `json:"ver"`
	IoT *iotConfig      `json:"iot"`
	RTC json.RawMessage `json:"rtc"`
	WS  json.RawMessage `json:"ws"`
}

func parseEngineConfig(data []byte) (engineConfig, provision.Identity, error) {
	var cfg engineConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return engineConfig{}, provision.Identity{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if cfg.IoT == nil {
		return engineConfig{}, provision.Identity{}, fmt.Errorf("%w: iot block is required", ErrConfig)
	}
	id := provision.Identity{
		InstanceID:    cfg.IoT.InstanceID,
		ProductKey:    cfg.IoT.ProductKey,
		ProductSecret: cfg.IoT.ProductSecret,
		DeviceName:    cfg.IoT.DeviceName,
	}
	if err := id.Validate(); err != nil {
		return engineConfig{}, provision.Identity{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return cfg, id, nil
}

func (c engineConfig) block(mode Mode) (json.RawMessage, bool) {
	var raw json.RawMessage
	switch mode {
	case ModeRTC:
		raw = c.RTC
	case ModeWS:
		raw = c.WS
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}
