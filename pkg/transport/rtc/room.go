// Package rtc adapts a real-time media SDK to transport.Backend. The SDK
// itself is supplied by the caller as a Room.
package rtc

import (
	"context"
	"encoding/json"

	"github.com/saker-ai/convai/pkg/transport"
)

// JoinParams identifies the room to enter.
type JoinParams struct {
	AppID       string
	ChannelName string
	UserID      string
	Token       string
	BotID       string
	// Params is passed through from the start call untouched.
	Params json.RawMessage
}

// Room is the media SDK surface the backend drives. Inbound media, messages
// and lifecycle notifications are delivered to the Sink given to Join, on
// the SDK's own goroutines.
type Room interface {
	Join(ctx context.Context, params JoinParams, sink transport.Sink) error
	Leave(ctx context.Context) error
	SendAudio(ctx context.Context, payload []byte, info transport.AudioInfo) error
	SendVideo(ctx context.Context, payload []byte, info transport.VideoInfo) error
	SendMessage(ctx context.Context, payload []byte, binary bool) error
	Close()
}

// Opener creates a Room from the backend config.
type Opener func(cfg Config) (Room, error)
