// Package transport defines the backend contract shared by the media and
// websocket transports.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

// Kind discriminates frames.
type Kind int

const (
	KindAudio Kind = iota + 1
	KindVideo
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// AudioCodec identifies the audio payload encoding.
type AudioCodec int

const (
	AudioCodecPCM AudioCodec = iota
	AudioCodecOpus
	AudioCodecG711A
	AudioCodecG722
	AudioCodecAAC
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecPCM:
		return "pcm"
	case AudioCodecOpus:
		return "opus"
	case AudioCodecG711A:
		return "g711a"
	case AudioCodecG722:
		return "g722"
	case AudioCodecAAC:
		return "aac"
	default:
		return "unknown"
	}
}

// VideoCodec identifies the video payload encoding.
type VideoCodec int

const (
	VideoCodecH264 VideoCodec = iota
	VideoCodecMJPEG
)

// AudioInfo is the per-frame audio metadata. Commit marks the end of an
// utterance.
type AudioInfo struct {
	Codec  AudioCodec
	Commit bool
}

// VideoInfo is the per-frame video metadata.
type VideoInfo struct {
	Codec VideoCodec
}

// MessageInfo is the per-frame message metadata.
type MessageInfo struct {
	Binary bool
}

// Frame is one unit of audio, video or message data. Inbound payloads
// are only valid for the duration of the Sink call.
type Frame struct {
	Kind    Kind
	Payload []byte
	Audio   AudioInfo
	Video   VideoInfo
	Message MessageInfo
}

// EventCode enumerates backend lifecycle notifications.
type EventCode int

const (
	EventConnected EventCode = iota + 1
	EventDisconnected
	EventUserJoined
	EventUserOffline
	EventTokenExpired
	EventKeyFrameRequest
	EventTargetBitrate
	EventConversationStatus
	EventError
)

func (c EventCode) String() string {
	switch c {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventUserJoined:
		return "user_joined"
	case EventUserOffline:
		return "user_offline"
	case EventTokenExpired:
		return "token_expired"
	case EventKeyFrameRequest:
		return "key_frame_request"
	case EventTargetBitrate:
		return "target_bitrate"
	case EventConversationStatus:
		return "conversation_status"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a backend notification. TargetKbps is set for
// EventTargetBitrate, Status for EventConversationStatus and Err for
// EventError.
type Event struct {
	Code       EventCode
	UserID     string
	TargetKbps int
	Status     int
	Err        error
}

// Sink receives inbound traffic from a backend, typically on the
// backend's own goroutine.
type Sink interface {
	OnEvent(Event)
	OnFrame(Frame)
}

// Credentials is the provisioning output handed to a backend.
type Credentials struct {
	InstanceID   string
	ProductKey   string
	DeviceName   string
	DeviceSecret []byte
	AppID        string
}

// RoomConfig is a media room assignment.
type RoomConfig struct {
	ChannelName string
	UserID      string
	Token       string
	TaskID      string
}

// RoomRequest carries the per-session inputs of a room fetch.
type RoomRequest struct {
	BotID      string
	AudioCodec AudioCodec
	TaskID     string
}

// RoomFetcher performs the signed room-config call for a backend that
// needs one.
type RoomFetcher func(ctx context.Context, req RoomRequest) (RoomConfig, error)

// StartParams is passed to Backend.Start.
type StartParams struct {
	BotID       string
	Credentials Credentials
	// Params is the optional backend-specific session payload.
	Params    json.RawMessage
	FetchRoom RoomFetcher
}

// Backend is a single transport session. Implementations must tolerate
// Stop and Destroy racing with their own receive goroutines.
type Backend interface {
	Start(ctx context.Context, params StartParams) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, frame Frame) error
	Interrupt(ctx context.Context) error
	// SendToolResult answers a tool call in the backend's own wire form.
	SendToolResult(ctx context.Context, callID, output string) error
	Destroy()
}

// Factory constructs a backend from its config block.
type Factory func(cfg json.RawMessage, sink Sink, logger *zap.Logger) (Backend, error)

var (
	// ErrNotStarted is returned by backends asked to send before Start.
	ErrNotStarted = errors.New("transport: not started")
	// ErrClosed is returned after Destroy.
	ErrClosed = errors.New("transport: closed")
	// ErrUnsupportedKind is returned for frames a backend cannot carry.
	ErrUnsupportedKind = errors.New("transport: unsupported frame kind")
)
