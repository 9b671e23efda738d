package convai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/saker-ai/convai/internal/session/fsm"
	"github.com/saker-ai/convai/pkg/demux"
	"github.com/saker-ai/convai/pkg/transport"
)

// Version reports the engine version.
func Version() string { return "1.0.0" }

// Mode selects the transport variant for a session.
type Mode int

const (
	ModeRTC Mode = iota
	ModeWS
)

func (m Mode) String() string {
	switch m {
	case ModeRTC:
		return "rtc"
	case ModeWS:
		return "ws"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "rtc" or "ws", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rtc":
		return ModeRTC, nil
	case "ws", "websocket":
		return ModeWS, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrConfig, s)
	}
}

// State is the engine lifecycle state.
type State = fsm.State

const (
	StateNone      = fsm.StateNone
	StateCreated   = fsm.StateCreated
	StateStarted   = fsm.StateStarted
	StateStopped   = fsm.StateStopped
	StateDestroyed = fsm.StateDestroyed
	StateError     = fsm.StateError
)

type (
	Event       = transport.Event
	EventCode   = transport.EventCode
	AudioInfo   = transport.AudioInfo
	VideoInfo   = transport.VideoInfo
	MessageInfo = transport.MessageInfo
	AudioCodec  = transport.AudioCodec
)

const (
	AudioCodecPCM   = transport.AudioCodecPCM
	AudioCodecOpus  = transport.AudioCodecOpus
	AudioCodecG711A = transport.AudioCodecG711A
	AudioCodecG722  = transport.AudioCodecG722
	AudioCodecAAC   = transport.AudioCodecAAC
)

// StartOptions selects the transport and agent for one session.
type StartOptions struct {
	Mode  Mode
	BotID string
	// Params is backend specific: the ws backend sends it as the
	// session.update body, the rtc backend hands it to the room on join.
	Params json.RawMessage
}

// Callbacks receive inbound traffic. They run on transport goroutines and
// must not call Stop or Destroy. Payload slices are only valid until the
// callback returns.
type Callbacks struct {
	OnEvent              func(e *Engine, ev Event)
	OnConversationStatus func(e *Engine, status demux.ConversationStatus)
	OnAudio              func(e *Engine, payload []byte, info AudioInfo)
	OnVideo              func(e *Engine, payload []byte, info VideoInfo)
	OnMessage            func(e *Engine, payload []byte, info MessageInfo)
	OnSubtitle           func(e *Engine, subtitle demux.Subtitle)
	OnToolCall           func(e *Engine, call demux.ToolCall)
	OnUnknownMessage     func(e *Engine, msg demux.Unknown)
}
