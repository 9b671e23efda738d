package ws

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Client event types.
const (
	EventAudioAppend        = "input_audio_buffer.append"
	EventAudioCommit        = "input_audio_buffer.commit"
	EventAudioClear         = "input_audio_buffer.clear"
	EventSessionUpdate      = "session.update"
	EventItemCreate         = "conversation.item.create"
	EventResponseCancel     = "response.cancel"
	EventOutputAudioClear   = "output_audio_buffer.clear"
	EventResponseAudioDelta = "response.audio.delta"
	EventResponseAudioDone  = "response.audio.done"
)

type clientEvent struct {
	EventID string          `json:"event_id"`
	Type    string          `json:"type"`
	Audio   string          `json:"audio,omitempty"`
	Session json.RawMessage `json:"session,omitempty"`
	Item    *functionOutput `json:"item,omitempty"`
}

type functionOutput struct {
	Object string `json:"object"`
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

func newEvent(eventType string) clientEvent {
	return clientEvent{EventID: "event_" + uuid.NewString(), Type: eventType}
}

type serverEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}
