package demux

import (
	"encoding/json"
	"fmt"
)

// Subtitle is one element of a subv data array.
type Subtitle struct {
	UserID    string `json:"userId"`
	Text      string `json:"text"`
	Language  string `json:"language"`
	Sequence  int    `json:"sequence"`
	Paragraph bool   `json:"paragraph"`
	Definite  bool   `json:"definite"`
	Mode      int    `json:"mode"`
}

type subtitleEnvelope struct {
	Type string     `json:"type"`
	Data []Subtitle `json:"data"`
}

// ToolCall is a single function invocation requested by the agent.
type ToolCall struct {
	SubscriberUserID string
	ID               string
	Type             string
	Name             string
	Arguments        string
}

type toolEnvelope struct {
	SubscriberUserID string `json:"subscriber_user_id"`
	ToolCalls        []struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

// StatusCode is the stage of one conversation round.
type StatusCode int

const (
	StatusUnknown     StatusCode = 0
	StatusListening   StatusCode = 1
	StatusThinking    StatusCode = 2
	StatusSpeaking    StatusCode = 3
	StatusInterrupted StatusCode = 4
	StatusFinished    StatusCode = 5
)

func (c StatusCode) String() string {
	switch c {
	case StatusListening:
		return "listening"
	case StatusThinking:
		return "thinking"
	case StatusSpeaking:
		return "speaking"
	case StatusInterrupted:
		return "interrupted"
	case StatusFinished:
		return "finished"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ConversationStatus is a decoded conv message.
type ConversationStatus struct {
	TaskID      string
	UserID      string
	RoundID     int64
	EventTime   int64
	Code        StatusCode
	Description string
}

type conversationEnvelope struct {
	TaskID    string `json:"TaskId"`
	UserID    string `json:"UserID"`
	RoundID   int64  `json:"RoundID"`
	EventTime int64  `json:"EventTime"`
	Stage     struct {
		Code        int    `json:"Code"`
		Description string `json:"Description"`
	} `json:"Stage"`
}

// Unknown is a well-formed JSON message with no dedicated decoder. Body
// is only valid for the duration of the handler call.
type Unknown struct {
	Magic string
	Body  json.RawMessage
}

// Handler receives decoded control messages. Nil members are skipped.
type Handler struct {
	OnSubtitle           func(Subtitle)
	OnToolCall           func(ToolCall)
	OnConversationStatus func(ConversationStatus)
	OnUnknown            func(Unknown)
}

func argumentsString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
