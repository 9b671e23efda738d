package demux

import "encoding/json"

type controlCommand struct {
	Command string `json:"Command"`
}

type functionResult struct {
	ToolCallID string `json:"ToolCallID"`
	Content    string `json:"Content"`
}

// InterruptMessage is the ctrl-tagged frame that cancels the current reply.
func InterruptMessage() []byte {
	body, _ := json.Marshal(controlCommand{Command: "interrupt"})
	out, _ := Pack(MagicControl, body)
	return out
}

// ToolResultMessage is the func-tagged frame answering a ToolCall.
func ToolResultMessage(callID, content string) ([]byte, error) {
	body, err := json.Marshal(functionResult{ToolCallID: callID, Content: content})
	if err != nil {
		return nil, err
	}
	return Pack(MagicFunction, body)
}
