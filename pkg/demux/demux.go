// Package demux classifies and decodes the tagged binary control messages
// delivered on the message channel.
package demux

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

type decodeFunc func(Frame) error

// Demux routes control messages to a Handler. It is safe for concurrent
// use as long as the Handler is.
type Demux struct {
	logger   *zap.Logger
	handler  Handler
	decoders map[string]decodeFunc
}

// New creates a Demux.
func New(logger *zap.Logger, handler Handler) *Demux {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Demux{logger: logger, handler: handler}
	d.decoders = map[string]decodeFunc{
		MagicSubtitle:     d.onSubtitle,
		MagicToolCall:     d.onToolCall,
		MagicConversation: d.onConversation,
	}
	return d
}

// Dispatch decodes msg and invokes the handler. Problems are logged at
// warn and returned for inspection; callers are free to ignore them.
func (d *Demux) Dispatch(msg []byte) error {
	frame, err := Split(msg)
	if err != nil {
		d.logger.Warn("demux drop frame", zap.Int("size", len(msg)), zap.Error(err))
		return err
	}
	decode, ok := d.decoders[frame.Magic]
	if !ok {
		decode = d.onUnknown
	}
	if err := decode(frame); err != nil {
		d.logger.Warn("demux decode failed",
			zap.String("magic", printableMagic(frame.Magic)),
			zap.Int("body_size", len(frame.Body)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (d *Demux) onSubtitle(frame Frame) error {
	var env subtitleEnvelope
	if err := json.Unmarshal(frame.Body, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if env.Type != "subtitle" {
		return d.onUnknown(frame)
	}
	if d.handler.OnSubtitle == nil {
		return nil
	}
	for _, s := range env.Data {
		d.handler.OnSubtitle(s)
	}
	return nil
}

func (d *Demux) onToolCall(frame Frame) error {
	var env toolEnvelope
	if err := json.Unmarshal(frame.Body, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if d.handler.OnToolCall == nil {
		return nil
	}
	for _, call := range env.ToolCalls {
		d.handler.OnToolCall(ToolCall{
			SubscriberUserID: env.SubscriberUserID,
			ID:               call.ID,
			Type:             call.Type,
			Name:             call.Function.Name,
			Arguments:        argumentsString(call.Function.Arguments),
		})
	}
	return nil
}

func (d *Demux) onConversation(frame Frame) error {
	var env conversationEnvelope
	if err := json.Unmarshal(frame.Body, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if d.handler.OnConversationStatus != nil {
		d.handler.OnConversationStatus(ConversationStatus{
			TaskID:      env.TaskID,
			UserID:      env.UserID,
			RoundID:     env.RoundID,
			EventTime:   env.EventTime,
			Code:        StatusCode(env.Stage.Code),
			Description: env.Stage.Description,
		})
	}
	return nil
}

func (d *Demux) onUnknown(frame Frame) error {
	if !json.Valid(frame.Body) {
		return fmt.Errorf("%w: unknown magic %q", ErrMalformedJSON, printableMagic(frame.Magic))
	}
	d.logger.Debug("demux unknown message", zap.String("magic", printableMagic(frame.Magic)))
	if d.handler.OnUnknown != nil {
		d.handler.OnUnknown(Unknown{Magic: frame.Magic, Body: frame.Body})
	}
	return nil
}

func printableMagic(m string) string {
	for i := 0; i < len(m); i++ {
		if m[i] < 0x20 || m[i] > 0x7e {
			return fmt.Sprintf("%x", m)
		}
	}
	return m
}
