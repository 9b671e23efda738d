package convai

import (
	"go.uber.org/zap"

	"github.com/saker-ai/convai/pkg/demux"
	"github.com/saker-ai/convai/pkg/transport"
)

// engineSink receives backend traffic on transport goroutines.
type engineSink struct {
	e *Engine
}

// enter admits one callback unless the engine is being destroyed.
func (e *Engine) enter() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return false
	}
	e.inflight.Add(1)
	return true
}

func (e *Engine) leave() { e.inflight.Done() }

func (s engineSink) OnEvent(ev transport.Event) {
	e := s.e
	if !e.enter() {
		return
	}
	defer e.leave()

	switch ev.Code {
	case transport.EventKeyFrameRequest:
		e.keyFrame.Store(true)
	case transport.EventTargetBitrate:
		e.targetKbps.Store(int32(ev.TargetKbps))
	case transport.EventConversationStatus:
		if e.callbacks.OnConversationStatus != nil {
			e.callbacks.OnConversationStatus(e, demux.ConversationStatus{
				UserID: ev.UserID,
				Code:   demux.StatusCode(ev.Status),
			})
		}
	case transport.EventError:
		if from, moved := e.fail(ev.Err); moved {
			e.logger.Error("transport failed", zap.String("from", string(from)), zap.Error(ev.Err))
		} else {
			e.logger.Warn("transport error", zap.String("state", string(from)), zap.Error(ev.Err))
		}
	default:
		e.logger.Info("transport event", zap.Stringer("code", ev.Code), zap.String("user_id", ev.UserID))
	}
	if e.callbacks.OnEvent != nil {
		e.callbacks.OnEvent(e, ev)
	}
}

func (s engineSink) OnFrame(f transport.Frame) {
	e := s.e
	if !e.enter() {
		return
	}
	defer e.leave()

	switch f.Kind {
	case transport.KindAudio:
		e.recv.record(len(f.Payload))
		if e.callbacks.OnAudio != nil {
			e.callbacks.OnAudio(e, f.Payload, f.Audio)
		}
	case transport.KindVideo:
		if e.callbacks.OnVideo != nil {
			e.callbacks.OnVideo(e, f.Payload, f.Video)
		}
	case transport.KindMessage:
		if f.Message.Binary {
			_ = e.demux.Dispatch(f.Payload)
		}
		if e.callbacks.OnMessage != nil {
			e.callbacks.OnMessage(e, f.Payload, f.Message)
		}
	default:
		e.logger.Debug("dropping frame of unknown kind", zap.Int("kind", int(f.Kind)))
	}
}
