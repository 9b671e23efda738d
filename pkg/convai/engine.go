// Package convai is the client-side conversational AI session engine. It
// provisions a device, then runs sessions over a media-room or websocket
// transport, demultiplexing inbound control messages for the caller.
package convai

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saker-ai/convai/internal/session/fsm"
	"github.com/saker-ai/convai/pkg/demux"
	"github.com/saker-ai/convai/pkg/provision"
	"github.com/saker-ai/convai/pkg/transport"
)

// Engine owns one provisioned device and at most one transport backend.
// Lifecycle calls are serialized; send calls may run concurrently with
// each other and with inbound callbacks.
type Engine struct {
	logger      *zap.Logger
	callbacks   Callbacks
	cfg         engineConfig
	identity    provision.Identity
	reg         provision.Registration
	provisioner Provisioner
	factories   map[Mode]transport.Factory
	demux       *demux.Demux
	machine     *fsm.Machine

	// opMu serializes Start, Stop and Destroy.
	opMu sync.Mutex

	mu          sync.Mutex
	backend     transport.Backend
	backendMode Mode
	closing     bool
	inflight    sync.WaitGroup
	// transitioning is set while Start or Stop runs; a backend error seen
	// then cannot move the machine and is latched in pendingErr instead.
	transitioning bool
	pendingErr    error

	keyFrame   atomic.Bool
	targetKbps atomic.Int32
	sent       *mediaStats
	recv       *mediaStats
}

// New parses config, registers the device and returns an engine in
// StateCreated. On any failure no engine is returned and any device secret
// already obtained is zeroed.
func New(ctx context.Context, config []byte, callbacks Callbacks, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.Named("convai")

	cfg, id, err := parseEngineConfig(config)
	if err != nil {
		return nil, err
	}
	provisioner := o.buildProvisioner()
	reg, err := provisioner.Register(ctx, id)
	if err != nil {
		reg.DeviceSecret.Zero()
		logger.Error("device register failed", zap.String("device_name", id.DeviceName), zap.Error(err))
		return nil, err
	}

	e := &Engine{
		logger:      logger,
		callbacks:   callbacks,
		cfg:         cfg,
		identity:    id,
		reg:         reg,
		provisioner: provisioner,
		factories:   o.factories,
		machine:     fsm.New(),
		sent:        newMediaStats("audio send", logger),
		recv:        newMediaStats("audio recv", logger),
	}
	e.demux = demux.New(logger.Named("demux"), demux.Handler{
		OnSubtitle: func(s demux.Subtitle) {
			if e.callbacks.OnSubtitle != nil {
				e.callbacks.OnSubtitle(e, s)
			}
		},
		OnToolCall: func(c demux.ToolCall) {
			if e.callbacks.OnToolCall != nil {
				e.callbacks.OnToolCall(e, c)
			}
		},
		OnConversationStatus: func(s demux.ConversationStatus) {
			if e.callbacks.OnConversationStatus != nil {
				e.callbacks.OnConversationStatus(e, s)
			}
		},
		OnUnknown: func(u demux.Unknown) {
			if e.callbacks.OnUnknownMessage != nil {
				e.callbacks.OnUnknownMessage(e, u)
			}
		},
	})
	if _, err := e.machine.Apply(fsm.OpCreate); err != nil {
		reg.DeviceSecret.Zero()
		return nil, err
	}
	logger.Info("engine created",
		zap.String("version", Version()),
		zap.String("device_name", id.DeviceName),
		zap.String("app_id", reg.AppID),
		zap.Bool("rtc_configured", len(cfg.RTC) > 0),
		zap.Bool("ws_configured", len(cfg.WS) > 0),
	)
	return e, nil
}

// State returns the current lifecycle state. A nil engine reports
// StateNone.
func (e *Engine) State() State {
	if e == nil {
		return StateNone
	}
	return e.machine.State()
}

// Start opens a session in opts.Mode. It is valid from StateCreated and
// StateStopped. A failed backend Start leaves the state unchanged; a
// transport error reported while the backend was starting moves the engine
// to StateError and returns ErrTransport.
func (e *Engine) Start(ctx context.Context, opts StartOptions) error {
	if e == nil {
		return ErrInvalidState
	}
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if err := e.machine.Check(fsm.OpStart); err != nil {
		return err
	}
	if opts.BotID == "" {
		return fmt.Errorf("%w: bot_id is required", ErrConfig)
	}
	backend, err := e.backendFor(opts.Mode)
	if err != nil {
		return err
	}

	params := transport.StartParams{
		BotID:  opts.BotID,
		Params: opts.Params,
		Credentials: transport.Credentials{
			InstanceID:   e.identity.InstanceID,
			ProductKey:   e.identity.ProductKey,
			DeviceName:   e.identity.DeviceName,
			DeviceSecret: e.reg.DeviceSecret,
			AppID:        e.reg.AppID,
		},
		FetchRoom: e.fetchRoom,
	}
	e.beginTransition()
	if err := backend.Start(ctx, params); err != nil {
		e.endTransition()
		e.logger.Warn("backend start failed", zap.Stringer("mode", opts.Mode), zap.Error(err))
		return fmt.Errorf("%w: start %s: %w", ErrTransport, opts.Mode, err)
	}
	if _, err := e.machine.Apply(fsm.OpStart); err != nil {
		e.endTransition()
		return err
	}
	// A failure reported before OpStart landed takes effect now.
	if failed := e.endTransition(); failed != nil {
		_, _ = e.machine.Apply(fsm.OpFail)
		e.logger.Error("transport failed during start", zap.Stringer("mode", opts.Mode), zap.Error(failed))
		return fmt.Errorf("%w: start %s: %w", ErrTransport, opts.Mode, failed)
	}
	e.logger.Info("engine started", zap.Stringer("mode", opts.Mode), zap.String("bot_id", opts.BotID))
	return nil
}

// backendFor returns the backend for mode, creating it on first use. A
// backend of another mode is destroyed first, so at most one exists.
func (e *Engine) backendFor(mode Mode) (transport.Backend, error) {
	e.mu.Lock()
	if e.backend != nil && e.backendMode == mode {
		b := e.backend
		e.mu.Unlock()
		return b, nil
	}
	old := e.backend
	e.backend = nil
	e.mu.Unlock()
	if old != nil {
		e.logger.Info("switching transport mode", zap.Stringer("mode", mode))
		old.Destroy()
	}

	factory := e.factories[mode]
	if factory == nil {
		return nil, fmt.Errorf("%w: no backend registered for %s", ErrModeUnavailable, mode)
	}
	raw, ok := e.cfg.block(mode)
	if !ok {
		return nil, fmt.Errorf("%w: no %s config block", ErrModeUnavailable, mode)
	}
	b, err := factory(raw, engineSink{e}, e.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	e.mu.Lock()
	e.backend = b
	e.backendMode = mode
	e.mu.Unlock()
	return b, nil
}

func (e *Engine) fetchRoom(ctx context.Context, req transport.RoomRequest) (transport.RoomConfig, error) {
	room, err := e.provisioner.GetSessionConfig(ctx, e.identity, e.reg.DeviceSecret, provision.SessionConfigRequest{
		AudioCodec: int(req.AudioCodec),
		BotID:      req.BotID,
		TaskID:     req.TaskID,
	})
	if err != nil {
		return transport.RoomConfig{}, err
	}
	return transport.RoomConfig{
		ChannelName: room.ChannelName,
		UserID:      room.UserID,
		Token:       room.Token,
		TaskID:      room.TaskID,
	}, nil
}

// Stop ends the session. It is valid only from StateStarted; the state
// moves to StateStopped even when the backend Stop call fails. A transport
// error reported while stopping leaves StateError and returns ErrTransport.
func (e *Engine) Stop(ctx context.Context) error {
	if e == nil {
		return ErrInvalidState
	}
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if err := e.machine.Check(fsm.OpStop); err != nil {
		return err
	}
	var stopErr error
	e.beginTransition()
	if b := e.activeBackend(); b != nil {
		stopErr = b.Stop(ctx)
	}
	_, applyErr := e.machine.Apply(fsm.OpStop)
	failed := e.endTransition()
	if applyErr != nil {
		if e.machine.State() == StateError {
			return fmt.Errorf("%w: transport failed during stop", ErrTransport)
		}
		return applyErr
	}
	if failed != nil {
		e.logger.Debug("transport error after stop", zap.Error(failed))
	}
	if stopErr != nil {
		e.logger.Warn("backend stop failed", zap.Error(stopErr))
		return fmt.Errorf("%w: stop: %w", ErrTransport, stopErr)
	}
	e.logger.Info("engine stopped")
	return nil
}

// Destroy releases the backend and the device secret. It waits for
// in-flight callbacks, so it must not be called from one. Destroy is a
// no-op on a nil or already destroyed engine.
func (e *Engine) Destroy() {
	if e == nil {
		return
	}
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if e.machine.State() == StateDestroyed {
		return
	}

	e.mu.Lock()
	e.closing = true
	b := e.backend
	e.backend = nil
	e.mu.Unlock()

	if b != nil {
		b.Destroy()
	}
	e.inflight.Wait()
	_, _ = e.machine.Apply(fsm.OpDestroy)
	e.reg.DeviceSecret.Zero()
	e.logger.Info("engine destroyed",
		zap.Int64("audio_sent_bytes", e.sent.Total()),
		zap.Int64("audio_recv_bytes", e.recv.Total()),
	)
}

func (e *Engine) beginTransition() {
	e.mu.Lock()
	e.transitioning = true
	e.pendingErr = nil
	e.mu.Unlock()
}

// endTransition clears the flag and returns a latched backend error.
func (e *Engine) endTransition() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.pendingErr
	e.transitioning = false
	e.pendingErr = nil
	return err
}

// fail moves to StateError, or latches err while Start or Stop runs. It
// reports whether the machine moved.
func (e *Engine) fail(err error) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	from, applyErr := e.machine.Apply(fsm.OpFail)
	if applyErr == nil {
		return from, true
	}
	if e.transitioning {
		if err == nil {
			err = ErrTransport
		}
		e.pendingErr = err
	}
	return from, false
}

// SendAudio sends one audio frame. Empty payloads are allowed only to
// carry a commit.
func (e *Engine) SendAudio(ctx context.Context, payload []byte, info AudioInfo) error {
	if _, err := e.sendable(); err != nil {
		return err
	}
	if len(payload) == 0 && !info.Commit {
		return fmt.Errorf("%w: empty audio frame", ErrInvalidArgument)
	}
	err := e.send(ctx, transport.Frame{Kind: transport.KindAudio, Payload: payload, Audio: info})
	if err == nil {
		e.sent.record(len(payload))
	}
	return err
}

// SendVideo sends one video frame.
func (e *Engine) SendVideo(ctx context.Context, payload []byte, info VideoInfo) error {
	if _, err := e.sendable(); err != nil {
		return err
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty video frame", ErrInvalidArgument)
	}
	return e.send(ctx, transport.Frame{Kind: transport.KindVideo, Payload: payload, Video: info})
}

// SendMessage sends one message.
func (e *Engine) SendMessage(ctx context.Context, payload []byte, info MessageInfo) error {
	if _, err := e.sendable(); err != nil {
		return err
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty message", ErrInvalidArgument)
	}
	return e.send(ctx, transport.Frame{Kind: transport.KindMessage, Payload: payload, Message: info})
}

// Update sends data as a binary message, typically a tagged agent command.
func (e *Engine) Update(ctx context.Context, data []byte) error {
	return e.SendMessage(ctx, data, MessageInfo{Binary: true})
}

// SendToolResult answers a tool call.
func (e *Engine) SendToolResult(ctx context.Context, callID, output string) error {
	b, err := e.sendable()
	if err != nil {
		return err
	}
	if callID == "" {
		return fmt.Errorf("%w: empty tool call id", ErrInvalidArgument)
	}
	if err := b.SendToolResult(ctx, callID, output); err != nil {
		return fmt.Errorf("%w: tool result: %w", ErrTransport, err)
	}
	return nil
}

// Interrupt asks the agent to abandon the current reply. It is best
// effort and does not change state.
func (e *Engine) Interrupt(ctx context.Context) error {
	if e == nil {
		return ErrInvalidState
	}
	if err := e.machine.Check(fsm.OpInterrupt); err != nil {
		return err
	}
	b := e.activeBackend()
	if b == nil {
		return fmt.Errorf("%w: no active backend", ErrInvalidState)
	}
	if err := b.Interrupt(ctx); err != nil {
		e.logger.Debug("interrupt failed", zap.Error(err))
		return fmt.Errorf("%w: interrupt: %w", ErrTransport, err)
	}
	return nil
}

// TakeKeyFrameRequest reports and clears a pending key frame request.
func (e *Engine) TakeKeyFrameRequest() bool {
	return e.keyFrame.Swap(false)
}

// TargetKbps is the most recent bitrate hint from the transport, or 0.
func (e *Engine) TargetKbps() int {
	return int(e.targetKbps.Load())
}

// Mode reports the mode of the current backend.
func (e *Engine) Mode() (Mode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backendMode, e.backend != nil
}

func (e *Engine) send(ctx context.Context, frame transport.Frame) error {
	b, err := e.sendable()
	if err != nil {
		return err
	}
	if err := b.Send(ctx, frame); err != nil {
		return fmt.Errorf("%w: send %s: %w", ErrTransport, frame.Kind, err)
	}
	return nil
}

func (e *Engine) sendable() (transport.Backend, error) {
	if e == nil {
		return nil, ErrInvalidState
	}
	if err := e.machine.Check(fsm.OpSend); err != nil {
		return nil, err
	}
	b := e.activeBackend()
	if b == nil {
		return nil, fmt.Errorf("%w: no active backend", ErrInvalidState)
	}
	return b, nil
}

func (e *Engine) activeBackend() transport.Backend {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend
}
