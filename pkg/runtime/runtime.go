// Package runtime hosts one conversational session behind a local control
// API: downlink audio goes to a PCM sink, an optional capture file feeds the
// uplink, and final subtitles are written to a transcript.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/convai/internal/config"
	apphttp "github.com/saker-ai/convai/internal/http"
	applogger "github.com/saker-ai/convai/internal/logger"
	"github.com/saker-ai/convai/internal/storage"
	"github.com/saker-ai/convai/pkg/convai"
	"github.com/saker-ai/convai/pkg/demux"
)

// EngineFactory builds the engine. It is convai.New unless a test swaps it.
type EngineFactory func(ctx context.Context, config []byte, cb convai.Callbacks, opts ...convai.Option) (*convai.Engine, error)

type session struct {
	botID      string
	mode       convai.Mode
	transcript *storage.Transcript
}

// Server owns the engine, the player and the HTTP control API.
type Server struct {
	cfg        appconfig.Config
	logger     *zap.Logger
	server     *http.Server
	player     *Player
	sink       io.WriteCloser
	newEngine  EngineFactory
	engineOpts []convai.Option

	// current is read from engine callbacks, which must never take mu.
	current atomic.Pointer[session]

	mu            sync.Mutex
	engine        *convai.Engine
	captureCancel context.CancelFunc
	captureDone   chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithEngineOptions passes options through to every engine.
func WithEngineOptions(opts ...convai.Option) Option {
	return func(s *Server) { s.engineOpts = append(s.engineOpts, opts...) }
}

// WithEngineFactory swaps convai.New.
func WithEngineFactory(f EngineFactory) Option {
	return func(s *Server) { s.newEngine = f }
}

// WithLogger replaces the logger built from the config.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New loads the host config from configPath and wires the server.
func New(configPath string, opts ...Option) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load convai config: %w", err)
	}
	return NewWithConfig(cfg, opts...)
}

// NewWithConfig wires the server from an already loaded config.
func NewWithConfig(cfg appconfig.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg, newEngine: convai.New}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		logger, err := applogger.New(cfg.Log)
		if err != nil {
			logger, _ = zap.NewProduction()
		}
		s.logger = logger
	}
	s.logger.Info("convai logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
	)

	sink, err := openSink(cfg.Audio.PlaybackPath)
	if err != nil {
		return nil, err
	}
	player, err := NewPlayer(cfg.Audio, sink, s.logger.Named("playback"))
	if err != nil {
		_ = sink.Close()
		return nil, err
	}
	s.sink = sink
	s.player = player

	router := apphttp.NewRouter(s, s.logger.Named("http"))
	s.server = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	s.logger.Info("convai config loaded",
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("engine_config", cfg.EngineConfig),
		zap.String("mode", cfg.Session.Mode),
	)
	return s, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func openSink(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopWriteCloser{io.Discard}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open playback sink: %w", err)
	}
	return f, nil
}

// Handler exposes the control API, mainly for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Logger returns the host logger.
func (s *Server) Logger() *zap.Logger { return s.logger }

// Addr reports the listen address.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Run serves the control API and plays audio until ctx is done or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.player.Run(playCtx)

	if s.cfg.Session.AutoStart {
		if err := s.Start(ctx, apphttp.StartRequest{}); err != nil {
			s.logger.Error("auto start failed", zap.Error(err))
		}
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", zap.String("addr", s.cfg.HTTPAddr))
		errCh <- s.server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops the API, destroys the engine and closes the sink.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	s.Destroy()
	s.player.Close()
	if cerr := s.sink.Close(); err == nil {
		err = cerr
	}
	s.logger.Info("convai host stopped",
		zap.Int64("played_bytes", s.player.Played()),
		zap.Int64("dropped_bytes", s.player.Dropped()),
	)
	return err
}

// Status implements apphttp.Controller.
func (s *Server) Status() apphttp.SessionStatus {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()

	status := apphttp.SessionStatus{
		State:         string(engine.State()),
		BufferedBytes: s.player.Buffered(),
	}
	if engine != nil {
		status.TargetKbps = engine.TargetKbps()
	}
	if cur := s.current.Load(); cur != nil {
		status.Mode = cur.mode.String()
		status.BotID = cur.botID
		if cur.transcript != nil {
			status.TranscriptUID = cur.transcript.UID()
		}
	}
	return status
}

// Start implements apphttp.Controller. The engine is created on first use
// and again after a destroy.
func (s *Server) Start(ctx context.Context, req apphttp.StartRequest) error {
	modeName := req.Mode
	if modeName == "" {
		modeName = s.cfg.Session.Mode
	}
	mode, err := convai.ParseMode(modeName)
	if err != nil {
		return err
	}
	botID := req.BotID
	if botID == "" {
		botID = s.cfg.Session.BotID
	}
	params := req.Params
	if len(params) == 0 && s.cfg.Session.Params != "" {
		params = json.RawMessage(s.cfg.Session.Params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil || s.engine.State() == convai.StateDestroyed {
		engine, err := s.createEngine(ctx)
		if err != nil {
			return err
		}
		s.engine = engine
	}
	if err := s.engine.Start(ctx, convai.StartOptions{Mode: mode, BotID: botID, Params: params}); err != nil {
		return err
	}

	cur := &session{botID: botID, mode: mode}
	if tr, err := storage.Create(s.cfg.TranscriptDir, botID); err != nil {
		s.logger.Warn("transcript disabled", zap.Error(err))
	} else {
		cur.transcript = tr
	}
	s.current.Store(cur)
	s.startCaptureLocked()
	return nil
}

func (s *Server) createEngine(ctx context.Context) (*convai.Engine, error) {
	data, err := appconfig.LoadEngineConfig(s.cfg.EngineConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", convai.ErrConfig, err)
	}
	opts := append([]convai.Option{convai.WithLogger(s.logger)}, s.engineOpts...)
	return s.newEngine(ctx, data, s.callbacks(), opts...)
}

func (s *Server) startCaptureLocked() {
	path := s.cfg.Audio.CapturePath
	if path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		s.logger.Warn("capture source unavailable", zap.String("path", path), zap.Error(err))
		return
	}
	engine := s.engine
	feeder, err := NewFeeder(s.cfg.Audio, f, engine.SendAudio, s.logger.Named("capture"))
	if err != nil {
		_ = f.Close()
		s.logger.Warn("capture disabled", zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.captureCancel = cancel
	s.captureDone = done
	go func() {
		defer close(done)
		defer f.Close()
		if _, err := feeder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("capture stopped", zap.Error(err))
		}
	}()
}

func (s *Server) stopCaptureLocked() {
	if s.captureCancel == nil {
		return
	}
	s.captureCancel()
	<-s.captureDone
	s.captureCancel = nil
	s.captureDone = nil
}

// Stop implements apphttp.Controller.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCaptureLocked()
	if s.engine == nil {
		return fmt.Errorf("%w: no engine", convai.ErrInvalidState)
	}
	return s.engine.Stop(ctx)
}

// Interrupt implements apphttp.Controller and drops queued playback.
func (s *Server) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return fmt.Errorf("%w: no engine", convai.ErrInvalidState)
	}
	if err := engine.Interrupt(ctx); err != nil {
		return err
	}
	s.player.Flush()
	return nil
}

// Destroy implements apphttp.Controller.
func (s *Server) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCaptureLocked()
	s.engine.Destroy()
	s.player.Flush()
}

// Message implements apphttp.Controller.
func (s *Server) Message(ctx context.Context, req apphttp.MessageRequest) error {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return fmt.Errorf("%w: no engine", convai.ErrInvalidState)
	}
	switch {
	case req.ToolCallID != "":
		return engine.SendToolResult(ctx, req.ToolCallID, req.Text)
	case req.Binary:
		return engine.Update(ctx, []byte(req.Text))
	default:
		return engine.SendMessage(ctx, []byte(req.Text), convai.MessageInfo{})
	}
}

func (s *Server) callbacks() convai.Callbacks {
	return convai.Callbacks{
		OnEvent: func(_ *convai.Engine, ev convai.Event) {
			s.logger.Debug("session event", zap.Stringer("code", ev.Code), zap.String("user_id", ev.UserID))
		},
		OnAudio: func(_ *convai.Engine, payload []byte, _ convai.AudioInfo) {
			s.player.Push(payload)
		},
		OnSubtitle: func(_ *convai.Engine, sub demux.Subtitle) {
			if !sub.Definite {
				return
			}
			role := storage.RoleUser
			cur := s.current.Load()
			if cur != nil && sub.UserID == cur.botID {
				role = storage.RoleAgent
			}
			s.record(storage.Entry{Role: role, UserID: sub.UserID, Text: sub.Text, Sequence: sub.Sequence, Language: sub.Language})
		},
		OnToolCall: func(_ *convai.Engine, call demux.ToolCall) {
			s.logger.Info("tool call", zap.String("id", call.ID), zap.String("name", call.Name))
			s.record(storage.Entry{Role: storage.RoleTool, UserID: call.SubscriberUserID, Text: call.Name + " " + call.Arguments})
		},
		OnConversationStatus: func(_ *convai.Engine, st demux.ConversationStatus) {
			s.logger.Debug("conversation status", zap.Stringer("code", st.Code), zap.Int64("round", st.RoundID))
			if st.Code == demux.StatusInterrupted {
				s.player.Flush()
			}
		},
		OnUnknownMessage: func(_ *convai.Engine, msg demux.Unknown) {
			s.logger.Debug("unhandled message", zap.String("magic", msg.Magic), zap.Int("bytes", len(msg.Body)))
		},
	}
}

func (s *Server) record(e storage.Entry) {
	cur := s.current.Load()
	if cur == nil || cur.transcript == nil {
		return
	}
	e.Timestamp = time.Now().Format(time.RFC3339Nano)
	if err := cur.transcript.Append(e); err != nil {
		s.logger.Warn("transcript append failed", zap.Error(err))
	}
}
