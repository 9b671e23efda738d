package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/saker-ai/convai/internal/logger"
	"github.com/saker-ai/convai/pkg/demux"
	"github.com/saker-ai/convai/pkg/transport"
)

// ErrNoRoomFetcher is returned when Start is called without a room source.
var ErrNoRoomFetcher = errors.New("rtc: no room config source")

// Backend is a media-room transport session.
type Backend struct {
	cfg    Config
	sink   transport.Sink
	logger *zap.Logger
	open   Opener

	mu     sync.Mutex
	room   Room
	joined bool
	closed bool
	taskID string
}

var _ transport.Backend = (*Backend)(nil)

// New creates a media backend. The Room is opened lazily on first Start.
func New(raw json.RawMessage, sink transport.Sink, log *zap.Logger, open Opener) (*Backend, error) {
	if open == nil {
		return nil, fmt.Errorf("%w: no room implementation", ErrConfig)
	}
	cfg, err := parseConfig(raw)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		cfg:    cfg,
		sink:   sink,
		logger: log.Named("rtc"),
		open:   open,
		taskID: cfg.TaskID,
	}, nil
}

// NewFactory binds a Room implementation into a transport.Factory.
func NewFactory(open Opener) transport.Factory {
	return func(raw json.RawMessage, sink transport.Sink, log *zap.Logger) (transport.Backend, error) {
		return New(raw, sink, log, open)
	}
}

// Start fetches a room assignment and joins it.
func (b *Backend) Start(ctx context.Context, params transport.StartParams) error {
	if params.FetchRoom == nil {
		return ErrNoRoomFetcher
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return transport.ErrClosed
	}
	if b.joined {
		b.mu.Unlock()
		return errors.New("rtc: already joined")
	}
	taskID := b.taskID
	b.mu.Unlock()

	room, err := b.fetch(ctx, params, taskID)
	if err != nil {
		return err
	}
	r, err := b.ensureRoom()
	if err != nil {
		return err
	}
	join := JoinParams{
		AppID:       params.Credentials.AppID,
		ChannelName: room.ChannelName,
		UserID:      room.UserID,
		Token:       room.Token,
		BotID:       params.BotID,
		Params:      params.Params,
	}
	b.logger.Info("rtc joining",
		zap.String("channel", room.ChannelName),
		zap.String("user_id", room.UserID),
		zap.String("task_id", room.TaskID),
		logger.Redacted("token", room.Token),
	)
	if err := r.Join(ctx, join, b.sink); err != nil {
		return fmt.Errorf("rtc join: %w", err)
	}

	b.mu.Lock()
	b.joined = true
	b.taskID = room.TaskID
	b.mu.Unlock()
	return nil
}

func (b *Backend) fetch(ctx context.Context, params transport.StartParams, taskID string) (transport.RoomConfig, error) {
	return params.FetchRoom(ctx, transport.RoomRequest{
		BotID:      params.BotID,
		AudioCodec: b.cfg.AudioCodec,
		TaskID:     taskID,
	})
}

func (b *Backend) ensureRoom() (Room, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.room != nil {
		return b.room, nil
	}
	r, err := b.open(b.cfg)
	if err != nil {
		return nil, fmt.Errorf("rtc open room: %w", err)
	}
	b.room = r
	return r, nil
}

// Stop leaves the room. The Room stays open for a later Start.
func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	r := b.room
	joined := b.joined
	b.joined = false
	b.mu.Unlock()
	if r == nil || !joined {
		return nil
	}
	if err := r.Leave(ctx); err != nil {
		return fmt.Errorf("rtc leave: %w", err)
	}
	b.logger.Info("rtc left")
	return nil
}

// Send forwards a frame to the room.
func (b *Backend) Send(ctx context.Context, frame transport.Frame) error {
	r, err := b.active()
	if err != nil {
		return err
	}
	switch frame.Kind {
	case transport.KindAudio:
		return r.SendAudio(ctx, frame.Payload, frame.Audio)
	case transport.KindVideo:
		return r.SendVideo(ctx, frame.Payload, frame.Video)
	case transport.KindMessage:
		return r.SendMessage(ctx, frame.Payload, frame.Message.Binary)
	default:
		return fmt.Errorf("%w: %s", transport.ErrUnsupportedKind, frame.Kind)
	}
}

// Interrupt sends the ctrl-tagged interrupt command.
func (b *Backend) Interrupt(ctx context.Context) error {
	r, err := b.active()
	if err != nil {
		return err
	}
	return r.SendMessage(ctx, demux.InterruptMessage(), true)
}

// SendToolResult sends a func-tagged tool answer.
func (b *Backend) SendToolResult(ctx context.Context, callID, output string) error {
	r, err := b.active()
	if err != nil {
		return err
	}
	msg, err := demux.ToolResultMessage(callID, output)
	if err != nil {
		return err
	}
	return r.SendMessage(ctx, msg, true)
}

// Destroy leaves and closes the room.
func (b *Backend) Destroy() {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.leaveTimeout())
	defer cancel()
	if err := b.Stop(ctx); err != nil {
		b.logger.Warn("rtc leave on destroy failed", zap.Error(err))
	}
	b.mu.Lock()
	r := b.room
	b.room = nil
	b.closed = true
	b.mu.Unlock()
	if r != nil {
		r.Close()
	}
}

func (b *Backend) active() (Room, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, transport.ErrClosed
	}
	if b.room == nil || !b.joined {
		return nil, transport.ErrNotStarted
	}
	return b.room, nil
}
