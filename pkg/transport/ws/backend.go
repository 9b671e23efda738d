// Package ws implements the websocket transport, speaking a realtime JSON
// event protocol with base64 audio.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/convai/pkg/audio"
	"github.com/saker-ai/convai/pkg/provision"
	"github.com/saker-ai/convai/pkg/transport"
)

type inboundHandler func(data []byte, ev serverEvent)

// Backend is a websocket transport session.
type Backend struct {
	cfg    Config
	sink   transport.Sink
	logger *zap.Logger
	dialer *websocket.Dialer
	now    func() time.Time
	random func() int32

	mu       sync.Mutex
	conn     *websocket.Conn
	closed   bool
	stopping bool
	done     chan struct{}

	writeMu sync.Mutex

	handlers map[string]inboundHandler
}

var _ transport.Backend = (*Backend)(nil)

// New creates a websocket backend from the "ws" config block.
func New(raw json.RawMessage, sink transport.Sink, logger *zap.Logger) (*Backend, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{
		cfg:    cfg,
		sink:   sink,
		logger: logger.Named("ws"),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.handshakeTimeout()},
		now:    time.Now,
		random: func() int32 { return rand.Int32() },
	}
	b.handlers = map[string]inboundHandler{
		EventResponseAudioDelta: b.onAudioDelta,
		EventResponseAudioDone:  b.onAudioDone,
	}
	return b, nil
}

// Factory adapts New to transport.Factory.
func Factory(raw json.RawMessage, sink transport.Sink, logger *zap.Logger) (transport.Backend, error) {
	return New(raw, sink, logger)
}

// Start dials the configured URL with a signed query and, when params are
// given, sends them as the session.update body.
func (b *Backend) Start(ctx context.Context, params transport.StartParams) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return transport.ErrClosed
	}
	if b.conn != nil {
		b.mu.Unlock()
		return errors.New("ws: already started")
	}
	b.mu.Unlock()

	target, err := b.signedURL(params)
	if err != nil {
		return err
	}
	b.logger.Info("ws connecting",
		zap.String("host", target.Host),
		zap.String("bot_id", params.BotID),
		zap.String("device_name", params.Credentials.DeviceName),
	)
	conn, _, err := b.dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	conn.SetPingHandler(func(appData string) error {
		b.writeMu.Lock()
		defer b.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(b.cfg.writeTimeout()))
	})

	done := make(chan struct{})
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return transport.ErrClosed
	}
	b.conn = conn
	b.stopping = false
	b.done = done
	b.mu.Unlock()

	go b.readLoop(conn, done)
	if interval := b.cfg.pingInterval(); interval > 0 {
		go b.keepalive(conn, done, interval)
	}
	b.logger.Info("ws connected", zap.String("host", target.Host))
	b.emit(transport.Event{Code: transport.EventConnected})

	if len(params.Params) > 0 {
		ev := newEvent(EventSessionUpdate)
		ev.Session = params.Params
		if err := b.writeJSON(ctx, ev); err != nil {
			_ = b.Stop(ctx)
			return fmt.Errorf("ws session.update: %w", err)
		}
	}
	return nil
}

func (b *Backend) signedURL(params transport.StartParams) (*url.URL, error) {
	target, err := url.Parse(b.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	creds := params.Credentials
	nonce := provision.Nonce{Random: b.random(), Timestamp: uint64(b.now().UnixMilli())}
	q := target.Query()
	q.Set("instance_id", creds.InstanceID)
	q.Set("product_key", creds.ProductKey)
	q.Set("device_name", creds.DeviceName)
	q.Set("random_num", strconv.FormatInt(int64(nonce.Random), 10))
	q.Set("timestamp", strconv.FormatUint(nonce.Timestamp, 10))
	q.Set("auth_type", strconv.Itoa(provision.AuthTypeSession))
	q.Set("signature", provision.SignWithInstance(string(creds.DeviceSecret), creds.ProductKey, creds.DeviceName, creds.InstanceID, provision.AuthTypeSession, nonce))
	q.Set("bot_id", params.BotID)
	target.RawQuery = q.Encode()
	return target, nil
}

// Stop closes the connection and waits for the reader to exit. It must not
// be called from a Sink callback.
func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	conn := b.conn
	done := b.done
	b.conn = nil
	b.stopping = conn != nil
	b.mu.Unlock()
	if conn == nil {
		return nil
	}

	b.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stop"),
		time.Now().Add(b.cfg.writeTimeout()))
	b.writeMu.Unlock()
	err := conn.Close()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.logger.Info("ws stopped")
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

// Send writes one frame. Audio becomes an append event, plus a commit event
// when the commit flag is set. Messages are written verbatim.
func (b *Backend) Send(ctx context.Context, frame transport.Frame) error {
	switch frame.Kind {
	case transport.KindAudio:
		if len(frame.Payload) > 0 {
			ev := newEvent(EventAudioAppend)
			ev.Audio = base64.StdEncoding.EncodeToString(frame.Payload)
			if err := b.writeJSON(ctx, ev); err != nil {
				return err
			}
		}
		if frame.Audio.Commit {
			return b.writeJSON(ctx, newEvent(EventAudioCommit))
		}
		return nil
	case transport.KindMessage:
		msgType := websocket.TextMessage
		if frame.Message.Binary {
			msgType = websocket.BinaryMessage
		}
		return b.write(ctx, msgType, frame.Payload)
	default:
		return fmt.Errorf("%w: %s over ws", transport.ErrUnsupportedKind, frame.Kind)
	}
}

// Interrupt cancels the in-flight response and drops queued output audio.
func (b *Backend) Interrupt(ctx context.Context) error {
	if err := b.writeJSON(ctx, newEvent(EventResponseCancel)); err != nil {
		return err
	}
	return b.writeJSON(ctx, newEvent(EventOutputAudioClear))
}

// SendToolResult answers a function call with a function_call_output item.
func (b *Backend) SendToolResult(ctx context.Context, callID, output string) error {
	ev := newEvent(EventItemCreate)
	ev.Item = &functionOutput{
		Object: "realtime.item",
		Type:   "function_call_output",
		CallID: callID,
		Output: output,
	}
	return b.writeJSON(ctx, ev)
}

// ClearInputAudio discards audio appended since the last commit.
func (b *Backend) ClearInputAudio(ctx context.Context) error {
	return b.writeJSON(ctx, newEvent(EventAudioClear))
}

// Destroy stops the session and rejects further use.
func (b *Backend) Destroy() {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.writeTimeout())
	defer cancel()
	_ = b.Stop(ctx)
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *Backend) writeJSON(ctx context.Context, ev clientEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.write(ctx, websocket.TextMessage, data)
}

func (b *Backend) write(ctx context.Context, msgType int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	conn := b.conn
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if conn == nil {
		return transport.ErrNotStarted
	}

	deadline := time.Now().Add(b.cfg.writeTimeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(msgType, data)
}

func (b *Backend) keepalive(conn *websocket.Conn, done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			b.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(b.cfg.writeTimeout()))
			b.writeMu.Unlock()
			if err != nil {
				b.logger.Debug("ws ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (b *Backend) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			deliberate := b.stopping || b.closed
			if b.conn == conn {
				b.conn = nil
			}
			b.mu.Unlock()
			_ = conn.Close()

			b.emit(transport.Event{Code: transport.EventDisconnected})
			if !deliberate {
				b.logger.Warn("ws connection lost", zap.Error(err))
				b.emit(transport.Event{Code: transport.EventError, Err: fmt.Errorf("ws read: %w", err)})
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			b.handleText(data)
		case websocket.BinaryMessage:
			b.frame(transport.Frame{
				Kind:    transport.KindAudio,
				Payload: data,
				Audio:   transport.AudioInfo{Codec: b.cfg.AudioCodec},
			})
		}
	}
}

func (b *Backend) handleText(data []byte) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		b.logger.Warn("ws undecodable text frame", zap.Int("size", len(data)), zap.Error(err))
		return
	}
	if handler, ok := b.handlers[ev.Type]; ok {
		handler(data, ev)
		return
	}
	b.frame(transport.Frame{Kind: transport.KindMessage, Payload: data})
}

func (b *Backend) onAudioDelta(_ []byte, ev serverEvent) {
	if ev.Delta == "" {
		return
	}
	buf := audio.AcquireBytes(base64.StdEncoding.DecodedLen(len(ev.Delta)))
	defer audio.ReleaseBytes(buf)
	n, err := base64.StdEncoding.Decode(buf, []byte(ev.Delta))
	if err != nil {
		b.logger.Warn("ws audio delta is not base64", zap.Error(err))
		return
	}
	b.frame(transport.Frame{
		Kind:    transport.KindAudio,
		Payload: buf[:n],
		Audio:   transport.AudioInfo{Codec: b.cfg.AudioCodec},
	})
}

func (b *Backend) onAudioDone(_ []byte, _ serverEvent) {
	b.frame(transport.Frame{
		Kind:  transport.KindAudio,
		Audio: transport.AudioInfo{Codec: b.cfg.AudioCodec, Commit: true},
	})
}

func (b *Backend) emit(ev transport.Event) {
	if b.sink != nil {
		b.sink.OnEvent(ev)
	}
}

func (b *Backend) frame(f transport.Frame) {
	if b.sink != nil {
		b.sink.OnFrame(f)
	}
}
