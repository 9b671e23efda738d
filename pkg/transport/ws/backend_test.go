package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/saker-ai/convai/pkg/provision"
	"github.com/saker-ai/convai/pkg/transport"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []transport.Event
	frames []transport.Frame
	notify chan struct{}
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{notify: make(chan struct{}, 64)}
}

func (s *sinkRecorder) OnEvent(ev transport.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.poke()
}

func (s *sinkRecorder) poke() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *sinkRecorder) OnFrame(f transport.Frame) {
	f.Payload = append([]byte(nil), f.Payload...)
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	s.poke()
}

func (s *sinkRecorder) waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		ok := cond()
		s.mu.Unlock()
		if ok {
			return
		}
		select {
		case <-s.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for sink condition")
		}
	}
}

type fakeServer struct {
	srv      *httptest.Server
	query    chan url.Values
	received chan map[string]any
	conns    chan *websocket.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		query:    make(chan url.Values, 1),
		received: make(chan map[string]any, 32),
		conns:    make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.query <- r.URL.Query()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		fs.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev map[string]any
			if json.Unmarshal(data, &ev) == nil {
				fs.received <- ev
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case ev := <-fs.received:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for client event")
		return nil
	}
}

func testParams() transport.StartParams {
	return transport.StartParams{
		BotID: "bot1",
		Credentials: transport.Credentials{
			InstanceID:   "inst",
			ProductKey:   "pk",
			DeviceName:   "dev",
			DeviceSecret: []byte("dsecret"),
		},
	}
}

func startBackend(t *testing.T, fs *fakeServer, sink *sinkRecorder, params transport.StartParams) (*Backend, *websocket.Conn) {
	t.Helper()
	raw, _ := json.Marshal(Config{URL: fs.wsURL(), AudioCodec: transport.AudioCodecPCM})
	b, err := New(raw, sink, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	b.now = func() time.Time { return time.UnixMilli(1700000000000) }
	b.random = func() int32 { return 5 }
	if err := b.Start(context.Background(), params); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(b.Destroy)
	select {
	case conn := <-fs.conns:
		return b, conn
	case <-time.After(2 * time.Second):
		t.Fatalf("server never accepted")
		return nil, nil
	}
}

func TestConfigRequiresURL(t *testing.T) {
	if _, err := New(json.RawMessage(`{}`), nil, nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("err=%v, want ErrConfig", err)
	}
	if _, err := New(json.RawMessage(`{"url":"http://x"}`), nil, nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("err=%v, want ErrConfig", err)
	}
}

func TestStartSignsHandshake(t *testing.T) {
	fs := newFakeServer(t)
	sink := newSinkRecorder()
	startBackend(t, fs, sink, testParams())

	q := <-fs.query
	nonce := provision.Nonce{Random: 5, Timestamp: 1700000000000}
	want := provision.SignWithInstance("dsecret", "pk", "dev", "inst", provision.AuthTypeSession, nonce)
	if q.Get("signature") != want {
		t.Fatalf("signature=%q, want %q", q.Get("signature"), want)
	}
	if q.Get("bot_id") != "bot1" || q.Get("auth_type") != "0" || q.Get("instance_id") != "inst" {
		t.Fatalf("query=%v", q)
	}
	sink.waitFor(t, func() bool {
		return len(sink.events) > 0 && sink.events[0].Code == transport.EventConnected
	})
}

func TestStartSendsSessionUpdate(t *testing.T) {
	fs := newFakeServer(t)
	params := testParams()
	params.Params = json.RawMessage(`{"input_audio_format":"g711_alaw"}`)
	startBackend(t, fs, newSinkRecorder(), params)

	ev := fs.next(t)
	if ev["type"] != EventSessionUpdate {
		t.Fatalf("type=%v, want %s", ev["type"], EventSessionUpdate)
	}
	session, _ := ev["session"].(map[string]any)
	if session["input_audio_format"] != "g711_alaw" {
		t.Fatalf("session=%v", ev["session"])
	}
	if id, _ := ev["event_id"].(string); !strings.HasPrefix(id, "event_") {
		t.Fatalf("event_id=%v", ev["event_id"])
	}
}

func TestSendAudioAndCommit(t *testing.T) {
	fs := newFakeServer(t)
	b, _ := startBackend(t, fs, newSinkRecorder(), testParams())

	pcm := make([]byte, 320)
	pcm[0] = 7
	if err := b.Send(context.Background(), transport.Frame{Kind: transport.KindAudio, Payload: pcm, Audio: transport.AudioInfo{Commit: true}}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	ev := fs.next(t)
	if ev["type"] != EventAudioAppend {
		t.Fatalf("type=%v", ev["type"])
	}
	decoded, err := base64.StdEncoding.DecodeString(ev["audio"].(string))
	if err != nil || len(decoded) != 320 || decoded[0] != 7 {
		t.Fatalf("audio decode len=%d err=%v", len(decoded), err)
	}
	if ev := fs.next(t); ev["type"] != EventAudioCommit {
		t.Fatalf("type=%v, want commit", ev["type"])
	}
}

func TestSendVideoUnsupported(t *testing.T) {
	fs := newFakeServer(t)
	b, _ := startBackend(t, fs, newSinkRecorder(), testParams())
	err := b.Send(context.Background(), transport.Frame{Kind: transport.KindVideo, Payload: []byte{1}})
	if !errors.Is(err, transport.ErrUnsupportedKind) {
		t.Fatalf("err=%v, want ErrUnsupportedKind", err)
	}
}

func TestInterruptAndToolResult(t *testing.T) {
	fs := newFakeServer(t)
	b, _ := startBackend(t, fs, newSinkRecorder(), testParams())
	ctx := context.Background()

	if err := b.Interrupt(ctx); err != nil {
		t.Fatalf("Interrupt returned error: %v", err)
	}
	if ev := fs.next(t); ev["type"] != EventResponseCancel {
		t.Fatalf("type=%v, want cancel", ev["type"])
	}
	if ev := fs.next(t); ev["type"] != EventOutputAudioClear {
		t.Fatalf("type=%v, want output clear", ev["type"])
	}

	if err := b.SendToolResult(ctx, "call-1", "25C"); err != nil {
		t.Fatalf("SendToolResult returned error: %v", err)
	}
	ev := fs.next(t)
	item, _ := ev["item"].(map[string]any)
	if ev["type"] != EventItemCreate || item["call_id"] != "call-1" || item["type"] != "function_call_output" || item["output"] != "25C" {
		t.Fatalf("event=%v", ev)
	}

	if err := b.ClearInputAudio(ctx); err != nil {
		t.Fatalf("ClearInputAudio returned error: %v", err)
	}
	if ev := fs.next(t); ev["type"] != EventAudioClear {
		t.Fatalf("type=%v, want input clear", ev["type"])
	}
}

func TestInboundEvents(t *testing.T) {
	fs := newFakeServer(t)
	sink := newSinkRecorder()
	_, conn := startBackend(t, fs, sink, testParams())

	delta := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.audio.delta","delta":"`+delta+`"}`))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.audio.done"}`))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"conversation.item.created","item":{}}`))
	_ = conn.WriteMessage(websocket.BinaryMessage, []byte{9, 9})

	sink.waitFor(t, func() bool { return len(sink.frames) >= 4 })
	sink.mu.Lock()
	defer sink.mu.Unlock()
	f := sink.frames
	if f[0].Kind != transport.KindAudio || string(f[0].Payload) != string([]byte{1, 2, 3, 4}) || f[0].Audio.Commit {
		t.Fatalf("frame0=%+v", f[0])
	}
	if f[1].Kind != transport.KindAudio || !f[1].Audio.Commit || len(f[1].Payload) != 0 {
		t.Fatalf("frame1=%+v", f[1])
	}
	if f[2].Kind != transport.KindMessage || !strings.Contains(string(f[2].Payload), "conversation.item.created") {
		t.Fatalf("frame2=%+v", f[2])
	}
	if f[3].Kind != transport.KindAudio || len(f[3].Payload) != 2 {
		t.Fatalf("frame3=%+v", f[3])
	}
}

func TestStopEmitsDisconnectedWithoutError(t *testing.T) {
	fs := newFakeServer(t)
	sink := newSinkRecorder()
	b, _ := startBackend(t, fs, sink, testParams())

	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	var sawDisconnect bool
	for _, ev := range sink.events {
		if ev.Code == transport.EventError {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
		if ev.Code == transport.EventDisconnected {
			sawDisconnect = true
		}
	}
	if !sawDisconnect {
		t.Fatalf("events=%+v, want disconnected", sink.events)
	}
}

func TestServerDropReportsError(t *testing.T) {
	fs := newFakeServer(t)
	sink := newSinkRecorder()
	_, conn := startBackend(t, fs, sink, testParams())

	_ = conn.Close()
	sink.waitFor(t, func() bool {
		for _, ev := range sink.events {
			if ev.Code == transport.EventError {
				return true
			}
		}
		return false
	})
}

func TestSendBeforeStart(t *testing.T) {
	b, err := New(json.RawMessage(`{"url":"ws://127.0.0.1:1"}`), nil, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	err = b.Send(context.Background(), transport.Frame{Kind: transport.KindAudio, Payload: []byte{1}})
	if !errors.Is(err, transport.ErrNotStarted) {
		t.Fatalf("err=%v, want ErrNotStarted", err)
	}
	b.Destroy()
	err = b.Send(context.Background(), transport.Frame{Kind: transport.KindAudio, Payload: []byte{1}})
	if !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("err=%v, want ErrClosed", err)
	}
}
