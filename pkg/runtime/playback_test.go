package runtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	appconfig "github.com/saker-ai/convai/internal/config"
	"github.com/saker-ai/convai/pkg/convai"
)

func pcmConfig() appconfig.AudioConfig {
	return appconfig.AudioConfig{
		SampleRate:    16000,
		Channels:      1,
		FrameMs:       10,
		UplinkCodec:   "pcm",
		DownlinkCodec: "pcm",
		DownlinkRate:  16000,
		PlaybackRate:  16000,
		RingBufferMs:  20,
	}
}

func TestPlayerDrainsFrames(t *testing.T) {
	var out bytes.Buffer
	p, err := NewPlayer(pcmConfig(), &out, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPlayer error: %v", err)
	}
	defer p.Close()

	frame := make([]byte, 320)
	for i := range frame {
		frame[i] = byte(i)
	}
	p.Push(frame)
	p.Push(frame[:100])
	if p.Buffered() != 420 {
		t.Fatalf("buffered=%d, want 420", p.Buffered())
	}

	scratch := make([]byte, 320)
	p.drainOnce(scratch)
	p.drainOnce(scratch)
	if !bytes.Equal(out.Bytes(), frame) {
		t.Fatalf("played %d bytes, want first frame", out.Len())
	}
	if p.Played() != 320 || p.Buffered() != 100 {
		t.Fatalf("played=%d buffered=%d", p.Played(), p.Buffered())
	}
}

func TestPlayerDropsWhenFull(t *testing.T) {
	p, err := NewPlayer(pcmConfig(), io.Discard, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPlayer error: %v", err)
	}
	defer p.Close()
	p.Push(make([]byte, 640))
	p.Push(make([]byte, 2))
	if p.Dropped() != 2 || p.Buffered() != 640 {
		t.Fatalf("dropped=%d buffered=%d", p.Dropped(), p.Buffered())
	}
}

func TestPlayerFlush(t *testing.T) {
	var out bytes.Buffer
	p, err := NewPlayer(pcmConfig(), &out, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPlayer error: %v", err)
	}
	defer p.Close()
	p.Push(make([]byte, 500))
	p.Flush()
	p.drainOnce(make([]byte, 320))
	if p.Buffered() != 0 || out.Len() != 0 {
		t.Fatalf("buffered=%d out=%d after flush", p.Buffered(), out.Len())
	}
}

type recordingUplink struct {
	mu      sync.Mutex
	frames  [][]byte
	commits int
	failAt  int
}

func (r *recordingUplink) send(_ context.Context, payload []byte, info convai.AudioInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info.Commit {
		r.commits++
		return nil
	}
	if r.failAt > 0 && len(r.frames)+1 == r.failAt {
		return convai.ErrInvalidState
	}
	r.frames = append(r.frames, append([]byte(nil), payload...))
	return nil
}

func TestFeederSendsFramesAndCommits(t *testing.T) {
	cfg := pcmConfig()
	src := bytes.NewReader(make([]byte, 2*cfg.FrameBytes()+50))
	up := &recordingUplink{}
	f, err := NewFeeder(cfg, src, up.send, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewFeeder error: %v", err)
	}
	sent, err := f.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if sent != 3 || len(up.frames) != 3 || up.commits != 1 {
		t.Fatalf("sent=%d frames=%d commits=%d", sent, len(up.frames), up.commits)
	}
	if len(up.frames[2]) != 50 {
		t.Fatalf("tail frame=%d bytes, want 50", len(up.frames[2]))
	}
}

func TestFeederStopsOnInvalidState(t *testing.T) {
	cfg := pcmConfig()
	up := &recordingUplink{failAt: 2}
	f, err := NewFeeder(cfg, bytes.NewReader(make([]byte, 10*cfg.FrameBytes())), up.send, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewFeeder error: %v", err)
	}
	sent, err := f.Run(context.Background())
	if err != nil || sent != 1 || up.commits != 0 {
		t.Fatalf("sent=%d commits=%d err=%v", sent, up.commits, err)
	}
}

func TestFeederCancel(t *testing.T) {
	cfg := pcmConfig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, err := NewFeeder(cfg, bytes.NewReader(make([]byte, cfg.FrameBytes())), (&recordingUplink{}).send, nil)
	if err != nil {
		t.Fatalf("NewFeeder error: %v", err)
	}
	if _, err := f.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}
