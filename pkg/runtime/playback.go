package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/convai/internal/config"
	applogger "github.com/saker-ai/convai/internal/logger"
	"github.com/saker-ai/convai/pkg/audio"
)

// Player decouples downlink audio from the output sink through a ring
// buffer. Push is the single producer and Run the single consumer.
type Player struct {
	logger     *zap.Logger
	ring       *audio.RingBuffer
	resampler  *audio.StreamResampler
	decoder    *audio.OpusDecoder
	out        io.Writer
	frameBytes int
	frameDur   time.Duration

	flush   atomic.Bool
	dropped atomic.Int64
	played  atomic.Int64
}

// NewPlayer builds a player for the downlink format in cfg, writing PCM16
// at cfg.PlaybackRate to out.
func NewPlayer(cfg appconfig.AudioConfig, out io.Writer, logger *zap.Logger) (*Player, error) {
	if out == nil {
		out = io.Discard
	}
	logger = applogger.OrNop(logger)
	ring := audio.NewRingBuffer(cfg.RingBufferBytes())
	if ring == nil {
		return nil, fmt.Errorf("playback: ring buffer size %d", cfg.RingBufferBytes())
	}
	p := &Player{
		logger:     logger,
		ring:       ring,
		out:        out,
		frameBytes: cfg.PlaybackRate * cfg.Channels * 2 * cfg.FrameMs / 1000,
		frameDur:   time.Duration(cfg.FrameMs) * time.Millisecond,
	}
	if strings.EqualFold(cfg.DownlinkCodec, "opus") {
		dec, err := audio.NewOpusDecoder(cfg.DownlinkRate, cfg.Channels)
		if err != nil {
			return nil, err
		}
		p.decoder = dec
	}
	res, err := audio.NewStreamResampler(cfg.DownlinkRate, cfg.PlaybackRate)
	if err != nil {
		return nil, fmt.Errorf("playback: resampler: %w", err)
	}
	p.resampler = res
	return p, nil
}

// Push queues one downlink frame. Frames that do not fit are dropped.
func (p *Player) Push(payload []byte) {
	pcm := payload
	if p.decoder != nil {
		decoded, err := p.decoder.Decode(payload)
		if err != nil {
			p.logger.Debug("drop undecodable audio", zap.Error(err))
			return
		}
		pcm = decoded
	}
	out, err := p.resampler.Process(pcm)
	if err != nil {
		p.logger.Warn("resample failed", zap.Error(err))
		return
	}
	if _, err := p.ring.Write(out); err != nil {
		if errors.Is(err, audio.ErrInsufficientSpace) {
			p.dropped.Add(int64(len(out)))
			p.logger.Debug("playback buffer full", zap.Int("bytes", len(out)), zap.Int("free", p.ring.Free()))
			return
		}
		p.logger.Warn("playback write failed", zap.Error(err))
	}
}

// Flush asks the consumer to drop everything buffered, e.g. after an
// interrupt.
func (p *Player) Flush() { p.flush.Store(true) }

// Buffered reports queued bytes.
func (p *Player) Buffered() int { return p.ring.Len() }

// Dropped reports bytes discarded because the buffer was full.
func (p *Player) Dropped() int64 { return p.dropped.Load() }

// Played reports bytes written to the sink.
func (p *Player) Played() int64 { return p.played.Load() }

// Run drains one frame per frame interval until ctx is done.
func (p *Player) Run(ctx context.Context) {
	ticker := time.NewTicker(p.frameDur)
	defer ticker.Stop()
	frame := make([]byte, p.frameBytes)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainOnce(frame)
		}
	}
}

func (p *Player) drainOnce(frame []byte) {
	if p.flush.Swap(false) {
		p.discard()
		return
	}
	if _, err := p.ring.Read(frame); err != nil {
		return
	}
	if _, err := p.out.Write(frame); err != nil {
		p.logger.Warn("playback sink write failed", zap.Error(err))
		return
	}
	p.played.Add(int64(len(frame)))
}

func (p *Player) discard() {
	n := p.ring.Len()
	if n == 0 {
		return
	}
	buf := audio.AcquireBytes(n)
	_, _ = p.ring.Read(buf)
	audio.ReleaseBytes(buf)
	p.logger.Debug("playback flushed", zap.Int("bytes", n))
}

// Close releases the resampler.
func (p *Player) Close() {
	p.resampler.Close()
}
