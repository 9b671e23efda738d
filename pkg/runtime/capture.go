package runtime

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/convai/internal/config"
	applogger "github.com/saker-ai/convai/internal/logger"
	"github.com/saker-ai/convai/pkg/audio"
	"github.com/saker-ai/convai/pkg/convai"
)

// SendAudioFunc is the uplink, normally Engine.SendAudio.
type SendAudioFunc func(ctx context.Context, payload []byte, info convai.AudioInfo) error

// Feeder paces PCM16 frames from a reader onto the uplink, optionally
// opus encoding them, and commits at end of input.
type Feeder struct {
	logger     *zap.Logger
	src        io.Reader
	send       SendAudioFunc
	encoder    *audio.OpusEncoder
	frameBytes int
	frameDur   time.Duration
}

// NewFeeder builds a feeder for the capture format in cfg.
func NewFeeder(cfg appconfig.AudioConfig, src io.Reader, send SendAudioFunc, logger *zap.Logger) (*Feeder, error) {
	logger = applogger.OrNop(logger)
	f := &Feeder{
		logger:     logger,
		src:        src,
		send:       send,
		frameBytes: cfg.FrameBytes(),
		frameDur:   time.Duration(cfg.FrameMs) * time.Millisecond,
	}
	if strings.EqualFold(cfg.UplinkCodec, "opus") {
		enc, err := audio.NewOpusEncoder(cfg.SampleRate, cfg.Channels, cfg.FrameMs)
		if err != nil {
			return nil, err
		}
		f.encoder = enc
	}
	return f, nil
}

// Run sends one frame per interval until the reader is exhausted, the
// session leaves Started, or ctx is done. It returns the frames sent.
func (f *Feeder) Run(ctx context.Context) (int, error) {
	if f.encoder != nil {
		defer f.encoder.Close()
	}
	ticker := time.NewTicker(f.frameDur)
	defer ticker.Stop()
	frame := make([]byte, f.frameBytes)
	sent := 0
	for {
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-ticker.C:
		}

		n, readErr := io.ReadFull(f.src, frame)
		if n > 0 {
			if err := f.sendFrame(ctx, frame[:n]); err != nil {
				if errors.Is(err, convai.ErrInvalidState) {
					return sent, nil
				}
				f.logger.Warn("capture frame dropped", zap.Error(err))
			} else {
				sent++
			}
		}
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			if err := f.send(ctx, nil, convai.AudioInfo{Codec: f.codec(), Commit: true}); err != nil && !errors.Is(err, convai.ErrInvalidState) {
				f.logger.Warn("capture commit failed", zap.Error(err))
			}
			f.logger.Info("capture finished", zap.Int("frames", sent))
			return sent, nil
		}
		return sent, readErr
	}
}

func (f *Feeder) sendFrame(ctx context.Context, pcm []byte) error {
	payload := pcm
	if f.encoder != nil {
		packet, err := f.encoder.Encode(pcm)
		if err != nil {
			return err
		}
		if len(packet) == 0 {
			return nil
		}
		payload = packet
	}
	return f.send(ctx, payload, convai.AudioInfo{Codec: f.codec()})
}

func (f *Feeder) codec() convai.AudioCodec {
	if f.encoder != nil {
		return convai.AudioCodecOpus
	}
	return convai.AudioCodecPCM
}
