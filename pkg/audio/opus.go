package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/godeps/opus"
)

const (
	opusMaxPacketBytes     = 4000
	opusMaxFrameDurationMs = 120
)

// OpusEncoder turns fixed-duration PCM16 frames into opus packets for the
// uplink. It is safe for concurrent use.
type OpusEncoder struct {
	mu         sync.Mutex
	encoder    *opus.Encoder
	sampleRate int
	channels   int
	frameSize  int
	packet     []byte
	scratch    []int16
}

// NewOpusEncoder creates a VoIP-tuned encoder for frames of frameDurationMs.
func NewOpusEncoder(sampleRate, channels, frameDurationMs int) (*OpusEncoder, error) {
	if sampleRate <= 0 || channels <= 0 || frameDurationMs <= 0 {
		return nil, fmt.Errorf("opus encoder: invalid params rate=%d channels=%d frame=%dms", sampleRate, channels, frameDurationMs)
	}
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &OpusEncoder{
		encoder:    enc,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  sampleRate * frameDurationMs / 1000,
		packet:     make([]byte, opusMaxPacketBytes),
	}, nil
}

// FrameBytes returns the PCM16 byte length of one input frame.
func (e *OpusEncoder) FrameBytes() int {
	return e.frameSize * e.channels * 2
}

// Encode encodes one PCM16 frame. Short frames are zero-padded and long
// frames truncated to the configured frame size.
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.encoder == nil {
		return nil, errors.New("opus encoder is closed")
	}

	want := e.frameSize * e.channels
	e.scratch = PCM16ToSamples(e.scratch, pcm)
	if len(e.scratch) != want {
		got := len(e.scratch)
		e.scratch = grow(e.scratch, want)
		for i := got; i < want; i++ {
			e.scratch[i] = 0
		}
	}

	n, err := e.encoder.Encode(e.scratch, e.packet)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, e.packet[:n])
	return out, nil
}

// Close releases the encoder.
func (e *OpusEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.encoder = nil
	e.packet = nil
	return nil
}

// OpusDecoder turns downlink opus packets into PCM16 bytes.
type OpusDecoder struct {
	mu         sync.Mutex
	decoder    *opus.Decoder
	sampleRate int
	channels   int
}

// NewOpusDecoder creates a decoder for the given output format.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &OpusDecoder{decoder: dec, sampleRate: sampleRate, channels: channels}, nil
}

// Decode decodes one packet into newly allocated PCM16 bytes.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	samples := AcquireInt16(d.sampleRate * opusMaxFrameDurationMs / 1000 * d.channels)
	defer ReleaseInt16(samples)
	n, err := d.decoder.Decode(packet, samples)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	if n <= 0 {
		return nil, nil
	}
	return SamplesToPCM16(nil, samples[:n*d.channels]), nil
}
