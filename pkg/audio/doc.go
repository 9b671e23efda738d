// Package audio holds the media plumbing around a session: the SPSC
// RingBuffer used for playback decoupling, pooled scratch slices, PCM16
// conversions, opus encode/decode and a soxr stream resampler.
package audio
