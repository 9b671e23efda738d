package audio

import (
	"encoding/binary"
	"math"
)

func clampToInt16(sample float32) int16 {
	switch {
	case sample >= 1.0:
		return math.MaxInt16
	case sample <= -1.0:
		return math.MinInt16
	default:
		return int16(sample * math.MaxInt16)
	}
}

func grow[T any](dst []T, n int) []T {
	if cap(dst) < n {
		return make([]T, n)
	}
	return dst[:n]
}

// PCM16ToSamples decodes little-endian PCM16 bytes into dst. A trailing odd
// byte is dropped.
func PCM16ToSamples(dst []int16, pcm []byte) []int16 {
	n := len(pcm) / 2
	dst = grow(dst, n)
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return dst
}

// SamplesToPCM16 encodes samples as little-endian PCM16 bytes into dst.
func SamplesToPCM16(dst []byte, samples []int16) []byte {
	dst = grow(dst, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
	return dst
}

// SamplesToFloat32 scales int16 samples into [-1, 1].
func SamplesToFloat32(dst []float32, samples []int16) []float32 {
	dst = grow(dst, len(samples))
	for i, s := range samples {
		dst[i] = float32(s) / float32(math.MaxInt16)
	}
	return dst
}

// Float32ToSamples clamps float samples into int16.
func Float32ToSamples(dst []int16, samples []float32) []int16 {
	dst = grow(dst, len(samples))
	for i, s := range samples {
		dst[i] = clampToInt16(s)
	}
	return dst
}
