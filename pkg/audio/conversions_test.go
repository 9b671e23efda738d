package audio

import (
	"bytes"
	"testing"
)

func TestPCM16SamplesRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80}
	samples := PCM16ToSamples(nil, pcm)
	want := []int16{1, 32767, -32768}
	if len(samples) != len(want) {
		t.Fatalf("len=%d, want %d", len(samples), len(want))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("sample[%d]=%d, want %d", i, samples[i], want[i])
		}
	}
	if got := SamplesToPCM16(nil, samples); !bytes.Equal(got, pcm) {
		t.Fatalf("SamplesToPCM16=%v, want %v", got, pcm)
	}
}

func TestPCM16ToSamplesDropsOddByte(t *testing.T) {
	if got := PCM16ToSamples(nil, []byte{0x01, 0x00, 0x05}); len(got) != 1 {
		t.Fatalf("len=%d, want 1", len(got))
	}
}

func TestFloat32ToSamplesClamps(t *testing.T) {
	got := Float32ToSamples(nil, []float32{2, -2, 0})
	want := []int16{32767, -32768, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample[%d]=%d, want %d", i, got[i], want[i])
		}
	}
}

func TestStreamResamplerPassthroughOnEqualRates(t *testing.T) {
	r, err := NewStreamResampler(16000, 16000)
	if err != nil {
		t.Fatalf("NewStreamResampler error: %v", err)
	}
	defer r.Close()
	in := []byte{1, 2, 3, 4}
	out, err := r.Process(in)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("Process=%v, want %v", out, in)
	}
}

func TestAcquireBytesLength(t *testing.T) {
	buf := AcquireBytes(320)
	if len(buf) != 320 {
		t.Fatalf("len=%d, want 320", len(buf))
	}
	ReleaseBytes(buf)
	if got := AcquireBytes(0); got != nil {
		t.Fatalf("AcquireBytes(0)=%v, want nil", got)
	}
}
