package audio

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

func TestRingBufferRoundTrip(t *testing.T) {
	r := NewRingBuffer(16)
	if got := r.Cap(); got != 16 {
		t.Fatalf("Cap=%d, want 16", got)
	}
	in := []byte("hello, ring")
	if n, err := r.Write(in); err != nil || n != len(in) {
		t.Fatalf("Write n=%d err=%v, want %d nil", n, err, len(in))
	}
	if got := r.Len(); got != len(in) {
		t.Fatalf("Len=%d, want %d", got, len(in))
	}
	out := make([]byte, len(in))
	if n, err := r.Read(out); err != nil || n != len(in) {
		t.Fatalf("Read n=%d err=%v, want %d nil", n, err, len(in))
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("Read=%q, want %q", out, in)
	}
	if got := r.Len(); got != 0 {
		t.Fatalf("Len after read=%d, want 0", got)
	}
}

func TestRingBufferWraparound(t *testing.T) {
	r := NewRingBuffer(10)
	scratch := make([]byte, 7)
	if _, err := r.Write([]byte("abcdefg")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if _, err := r.Read(scratch); err != nil {
		t.Fatalf("Read error: %v", err)
	}

	// head and tail sit at 7 of 11 slots; the next write crosses the end.
	in := []byte("0123456789")
	if _, err := r.Write(in); err != nil {
		t.Fatalf("Write across end error: %v", err)
	}
	if got := r.Free(); got != 0 {
		t.Fatalf("Free=%d, want 0", got)
	}
	peeked := make([]byte, len(in))
	if _, err := r.Peek(peeked); err != nil {
		t.Fatalf("Peek error: %v", err)
	}
	if !bytes.Equal(peeked, in) {
		t.Fatalf("Peek=%q, want %q", peeked, in)
	}
	out := make([]byte, len(in))
	if _, err := r.Read(out); err != nil {
		t.Fatalf("Read across end error: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("Read=%q, want %q", out, in)
	}
}

func TestRingBufferOverflowLeavesCursors(t *testing.T) {
	r := NewRingBuffer(8)
	if _, err := r.Write([]byte("12345")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	n, err := r.Write([]byte("6789"))
	if !errors.Is(err, ErrInsufficientSpace) || n != 0 {
		t.Fatalf("Write overflow n=%d err=%v, want 0 %v", n, err, ErrInsufficientSpace)
	}
	if got := r.Len(); got != 5 {
		t.Fatalf("Len=%d, want 5", got)
	}
	if _, err := r.Write([]byte("678")); err != nil {
		t.Fatalf("Write fitting error: %v", err)
	}
	out := make([]byte, 8)
	if _, err := r.Read(out); err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if string(out) != "12345678" {
		t.Fatalf("Read=%q, want %q", out, "12345678")
	}
}

func TestRingBufferUnderflowLeavesCursors(t *testing.T) {
	r := NewRingBuffer(8)
	if _, err := r.Write([]byte("abc")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	n, err := r.Read(make([]byte, 4))
	if !errors.Is(err, ErrInsufficientData) || n != 0 {
		t.Fatalf("Read underflow n=%d err=%v, want 0 %v", n, err, ErrInsufficientData)
	}
	if _, err := r.Peek(make([]byte, 4)); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Peek underflow err=%v, want %v", err, ErrInsufficientData)
	}
	if got := r.Len(); got != 3 {
		t.Fatalf("Len=%d, want 3", got)
	}
}

func TestRingBufferPeekDoesNotAdvance(t *testing.T) {
	r := NewRingBuffer(4)
	_, _ = r.Write([]byte("xy"))
	p := make([]byte, 2)
	for i := 0; i < 3; i++ {
		if _, err := r.Peek(p); err != nil {
			t.Fatalf("Peek error: %v", err)
		}
	}
	if got := r.Len(); got != 2 {
		t.Fatalf("Len=%d, want 2", got)
	}
}

func TestRingBufferClear(t *testing.T) {
	r := NewRingBuffer(4)
	_, _ = r.Write([]byte("wxyz"))
	r.Clear()
	if got := r.Len(); got != 0 {
		t.Fatalf("Len=%d, want 0", got)
	}
	if got := r.Free(); got != 4 {
		t.Fatalf("Free=%d, want 4", got)
	}
}

func TestNewRingBufferRejectsNonPositive(t *testing.T) {
	if r := NewRingBuffer(0); r != nil {
		t.Fatal("NewRingBuffer(0) != nil, want nil")
	}
}

func TestRingBufferSingleProducerSingleConsumer(t *testing.T) {
	const total = 64 * 1024
	r := NewRingBuffer(1000)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		chunk := make([]byte, 37)
		written := 0
		for written < total {
			n := len(chunk)
			if total-written < n {
				n = total - written
			}
			for i := 0; i < n; i++ {
				chunk[i] = byte(written + i)
			}
			if _, err := r.Write(chunk[:n]); err != nil {
				continue
			}
			written += n
		}
	}()

	got := make([]byte, 0, total)
	buf := make([]byte, 53)
	for len(got) < total {
		n := len(buf)
		if avail := r.Len(); avail < n {
			n = avail
		}
		if n == 0 {
			continue
		}
		if _, err := r.Read(buf[:n]); err != nil {
			t.Fatalf("Read error: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	wg.Wait()

	for i, b := range got {
		if b != byte(i) {
			t.Fatalf("byte %d=%d, want %d", i, b, byte(i))
		}
	}
}
