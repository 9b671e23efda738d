package audio

import (
	"errors"
	"sync"

	resampler "github.com/godeps/go-audio-soxr"
)

type soxrKey struct {
	inRate  int
	outRate int
}

// Resamplers are pooled per rate pair; a session restart reuses the
// engine built for the previous session.
var soxrPools sync.Map

func soxrPool(key soxrKey) *sync.Pool {
	if pool, ok := soxrPools.Load(key); ok {
		return pool.(*sync.Pool)
	}
	actual, _ := soxrPools.LoadOrStore(key, &sync.Pool{})
	return actual.(*sync.Pool)
}

type soxrStream struct {
	key soxrKey
	r   *resampler.SimpleResamplerFloat32
}

func openSoxrStream(inRate, outRate int) (*soxrStream, error) {
	key := soxrKey{inRate: inRate, outRate: outRate}
	if v := soxrPool(key).Get(); v != nil {
		if r, ok := v.(*resampler.SimpleResamplerFloat32); ok && r != nil {
			return &soxrStream{key: key, r: r}, nil
		}
	}
	r, err := resampler.NewEngineFloat32(float64(inRate), float64(outRate), resampler.QualityHigh)
	if err != nil {
		return nil, err
	}
	return &soxrStream{key: key, r: r}, nil
}

func (s *soxrStream) process(input []float32) ([]float32, error) {
	if s == nil || s.r == nil {
		return nil, errors.New("soxr resampler is closed")
	}
	return s.r.Process(input)
}

func (s *soxrStream) flush() ([]float32, error) {
	if s == nil || s.r == nil {
		return nil, errors.New("soxr resampler is closed")
	}
	return s.r.Flush()
}

func (s *soxrStream) close() {
	if s == nil || s.r == nil {
		return
	}
	s.r.Reset()
	soxrPool(s.key).Put(s.r)
	s.r = nil
}
