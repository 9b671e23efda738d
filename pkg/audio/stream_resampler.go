package audio

// StreamResampler converts a continuous PCM16 stream between sample rates,
// keeping filter state across frames. It is meant for one goroutine.
type StreamResampler struct {
	inRate  int
	outRate int
	stream  *soxrStream
	samples []int16
}

// NewStreamResampler creates a resampler from inRate to outRate. When the
// rates match, Process returns its input unchanged.
func NewStreamResampler(inRate, outRate int) (*StreamResampler, error) {
	s := &StreamResampler{inRate: inRate, outRate: outRate}
	if inRate == outRate {
		return s, nil
	}
	stream, err := openSoxrStream(inRate, outRate)
	if err != nil {
		return nil, err
	}
	s.stream = stream
	return s, nil
}

// Process resamples one chunk of PCM16 bytes and returns whatever output
// the filter has produced so far.
func (s *StreamResampler) Process(pcm []byte) ([]byte, error) {
	if s.stream == nil || len(pcm) == 0 {
		return pcm, nil
	}
	s.samples = PCM16ToSamples(s.samples, pcm)
	in := AcquireFloat32(len(s.samples))
	in = SamplesToFloat32(in, s.samples)
	out, err := s.stream.process(in)
	ReleaseFloat32(in)
	if err != nil {
		return nil, err
	}
	return s.encode(out), nil
}

// Flush drains samples still held inside the filter.
func (s *StreamResampler) Flush() ([]byte, error) {
	if s.stream == nil {
		return nil, nil
	}
	out, err := s.stream.flush()
	if err != nil {
		return nil, err
	}
	return s.encode(out), nil
}

// Close returns the underlying engine to the pool.
func (s *StreamResampler) Close() {
	if s == nil {
		return
	}
	s.stream.close()
	s.stream = nil
	s.samples = nil
}

func (s *StreamResampler) encode(out []float32) []byte {
	if len(out) == 0 {
		return nil
	}
	samples := AcquireInt16(len(out))
	samples = Float32ToSamples(samples, out)
	pcm := SamplesToPCM16(nil, samples)
	ReleaseInt16(samples)
	return pcm
}
