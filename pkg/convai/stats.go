package convai

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const statsWindow = 2 * time.Second

// mediaStats logs per-direction throughput once per window.
type mediaStats struct {
	tag    string
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	start time.Time
	bytes int64
	total int64
}

func newMediaStats(tag string, logger *zap.Logger) *mediaStats {
	return &mediaStats{tag: tag, logger: logger, now: time.Now}
}

func (s *mediaStats) record(n int) {
	now := s.now()
	s.mu.Lock()
	if s.start.IsZero() {
		s.start = now
	}
	s.bytes += int64(n)
	s.total += int64(n)
	elapsed := now.Sub(s.start)
	if elapsed < statsWindow {
		s.mu.Unlock()
		return
	}
	bps := s.bytes * 8 * int64(time.Second) / int64(elapsed)
	s.bytes = 0
	s.start = now
	s.mu.Unlock()
	s.logger.Debug("media throughput", zap.String("direction", s.tag), zap.Int64("bps", bps))
}

// Total returns all bytes recorded.
func (s *mediaStats) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
