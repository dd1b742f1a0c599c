package scheduler

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"outreach/internal/task/engine"
	logx "outreach/pkg/logx"
)

const enqueueWarnEvery = 5 * time.Second

// reportEnqueueError logs a rejected trigger. Overlap skips are expected
// when a cycle outlives its cadence; other rejections warn at most once per
// enqueueWarnEvery per schedule.
func (s *Service) reportEnqueueError(name string, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, engine.ErrOverlapSkip):
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}

	s.enqMu.Lock()
	w, ok := s.enqWarn[name]
	if !ok {
		w = &rate.Sometimes{Interval: enqueueWarnEvery}
		s.enqWarn[name] = w
	}
	s.enqMu.Unlock()

	w.Do(func() {
		s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
	})
}
