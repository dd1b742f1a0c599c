package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// offsetSchedule delays only the first activation, then follows base.
type offsetSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *offsetSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// spreadInterval builds an @every schedule whose first run is shifted by an
// offset derived from name, so intervals registered together do not fire in
// the same second and a restart keeps the same phase.
func spreadInterval(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return base, 0
	}
	offset := nameOffset(name, window)
	return &offsetSchedule{base: base, first: now.Add(every + offset)}, offset
}

func nameOffset(name string, window time.Duration) time.Duration {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return time.Duration(h.Sum64() % uint64(window))
}
