package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.location().String()}
	c := s.c
	eng := s.engine
	for _, d := range s.defs {
		it := ScheduleInfo{ID: d.id, Name: d.name, Spec: d.spec, Timeout: d.timeout, Spread: d.startupSpread}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	s.mu.Unlock()

	s.tmu.Lock()
	snap.Pending = make(map[string]time.Time, len(s.onces))
	for name, def := range s.onces {
		snap.Pending[name] = def.at
	}
	s.tmu.Unlock()

	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}

// NextRun returns the next trigger time of the named schedule, if it is registered and running.
func (s *Service) NextRun(name string) (time.Time, bool) {
	for _, it := range s.Snapshot().Schedules {
		if it.Name == name && !it.Next.IsZero() {
			return it.Next, true
		}
	}
	return time.Time{}, false
}
