package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"outreach/internal/task/engine"
	logx "outreach/pkg/logx"
)

// AddSchedule parses schedule (see ParseSchedule) and registers either a cron or
// interval trigger. Scheduled jobs skip a trigger while a previous run is queued
// or in flight.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) (string, error) {
	return s.AddScheduleOpt(name, schedule, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

func (s *Service) AddScheduleOpt(name, schedule string, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	if ps.Kind == SpecInterval {
		return s.AddIntervalOpt(name, ps.Every, timeout, opt, job)
	}
	return s.AddCronOpt(name, ps.Cron, timeout, opt, job)
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) (string, error) {
	return s.AddCronOpt(name, spec, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

func (s *Service) AddCronOpt(name, spec string, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron %q: %w", spec, err)
	}
	return s.register("cron", name, spec, timeout, opt, job)
}

func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) (string, error) {
	return s.AddIntervalOpt(name, every, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

func (s *Service) AddIntervalOpt(name string, every, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.register("interval", name, "@every "+every.String(), timeout, opt, job)
}

// AddDaily triggers at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job Job) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// AddWeekly triggers on weekday at HH:MM in the scheduler timezone.
func (s *Service) AddWeekly(name string, weekday time.Weekday, atHHMM string, timeout time.Duration, job Job) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * %d", m, h, int(weekday)), timeout, job)
}

// AddMonthly triggers on day-of-month at HH:MM in the scheduler timezone.
func (s *Service) AddMonthly(name string, day int, atHHMM string, timeout time.Duration, job Job) (string, error) {
	if day < 1 || day > 31 {
		return "", fmt.Errorf("invalid day of month %d", day)
	}
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d %d * *", m, h, day), timeout, job)
}

// AddSlot registers a weekly slot such as "fri 19:30".
func (s *Service) AddSlot(name, slot string, timeout time.Duration, job Job) (string, error) {
	sl, err := ParseSlot(slot)
	if err != nil {
		return "", err
	}
	return s.AddWeekly(name, sl.Weekday, sl.At, timeout, job)
}

// AddOnce runs job once at the given time. A time in the past fires immediately.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if at.IsZero() {
		return "", errors.New("at required")
	}

	s.mu.Lock()
	_ = s.removeScheduleLocked(name)
	running := s.c != nil
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	prev := s.onces[name]
	def := &onceDef{at: at, timeout: timeout, job: job, ver: 1}
	if prev != nil {
		if prev.timer != nil {
			prev.timer.Stop()
		}
		def.ver = prev.ver + 1
	}
	s.onces[name] = def
	if running {
		s.armOnceLocked(name, def)
	}
	return name, nil
}

// Remove unschedules everything registered under name. It reports whether
// something was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	removed = s.removeOnceLocked(name) || removed
	s.tmu.Unlock()

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// RemovePrefix unschedules every schedule whose name starts with prefix and
// returns how many were removed.
func (s *Service) RemovePrefix(prefix string) int {
	s.mu.Lock()
	var names []string
	seen := map[string]bool{}
	for _, d := range s.defs {
		if strings.HasPrefix(d.name, prefix) && !seen[d.name] {
			seen[d.name] = true
			names = append(names, d.name)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, name := range names {
		if s.Remove(name) {
			n++
		}
	}
	return n
}

func (s *Service) register(kind, name, spec string, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// upsert by name so hot reloads never duplicate a trigger
	_ = s.removeScheduleLocked(name)
	s.tmu.Lock()
	s.removeOnceLocked(name)
	s.tmu.Unlock()

	s.defs = append(s.defs, scheduleDef{
		id:      fmt.Sprintf("%s:%d", kind, time.Now().UnixNano()),
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		opt:     opt,
		state:   &engine.RunState{},
	})
	if s.c == nil {
		// registered on Start
		return name, nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return name, err
	}
	fields := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("schedule registered", fields...)
	return name, nil
}

// Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// Call with s.tmu held.
func (s *Service) removeOnceLocked(name string) bool {
	def, ok := s.onces[name]
	if !ok {
		return false
	}
	if def.timer != nil {
		def.timer.Stop()
	}
	delete(s.onces, name)
	return true
}

// Call with s.tmu held.
func (s *Service) armOnceLocked(name string, def *onceDef) {
	ver := def.ver
	def.timer = time.AfterFunc(max(time.Until(def.at), 0), func() {
		s.tmu.Lock()
		cur, ok := s.onces[name]
		if !ok || cur.ver != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.onces, name)
		s.tmu.Unlock()

		s.enqueue(name, cur.timeout, TaskOptions{}, &engine.RunState{}, cur.job)
	})
}

func (s *Service) enqueue(name string, timeout time.Duration, opt TaskOptions, state *engine.RunState, job Job) {
	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name:    name,
		Timeout: timeout,
		Run:     job,
		Opt:     opt,
		State:   state,
	})
	if err != nil {
		s.reportEnqueueError(name, err)
	}
}

// Call with s.mu held.
func (s *Service) addCronLocked(d *scheduleDef) error {
	name, timeout, opt, state, run := d.name, d.timeout, d.opt, d.state, d.job
	job := cron.FuncJob(func() { s.enqueue(name, timeout, opt, state, run) })

	if every, ok := strings.CutPrefix(d.spec, "@every "); ok {
		if dur, err := time.ParseDuration(every); err == nil && dur > 0 {
			sched, spread := spreadInterval(dur, time.Now().In(s.location()), d.name)
			d.startupSpread = spread
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if s.log.IsZero() || !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.location())
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04"))
	}
	return b.String()
}
