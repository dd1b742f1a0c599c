package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	logx "outreach/pkg/logx"
)

// Verify both sinks implement Sink.
var (
	_ Sink = (*PrometheusSink)(nil)
	_ Sink = NoopSink{}
)

func TestPrometheusSinkCounts(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg, logx.Nop())

	s.CycleCompleted("ok", 2*time.Second)
	s.CycleCompleted("ok", time.Second)
	s.CycleCompleted("error", time.Second)
	s.DeliveryAttempt("transient")
	s.DeliveryOutcome("success")
	s.GateDenied("too_soon")
	s.GateDenied("too_soon")
	s.QueueBuilt(7)
	s.NotifierDropped()

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"cycles ok", testutil.ToFloat64(s.cyclesTotal.WithLabelValues("ok")), 2},
		{"cycles error", testutil.ToFloat64(s.cyclesTotal.WithLabelValues("error")), 1},
		{"attempts", testutil.ToFloat64(s.attemptsTotal.WithLabelValues("transient")), 1},
		{"outcomes", testutil.ToFloat64(s.outcomesTotal.WithLabelValues("success")), 1},
		{"denials", testutil.ToFloat64(s.denialsTotal.WithLabelValues("too_soon")), 2},
		{"queue", testutil.ToFloat64(s.queueLength), 7},
		{"drops", testutil.ToFloat64(s.notifierDrops), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestDoubleRegistrationDoesNotPanic(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg, logx.Nop())
	s := NewPrometheusSink(reg, logx.Nop())
	s.DeliveryOutcome("failed")
}

func TestOrNoop(t *testing.T) {
	t.Parallel()
	if _, ok := OrNoop(nil).(NoopSink); !ok {
		t.Fatalf("OrNoop(nil) is not NoopSink")
	}
}
