package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	logx "outreach/pkg/logx"
)

func TestServerRoutes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg, logx.Nop())
	sink.QueueBuilt(3)

	cases := []struct {
		name   string
		opts   []ServerOption
		path   string
		code   int
		inBody string
	}{
		{name: "metrics", path: "/metrics", code: http.StatusOK, inBody: "outreach_"},
		{name: "healthz", path: "/healthz", code: http.StatusOK, inBody: "ok"},
		{name: "pprof disabled", path: "/debug/pprof/", code: http.StatusNotFound},
		{name: "pprof enabled", opts: []ServerOption{WithPprof()}, path: "/debug/pprof/", code: http.StatusOK, inBody: "goroutine"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := NewServer("127.0.0.1:0", "", reg, logx.Nop(), tc.opts...)
			rec := httptest.NewRecorder()
			srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rec.Code != tc.code {
				t.Fatalf("GET %s = %d, want %d", tc.path, rec.Code, tc.code)
			}
			if tc.inBody != "" && !strings.Contains(rec.Body.String(), tc.inBody) {
				t.Fatalf("GET %s body missing %q", tc.path, tc.inBody)
			}
		})
	}
}
