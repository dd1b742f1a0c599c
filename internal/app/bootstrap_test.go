package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"outreach/internal/blacklist"
	"outreach/internal/config"
	logx "outreach/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		wantErr bool
	}{
		{name: "memory", in: config.StorageConfig{Driver: "memory"}, driver: "memory"},
		{name: "file", in: config.StorageConfig{Driver: "FILE", Path: "data/outreach"}, driver: "file"},
		{name: "sqlite", in: config.StorageConfig{Driver: "sqlite", Path: "data/outreach.db"}, driver: "sqlite"},
		{name: "sqlite without path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", in: config.StorageConfig{Driver: "bolt"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("mapStorageConfig(%+v) error = nil, want error", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("mapStorageConfig: %v", err)
			}
			if got.Driver != tc.driver {
				t.Fatalf("Driver = %q, want %q", got.Driver, tc.driver)
			}
			if tc.driver == "sqlite" && got.BusyTimeout != time.Second {
				t.Fatalf("BusyTimeout = %v, want 1s", got.BusyTimeout)
			}
		})
	}
}

func TestStateDir(t *testing.T) {
	t.Parallel()

	sc, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "sqlite", Path: "/var/lib/outreach/state.db"}})
	if err != nil {
		t.Fatalf("mapStorageConfig: %v", err)
	}
	if got := stateDir(sc); got != "/var/lib/outreach" {
		t.Fatalf("stateDir = %q, want /var/lib/outreach", got)
	}
	mem, _ := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "memory"}})
	if got := stateDir(mem); got != os.TempDir() {
		t.Fatalf("stateDir(memory) = %q, want %q", got, os.TempDir())
	}
}

func TestMapCycleConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Search.Keywords = []string{"go", "rust"}
	cfg.Search.MaxUsersPerKeyword = 10
	cfg.Search.Expand.MaxSeeds = 3
	cfg.Search.Expand.MaxPages = 2

	got := mapCycleConfig(cfg)
	if got.ExpandSeeds != 0 {
		t.Fatalf("ExpandSeeds = %d with expansion disabled, want 0", got.ExpandSeeds)
	}
	if !got.QuietIdle {
		t.Fatalf("QuietIdle = false, want true when cycle summaries are off")
	}

	cfg.Search.Expand.Enabled = true
	cfg.Reports.CycleSummaries = true
	got = mapCycleConfig(cfg)
	if got.ExpandSeeds != 3 || got.ExpandPages != 2 {
		t.Fatalf("expand = %d/%d, want 3/2", got.ExpandSeeds, got.ExpandPages)
	}
	if got.QuietIdle {
		t.Fatalf("QuietIdle = true, want false")
	}
	if len(got.Criteria.Keywords) != 2 || got.Criteria.MaxUsersPerKeyword != 10 {
		t.Fatalf("Criteria = %+v", got.Criteria)
	}

	// the runner owns its copy
	cfg.Search.Keywords[0] = "changed"
	if got.Criteria.Keywords[0] != "go" {
		t.Fatalf("Keywords aliased config slice")
	}
}

func TestMapTaskEngineConfigDefaults(t *testing.T) {
	t.Parallel()

	got, err := mapTaskEngineConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapTaskEngineConfig: %v", err)
	}
	if !got.Enabled || got.Workers != 2 || got.QueueSize != 64 {
		t.Fatalf("defaults = %+v", got)
	}

	_, err = mapTaskEngineConfig(&config.Config{TaskEngine: &config.TaskEngineConfig{DefaultTimeout: "soon"}})
	if err == nil {
		t.Fatalf("bad default_timeout accepted")
	}
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()

	got, err := mapNotifierConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if !got.Enabled {
		t.Fatalf("missing notifier section should stay enabled")
	}

	_, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{Workers: -1}})
	if err == nil {
		t.Fatalf("negative workers accepted")
	}
}

func TestMapDeliveryConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	got, err := mapDeliveryConfig(cfg)
	if err != nil {
		t.Fatalf("mapDeliveryConfig: %v", err)
	}
	if got.SendTimeout != 60*time.Second || got.RetryBackoff != 5*time.Second {
		t.Fatalf("defaults = %+v", got)
	}

	cfg.Delivery.Timeout = "forever"
	if _, err := mapDeliveryConfig(cfg); err == nil {
		t.Fatalf("bad delivery.timeout accepted")
	}
}

func TestBuildBlacklist(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "blacklist.csv")
	if err := os.WriteFile(path, []byte("username\n@Alice\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := &config.Config{}
	cfg.Blacklist.Source = "none"
	chk, closer, err := buildBlacklist(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("buildBlacklist(none): %v", err)
	}
	if _, ok := chk.(blacklist.None); !ok || closer != nil {
		t.Fatalf("none = %T closer=%v", chk, closer != nil)
	}

	cfg.Blacklist.Source = "file"
	cfg.Blacklist.Path = path
	chk, _, err = buildBlacklist(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("buildBlacklist(file): %v", err)
	}
	if _, ok := chk.(*blacklist.Cached); !ok {
		t.Fatalf("file = %T, want *blacklist.Cached", chk)
	}

	cfg.Blacklist.Source = "ldap"
	if _, _, err := buildBlacklist(cfg, logx.Nop()); err == nil {
		t.Fatalf("unknown source accepted")
	}
}

func TestAcquireLockIsExclusive(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "state")
	first := &App{}
	if err := first.acquireLock(dir); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	defer first.lock.Unlock()

	second := &App{}
	if err := second.acquireLock(dir); err == nil {
		_ = second.lock.Unlock()
		t.Fatalf("second lock succeeded while first is held")
	}
}
