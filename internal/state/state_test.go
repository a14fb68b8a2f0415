package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xbp-monitoring/xbp/internal/config"
	"github.com/xbp-monitoring/xbp/internal/monitor"
	"github.com/xbp-monitoring/xbp/internal/probe"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testScheduler() *monitor.Scheduler {
	return monitor.NewScheduler(probe.NewExecutor(), nil, nil, testLogger())
}

// idleProbe returns a probe whose schedule keeps it from ever executing
// during a test, so task bookkeeping can be asserted without traffic.
func idleProbe(name string) config.Probe {
	return config.Probe{
		Name: name,
		URL:  "http://127.0.0.1:1/unreachable",
		Schedule: config.Schedule{
			InitialDelay: config.Duration(time.Hour),
			Interval:     config.Duration(time.Hour),
		},
	}
}

func activeProbe(name, url string, interval time.Duration) config.Probe {
	return config.Probe{
		Name: name,
		URL:  url,
		Schedule: config.Schedule{
			Interval: config.Duration(interval),
		},
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func okResult(name string) probe.ProbeResult {
	return probe.ProbeResult{
		ProbeName:  name,
		Status:     probe.StatusOk,
		Timestamp:  time.Now().UTC(),
		StatusCode: 200,
	}
}

func TestState_StartMonitoringRegistersOneTaskPerDefinition(t *testing.T) {
	cfg := &config.Config{
		Probes: []config.Probe{idleProbe("a"), idleProbe("b")},
		Stories: []config.Story{{
			Name:     "s",
			Steps:    []config.Step{{Name: "only", URL: "http://127.0.0.1:1/unreachable"}},
			Schedule: config.Schedule{InitialDelay: config.Duration(time.Hour), Interval: config.Duration(time.Hour)},
		}},
	}

	st := New(cfg, "unused.yaml", testScheduler(), nil)
	st.StartMonitoring()
	defer st.StopMonitoring()

	if got := st.TaskCount(); got != 3 {
		t.Errorf("TaskCount() = %d, want 3", got)
	}

	st.StopMonitoring()
	if got := st.TaskCount(); got != 0 {
		t.Errorf("TaskCount() after stop = %d, want 0", got)
	}
}

func TestState_StopMonitoringHaltsRecording(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	cfg := &config.Config{Probes: []config.Probe{activeProbe("health", srv.URL, 10*time.Millisecond)}}
	st := New(cfg, "unused.yaml", testScheduler(), nil)

	st.StartMonitoring()
	if !waitFor(t, 2*time.Second, func() bool { return st.probeResults.Len("health") >= 2 }) {
		t.Fatal("timed out waiting for probe results")
	}

	st.StopMonitoring()

	// allow any in-flight execution to be discarded
	time.Sleep(50 * time.Millisecond)
	recorded := st.probeResults.Len("health")

	time.Sleep(100 * time.Millisecond)
	if got := st.probeResults.Len("health"); got != recorded {
		t.Errorf("results recorded after StopMonitoring: len went from %d to %d", recorded, got)
	}
}

func TestState_ReloadPrunesRemovedMonitors(t *testing.T) {
	initial := &config.Config{Probes: []config.Probe{idleProbe("a"), idleProbe("b"), idleProbe("c")}}
	next := &config.Config{Probes: []config.Probe{idleProbe("a"), idleProbe("c")}}

	loader := func(ctx context.Context, path string) (*config.Config, error) {
		return next, nil
	}

	st := New(initial, "unused.yaml", testScheduler(), loader)
	st.StartMonitoring()
	defer st.StopMonitoring()

	st.RecordProbeResult("a", okResult("a"))
	st.RecordProbeResult("a", okResult("a"))
	st.RecordProbeResult("b", okResult("b"))
	st.RecordProbeResult("c", okResult("c"))

	newConfig, err := st.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if len(newConfig.Probes) != 2 {
		t.Fatalf("Reload() returned %d probes, want 2", len(newConfig.Probes))
	}

	if _, ok := st.ProbeHistory("b"); ok {
		t.Error("history for removed probe b survived reload")
	}

	// retained monitors keep their history, not reset
	if got, ok := st.ProbeHistory("a"); !ok || len(got) != 2 {
		t.Errorf("ProbeHistory(a) = %v entries, ok=%v; want 2 entries", len(got), ok)
	}
	if got, ok := st.ProbeHistory("c"); !ok || len(got) != 1 {
		t.Errorf("ProbeHistory(c) = %v entries, ok=%v; want 1 entry", len(got), ok)
	}

	if got := st.TaskCount(); got != 2 {
		t.Errorf("TaskCount() after reload = %d, want 2", got)
	}

	names := st.ProbeNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "c" {
		t.Errorf("ProbeNames() = %v, want [a c]", names)
	}
}

func TestState_ReloadFailureLeavesStateUntouched(t *testing.T) {
	initial := &config.Config{Probes: []config.Probe{idleProbe("a")}}

	loader := func(ctx context.Context, path string) (*config.Config, error) {
		return nil, errors.New("boom")
	}

	st := New(initial, "unused.yaml", testScheduler(), loader)
	st.StartMonitoring()
	defer st.StopMonitoring()

	st.RecordProbeResult("a", okResult("a"))

	if _, err := st.Reload(context.Background()); err == nil {
		t.Fatal("Reload() succeeded, want error")
	}

	if got := st.TaskCount(); got != 1 {
		t.Errorf("TaskCount() after failed reload = %d, want 1 (tasks untouched)", got)
	}
	if got, ok := st.ProbeHistory("a"); !ok || len(got) != 1 {
		t.Errorf("ProbeHistory(a) after failed reload = %v entries, ok=%v; want 1", len(got), ok)
	}
	if names := st.ProbeNames(); len(names) != 1 || names[0] != "a" {
		t.Errorf("ProbeNames() after failed reload = %v, want [a]", names)
	}
}

// Concurrent reloads must serialize; afterwards exactly one
// configuration's worth of tasks is running.
// Run with: go test -race
func TestState_ConcurrentReloads(t *testing.T) {
	cfg := &config.Config{Probes: []config.Probe{idleProbe("a"), idleProbe("b")}}

	var loads atomic.Int64
	loader := func(ctx context.Context, path string) (*config.Config, error) {
		loads.Add(1)
		return &config.Config{Probes: []config.Probe{idleProbe("a"), idleProbe("b")}}, nil
	}

	st := New(cfg, "unused.yaml", testScheduler(), loader)
	st.StartMonitoring()
	defer st.StopMonitoring()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.Reload(context.Background()); err != nil {
				t.Errorf("Reload() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := loads.Load(); got != 5 {
		t.Errorf("loader invoked %d times, want 5", got)
	}
	if got := st.TaskCount(); got != 2 {
		t.Errorf("TaskCount() after concurrent reloads = %d, want 2", got)
	}
}

func TestState_CurrentConfigIsInsulatedFromReplacement(t *testing.T) {
	st := New(&config.Config{Probes: []config.Probe{idleProbe("a")}}, "unused.yaml", testScheduler(), nil)

	snapshot := st.CurrentConfig()
	st.replaceConfig(&config.Config{Probes: []config.Probe{idleProbe("x"), idleProbe("y")}})

	if len(snapshot.Probes) != 1 || snapshot.Probes[0].Name != "a" {
		t.Errorf("earlier snapshot changed after replacement: %v", snapshot.Probes)
	}
	if names := st.ProbeNames(); len(names) != 2 {
		t.Errorf("ProbeNames() = %v, want the replaced configuration", names)
	}
}

// End-to-end: a probe records Ok results on its schedule; reloading to a
// configuration without it removes its history entirely.
func TestState_MonitorRecordReload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	initial := &config.Config{Probes: []config.Probe{activeProbe("health", srv.URL, 40*time.Millisecond)}}
	empty := &config.Config{}

	loader := func(ctx context.Context, path string) (*config.Config, error) {
		return empty, nil
	}

	st := New(initial, "unused.yaml", testScheduler(), loader)
	st.StartMonitoring()
	defer st.StopMonitoring()

	if !waitFor(t, 2*time.Second, func() bool { return st.probeResults.Len("health") >= 1 }) {
		t.Fatal("timed out waiting for first result")
	}

	status, ok := st.LatestProbeStatus("health")
	if !ok || status != probe.StatusOk {
		t.Errorf("LatestProbeStatus() = %v, %v; want ok status", status, ok)
	}

	// the next interval produces a second result
	if !waitFor(t, 2*time.Second, func() bool { return st.probeResults.Len("health") >= 2 }) {
		t.Fatal("timed out waiting for second result")
	}

	if _, err := st.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if _, ok := st.ProbeHistory("health"); ok {
		t.Error("history for removed probe survived reload")
	}
	if got := st.TaskCount(); got != 0 {
		t.Errorf("TaskCount() after reload to empty config = %d, want 0", got)
	}
}
