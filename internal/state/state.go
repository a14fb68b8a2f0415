// Package state owns the shared mutable state of the monitoring agent:
// the bounded result histories, the active configuration, and the
// handles of every running monitoring task.
//
// A single [State] value is shared by the scheduler's task goroutines
// and the HTTP API. Every accessor takes its own lock scoped to the
// smallest slice of state it touches; reload is additionally serialized
// by a dedicated mutex so two reloads can never interleave.
package state

import (
	"context"
	"sync"

	"github.com/xbp-monitoring/xbp/internal/config"
	"github.com/xbp-monitoring/xbp/internal/monitor"
	"github.com/xbp-monitoring/xbp/internal/probe"
)

// ConfigLoader resolves a new configuration during reload. It matches
// the signature of config.Load so the real source chain (remote URL,
// file fallback, env templating) can be injected, and tests can swap in
// a stub.
type ConfigLoader func(ctx context.Context, path string) (*config.Config, error)

// State is the facade over the agent's shared state. It is safe for
// concurrent use.
type State struct {
	probeResults *resultStore[probe.ProbeResult]
	storyResults *resultStore[probe.StoryResult]

	configMu sync.RWMutex
	config   *config.Config

	configPath string
	loader     ConfigLoader

	tasksMu sync.Mutex
	tasks   []*monitor.Task

	reloadMu sync.Mutex

	scheduler *monitor.Scheduler
}

// New creates the [State] facade around an initial configuration.
//
// configPath is re-read on every reload; loader defaults to config.Load
// when nil.
func New(cfg *config.Config, configPath string, scheduler *monitor.Scheduler, loader ConfigLoader) *State {
	if loader == nil {
		loader = config.Load
	}
	return &State{
		probeResults: newResultStore[probe.ProbeResult](ResultLimit),
		storyResults: newResultStore[probe.StoryResult](ResultLimit),
		config:       cfg,
		configPath:   configPath,
		loader:       loader,
		scheduler:    scheduler,
	}
}

// CurrentConfig returns the active configuration. The top-level slices
// are copied so the caller is insulated from a subsequent replacement;
// element contents are treated as immutable after load.
func (s *State) CurrentConfig() config.Config {
	s.configMu.RLock()
	defer s.configMu.RUnlock()

	out := config.Config{
		Probes:  make([]config.Probe, len(s.config.Probes)),
		Stories: make([]config.Story, len(s.config.Stories)),
	}
	copy(out.Probes, s.config.Probes)
	copy(out.Stories, s.config.Stories)
	return out
}

// replaceConfig atomically swaps the active configuration. Readers see
// either the fully-old or fully-new configuration, never a mix.
func (s *State) replaceConfig(cfg *config.Config) {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config = cfg
}

// StartMonitoring starts one task per definition in the active
// configuration and stores the handles. Any previously stored handles
// are replaced, so callers must stop monitoring first when tasks are
// already running.
func (s *State) StartMonitoring() {
	cfg := s.CurrentConfig()

	handles := s.scheduler.ScheduleProbes(cfg.Probes, s)
	handles = append(handles, s.scheduler.ScheduleStories(cfg.Stories, s)...)

	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	s.tasks = handles
}

// StopMonitoring cancels every running task and clears the registry.
// Cancellation is fire-and-forget: an in-flight execution may be
// terminated abruptly and its result discarded. After StopMonitoring
// returns, no further results will be recorded.
func (s *State) StopMonitoring() {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	for _, task := range s.tasks {
		task.Stop()
	}
	s.tasks = nil
}

// TaskCount returns the number of registered task handles.
func (s *State) TaskCount() int {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	return len(s.tasks)
}

// Reload performs an atomic configuration hot-reload:
//
//  1. load the new configuration (failure aborts the reload, leaving
//     the old configuration and all running tasks untouched)
//  2. stop all running tasks
//  3. swap the active configuration
//  4. prune histories of definitions absent from the new configuration
//     (retained definitions keep their history)
//  5. restart monitoring against the new configuration
//
// Concurrent reloads are serialized; a reader observing the
// configuration mid-reload sees either the old or the new one.
func (s *State) Reload(ctx context.Context) (*config.Config, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	newConfig, err := s.loader(ctx, s.configPath)
	if err != nil {
		return nil, err
	}

	s.StopMonitoring()
	s.replaceConfig(newConfig)
	s.pruneResults(newConfig)
	s.StartMonitoring()

	return newConfig, nil
}

// pruneResults drops history for every monitor not present in cfg.
func (s *State) pruneResults(cfg *config.Config) {
	allowedProbes := make(map[string]bool, len(cfg.Probes))
	for _, p := range cfg.Probes {
		allowedProbes[p.Name] = true
	}
	allowedStories := make(map[string]bool, len(cfg.Stories))
	for _, st := range cfg.Stories {
		allowedStories[st.Name] = true
	}

	s.probeResults.Prune(allowedProbes)
	s.storyResults.Prune(allowedStories)
}

// RecordProbeResult appends result to the probe's bounded history.
func (s *State) RecordProbeResult(name string, result probe.ProbeResult) {
	s.probeResults.Record(name, result)
}

// RecordStoryResult appends result to the story's bounded history.
func (s *State) RecordStoryResult(name string, result probe.StoryResult) {
	s.storyResults.Record(name, result)
}

// LatestProbeStatus returns the status of the probe's newest recorded
// result, or false when the probe has no history.
func (s *State) LatestProbeStatus(name string) (probe.Status, bool) {
	result, ok := s.probeResults.Latest(name)
	if !ok {
		return "", false
	}
	return result.Status, true
}

// LatestStoryStatus returns the status of the story's newest recorded
// result, or false when the story has no history.
func (s *State) LatestStoryStatus(name string) (probe.Status, bool) {
	result, ok := s.storyResults.Latest(name)
	if !ok {
		return "", false
	}
	return result.Status, true
}

// LatestProbeResult returns the probe's newest recorded result.
func (s *State) LatestProbeResult(name string) (probe.ProbeResult, bool) {
	return s.probeResults.Latest(name)
}

// LatestStoryResult returns the story's newest recorded result.
func (s *State) LatestStoryResult(name string) (probe.StoryResult, bool) {
	return s.storyResults.Latest(name)
}

// ProbeHistory returns a copy of the probe's history, oldest-first.
// The second return is false when the probe has no recorded results.
func (s *State) ProbeHistory(name string) ([]probe.ProbeResult, bool) {
	return s.probeResults.Snapshot(name)
}

// StoryHistory returns a copy of the story's history, oldest-first.
func (s *State) StoryHistory(name string) ([]probe.StoryResult, bool) {
	return s.storyResults.Snapshot(name)
}

// ProbeNames returns the probe names of the active configuration.
func (s *State) ProbeNames() []string {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config.ProbeNames()
}

// StoryNames returns the story names of the active configuration.
func (s *State) StoryNames() []string {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config.StoryNames()
}

// FindProbe returns the named probe definition from the active
// configuration.
func (s *State) FindProbe(name string) (config.Probe, bool) {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	for _, p := range s.config.Probes {
		if p.Name == name {
			return p, true
		}
	}
	return config.Probe{}, false
}

// FindStory returns the named story definition from the active
// configuration.
func (s *State) FindStory(name string) (config.Story, bool) {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	for _, st := range s.config.Stories {
		if st.Name == name {
			return st, true
		}
	}
	return config.Story{}, false
}
