// Package monitor schedules the periodic execution of probes and
// stories. Each definition gets its own task goroutine that sleeps for
// the configured initial delay, then loops: execute, record, report
// metrics, dispatch alerts, sleep for the interval.
//
// Executions of one definition are strictly sequential: a slow execution
// delays the next tick rather than overlapping it. Different definitions
// run independently.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/xbp-monitoring/xbp/internal/config"
	"github.com/xbp-monitoring/xbp/internal/probe"
)

// Recorder receives execution results and answers status queries for
// transition detection. Implemented by the monitoring state facade.
type Recorder interface {
	RecordProbeResult(name string, result probe.ProbeResult)
	RecordStoryResult(name string, result probe.StoryResult)
	LatestProbeStatus(name string) (probe.Status, bool)
	LatestStoryStatus(name string) (probe.Status, bool)
}

// MetricsRecorder receives per-execution telemetry.
type MetricsRecorder interface {
	// RecordExecution reports one completed execution: its duration, a
	// run increment, an error increment for Error status, the status
	// gauge value, and the HTTP status code (0 when the call failed;
	// negative values mean "no protocol status", e.g. for stories).
	RecordExecution(ctx context.Context, monitor, kind string, status probe.Status, durationMs int64, statusCode int)
}

// AlertNotifier delivers status-transition notifications. The scheduler
// decides when a transition happened; the notifier only delivers.
type AlertNotifier interface {
	Notify(ctx context.Context, monitor string, previous, current probe.Status, alerts []config.Alert, message string)
}

// Task is the handle for one scheduled monitoring goroutine.
//
// Stopping a task is fire-and-forget: Stop signals cancellation and
// returns without waiting for an in-flight execution to drain. A task
// cancelled mid-execution discards its in-flight result.
type Task struct {
	name   string
	cancel context.CancelFunc
}

// Name returns the monitored definition's name.
func (t *Task) Name() string {
	return t.name
}

// Stop requests cancellation. Safe to call multiple times.
func (t *Task) Stop() {
	t.cancel()
}

// Scheduler starts monitoring tasks for probe and story definitions.
type Scheduler struct {
	executor *probe.Executor
	metrics  MetricsRecorder
	alerts   AlertNotifier
	logger   *slog.Logger
}

// NewScheduler creates a [Scheduler].
//
// metrics and alerts may be nil, in which case the corresponding
// reporting is skipped. logger must not be nil.
func NewScheduler(executor *probe.Executor, metrics MetricsRecorder, alerts AlertNotifier, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		executor: executor,
		metrics:  metrics,
		alerts:   alerts,
		logger:   logger,
	}
}

// ScheduleProbes starts one task per probe definition and returns the
// handles. Each definition is captured by value at spawn time, so later
// configuration changes never affect a running task.
func (s *Scheduler) ScheduleProbes(probes []config.Probe, rec Recorder) []*Task {
	tasks := make([]*Task, 0, len(probes))
	for _, def := range probes {
		def := def
		tasks = append(tasks, s.schedule(def.Name, def.Schedule, func(ctx context.Context) {
			s.runProbe(ctx, def, rec)
		}))
	}
	return tasks
}

// ScheduleStories starts one task per story definition and returns the
// handles.
func (s *Scheduler) ScheduleStories(stories []config.Story, rec Recorder) []*Task {
	tasks := make([]*Task, 0, len(stories))
	for _, def := range stories {
		def := def
		tasks = append(tasks, s.schedule(def.Name, def.Schedule, func(ctx context.Context) {
			s.runStory(ctx, def, rec)
		}))
	}
	return tasks
}

// schedule spawns the periodic loop for one definition. The loop is
// strictly sequential per definition, which rules out overlapping
// executions by construction.
func (s *Scheduler) schedule(name string, sched config.Schedule, run func(context.Context)) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{name: name, cancel: cancel}

	go func() {
		if !sleepCtx(ctx, sched.InitialDelay.Duration()) {
			return
		}
		for {
			run(ctx)
			if !sleepCtx(ctx, sched.Interval.Duration()) {
				return
			}
		}
	}()

	return task
}

func (s *Scheduler) runProbe(ctx context.Context, def config.Probe, rec Recorder) {
	result := s.safeProbe(ctx, def)

	// cancelled mid-flight: the result is discarded, never partially recorded
	if ctx.Err() != nil {
		return
	}

	previous, hasPrevious := rec.LatestProbeStatus(def.Name)

	// cancellation can land during the status query; recording now could
	// outlive a concurrent history prune for this name
	if ctx.Err() != nil {
		return
	}
	rec.RecordProbeResult(def.Name, result)

	if s.metrics != nil {
		s.metrics.RecordExecution(ctx, def.Name, "probe", result.Status, result.DurationMs, result.StatusCode)
	}
	s.maybeAlert(ctx, def.Name, previous, hasPrevious, result.Status, def.Alerts, result.Error)

	if result.Status == probe.StatusError {
		s.logger.Warn("probe completed with error",
			"probe", def.Name,
			"status_code", result.StatusCode,
			"duration_ms", result.DurationMs,
			"error", result.Error,
		)
	} else {
		s.logger.Debug("probe completed",
			"probe", def.Name,
			"status_code", result.StatusCode,
			"duration_ms", result.DurationMs,
		)
	}
}

func (s *Scheduler) runStory(ctx context.Context, def config.Story, rec Recorder) {
	result := s.safeStory(ctx, def)

	if ctx.Err() != nil {
		return
	}

	previous, hasPrevious := rec.LatestStoryStatus(def.Name)
	if ctx.Err() != nil {
		return
	}
	rec.RecordStoryResult(def.Name, result)

	if s.metrics != nil {
		// stories have no single protocol status code
		s.metrics.RecordExecution(ctx, def.Name, "story", result.Status, result.DurationMs, -1)
	}
	s.maybeAlert(ctx, def.Name, previous, hasPrevious, result.Status, def.Alerts, result.Error)

	if result.Status == probe.StatusError {
		s.logger.Warn("story completed with error",
			"story", def.Name,
			"steps", len(result.Steps),
			"duration_ms", result.DurationMs,
			"error", result.Error,
		)
	} else {
		s.logger.Debug("story completed",
			"story", def.Name,
			"steps", len(result.Steps),
			"duration_ms", result.DurationMs,
		)
	}
}

// maybeAlert notifies on status transitions: the first observed Error,
// or any change from the previous status (including recovery).
func (s *Scheduler) maybeAlert(ctx context.Context, name string, previous probe.Status, hasPrevious bool, current probe.Status, alerts []config.Alert, message string) {
	if s.alerts == nil || len(alerts) == 0 {
		return
	}

	transitioned := (!hasPrevious && current == probe.StatusError) ||
		(hasPrevious && previous != current)
	if !transitioned {
		return
	}

	s.alerts.Notify(ctx, name, previous, current, alerts, message)
}

// safeProbe invokes the executor with panic containment. A panicking
// execution must not kill the task goroutine: it is converted into an
// Error result carrying a correlation ID, and the full stack is logged
// server-side under the same ID.
func (s *Scheduler) safeProbe(ctx context.Context, def config.Probe) (result probe.ProbeResult) {
	defer func() {
		if r := recover(); r != nil {
			result = probe.ProbeResult{
				ProbeName: def.Name,
				Status:    probe.StatusError,
				Timestamp: time.Now().UTC(),
				Error:     s.recordPanic(def.Name, r),
			}
		}
	}()
	return s.executor.Probe(ctx, def)
}

func (s *Scheduler) safeStory(ctx context.Context, def config.Story) (result probe.StoryResult) {
	defer func() {
		if r := recover(); r != nil {
			result = probe.StoryResult{
				StoryName: def.Name,
				Status:    probe.StatusError,
				Timestamp: time.Now().UTC(),
				Error:     s.recordPanic(def.Name, r),
			}
		}
	}()
	return s.executor.Story(ctx, def)
}

// recordPanic logs the panic with its stack under a correlation ID and
// returns a user-facing message carrying the same ID.
func (s *Scheduler) recordPanic(name string, r any) string {
	correlationID := uuid.NewString()
	s.logger.Error("executor panic",
		"monitor", name,
		"correlation_id", correlationID,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()),
	)
	return fmt.Sprintf("executor panic (correlation_id: %s)", correlationID)
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false on
// cancellation. Cancellation is observed here and inside the executor's
// HTTP call; those are the task's only suspension points.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
