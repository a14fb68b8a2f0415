// Package probe implements the execution of probes and stories: request
// construction, expectation evaluation, and the result model recorded by
// the monitoring state.
package probe

import "time"

// Status is the outcome of one probe or story execution.
type Status string

const (
	StatusOk    Status = "ok"
	StatusError Status = "error"
)

// GaugeValue maps a status to its metric gauge value (Ok=0, Error=1).
func (s Status) GaugeValue() int64 {
	if s == StatusOk {
		return 0
	}
	return 1
}

// ProbeResult is the outcome of one probe execution.
type ProbeResult struct {
	// ProbeName is the owning probe definition's name.
	ProbeName string `json:"probe_name"`

	// Status is Ok when the request completed and all expectations held.
	Status Status `json:"status"`

	// Timestamp is when the execution completed.
	Timestamp time.Time `json:"timestamp"`

	// DurationMs is the execution duration in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// StatusCode is the HTTP status code, 0 if the request itself failed.
	StatusCode int `json:"status_code"`

	// Error describes what went wrong for Error results.
	Error string `json:"error,omitempty"`

	// Body is the captured response body. Empty for sensitive probes.
	// Only exposed over the API when explicitly requested.
	Body string `json:"body,omitempty"`
}

// StepResult is the outcome of one step within a story execution.
type StepResult struct {
	StepName   string `json:"step_name"`
	Status     Status `json:"status"`
	StatusCode int    `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// StoryResult is the outcome of one story execution. A story is Ok only
// when every step completed with all expectations held; execution stops
// at the first failing step.
type StoryResult struct {
	StoryName  string       `json:"story_name"`
	Status     Status       `json:"status"`
	Timestamp  time.Time    `json:"timestamp"`
	DurationMs int64        `json:"duration_ms"`
	Steps      []StepResult `json:"steps"`
	Error      string       `json:"error,omitempty"`
}
