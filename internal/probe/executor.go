package probe

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xbp-monitoring/xbp/internal/config"
)

// Executor performs probe and story executions.
//
// An Executor never returns an error: any failure to complete a request
// or to satisfy an expectation is converted into an Error-status result,
// so the scheduler can record every execution uniformly.
type Executor struct {
	client *Client
}

// NewExecutor creates an [Executor] with its own pooled HTTP client.
func NewExecutor() *Executor {
	return &Executor{client: NewClient()}
}

// Probe executes a single probe definition and returns its result.
//
// The request is built from the definition's method, headers and body;
// expectations are evaluated against the response. With no expectations
// configured, any 2xx status counts as Ok. For sensitive probes the
// response body is never captured into the result.
func (e *Executor) Probe(ctx context.Context, def config.Probe) ProbeResult {
	var headers map[string]string
	var body string
	var timeout time.Duration
	if def.With != nil {
		headers = def.With.Headers
		body = def.With.Body
		timeout = def.With.Timeout.Duration()
	}

	resp := e.client.Fetch(ctx, def.HTTPMethod, def.URL, headers, body, timeout)

	result := ProbeResult{
		ProbeName:  def.Name,
		Timestamp:  time.Now().UTC(),
		DurationMs: resp.Latency.Milliseconds(),
		StatusCode: resp.StatusCode,
	}

	if !def.Sensitive {
		result.Body = string(resp.Body)
	}

	if resp.Error != nil {
		result.Status = StatusError
		result.Error = resp.Error.Error()
		return result
	}

	if err := evaluate(def.Expectations, resp.StatusCode, resp.Body); err != nil {
		result.Status = StatusError
		result.Error = err.Error()
		return result
	}

	result.Status = StatusOk
	return result
}

// Story executes a story definition: its steps run sequentially and the
// first failing step fails the whole story. Step outcomes are embedded
// in the returned result.
func (e *Executor) Story(ctx context.Context, def config.Story) StoryResult {
	start := time.Now()

	result := StoryResult{
		StoryName: def.Name,
		Status:    StatusOk,
		Steps:     make([]StepResult, 0, len(def.Steps)),
	}

	for _, step := range def.Steps {
		stepResult := e.executeStep(ctx, step)
		result.Steps = append(result.Steps, stepResult)

		if stepResult.Status != StatusOk {
			result.Status = StatusError
			result.Error = fmt.Sprintf("step %q failed: %s", step.Name, stepResult.Error)
			break
		}
	}

	result.Timestamp = time.Now().UTC()
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

func (e *Executor) executeStep(ctx context.Context, step config.Step) StepResult {
	var headers map[string]string
	var body string
	var timeout time.Duration
	if step.With != nil {
		headers = step.With.Headers
		body = step.With.Body
		timeout = step.With.Timeout.Duration()
	}

	resp := e.client.Fetch(ctx, step.HTTPMethod, step.URL, headers, body, timeout)

	result := StepResult{
		StepName:   step.Name,
		StatusCode: resp.StatusCode,
		DurationMs: resp.Latency.Milliseconds(),
	}

	if resp.Error != nil {
		result.Status = StatusError
		result.Error = resp.Error.Error()
		return result
	}

	if err := evaluate(step.Expectations, resp.StatusCode, resp.Body); err != nil {
		result.Status = StatusError
		result.Error = err.Error()
		return result
	}

	result.Status = StatusOk
	return result
}

// Close releases the executor's HTTP client resources.
func (e *Executor) Close() {
	e.client.Close()
}

// evaluate checks every expectation against the response. With no
// expectations, a 2xx status is required. Returns nil when all hold,
// or an error describing the first violation.
func evaluate(expectations []config.Expectation, statusCode int, body []byte) error {
	if len(expectations) == 0 {
		if statusCode < 200 || statusCode >= 300 {
			return fmt.Errorf("expected 2xx status, got %d", statusCode)
		}
		return nil
	}

	for _, exp := range expectations {
		var actual string
		switch exp.Field {
		case "status_code":
			actual = strconv.Itoa(statusCode)
		case "body":
			actual = string(body)
		default:
			return fmt.Errorf("unknown expectation field %q", exp.Field)
		}

		if err := evaluateOperation(exp, actual); err != nil {
			return err
		}
	}

	return nil
}

func evaluateOperation(exp config.Expectation, actual string) error {
	switch exp.Operation {
	case "equals":
		if actual != exp.Value {
			return fmt.Errorf("expected %s to equal %q, got %q", exp.Field, exp.Value, truncate(actual))
		}
	case "not_equals":
		if actual == exp.Value {
			return fmt.Errorf("expected %s to not equal %q", exp.Field, exp.Value)
		}
	case "contains":
		if !strings.Contains(actual, exp.Value) {
			return fmt.Errorf("expected %s to contain %q", exp.Field, exp.Value)
		}
	case "is_one_of":
		for _, v := range exp.Values {
			if actual == v {
				return nil
			}
		}
		return fmt.Errorf("expected %s to be one of %v, got %q", exp.Field, exp.Values, truncate(actual))
	default:
		return fmt.Errorf("unknown expectation operation %q", exp.Operation)
	}

	return nil
}

// truncate keeps expectation failure messages readable when the actual
// value is a large response body.
func truncate(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
