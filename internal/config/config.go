// Package config provides YAML configuration parsing for the xbp
// monitoring agent.
//
// A configuration file declares the probes and stories to monitor:
//
//	probes:
//	  - name: example_health
//	    url: https://example.com/health
//	    http_method: GET
//	    expectations:
//	      - field: status_code
//	        operation: equals
//	        value: "200"
//	    schedule:
//	      initial_delay: 5
//	      interval: 60
//
//	stories:
//	  - name: checkout_flow
//	    steps:
//	      - name: create_order
//	        url: https://example.com/orders
//	        http_method: POST
//	    schedule:
//	      interval: 300
//
// Raw content is passed through ${{ env.NAME }} substitution before
// parsing, regardless of whether it came from a local file or a remote
// source (see Load).
package config

import (
	"fmt"
	"net/url"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure: the full set of probe and
// story definitions governing the scheduler.
type Config struct {
	// Probes defines individual scheduled HTTP health checks.
	Probes []Probe `yaml:"probes"`

	// Stories defines scheduled multi-step request flows.
	Stories []Story `yaml:"stories"`
}

// Probe defines a single scheduled HTTP health check.
type Probe struct {
	// Name uniquely identifies the probe. Used as the key for result
	// history and in metrics attributes.
	Name string `yaml:"name"`

	// URL is the target to request.
	URL string `yaml:"url"`

	// HTTPMethod is the request method. Defaults to GET.
	HTTPMethod string `yaml:"http_method"`

	// With carries optional request parameters (headers, body, timeout).
	With *RequestParams `yaml:"with"`

	// Expectations are evaluated against the response; all must hold for
	// the probe to report Ok. An empty set means any completed request
	// with a 2xx status is Ok.
	Expectations []Expectation `yaml:"expectations"`

	// Schedule governs when and how often the probe runs.
	Schedule Schedule `yaml:"schedule"`

	// Alerts lists webhook destinations notified on status transitions.
	Alerts []Alert `yaml:"alerts"`

	// Sensitive suppresses response-body capture in stored results.
	Sensitive bool `yaml:"sensitive"`

	// Tags are metadata key-value pairs, surfaced over the API.
	Tags map[string]string `yaml:"tags"`
}

// Story defines a scheduled, ordered multi-step check.
type Story struct {
	// Name uniquely identifies the story.
	Name string `yaml:"name"`

	// Steps run sequentially; the first failing step fails the story.
	Steps []Step `yaml:"steps"`

	// Schedule governs when and how often the story runs.
	Schedule Schedule `yaml:"schedule"`

	// Alerts lists webhook destinations notified on status transitions.
	Alerts []Alert `yaml:"alerts"`
}

// Step is one request within a story. It is shaped like a probe minus
// the schedule and alerting fields.
type Step struct {
	Name         string         `yaml:"name"`
	URL          string         `yaml:"url"`
	HTTPMethod   string         `yaml:"http_method"`
	With         *RequestParams `yaml:"with"`
	Expectations []Expectation  `yaml:"expectations"`
}

// RequestParams carries optional request construction parameters.
type RequestParams struct {
	// Headers are sent with the request.
	Headers map[string]string `yaml:"headers"`

	// Body is the raw request body.
	Body string `yaml:"body"`

	// Timeout is the per-request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`
}

// Expectation is a single assertion against a response.
//
// Field selects what is inspected ("status_code" or "body"), Operation
// how ("equals", "not_equals", "contains", "is_one_of") and Value /
// Values what it is compared against. Values is only meaningful for
// is_one_of.
type Expectation struct {
	Field     string   `yaml:"field"`
	Operation string   `yaml:"operation"`
	Value     string   `yaml:"value"`
	Values    []string `yaml:"values"`
}

// Alert is a webhook destination for status-transition notifications.
type Alert struct {
	URL string `yaml:"url"`
}

// Schedule is the execution cadence of a probe or story: a delay before
// the first execution, then a fixed interval between executions.
type Schedule struct {
	// InitialDelay is the pause before the first execution.
	InitialDelay Duration `yaml:"initial_delay"`

	// Interval is the pause between subsequent executions. Must be
	// positive; a zero interval is rejected at validation.
	Interval Duration `yaml:"interval"`
}

// Duration wraps time.Duration for YAML unmarshalling.
//
// It accepts either a bare number (interpreted as seconds, matching the
// schedule fields of older config files) or a duration string like
// "90s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var seconds int64
	if err := node.Decode(&seconds); err == nil {
		if seconds < 0 {
			return fmt.Errorf("duration must not be negative, got %d", seconds)
		}
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration must not be negative, got %q", s)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Parse parses YAML configuration data and validates it.
//
// Environment substitution is NOT applied here; callers that read raw
// sources should go through Load, which substitutes before parsing.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for structural problems: duplicate
// names, missing or unparseable URLs, empty stories and non-positive
// intervals.
func (c *Config) Validate() error {
	seenProbes := make(map[string]bool, len(c.Probes))
	for i, p := range c.Probes {
		ctx := fmt.Sprintf("probe[%d]", i)
		if p.Name != "" {
			ctx = fmt.Sprintf("probe %q", p.Name)
		}

		if p.Name == "" {
			return fmt.Errorf("%s: name is required", ctx)
		}
		if seenProbes[p.Name] {
			return fmt.Errorf("duplicate probe name: %q", p.Name)
		}
		seenProbes[p.Name] = true

		if err := validateURL(p.URL, ctx); err != nil {
			return err
		}
		if err := p.Schedule.validate(ctx); err != nil {
			return err
		}
		for j, e := range p.Expectations {
			if err := e.validate(fmt.Sprintf("%s expectation[%d]", ctx, j)); err != nil {
				return err
			}
		}
	}

	seenStories := make(map[string]bool, len(c.Stories))
	for i, s := range c.Stories {
		ctx := fmt.Sprintf("story[%d]", i)
		if s.Name != "" {
			ctx = fmt.Sprintf("story %q", s.Name)
		}

		if s.Name == "" {
			return fmt.Errorf("%s: name is required", ctx)
		}
		if seenStories[s.Name] {
			return fmt.Errorf("duplicate story name: %q", s.Name)
		}
		seenStories[s.Name] = true

		if len(s.Steps) == 0 {
			return fmt.Errorf("%s: at least one step is required", ctx)
		}
		for j, step := range s.Steps {
			stepCtx := fmt.Sprintf("%s step[%d]", ctx, j)
			if step.Name != "" {
				stepCtx = fmt.Sprintf("%s step %q", ctx, step.Name)
			}
			if err := validateURL(step.URL, stepCtx); err != nil {
				return err
			}
			for k, e := range step.Expectations {
				if err := e.validate(fmt.Sprintf("%s expectation[%d]", stepCtx, k)); err != nil {
					return err
				}
			}
		}
		if err := s.Schedule.validate(ctx); err != nil {
			return err
		}
	}

	return nil
}

// ProbeNames returns the probe names in declaration order.
func (c *Config) ProbeNames() []string {
	names := make([]string, 0, len(c.Probes))
	for _, p := range c.Probes {
		names = append(names, p.Name)
	}
	return names
}

// StoryNames returns the story names in declaration order.
func (c *Config) StoryNames() []string {
	names := make([]string, 0, len(c.Stories))
	for _, s := range c.Stories {
		names = append(names, s.Name)
	}
	return names
}

func (s Schedule) validate(context string) error {
	if s.InitialDelay.Duration() < 0 {
		return fmt.Errorf("%s: initial_delay must not be negative", context)
	}
	if s.Interval.Duration() <= 0 {
		return fmt.Errorf("%s: interval must be positive", context)
	}
	return nil
}

func (e Expectation) validate(context string) error {
	switch e.Field {
	case "status_code", "body":
	default:
		return fmt.Errorf("%s: unknown field %q (expected 'status_code' or 'body')", context, e.Field)
	}

	switch e.Operation {
	case "equals", "not_equals", "contains":
		if e.Value == "" {
			return fmt.Errorf("%s: value is required for operation %q", context, e.Operation)
		}
	case "is_one_of":
		if len(e.Values) == 0 {
			return fmt.Errorf("%s: values is required for operation %q", context, e.Operation)
		}
	default:
		return fmt.Errorf("%s: unknown operation %q (expected 'equals', 'not_equals', 'contains', or 'is_one_of')", context, e.Operation)
	}

	return nil
}

func validateURL(raw, context string) error {
	if raw == "" {
		return fmt.Errorf("%s: url is required", context)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid url %q: %w", context, raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s: url %q must use http or https scheme", context, raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s: url %q has no host", context, raw)
	}

	return nil
}
