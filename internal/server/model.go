package server

import "time"

// MonitorsResponse lists the names in the active configuration.
type MonitorsResponse struct {
	Probes  []string `json:"probes"`
	Stories []string `json:"stories"`
}

// MonitorStatusResponse is the latest-status summary for one monitor.
// Status is "pending" for a monitor that has not executed yet. Tags are
// only present for probes.
type MonitorStatusResponse struct {
	Name       string            `json:"name"`
	Status     string            `json:"status"`
	LastProbed *time.Time        `json:"last_probed,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// ReloadResponse reports the outcome of a successful reload.
type ReloadResponse struct {
	Reloaded bool     `json:"reloaded"`
	Probes   []string `json:"probes"`
	Stories  []string `json:"stories"`
}

// ErrorResponse carries an error message for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}
