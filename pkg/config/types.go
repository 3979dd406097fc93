package config

import (
	"fmt"
	"strings"
)

// Config is the complete contractflow configuration.
type Config struct {
	Workflow  WorkflowConfig  `json:"workflow"`
	Store     StoreConfig     `json:"store"`
	Policy    PolicyConfig    `json:"policy"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Server    ServerConfig    `json:"server"`
}

// WorkflowConfig tunes the approval engine.
type WorkflowConfig struct {
	// DefaultRequiredTracks applies when neither the creator nor the routing
	// script names the tracks.
	DefaultRequiredTracks []string `json:"default_required_tracks" validate:"min=1,max=2,unique,dive,oneof=LEGAL FINANCE"`

	// MinApprovalComment is the minimum approval comment length in characters.
	MinApprovalComment int `json:"min_approval_comment" validate:"gte=0,lte=1000"`

	// ExecutionStatus is the status a contract takes when the signed copy is uploaded.
	ExecutionStatus string `json:"execution_status" validate:"oneof=ACTIVE EXECUTED"`

	// RoutingScript is an optional Starlark file defining required_tracks(contract).
	RoutingScript string `json:"routing_script,omitempty"`

	// RoutingTimeoutMs bounds a single routing script call.
	RoutingTimeoutMs int `json:"routing_timeout_ms" validate:"gt=0"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the database file, or ":memory:".
	Path string `json:"path" validate:"required"`

	MaxOpenConns  int `json:"max_open_conns" validate:"gte=0"`
	BusyTimeoutMs int `json:"busy_timeout_ms" validate:"gte=0"`
}

// PolicyConfig locates role bindings and the optional custom Rego module.
type PolicyConfig struct {
	BindingsFile string `json:"bindings_file,omitempty"`
	ModuleFile   string `json:"module_file,omitempty"`

	// Watch reloads BindingsFile when it changes.
	Watch bool `json:"watch"`
}

// TelemetryConfig is the subset of telemetry settings exposed in config files.
type TelemetryConfig struct {
	ServiceName string `json:"service_name" validate:"required"`
	Environment string `json:"environment"`

	LogLevel  string `json:"log_level" validate:"oneof=trace debug info warn error fatal"`
	LogFormat string `json:"log_format" validate:"oneof=console json"`
	LogOutput string `json:"log_output"`

	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Events  EventsConfig  `json:"events"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	Exporter     string  `json:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string  `json:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `json:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `json:"insecure"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Path      string `json:"path" validate:"startswith=/"`
	Namespace string `json:"namespace" validate:"required"`
}

// EventsConfig configures the notification publisher.
type EventsConfig struct {
	Enabled    bool `json:"enabled"`
	BufferSize int  `json:"buffer_size" validate:"gt=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr                   string `json:"addr" validate:"required"`
	ReadTimeoutSeconds     int    `json:"read_timeout_seconds" validate:"gt=0"`
	WriteTimeoutSeconds    int    `json:"write_timeout_seconds" validate:"gt=0"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" validate:"gt=0"`
}

// ValidationError represents a configuration error with its location.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors collects every problem found in a configuration.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.String()
	}
	return fmt.Sprintf("invalid configuration: %s", strings.Join(msgs, "; "))
}
