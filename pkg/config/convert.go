package config

import (
	"time"

	"github.com/contractflow/contractflow/pkg/stores"
	"github.com/contractflow/contractflow/pkg/telemetry"
	"github.com/contractflow/contractflow/pkg/workflow"
)

// EngineConfig returns the workflow engine settings.
func (c *Config) EngineConfig() workflow.Config {
	cfg := workflow.DefaultConfig()
	cfg.DefaultRequiredTracks = make([]workflow.TrackType, 0, len(c.Workflow.DefaultRequiredTracks))
	for _, t := range c.Workflow.DefaultRequiredTracks {
		cfg.DefaultRequiredTracks = append(cfg.DefaultRequiredTracks, workflow.TrackType(t))
	}
	cfg.MinApprovalComment = c.Workflow.MinApprovalComment
	cfg.ExecutionStatus = workflow.ContractStatus(c.Workflow.ExecutionStatus)
	return cfg
}

// StoreConfig returns the SQLite store settings.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{
		Path:         c.Store.Path,
		MaxOpenConns: c.Store.MaxOpenConns,
		BusyTimeout:  time.Duration(c.Store.BusyTimeoutMs) * time.Millisecond,
	}
}

// TelemetryConfig returns the telemetry settings for the given build version.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	t := c.Telemetry
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = t.ServiceName
	cfg.ServiceVersion = version
	cfg.Environment = t.Environment

	cfg.Logging.Level = t.LogLevel
	cfg.Logging.Format = t.LogFormat
	cfg.Logging.Output = t.LogOutput

	cfg.Tracing.Enabled = t.Tracing.Enabled
	cfg.Tracing.Exporter = t.Tracing.Exporter
	cfg.Tracing.Endpoint = t.Tracing.Endpoint
	cfg.Tracing.SamplingRate = t.Tracing.SamplingRate
	cfg.Tracing.Insecure = t.Tracing.Insecure

	cfg.Metrics.Enabled = t.Metrics.Enabled
	cfg.Metrics.Path = t.Metrics.Path
	cfg.Metrics.Namespace = t.Metrics.Namespace

	cfg.Events.Enabled = t.Events.Enabled
	cfg.Events.BufferSize = t.Events.BufferSize
	return cfg
}

// RoutingTimeout returns the per-call routing script budget.
func (c *Config) RoutingTimeout() time.Duration {
	return time.Duration(c.Workflow.RoutingTimeoutMs) * time.Millisecond
}

// ReadTimeout returns the HTTP server read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the HTTP server write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
