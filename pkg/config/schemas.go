package config

import (
	"fmt"

	"cuelang.org/go/cue"
)

// builtinConfigSchema constrains and defaults every configuration file.
// #Config is closed, so unknown keys are rejected.
const builtinConfigSchema = `
#TrackType: "LEGAL" | "FINANCE"

#Config: {
	workflow: {
		default_required_tracks: *["LEGAL", "FINANCE"] | [...#TrackType]
		min_approval_comment:    int & >=0 | *10
		execution_status:        *"ACTIVE" | "EXECUTED"
		routing_script?:         string
		routing_timeout_ms:      int & >0 | *1000
	}

	store: {
		path:            string | *"contractflow.db"
		max_open_conns:  int & >=0 | *0
		busy_timeout_ms: int & >=0 | *5000
	}

	policy: {
		bindings_file?: string
		module_file?:   string
		watch:          bool | *false
	}

	telemetry: {
		service_name: string | *"contractflow"
		environment:  string | *"development"
		log_level:    *"info" | "trace" | "debug" | "warn" | "error" | "fatal"
		log_format:   *"console" | "json"
		log_output:   string | *"stderr"

		tracing: {
			enabled:       bool | *false
			exporter:      *"none" | "stdout" | "otlp"
			endpoint?:     string
			sampling_rate: number & >=0 & <=1 | *1.0
			insecure:      bool | *true
		}

		metrics: {
			enabled:   bool | *true
			path:      string | *"/metrics"
			namespace: string | *"contractflow"
		}

		events: {
			enabled:     bool | *true
			buffer_size: int & >0 | *1000
		}
	}

	server: {
		addr:                     string | *":8080"
		read_timeout_seconds:     int & >0 | *15
		write_timeout_seconds:    int & >0 | *15
		shutdown_timeout_seconds: int & >0 | *10
	}
}
`

// compileSchema compiles the built-in schema and returns #Config.
func compileSchema(ctx *cue.Context) (cue.Value, error) {
	val := ctx.CompileString(builtinConfigSchema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile config schema: %w", err)
	}
	def := val.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("config schema has no #Config: %w", err)
	}
	return def, nil
}

// Schema returns the CUE source of the configuration schema.
func Schema() string {
	return builtinConfigSchema
}
