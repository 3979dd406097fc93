// Package telemetry provides observability instrumentation for contractflow.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an in-process event publisher
// that carries workflow notification triggers.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// The workflow engine consumes the parts individually:
//
//	engine, err := workflow.NewEngine(store, oracle, wcfg,
//	    workflow.WithLogger(tel.Logger.Zerolog()),
//	    workflow.WithMetrics(tel.Metrics),
//	    workflow.WithTracer(tel.Tracer.OTel()),
//	    workflow.WithNotifier(workflow.NewEventNotifier(tel.Events, tel.Metrics, tel.Logger.Component("notifier"))),
//	)
//
// # Metrics
//
// All metrics live under the configured namespace (default "contractflow"):
//
//   - workflow_transitions_total{action,status}
//   - workflow_operation_duration_seconds{operation}
//   - workflow_operation_errors_total{operation,class}
//   - contracts{status}
//   - notifications_dropped_total
//   - policy_reloads_total{result}
//
// Metrics methods are nil-safe, so components may be built without a collector.
//
// # Events
//
// Events are published after a workflow transaction commits and delivered
// to subscribers from one goroutine in publish order. Subscribers pick the
// actions they care about. Delivery is best effort: when the queue is full
// Publish returns ErrEventBufferFull and the caller counts the drop.
package telemetry
