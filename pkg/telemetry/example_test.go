package telemetry_test

import (
	"context"
	"fmt"
	"os"

	"github.com/contractflow/contractflow/pkg/telemetry"
)

func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"
	cfg.Logging.Output = "stdout"
	cfg.Logging.Level = "error"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	defer tel.Shutdown(context.Background())

	fmt.Println(tel.Config.ServiceName)
	// Output: contractflow
}

func Example_componentLogging() {
	logger := telemetry.NewLoggerWithWriter(telemetry.LoggingConfig{
		Level:  "info",
		Format: "json",
	}, os.Stdout)

	l := logger.Component("api")
	l.Debug().Str("contract_id", "c-1").Msg("not printed")
	// Output:
}

func Example_eventPublishing() {
	publisher := telemetry.NewEventPublisher(telemetry.EventsConfig{
		Enabled:    true,
		BufferSize: 10,
	})

	publisher.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Action, e.ContractID, e.From, "->", e.To)
	}, "CONTRACT_APPROVED")

	_ = publisher.Publish(telemetry.Event{Action: "CONTRACT_SUBMITTED", ContractID: "c-1"})
	_ = publisher.Publish(telemetry.Event{Action: "CONTRACT_APPROVED", ContractID: "c-1", From: "SENT_TO_LEGAL", To: "APPROVED"})
	_ = publisher.Shutdown(context.Background())
	// Output: CONTRACT_APPROVED c-1 SENT_TO_LEGAL -> APPROVED
}
