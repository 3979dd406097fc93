package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/contractflow/contractflow/pkg/telemetry"
	"github.com/contractflow/contractflow/pkg/workflow"
)

// Engine evaluates capability checks with OPA. It implements
// workflow.PermissionOracle.
type Engine struct {
	mu       sync.RWMutex
	module   string
	query    rego.PreparedEvalQuery
	bindings *Bindings
	loadedAt time.Time
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
}

var _ workflow.PermissionOracle = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithModule replaces the built-in Rego policy. The module must define
// data.contractflow.authz.allow.
func WithModule(rego string) Option {
	return func(e *Engine) { e.module = rego }
}

// WithMetrics records reloads on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine compiles the policy against bindings.
func NewEngine(logger zerolog.Logger, bindings *Bindings, opts ...Option) (*Engine, error) {
	e := &Engine{
		module: DefaultModule,
		logger: logger.With().Str("component", "policy-engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if bindings == nil {
		bindings = DefaultBindings()
	}

	if err := e.SetBindings(context.Background(), bindings); err != nil {
		return nil, err
	}
	return e, nil
}

// HasCapability reports whether actorID holds capability within scope.
func (e *Engine) HasCapability(ctx context.Context, actorID string, capability workflow.Capability, scope workflow.Scope) (bool, error) {
	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	input := map[string]interface{}{
		"actor":      actorID,
		"capability": string(capability),
		"scope": map[string]interface{}{
			"contract_id": scope.ContractID,
			"track_type":  string(scope.TrackType),
			"actor_role":  string(scope.ActorRole),
		},
	}

	rs, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("policy evaluation failed: %w", err)
	}
	allowed := rs.Allowed()

	e.logger.Debug().
		Str("actor", actorID).
		Str("capability", string(capability)).
		Str("contract_id", scope.ContractID).
		Str("actor_role", string(scope.ActorRole)).
		Bool("allowed", allowed).
		Msg("Capability checked")

	return allowed, nil
}

// Explain evaluates a capability check and returns it as a Decision.
func (e *Engine) Explain(ctx context.Context, actorID string, capability workflow.Capability, scope workflow.Scope) (*Decision, error) {
	allowed, err := e.HasCapability(ctx, actorID, capability, scope)
	if err != nil {
		return nil, err
	}
	return &Decision{Actor: actorID, Capability: capability, Scope: scope, Allowed: allowed}, nil
}

// SetBindings validates b, recompiles the policy with b as its data document
// and swaps it in. On error the previous bindings stay active.
func (e *Engine) SetBindings(ctx context.Context, b *Bindings) (err error) {
	// The initial compile is not a reload.
	if reload := !e.LoadedAt().IsZero(); reload {
		defer func() { e.metrics.RecordPolicyReload(err == nil) }()
	}

	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid role bindings: %w", err)
	}

	data, err := toDocument(b)
	if err != nil {
		return err
	}

	query, err := rego.New(
		rego.Module("contractflow_authz.rego", e.module),
		rego.Store(inmem.NewFromObject(data)),
		rego.Query(DefaultQuery),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile policy: %w", err)
	}

	e.mu.Lock()
	e.query = query
	e.bindings = b
	e.loadedAt = time.Now()
	e.mu.Unlock()

	e.logger.Info().
		Int("roles", len(b.Roles)).
		Int("actors", len(b.Bindings)).
		Msg("Role bindings loaded")

	return nil
}

// Bindings returns the active bindings. Callers must not modify the result.
func (e *Engine) Bindings() *Bindings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bindings
}

// LoadedAt returns when the active bindings were compiled.
func (e *Engine) LoadedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadedAt
}

// toDocument converts b to the generic JSON shape the OPA store expects.
func toDocument(b *Bindings) (map[string]interface{}, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode role bindings: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode role bindings: %w", err)
	}
	if doc["bindings"] == nil {
		doc["bindings"] = map[string]interface{}{}
	}
	return doc, nil
}
