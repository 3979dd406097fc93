package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/contractflow/contractflow/pkg/telemetry"
)

// Config holds the business rules the engine applies.
type Config struct {
	// DefaultRequiredTracks is used when neither the creator nor the router
	// names the required tracks.
	DefaultRequiredTracks []TrackType

	// MinApprovalComment is the minimum approval comment length in runes.
	MinApprovalComment int

	// ExecutionStatus is the status set by UploadSigned (ACTIVE or EXECUTED).
	ExecutionStatus ContractStatus
}

// DefaultConfig returns the default business rules.
func DefaultConfig() Config {
	return Config{
		DefaultRequiredTracks: []TrackType{TrackLegal, TrackFinance},
		MinApprovalComment:    10,
		ExecutionStatus:       StatusActive,
	}
}

// Engine owns the contract lifecycle. Every operation is permission checked
// and runs as one compare-and-swap transaction together with its audit entry.
// Nothing is retried internally.
type Engine struct {
	store    Store
	oracle   PermissionOracle
	router   Router
	notifier Notifier
	cfg      Config
	validate *validator.Validate
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithRouter sets the required-track router.
func WithRouter(r Router) Option { return func(e *Engine) { e.router = r } }

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l.With().Str("component", "workflow-engine").Logger() }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates a workflow engine.
func NewEngine(store Store, oracle PermissionOracle, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if oracle == nil {
		return nil, fmt.Errorf("permission oracle is required")
	}
	if len(cfg.DefaultRequiredTracks) == 0 {
		cfg.DefaultRequiredTracks = DefaultConfig().DefaultRequiredTracks
	}
	if cfg.MinApprovalComment <= 0 {
		cfg.MinApprovalComment = DefaultConfig().MinApprovalComment
	}
	switch cfg.ExecutionStatus {
	case "":
		cfg.ExecutionStatus = StatusActive
	case StatusActive, StatusExecuted:
	default:
		return nil, fmt.Errorf("invalid execution status: %s", cfg.ExecutionStatus)
	}

	e := &Engine{
		store:    store,
		oracle:   oracle,
		cfg:      cfg,
		validate: validator.New(),
		logger:   zerolog.Nop(),
		tracer:   otel.Tracer("github.com/contractflow/contractflow/pkg/workflow"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CallOption tunes a single operation.
type CallOption func(*callOptions)

type callOptions struct {
	expectedVersion int64
}

// AtVersion makes the operation fail with Conflict unless the contract is
// still at version v.
func AtVersion(v int64) CallOption {
	return func(o *callOptions) { o.expectedVersion = v }
}

// result is what a mutation reports back for the audit entry and event.
type result struct {
	action  Action
	track   *ApprovalTrack
	comment string
	meta    TransitionMetadata
}

// request carries what run needs to load and authorize an operation.
type request struct {
	op         Operation
	actorID    string
	contractID string
	trackID    string
	opts       []CallOption
}

// mutation changes the loaded view through tx. It must not write the
// contract row; run does that with the version check.
type mutation func(ctx context.Context, tx Tx, v *ContractView, tr *ApprovalTrack) (*result, error)

// authorizer returns the capability and scope for the loaded state.
type authorizer func(v *ContractView, tr *ApprovalTrack) (Capability, Scope)

func (e *Engine) run(ctx context.Context, req request, auth authorizer, guard func(*ContractView, *ApprovalTrack) *Error, mutate mutation) (view *ContractView, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow."+string(req.op), trace.WithAttributes(
		telemetry.AttrOperation.String(string(req.op)),
		telemetry.AttrActor.String(req.actorID),
		telemetry.AttrContractID.String(req.contractID),
		telemetry.AttrTrackID.String(req.trackID),
	))
	timer := telemetry.NewTimer()
	defer func() {
		e.finish(span, req, timer.Duration(), err)
		span.End()
	}()

	if strings.TrimSpace(req.actorID) == "" {
		return nil, NewValidationError("actor id is required", nil).WithOperation(string(req.op))
	}
	var co callOptions
	for _, o := range req.opts {
		o(&co)
	}

	var res *result
	err = e.store.WithTx(ctx, func(tx Tx) error {
		var tr *ApprovalTrack
		contractID := req.contractID
		if req.trackID != "" {
			t, err := tx.GetTrack(ctx, req.trackID)
			if err != nil {
				return e.storeError(req, err)
			}
			tr = t
			contractID = t.ContractID
		}

		v, err := e.loadView(ctx, tx, contractID)
		if err != nil {
			return e.storeError(req, err)
		}
		if tr != nil {
			// Use the instance inside the view so mutations stay visible to DeriveView.
			tr = v.Track(tr.ID)
		}
		c := v.Contract
		loadedVersion := c.Version
		if co.expectedVersion != 0 && co.expectedVersion != loadedVersion {
			return NewConflictError("contract was updated by someone else, reload and retry", ErrStaleVersion).
				WithOperation(string(req.op)).WithContract(c).
				WithDetail("expected_version", co.expectedVersion).
				WithDetail("current_version", loadedVersion)
		}

		capability, scope := auth(v, tr)
		if err := e.authorize(ctx, req, capability, scope); err != nil {
			return err.WithContract(c)
		}
		if gerr := guard(v, tr); gerr != nil {
			return gerr.WithOperation(string(req.op)).WithContract(c)
		}

		from := c.Status
		res, err = mutate(ctx, tx, v, tr)
		if err != nil {
			return e.storeError(req, err)
		}
		if c.Status.IsDerived() {
			c.Status = DeriveView(v)
		}
		c.UpdatedAt = e.now().UTC()
		if err := tx.UpdateContract(ctx, c, loadedVersion); err != nil {
			return e.storeError(req, err)
		}

		res.meta.From = from
		res.meta.To = c.Status
		res.meta.Version = c.Version
		if err := e.appendAudit(ctx, tx, req, c, res); err != nil {
			return e.storeError(req, err)
		}
		view = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.AddTransitionEvent(span, string(res.action), string(res.meta.From), string(res.meta.To))
	e.notify(ctx, req, view, res)
	return view, nil
}

func (e *Engine) loadView(ctx context.Context, tx Tx, contractID string) (*ContractView, error) {
	c, err := tx.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	tracks, err := tx.ListTracks(ctx, contractID)
	if err != nil {
		return nil, err
	}
	return &ContractView{Contract: c, Tracks: tracks}, nil
}

func (e *Engine) authorize(ctx context.Context, req request, capability Capability, scope Scope) *Error {
	ok, err := e.oracle.HasCapability(ctx, req.actorID, capability, scope)
	if err != nil {
		return NewInternalError("permission check failed", err).WithOperation(string(req.op))
	}
	if !ok {
		return NewForbiddenError(fmt.Sprintf("actor %s lacks capability %s", req.actorID, capability)).
			WithOperation(string(req.op)).WithTrack(req.trackID).
			WithDetail("capability", capability)
	}
	return nil
}

func (e *Engine) appendAudit(ctx context.Context, tx Tx, req request, c *Contract, res *result) error {
	meta, err := json.Marshal(res.meta)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}
	entry := &AuditEntry{
		ContractID: c.ID,
		Action:     res.action,
		ActorID:    req.actorID,
		Comment:    res.comment,
		Metadata:   meta,
		CreatedAt:  e.now().UTC(),
	}
	if res.track != nil {
		id := res.track.ID
		entry.TrackID = &id
	}
	return tx.AppendAudit(ctx, entry)
}

// storeError classifies errors coming out of the transaction body.
func (e *Engine) storeError(req request, err error) error {
	var we *Error
	switch {
	case errors.As(err, &we):
		if we.Operation == "" {
			we.Operation = string(req.op)
		}
		return we
	case errors.Is(err, ErrNotFound):
		return NewNotFoundError("contract or track not found", err).
			WithOperation(string(req.op)).WithTrack(req.trackID)
	case errors.Is(err, ErrStaleVersion):
		return NewConflictError("contract was updated by someone else, reload and retry", err).
			WithOperation(string(req.op)).WithTrack(req.trackID)
	case errors.Is(err, ErrOpenTrackExists):
		return NewInvalidStateError("an open track of this type already exists").
			WithCode(ErrCodeTrackOpen).WithOperation(string(req.op)).WithDetail("cause", err.Error())
	default:
		return NewInternalError("transaction failed", err).WithOperation(string(req.op))
	}
}

func (e *Engine) finish(span trace.Span, req request, d time.Duration, err error) {
	if e.metrics != nil {
		e.metrics.ObserveOperation(string(req.op), d)
	}
	log := e.logger.With().
		Str("operation", string(req.op)).
		Str("actor", req.actorID).
		Str("contract_id", req.contractID).
		Str("track_id", req.trackID).
		Dur("duration", d).
		Logger()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		log.Debug().Msg("Operation completed")
		return
	}

	class := ClassOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(telemetry.AttrErrorClass.String(string(class)))
	var werr *Error
	if errors.As(err, &werr) && werr.Code != "" {
		span.SetAttributes(telemetry.AttrErrorCode.String(werr.Code))
	}
	if e.metrics != nil {
		e.metrics.RecordOperationError(string(req.op), string(class))
	}
	if class == ErrorClassInternal {
		log.Error().Err(err).Msg("Operation failed")
		return
	}
	log.Info().Err(err).Str("class", string(class)).Msg("Operation rejected")
}

func (e *Engine) notify(ctx context.Context, req request, v *ContractView, res *result) {
	if e.metrics != nil {
		e.metrics.RecordTransition(string(res.action), string(v.Contract.Status))
	}
	e.logger.Info().
		Str("action", string(res.action)).
		Str("contract_id", v.Contract.ID).
		Str("from", string(res.meta.From)).
		Str("to", string(res.meta.To)).
		Int64("version", v.Contract.Version).
		Msg("Contract transition committed")

	if e.notifier == nil {
		return
	}
	n := Notification{
		Action:     res.action,
		ContractID: v.Contract.ID,
		ActorID:    req.actorID,
		From:       res.meta.From,
		To:         res.meta.To,
		Comment:    res.comment,
	}
	if res.track != nil {
		n.TrackID = res.track.ID
		n.TrackType = res.track.Type
	}
	e.notifier.Notify(ctx, n)
}
