package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"github.com/contractflow/contractflow/pkg/telemetry"
)

// Create registers a new DRAFT contract owned by actorID.
func (e *Engine) Create(ctx context.Context, actorID string, in CreateInput) (view *ContractView, err error) {
	req := request{op: OpCreate, actorID: actorID}
	ctx, span := e.tracer.Start(ctx, "workflow.create", trace.WithAttributes(
		telemetry.AttrActor.String(actorID),
	))
	defer span.End()
	timer := telemetry.NewTimer()
	defer func() { e.finish(span, req, timer.Duration(), err) }()

	if strings.TrimSpace(actorID) == "" {
		return nil, NewValidationError("actor id is required", nil).WithOperation(string(OpCreate))
	}
	if err := e.validate.Struct(in); err != nil {
		return nil, NewValidationError("invalid contract input", err).WithOperation(string(OpCreate))
	}
	ok, err := e.oracle.HasCapability(ctx, actorID, CapContractCreate, Scope{})
	if err != nil {
		return nil, NewInternalError("permission check failed", err).WithOperation(string(OpCreate))
	}
	if !ok {
		return nil, NewForbiddenError(fmt.Sprintf("actor %s lacks capability %s", actorID, CapContractCreate)).
			WithOperation(string(OpCreate))
	}

	required, err := e.requiredTracks(ctx, in)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	c := &Contract{
		ID:                e.newID(),
		Title:             in.Title,
		Status:            StatusDraft,
		Amount:            in.Amount,
		Currency:          strings.ToUpper(in.Currency),
		CounterpartyName:  in.CounterpartyName,
		CounterpartyEmail: in.CounterpartyEmail,
		RequiredTracks:    required,
		CreatedBy:         actorID,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	res := &result{action: ActionCreated, meta: TransitionMetadata{To: StatusDraft, Version: 1}}
	req.contractID = c.ID

	err = e.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.CreateContract(ctx, c); err != nil {
			return e.storeError(req, err)
		}
		if err := e.appendAudit(ctx, tx, req, c, res); err != nil {
			return e.storeError(req, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	view = &ContractView{Contract: c, Tracks: []*ApprovalTrack{}}
	span.SetAttributes(telemetry.AttrContractID.String(c.ID))
	telemetry.AddTransitionEvent(span, string(res.action), "", string(StatusDraft))
	e.notify(ctx, req, view, res)
	return view, nil
}

func (e *Engine) requiredTracks(ctx context.Context, in CreateInput) ([]TrackType, error) {
	if len(in.RequiredTracks) > 0 {
		return normalizeTracks(in.RequiredTracks), nil
	}
	if e.router != nil {
		routed, err := e.router.RequiredTracks(ctx, in)
		if err != nil {
			return nil, NewInternalError("required track routing failed", err).WithOperation(string(OpCreate))
		}
		for _, t := range routed {
			if err := t.Validate(); err != nil {
				return nil, NewInternalError("router returned an invalid track", err).WithOperation(string(OpCreate))
			}
		}
		if len(routed) > 0 {
			return normalizeTracks(routed), nil
		}
	}
	return normalizeTracks(e.cfg.DefaultRequiredTracks), nil
}

// Submit opens a new PENDING track of type target.
func (e *Engine) Submit(ctx context.Context, actorID, contractID string, target TrackType, opts ...CallOption) (*ContractView, error) {
	if err := target.Validate(); err != nil {
		return nil, NewValidationError("invalid track type", err).WithOperation(string(OpSubmit))
	}
	req := request{op: OpSubmit, actorID: actorID, contractID: contractID, opts: opts}
	auth := func(v *ContractView, _ *ApprovalTrack) (Capability, Scope) {
		return CapContractCreate, Scope{ContractID: v.Contract.ID, TrackType: target}
	}
	// The open-track check needs the transaction, so the guard runs in the mutation.
	noGuard := func(*ContractView, *ApprovalTrack) *Error { return nil }

	return e.run(ctx, req, auth, noGuard, func(ctx context.Context, tx Tx, v *ContractView, _ *ApprovalTrack) (*result, error) {
		open, err := tx.FindOpenTrack(ctx, v.Contract.ID, target)
		switch {
		case errors.Is(err, ErrNotFound):
			open = nil
		case err != nil:
			return nil, err
		}
		if gerr := guardSubmit(v, target, open); gerr != nil {
			return nil, gerr.WithContract(v.Contract)
		}

		tr := &ApprovalTrack{
			ID:         e.newID(),
			ContractID: v.Contract.ID,
			Type:       target,
			Status:     TrackPending,
			ActorRole:  RoleManager,
			Version:    1,
			CreatedAt:  e.now().UTC(),
		}
		if err := tx.CreateTrack(ctx, tr); err != nil {
			return nil, err
		}
		v.Tracks = append(v.Tracks, tr)
		return &result{action: ActionSubmitted, track: tr, meta: TransitionMetadata{TrackType: target}}, nil
	})
}

// StartReview records that a reviewer opened a PENDING track.
func (e *Engine) StartReview(ctx context.Context, actorID, trackID string, opts ...CallOption) (*ContractView, error) {
	req := request{op: OpStartReview, actorID: actorID, trackID: trackID, opts: opts}
	return e.run(ctx, req, trackAuth(ActCapability), guardStartReview,
		func(ctx context.Context, tx Tx, v *ContractView, tr *ApprovalTrack) (*result, error) {
			now := e.now().UTC()
			tr.OpenedAt = &now
			if err := e.updateTrack(ctx, tx, tr); err != nil {
				return nil, err
			}
			return &result{action: ActionReviewStarted, track: tr, meta: TransitionMetadata{TrackType: tr.Type}}, nil
		})
}

// Approve resolves an open track as APPROVED. The comment must reach the
// configured minimum length.
func (e *Engine) Approve(ctx context.Context, actorID, trackID, comment string, opts ...CallOption) (*ContractView, error) {
	trimmed := strings.TrimSpace(comment)
	if err := e.validate.Var(trimmed, fmt.Sprintf("min=%d", e.cfg.MinApprovalComment)); err != nil {
		return nil, NewValidationError(
			fmt.Sprintf("approval comment must be at least %d characters", e.cfg.MinApprovalComment), err).
			WithCode(ErrCodeCommentTooShort).WithOperation(string(OpApprove)).WithTrack(trackID).
			WithDetail("length", utf8.RuneCountInString(trimmed))
	}
	return e.decide(ctx, OpApprove, actorID, trackID, trimmed, opts)
}

// Reject resolves an open track as REJECTED and sends the contract back for
// revision. The comment is recorded verbatim.
func (e *Engine) Reject(ctx context.Context, actorID, trackID, comment string, opts ...CallOption) (*ContractView, error) {
	if err := e.requireText(OpReject, trackID, "comment", comment); err != nil {
		return nil, err
	}
	return e.decide(ctx, OpReject, actorID, trackID, comment, opts)
}

// RequestRevision resolves an open track as REVISION_REQUESTED.
func (e *Engine) RequestRevision(ctx context.Context, actorID, trackID, comment string, opts ...CallOption) (*ContractView, error) {
	if err := e.requireText(OpRequestRevision, trackID, "comment", comment); err != nil {
		return nil, err
	}
	return e.decide(ctx, OpRequestRevision, actorID, trackID, comment, opts)
}

func (e *Engine) decide(ctx context.Context, op Operation, actorID, trackID, comment string, opts []CallOption) (*ContractView, error) {
	status, action := TrackApproved, ActionApproved
	switch op {
	case OpReject:
		status, action = TrackRejected, ActionRejected
	case OpRequestRevision:
		status, action = TrackRevisionRequested, ActionRevisionRequested
	}

	req := request{op: op, actorID: actorID, trackID: trackID, opts: opts}
	return e.run(ctx, req, trackAuth(ActCapability), guardDecision,
		func(ctx context.Context, tx Tx, v *ContractView, tr *ApprovalTrack) (*result, error) {
			now := e.now().UTC()
			decidedBy := actorID
			tr.Status = status
			tr.Comment = comment
			tr.DecidedBy = &decidedBy
			tr.ResolvedAt = &now
			if err := e.updateTrack(ctx, tx, tr); err != nil {
				return nil, err
			}
			return &result{action: action, track: tr, comment: comment, meta: TransitionMetadata{TrackType: tr.Type}}, nil
		})
}

// Escalate promotes a PENDING legal track to the legal-head tier.
func (e *Engine) Escalate(ctx context.Context, actorID, trackID string, opts ...CallOption) (*ContractView, error) {
	req := request{op: OpEscalate, actorID: actorID, trackID: trackID, opts: opts}
	return e.run(ctx, req, escalateAuth, guardEscalate,
		func(ctx context.Context, tx Tx, v *ContractView, tr *ApprovalTrack) (*result, error) {
			tr.Status = TrackEscalated
			tr.ActorRole = RoleHead
			tr.Escalated = true
			if err := e.updateTrack(ctx, tx, tr); err != nil {
				return nil, err
			}
			return &result{action: ActionEscalated, track: tr, meta: TransitionMetadata{TrackType: tr.Type}}, nil
		})
}

// Send hands an APPROVED contract to the counterparty.
func (e *Engine) Send(ctx context.Context, actorID, contractID string, opts ...CallOption) (*ContractView, error) {
	req := request{op: OpSend, actorID: actorID, contractID: contractID, opts: opts}
	return e.run(ctx, req, contractAuth(CapContractSend), contractGuard(guardSend),
		func(_ context.Context, _ Tx, v *ContractView, _ *ApprovalTrack) (*result, error) {
			v.Contract.Status = StatusSentToCounterparty
			return &result{action: ActionSent}, nil
		})
}

// UploadSigned records the counterparty-signed document and closes the
// workflow in the configured execution status.
func (e *Engine) UploadSigned(ctx context.Context, actorID, contractID, attachmentRef string, opts ...CallOption) (*ContractView, error) {
	if err := e.requireText(OpUploadSigned, "", "attachment reference", attachmentRef); err != nil {
		return nil, err
	}
	req := request{op: OpUploadSigned, actorID: actorID, contractID: contractID, opts: opts}
	return e.run(ctx, req, contractAuth(CapContractSend), contractGuard(guardUploadSigned),
		func(_ context.Context, _ Tx, v *ContractView, _ *ApprovalTrack) (*result, error) {
			ref := attachmentRef
			v.Contract.SignedAttachment = &ref
			v.Contract.Status = e.cfg.ExecutionStatus
			return &result{action: ActionExecuted, meta: TransitionMetadata{Reference: ref}}, nil
		})
}

// Cancel terminally cancels a contract that has not been approved. Open
// tracks are closed as REJECTED with a system comment; resolved tracks keep
// their decision for the audit history.
func (e *Engine) Cancel(ctx context.Context, actorID, contractID, reason string, opts ...CallOption) (*ContractView, error) {
	if err := e.requireText(OpCancel, "", "cancellation reason", reason); err != nil {
		return nil, err
	}
	req := request{op: OpCancel, actorID: actorID, contractID: contractID, opts: opts}
	return e.run(ctx, req, contractAuth(CapContractCancel), contractGuard(guardCancel),
		func(ctx context.Context, tx Tx, v *ContractView, _ *ApprovalTrack) (*result, error) {
			now := e.now().UTC()
			for _, tr := range v.Tracks {
				if !tr.Status.IsOpen() {
					continue
				}
				resolvedAt := now
				tr.Status = TrackRejected
				tr.Comment = "contract cancelled: " + reason
				tr.ResolvedAt = &resolvedAt
				if err := e.updateTrack(ctx, tx, tr); err != nil {
					return nil, err
				}
			}
			v.Contract.Status = StatusCancelled
			return &result{action: ActionCancelled, comment: reason, meta: TransitionMetadata{Reason: reason}}, nil
		})
}

func (e *Engine) updateTrack(ctx context.Context, tx Tx, tr *ApprovalTrack) error {
	return tx.UpdateTrack(ctx, tr, tr.Version)
}

func (e *Engine) requireText(op Operation, trackID, field, value string) error {
	if err := e.validate.Var(strings.TrimSpace(value), "required"); err != nil {
		return NewValidationError(field+" is required", err).WithOperation(string(op)).WithTrack(trackID)
	}
	return nil
}

// trackAuth derives capability and scope from the track being acted on. An
// escalated track is checked in HEAD scope.
func trackAuth(capFor func(TrackType) Capability) authorizer {
	return func(v *ContractView, tr *ApprovalTrack) (Capability, Scope) {
		return capFor(tr.Type), Scope{ContractID: v.Contract.ID, TrackType: tr.Type, ActorRole: tr.ActorRole}
	}
}

// escalateAuth ignores the tier: escalating is a manager-tier capability even
// when the track has already moved up.
func escalateAuth(v *ContractView, tr *ApprovalTrack) (Capability, Scope) {
	return CapLegalEscalate, Scope{ContractID: v.Contract.ID, TrackType: tr.Type}
}

func contractAuth(c Capability) authorizer {
	return func(v *ContractView, _ *ApprovalTrack) (Capability, Scope) {
		return c, Scope{ContractID: v.Contract.ID}
	}
}

func contractGuard(g func(*ContractView) *Error) func(*ContractView, *ApprovalTrack) *Error {
	return func(v *ContractView, _ *ApprovalTrack) *Error { return g(v) }
}
