package workflow

import (
	"context"
)

// GetContract returns a contract with every track it owns, oldest first.
func (e *Engine) GetContract(ctx context.Context, contractID string) (*ContractView, error) {
	c, err := e.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, e.readError("get_contract", err)
	}
	tracks, err := e.store.ListTracks(ctx, contractID)
	if err != nil {
		return nil, e.readError("get_contract", err)
	}
	return &ContractView{Contract: c, Tracks: tracks}, nil
}

// ListContracts lists contracts, optionally filtered by status.
func (e *Engine) ListContracts(ctx context.Context, status *ContractStatus, limit, offset int) ([]*Contract, error) {
	if status != nil {
		if err := status.Validate(); err != nil {
			return nil, NewValidationError("invalid status filter", err).WithOperation("list_contracts")
		}
	}
	if limit <= 0 {
		limit = 50
	}
	contracts, err := e.store.ListContracts(ctx, status, limit, offset)
	if err != nil {
		return nil, e.readError("list_contracts", err)
	}
	return contracts, nil
}

// AuditTrail returns the audit entries of a contract in the order they were
// appended.
func (e *Engine) AuditTrail(ctx context.Context, contractID string, limit, offset int) ([]*AuditEntry, error) {
	if _, err := e.store.GetContract(ctx, contractID); err != nil {
		return nil, e.readError("audit_trail", err)
	}
	if limit <= 0 {
		limit = 100
	}
	entries, err := e.store.ListAudit(ctx, contractID, limit, offset)
	if err != nil {
		return nil, e.readError("audit_trail", err)
	}
	return entries, nil
}

// AvailableActions returns the actions actorID may perform on the contract
// right now. It evaluates the same guards and capability checks as the
// operations but mutates nothing.
func (e *Engine) AvailableActions(ctx context.Context, actorID, contractID string) ([]AvailableAction, error) {
	v, err := e.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	out := []AvailableAction{}
	for _, cand := range candidateActions(v) {
		ok, err := e.oracle.HasCapability(ctx, actorID, cand.cap, cand.scope)
		if err != nil {
			return nil, NewInternalError("permission check failed", err).WithOperation("available_actions")
		}
		if cand.escalate != nil {
			ok = CanEscalate(cand.escalate, v.Contract.Status, Escalator{ID: actorID, MayEscalate: ok})
		}
		if ok {
			out = append(out, cand.action)
		}
	}
	return out, nil
}

func (e *Engine) readError(op string, err error) error {
	return e.storeError(request{op: Operation(op)}, err)
}
