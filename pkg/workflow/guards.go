package workflow

// Operation names an engine command.
type Operation string

const (
	OpCreate          Operation = "create"
	OpSubmit          Operation = "submit"
	OpStartReview     Operation = "start_review"
	OpApprove         Operation = "approve"
	OpReject          Operation = "reject"
	OpRequestRevision Operation = "request_revision"
	OpEscalate        Operation = "escalate"
	OpSend            Operation = "send"
	OpUploadSigned    Operation = "upload_signed"
	OpCancel          Operation = "cancel"
)

// cancellable lists the statuses cancel may leave.
var cancellable = map[ContractStatus]bool{
	StatusDraft:                   true,
	StatusRevisionRequested:       true,
	StatusSentToLegal:             true,
	StatusSentToFinance:           true,
	StatusLegalReviewInProgress:   true,
	StatusFinanceReviewInProgress: true,
	StatusPendingLegalHead:        true,
	StatusInReview:                true,
	StatusLegalApproved:           true,
	StatusFinanceReviewed:         true,
}

// IsCancellable reports whether cancel is legal from s.
func IsCancellable(s ContractStatus) bool {
	return cancellable[s]
}

// guardSubmit checks a submission of target. open is the open track of that
// type, or nil when there is none.
func guardSubmit(v *ContractView, target TrackType, open *ApprovalTrack) *Error {
	c := v.Contract
	if !c.Requires(target) {
		return NewInvalidStateError("track is not required for this contract").
			WithCode(ErrCodeTrackNotRequired).WithDetail("track_type", target)
	}
	if open != nil {
		return NewInvalidStateError("an open track of this type already exists").
			WithCode(ErrCodeTrackOpen).WithTrack(open.ID)
	}
	cur := v.CurrentTrack(target)
	switch {
	case c.Status == StatusDraft || c.Status == StatusRevisionRequested:
		return nil
	case c.Status.InReviewPhase() && cur == nil:
		return nil
	}
	return NewInvalidStateError("contract cannot be submitted from its current status")
}

func guardDecision(v *ContractView, tr *ApprovalTrack) *Error {
	if !tr.Status.IsOpen() {
		return NewInvalidStateError("track is already resolved").
			WithTrack(tr.ID).WithDetail("track_status", tr.Status)
	}
	s := v.Contract.Status
	if !s.InReviewPhase() && s != StatusRevisionRequested {
		return NewInvalidStateError("contract is not under review").WithTrack(tr.ID)
	}
	return nil
}

func guardStartReview(v *ContractView, tr *ApprovalTrack) *Error {
	if err := guardDecision(v, tr); err != nil {
		return err
	}
	if tr.Status != TrackPending || tr.OpenedAt != nil {
		return NewInvalidStateError("review already started").WithTrack(tr.ID)
	}
	return nil
}

func guardEscalate(v *ContractView, tr *ApprovalTrack) *Error {
	if err := escalationGuard(tr, v.Contract.Status); err != nil {
		return err.WithTrack(tr.ID)
	}
	return nil
}

func guardSend(v *ContractView) *Error {
	if v.Contract.Status != StatusApproved {
		return NewInvalidStateError("contract is not approved")
	}
	return nil
}

func guardUploadSigned(v *ContractView) *Error {
	if v.Contract.Status != StatusSentToCounterparty {
		return NewInvalidStateError("contract has not been sent to the counterparty")
	}
	return nil
}

func guardCancel(v *ContractView) *Error {
	if !IsCancellable(v.Contract.Status) {
		return NewInvalidStateError("contract can no longer be cancelled")
	}
	return nil
}

// AvailableAction is one command the UI may offer.
type AvailableAction struct {
	Operation Operation `json:"operation"`
	TrackID   string    `json:"track_id,omitempty"`
	TrackType TrackType `json:"track_type,omitempty"`
}

// candidateActions lists every action whose state guard passes for v,
// together with the capability and scope the actor must hold.
func candidateActions(v *ContractView) []candidate {
	var out []candidate
	c := v.Contract

	for _, t := range c.RequiredTracks {
		if guardSubmit(v, t, openTrack(v, t)) == nil {
			out = append(out, candidate{
				action: AvailableAction{Operation: OpSubmit, TrackType: t},
				cap:    CapContractCreate,
				scope:  Scope{ContractID: c.ID, TrackType: t},
			})
		}
		tr := v.CurrentTrack(t)
		if tr == nil || !tr.Status.IsOpen() {
			continue
		}
		scope := Scope{ContractID: c.ID, TrackType: t, ActorRole: tr.ActorRole}
		if guardStartReview(v, tr) == nil {
			out = append(out, candidate{action: trackAction(OpStartReview, tr), cap: ActCapability(t), scope: scope})
		}
		if guardDecision(v, tr) == nil {
			for _, op := range []Operation{OpApprove, OpReject, OpRequestRevision} {
				out = append(out, candidate{action: trackAction(op, tr), cap: ActCapability(t), scope: scope})
			}
		}
		if tr.Type == TrackLegal {
			// Eligibility is settled by CanEscalate once the capability is known.
			capability, escScope := escalateAuth(v, tr)
			out = append(out, candidate{action: trackAction(OpEscalate, tr), cap: capability, scope: escScope, escalate: tr})
		}
	}

	contractScope := Scope{ContractID: c.ID}
	if guardSend(v) == nil {
		out = append(out, candidate{action: AvailableAction{Operation: OpSend}, cap: CapContractSend, scope: contractScope})
	}
	if guardUploadSigned(v) == nil {
		out = append(out, candidate{action: AvailableAction{Operation: OpUploadSigned}, cap: CapContractSend, scope: contractScope})
	}
	if guardCancel(v) == nil {
		out = append(out, candidate{action: AvailableAction{Operation: OpCancel}, cap: CapContractCancel, scope: contractScope})
	}
	return out
}

type candidate struct {
	action AvailableAction
	cap    Capability
	scope  Scope

	// escalate is the track an escalate candidate would promote.
	escalate *ApprovalTrack
}

// openTrack finds the open track of type t in an already loaded view.
func openTrack(v *ContractView, t TrackType) *ApprovalTrack {
	if cur := v.CurrentTrack(t); cur != nil && cur.Status.IsOpen() {
		return cur
	}
	return nil
}

func trackAction(op Operation, tr *ApprovalTrack) AvailableAction {
	return AvailableAction{Operation: op, TrackID: tr.ID, TrackType: tr.Type}
}
