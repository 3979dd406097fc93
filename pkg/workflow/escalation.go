package workflow

// Escalator is the actor asking to promote a legal track to the head tier.
type Escalator struct {
	ID string

	// MayEscalate is the oracle's answer for approval:legal:escalate.
	MayEscalate bool
}

// CanEscalate reports whether actor may escalate track while the contract is
// in status. Escalation is one-shot per review cycle: an escalated track is
// never PENDING again, and the next cycle starts with a fresh track. A legal
// track running in parallel with finance (IN_REVIEW) is eligible too.
func CanEscalate(track *ApprovalTrack, status ContractStatus, actor Escalator) bool {
	return actor.MayEscalate && escalationGuard(track, status) == nil
}

func escalationGuard(track *ApprovalTrack, status ContractStatus) *Error {
	if track.Type != TrackLegal {
		return NewInvalidStateError("only legal tracks can be escalated")
	}
	if track.Escalated || track.Status == TrackEscalated {
		return NewInvalidStateError("track already escalated").WithCode(ErrCodeAlreadyEscalated)
	}
	if track.Status != TrackPending {
		return NewInvalidStateError("track is not pending").WithDetail("track_status", track.Status)
	}
	switch status {
	case StatusSentToLegal, StatusLegalReviewInProgress, StatusInReview:
	default:
		return NewInvalidStateError("contract is not in legal review")
	}
	return nil
}
