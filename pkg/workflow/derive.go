package workflow

// DeriveStatus computes the contract status from the state of its tracks.
// Statuses set explicitly after approval (see ContractStatus.IsDerived) are
// returned unchanged. Precedence: revision requested, then approved, then
// in-flight variants.
func DeriveStatus(current ContractStatus, required []TrackType, tracks []*ApprovalTrack) ContractStatus {
	if !current.IsDerived() {
		return current
	}
	if len(required) == 0 {
		required = AllTrackTypes
	}

	var open, approved []*ApprovalTrack
	submitted := 0
	for _, t := range required {
		tr := latestTrack(tracks, t)
		if tr == nil {
			continue
		}
		submitted++
		switch {
		case tr.Status.IsNegative():
			return StatusRevisionRequested
		case tr.Status == TrackApproved:
			approved = append(approved, tr)
		case tr.Status.IsOpen():
			open = append(open, tr)
		}
	}

	if submitted == 0 {
		return StatusDraft
	}
	if len(approved) == len(required) {
		return StatusApproved
	}
	for _, tr := range open {
		if tr.Status == TrackEscalated {
			return StatusPendingLegalHead
		}
	}

	switch len(open) {
	case 0:
		// Part of the required set is approved, the rest not yet submitted.
		if approved[0].Type == TrackLegal {
			return StatusLegalApproved
		}
		return StatusFinanceReviewed
	case 1:
		return inFlightStatus(open[0])
	default:
		return StatusInReview
	}
}

// DeriveView is DeriveStatus applied to a loaded contract view.
func DeriveView(v *ContractView) ContractStatus {
	return DeriveStatus(v.Contract.Status, v.Contract.RequiredTracks, v.Tracks)
}

func inFlightStatus(tr *ApprovalTrack) ContractStatus {
	opened := tr.OpenedAt != nil
	switch {
	case tr.Type == TrackLegal && opened:
		return StatusLegalReviewInProgress
	case tr.Type == TrackLegal:
		return StatusSentToLegal
	case opened:
		return StatusFinanceReviewInProgress
	default:
		return StatusSentToFinance
	}
}

// latestTrack returns the most recent track of type t. Tracks are ordered
// oldest first, so a later revision cycle shadows earlier records.
func latestTrack(tracks []*ApprovalTrack, t TrackType) *ApprovalTrack {
	for i := len(tracks) - 1; i >= 0; i-- {
		if tracks[i].Type == t {
			return tracks[i]
		}
	}
	return nil
}

// normalizeTracks removes duplicates and keeps canonical order.
func normalizeTracks(in []TrackType) []TrackType {
	out := make([]TrackType, 0, len(AllTrackTypes))
	for _, t := range AllTrackTypes {
		for _, r := range in {
			if r == t {
				out = append(out, t)
				break
			}
		}
	}
	return out
}
