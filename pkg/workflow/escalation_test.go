package workflow

import (
	"errors"
	"testing"
)

func TestCanEscalate(t *testing.T) {
	allowed := Escalator{ID: "lena", MayEscalate: true}
	denied := Escalator{ID: "fred"}

	escalatedOnce := track(TrackLegal, TrackPending, false)
	escalatedOnce.Escalated = true

	tests := []struct {
		name   string
		track  *ApprovalTrack
		status ContractStatus
		actor  Escalator
		want   bool
	}{
		{"pending legal", track(TrackLegal, TrackPending, false), StatusSentToLegal, allowed, true},
		{"opened legal", track(TrackLegal, TrackPending, true), StatusLegalReviewInProgress, allowed, true},
		{"no capability", track(TrackLegal, TrackPending, false), StatusSentToLegal, denied, false},
		{"finance track", track(TrackFinance, TrackPending, false), StatusSentToFinance, allowed, false},
		{"already escalated", track(TrackLegal, TrackEscalated, false), StatusPendingLegalHead, allowed, false},
		{"escalated flag survives", escalatedOnce, StatusSentToLegal, allowed, false},
		{"resolved track", track(TrackLegal, TrackApproved, false), StatusLegalApproved, allowed, false},
		{"parallel review", track(TrackLegal, TrackPending, false), StatusInReview, allowed, true},
		{"parallel review started", track(TrackLegal, TrackPending, true), StatusInReview, allowed, true},
		{"parallel review without capability", track(TrackLegal, TrackPending, false), StatusInReview, denied, false},
		{"revision requested", track(TrackLegal, TrackPending, false), StatusRevisionRequested, allowed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanEscalate(tt.track, tt.status, tt.actor); got != tt.want {
				t.Errorf("CanEscalate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEscalationGuardCode(t *testing.T) {
	err := escalationGuard(track(TrackLegal, TrackEscalated, false), StatusPendingLegalHead)
	if err == nil {
		t.Fatal("expected an error for an escalated track")
	}
	if err.Code != ErrCodeAlreadyEscalated {
		t.Errorf("expected code %s, got %s", ErrCodeAlreadyEscalated, err.Code)
	}
	if !IsInvalidState(err) {
		t.Errorf("expected invalid state, got %s", err.Class)
	}
}

func TestGuardSubmit(t *testing.T) {
	view := func(status ContractStatus, required []TrackType, tracks ...*ApprovalTrack) *ContractView {
		return &ContractView{
			Contract: &Contract{ID: "c-1", Status: status, RequiredTracks: required},
			Tracks:   tracks,
		}
	}
	both := []TrackType{TrackLegal, TrackFinance}

	tests := []struct {
		name   string
		view   *ContractView
		target TrackType
		code   string
	}{
		{"draft", view(StatusDraft, both), TrackLegal, ""},
		{"second discipline in parallel", view(StatusSentToLegal, both, track(TrackLegal, TrackPending, false)), TrackFinance, ""},
		{"resubmit after revision", view(StatusRevisionRequested, both, track(TrackLegal, TrackRejected, false)), TrackLegal, ""},
		{"double submission", view(StatusSentToLegal, both, track(TrackLegal, TrackPending, false)), TrackLegal, ErrCodeTrackOpen},
		{"escalated counts as open", view(StatusPendingLegalHead, both, track(TrackLegal, TrackEscalated, false)), TrackLegal, ErrCodeTrackOpen},
		{"not required", view(StatusDraft, []TrackType{TrackLegal}), TrackFinance, ErrCodeTrackNotRequired},
		{"approved track in review phase", view(StatusLegalApproved, both, track(TrackLegal, TrackApproved, false)), TrackLegal, ErrCodeInvalidState},
		{"after approval", view(StatusApproved, both), TrackLegal, ErrCodeInvalidState},
		{"cancelled", view(StatusCancelled, both), TrackLegal, ErrCodeInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guardSubmit(tt.view, tt.target, openTrack(tt.view, tt.target))
			if tt.code == "" {
				if err != nil {
					t.Fatalf("expected submit to be allowed, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected submit to be refused")
			}
			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	err := NewConflictError("stale", ErrStaleVersion).
		WithOperation("approve").
		WithContract(&Contract{ID: "c-1", Status: StatusSentToLegal}).
		WithTrack("t-1")

	if !IsConflict(err) {
		t.Error("expected conflict")
	}
	if !errors.Is(err, ErrStaleVersion) {
		t.Error("expected to unwrap to ErrStaleVersion")
	}
	if !errors.Is(err, &Error{Class: ErrorClassConflict}) {
		t.Error("expected class match through errors.Is")
	}
	if ClassOf(errors.New("boom")) != ErrorClassInternal {
		t.Error("expected plain errors to classify as internal")
	}
	want := "[conflict] stale (operation=approve, contract=c-1, track=t-1, status=SENT_TO_LEGAL): stale version"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
