package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContractStatus is the lifecycle stage of a contract.
type ContractStatus string

const (
	StatusDraft                   ContractStatus = "DRAFT"
	StatusSentToLegal             ContractStatus = "SENT_TO_LEGAL"
	StatusSentToFinance           ContractStatus = "SENT_TO_FINANCE"
	StatusLegalReviewInProgress   ContractStatus = "LEGAL_REVIEW_IN_PROGRESS"
	StatusFinanceReviewInProgress ContractStatus = "FINANCE_REVIEW_IN_PROGRESS"
	StatusPendingLegalHead        ContractStatus = "PENDING_LEGAL_HEAD"
	StatusInReview                ContractStatus = "IN_REVIEW"
	StatusLegalApproved           ContractStatus = "LEGAL_APPROVED"
	StatusFinanceReviewed         ContractStatus = "FINANCE_REVIEWED"
	StatusRevisionRequested       ContractStatus = "REVISION_REQUESTED"
	StatusApproved                ContractStatus = "APPROVED"
	StatusSentToCounterparty      ContractStatus = "SENT_TO_COUNTERPARTY"
	StatusActive                  ContractStatus = "ACTIVE"
	StatusExecuted                ContractStatus = "EXECUTED"
	StatusCancelled               ContractStatus = "CANCELLED"
)

// AllStatuses lists every contract status in lifecycle order.
var AllStatuses = []ContractStatus{
	StatusDraft, StatusSentToLegal, StatusSentToFinance,
	StatusLegalReviewInProgress, StatusFinanceReviewInProgress,
	StatusPendingLegalHead, StatusInReview, StatusLegalApproved,
	StatusFinanceReviewed, StatusRevisionRequested, StatusApproved,
	StatusSentToCounterparty, StatusActive, StatusExecuted, StatusCancelled,
}

// IsTerminal returns true if no further transition can leave the status.
func (s ContractStatus) IsTerminal() bool {
	return s == StatusActive || s == StatusExecuted || s == StatusCancelled
}

// IsDerived returns true if the status is computed from the contract's tracks.
// Statuses after approval are set explicitly by send, uploadSigned and cancel.
func (s ContractStatus) IsDerived() bool {
	switch s {
	case StatusSentToCounterparty, StatusActive, StatusExecuted, StatusCancelled:
		return false
	}
	return true
}

// InReviewPhase returns true while tracks may still be submitted or decided.
func (s ContractStatus) InReviewPhase() bool {
	switch s {
	case StatusSentToLegal, StatusSentToFinance,
		StatusLegalReviewInProgress, StatusFinanceReviewInProgress,
		StatusPendingLegalHead, StatusInReview,
		StatusLegalApproved, StatusFinanceReviewed:
		return true
	}
	return false
}

// Validate checks if the contract status is valid.
func (s ContractStatus) Validate() error {
	switch s {
	case StatusDraft, StatusSentToLegal, StatusSentToFinance,
		StatusLegalReviewInProgress, StatusFinanceReviewInProgress,
		StatusPendingLegalHead, StatusInReview, StatusLegalApproved,
		StatusFinanceReviewed, StatusRevisionRequested, StatusApproved,
		StatusSentToCounterparty, StatusActive, StatusExecuted, StatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid contract status: %s", s)
	}
}

// TrackType is a review discipline.
type TrackType string

const (
	TrackLegal   TrackType = "LEGAL"
	TrackFinance TrackType = "FINANCE"
)

// AllTrackTypes lists the disciplines in their canonical order.
var AllTrackTypes = []TrackType{TrackLegal, TrackFinance}

// Validate checks if the track type is valid.
func (t TrackType) Validate() error {
	switch t {
	case TrackLegal, TrackFinance:
		return nil
	default:
		return fmt.Errorf("invalid track type: %s", t)
	}
}

// ParseTrackType parses a track type case-sensitively.
func ParseTrackType(s string) (TrackType, error) {
	t := TrackType(s)
	return t, t.Validate()
}

// TrackStatus is the state of a single approval track record.
type TrackStatus string

const (
	TrackPending           TrackStatus = "PENDING"
	TrackEscalated         TrackStatus = "ESCALATED"
	TrackApproved          TrackStatus = "APPROVED"
	TrackRejected          TrackStatus = "REJECTED"
	TrackRevisionRequested TrackStatus = "REVISION_REQUESTED"
)

// IsOpen returns true for the non-terminal states PENDING and ESCALATED.
func (s TrackStatus) IsOpen() bool {
	return s == TrackPending || s == TrackEscalated
}

// IsNegative returns true if the decision sends the contract back for revision.
func (s TrackStatus) IsNegative() bool {
	return s == TrackRejected || s == TrackRevisionRequested
}

// ActorRole is the tier responsible for an open track.
type ActorRole string

const (
	RoleManager ActorRole = "MANAGER"
	RoleHead    ActorRole = "HEAD"
)

// Capability names a permission checked through the PermissionOracle.
type Capability string

const (
	CapContractCreate Capability = "contract:create"
	CapContractSend   Capability = "contract:send"
	CapContractCancel Capability = "contract:cancel"
	CapLegalAct       Capability = "approval:legal:act"
	CapFinanceAct     Capability = "approval:finance:act"
	CapLegalEscalate  Capability = "approval:legal:escalate"
)

// AllCapabilities lists every capability the engine checks.
func AllCapabilities() []Capability {
	return []Capability{
		CapContractCreate, CapContractSend, CapContractCancel,
		CapLegalAct, CapFinanceAct, CapLegalEscalate,
	}
}

// ActCapability returns the capability needed to decide a track of type t.
func ActCapability(t TrackType) Capability {
	if t == TrackFinance {
		return CapFinanceAct
	}
	return CapLegalAct
}

// Action names a transition. Audit entries and notification events carry it.
type Action string

const (
	ActionCreated           Action = "CONTRACT_CREATED"
	ActionSubmitted         Action = "CONTRACT_SUBMITTED"
	ActionReviewStarted     Action = "REVIEW_STARTED"
	ActionApproved          Action = "CONTRACT_APPROVED"
	ActionRejected          Action = "CONTRACT_REJECTED"
	ActionRevisionRequested Action = "CONTRACT_REVISION_REQUESTED"
	ActionEscalated         Action = "CONTRACT_ESCALATED"
	ActionSent              Action = "CONTRACT_SENT"
	ActionExecuted          Action = "CONTRACT_EXECUTED"
	ActionCancelled         Action = "CONTRACT_CANCELLED"
)

// Contract is the document moving through the approval workflow.
type Contract struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	Status            ContractStatus `json:"status"`
	Amount            int64          `json:"amount"`                      // minor units
	Currency          string         `json:"currency,omitempty"`
	CounterpartyName  string         `json:"counterparty_name"`
	CounterpartyEmail string         `json:"counterparty_email"`
	RequiredTracks    []TrackType    `json:"required_tracks"`
	SignedAttachment  *string        `json:"signed_attachment,omitempty"`
	CreatedBy         string         `json:"created_by"`
	Version           int64          `json:"version"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Requires reports whether t is one of the contract's required tracks.
func (c *Contract) Requires(t TrackType) bool {
	for _, r := range c.RequiredTracks {
		if r == t {
			return true
		}
	}
	return false
}

// ApprovalTrack is one discipline's review record for one review cycle.
type ApprovalTrack struct {
	ID         string      `json:"id"`
	ContractID string      `json:"contract_id"`
	Type       TrackType   `json:"type"`
	Status     TrackStatus `json:"status"`
	ActorRole  ActorRole   `json:"actor_role"`
	Escalated  bool        `json:"escalated"`
	Comment    string      `json:"comment,omitempty"`
	DecidedBy  *string     `json:"decided_by,omitempty"`
	Version    int64       `json:"version"`
	CreatedAt  time.Time   `json:"created_at"`
	OpenedAt   *time.Time  `json:"opened_at,omitempty"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}

// AuditEntry is one append-only record of a successful transition.
type AuditEntry struct {
	ID         int64           `json:"id"`
	ContractID string          `json:"contract_id"`
	TrackID    *string         `json:"track_id,omitempty"`
	Action     Action          `json:"action"`
	ActorID    string          `json:"actor_id"`
	Comment    string          `json:"comment,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// TransitionMetadata is stored as the audit entry metadata.
type TransitionMetadata struct {
	From      ContractStatus `json:"from"`
	To        ContractStatus `json:"to"`
	TrackType TrackType      `json:"track_type,omitempty"`
	Version   int64          `json:"version"`
	Reason    string         `json:"reason,omitempty"`
	Reference string         `json:"reference,omitempty"`
}

// ContractView is a contract together with every track it owns, oldest first.
type ContractView struct {
	Contract *Contract        `json:"contract"`
	Tracks   []*ApprovalTrack `json:"tracks"`
}

// CurrentTrack returns the most recent track of type t, or nil.
func (v *ContractView) CurrentTrack(t TrackType) *ApprovalTrack {
	return latestTrack(v.Tracks, t)
}

// Track returns the track with the given id, or nil.
func (v *ContractView) Track(id string) *ApprovalTrack {
	for _, tr := range v.Tracks {
		if tr.ID == id {
			return tr
		}
	}
	return nil
}

// CreateInput describes a new contract.
type CreateInput struct {
	Title             string      `json:"title" validate:"required,max=200"`
	Amount            int64       `json:"amount" validate:"gte=0"`
	Currency          string      `json:"currency" validate:"omitempty,len=3"`
	CounterpartyName  string      `json:"counterparty_name" validate:"required"`
	CounterpartyEmail string      `json:"counterparty_email" validate:"omitempty,email"`
	RequiredTracks    []TrackType `json:"required_tracks,omitempty" validate:"omitempty,max=2,dive,oneof=LEGAL FINANCE"`
}
