package workflow

import (
	"context"
)

// Scope narrows a capability check to a contract and, for track decisions,
// to the track type and responsible tier.
type Scope struct {
	ContractID string    `json:"contract_id,omitempty"`
	TrackType  TrackType `json:"track_type,omitempty"`
	ActorRole  ActorRole `json:"actor_role,omitempty"`
}

// PermissionOracle answers whether an actor holds a capability. It is called
// before any mutation; a false answer short-circuits with Forbidden.
type PermissionOracle interface {
	HasCapability(ctx context.Context, actorID string, capability Capability, scope Scope) (bool, error)
}

// AuditRecorder appends audit entries. Implementations must write inside the
// transaction that performs the state mutation.
type AuditRecorder interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error
}

// Tx is the single transaction boundary every operation runs in. The contract
// row and its tracks form one consistency domain guarded by Contract.Version.
type Tx interface {
	AuditRecorder

	GetContract(ctx context.Context, id string) (*Contract, error)
	CreateContract(ctx context.Context, c *Contract) error

	// UpdateContract writes c and bumps its version if the stored version
	// equals expectedVersion. Otherwise it returns ErrStaleVersion.
	UpdateContract(ctx context.Context, c *Contract, expectedVersion int64) error

	GetTrack(ctx context.Context, id string) (*ApprovalTrack, error)
	ListTracks(ctx context.Context, contractID string) ([]*ApprovalTrack, error)

	// FindOpenTrack returns the PENDING or ESCALATED track of type t, or
	// ErrNotFound. It is an indexed lookup.
	FindOpenTrack(ctx context.Context, contractID string, t TrackType) (*ApprovalTrack, error)

	// CreateTrack inserts a new track. It returns ErrOpenTrackExists if an open
	// track of the same type exists for the contract.
	CreateTrack(ctx context.Context, t *ApprovalTrack) error

	// UpdateTrack writes t with the same compare-and-swap semantics as
	// UpdateContract.
	UpdateTrack(ctx context.Context, t *ApprovalTrack, expectedVersion int64) error
}

// Store provides transactions and the read side.
type Store interface {
	// WithTx runs fn in one serializable transaction. It commits if fn returns
	// nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetContract(ctx context.Context, id string) (*Contract, error)
	ListContracts(ctx context.Context, status *ContractStatus, limit, offset int) ([]*Contract, error)
	ListTracks(ctx context.Context, contractID string) ([]*ApprovalTrack, error)
	GetTrack(ctx context.Context, id string) (*ApprovalTrack, error)
	ListAudit(ctx context.Context, contractID string, limit, offset int) ([]*AuditEntry, error)
}

// Router decides which tracks a new contract requires when the creator does
// not say. Returning nil falls back to the configured defaults.
type Router interface {
	RequiredTracks(ctx context.Context, input CreateInput) ([]TrackType, error)
}

// Notifier receives the notification trigger points after commit.
// Delivery is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Notification is emitted once per successful operation.
type Notification struct {
	Action     Action         `json:"action"`
	ContractID string         `json:"contract_id"`
	TrackID    string         `json:"track_id,omitempty"`
	TrackType  TrackType      `json:"track_type,omitempty"`
	ActorID    string         `json:"actor_id"`
	From       ContractStatus `json:"from"`
	To         ContractStatus `json:"to"`
	Comment    string         `json:"comment,omitempty"`
}
