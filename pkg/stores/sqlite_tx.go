package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/contractflow/contractflow/pkg/workflow"
)

// sqliteTx implements workflow.Tx. It only ever touches tx: the pool may
// have a single connection, which the transaction already holds.
type sqliteTx struct {
	tx *sql.Tx
}

var _ workflow.Tx = (*sqliteTx)(nil)

func (t *sqliteTx) GetContract(ctx context.Context, id string) (*workflow.Contract, error) {
	return getContract(ctx, t.tx, id)
}

func (t *sqliteTx) CreateContract(ctx context.Context, c *workflow.Contract) error {
	required, err := json.Marshal(c.RequiredTracks)
	if err != nil {
		return fmt.Errorf("failed to encode required tracks: %w", err)
	}

	query := `
		INSERT INTO contracts (id, title, status, amount, currency, counterparty_name, counterparty_email,
			required_tracks, signed_attachment, created_by, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = t.tx.ExecContext(ctx, query,
		c.ID,
		c.Title,
		c.Status,
		c.Amount,
		c.Currency,
		c.CounterpartyName,
		c.CounterpartyEmail,
		string(required),
		nullString(c.SignedAttachment),
		c.CreatedBy,
		c.Version,
		c.CreatedAt.UTC(),
		c.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create contract: %w", err)
	}
	return nil
}

func (t *sqliteTx) UpdateContract(ctx context.Context, c *workflow.Contract, expectedVersion int64) error {
	query := `
		UPDATE contracts
		SET status = ?, signed_attachment = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := t.tx.ExecContext(ctx, query,
		c.Status,
		nullString(c.SignedAttachment),
		c.UpdatedAt.UTC(),
		c.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update contract: %w", err)
	}

	if err := expectOneRow(result, "contract", c.ID); err != nil {
		return err
	}
	c.Version = expectedVersion + 1
	return nil
}

func (t *sqliteTx) GetTrack(ctx context.Context, id string) (*workflow.ApprovalTrack, error) {
	return getTrack(ctx, t.tx, id)
}

func (t *sqliteTx) ListTracks(ctx context.Context, contractID string) ([]*workflow.ApprovalTrack, error) {
	return listTracks(ctx, t.tx, contractID)
}

func (t *sqliteTx) FindOpenTrack(ctx context.Context, contractID string, tt workflow.TrackType) (*workflow.ApprovalTrack, error) {
	query := `
		SELECT ` + trackColumns + `
		FROM approval_tracks
		WHERE contract_id = ? AND type = ? AND status IN ('PENDING', 'ESCALATED')
	`

	tr, err := scanTrack(t.tx.QueryRowContext(ctx, query, contractID, tt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open %s track of contract %s: %w", tt, contractID, workflow.ErrNotFound)
	}
	return tr, err
}

func (t *sqliteTx) CreateTrack(ctx context.Context, tr *workflow.ApprovalTrack) error {
	query := `
		INSERT INTO approval_tracks (id, contract_id, type, status, actor_role, escalated, comment,
			decided_by, version, created_at, opened_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := t.tx.ExecContext(ctx, query,
		tr.ID,
		tr.ContractID,
		tr.Type,
		tr.Status,
		tr.ActorRole,
		tr.Escalated,
		tr.Comment,
		nullString(tr.DecidedBy),
		tr.Version,
		tr.CreatedAt.UTC(),
		nullTime(tr.OpenedAt),
		nullTime(tr.ResolvedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("contract %s already has an open %s track: %w", tr.ContractID, tr.Type, workflow.ErrOpenTrackExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create track: %w", err)
	}
	return nil
}

func (t *sqliteTx) UpdateTrack(ctx context.Context, tr *workflow.ApprovalTrack, expectedVersion int64) error {
	query := `
		UPDATE approval_tracks
		SET status = ?, actor_role = ?, escalated = ?, comment = ?, decided_by = ?,
			opened_at = ?, resolved_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := t.tx.ExecContext(ctx, query,
		tr.Status,
		tr.ActorRole,
		tr.Escalated,
		tr.Comment,
		nullString(tr.DecidedBy),
		nullTime(tr.OpenedAt),
		nullTime(tr.ResolvedAt),
		tr.ID,
		expectedVersion,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("contract %s already has an open %s track: %w", tr.ContractID, tr.Type, workflow.ErrOpenTrackExists)
	}
	if err != nil {
		return fmt.Errorf("failed to update track: %w", err)
	}

	if err := expectOneRow(result, "track", tr.ID); err != nil {
		return err
	}
	tr.Version = expectedVersion + 1
	return nil
}

func (t *sqliteTx) AppendAudit(ctx context.Context, entry *workflow.AuditEntry) error {
	metadata := string(entry.Metadata)
	if metadata == "" {
		metadata = "{}"
	}

	query := `
		INSERT INTO audit_entries (contract_id, track_id, action, actor_id, comment, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := t.tx.ExecContext(ctx, query,
		entry.ContractID,
		nullString(entry.TrackID),
		entry.Action,
		entry.ActorID,
		entry.Comment,
		metadata,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// expectOneRow turns a zero-row compare-and-swap update into ErrStaleVersion.
func expectOneRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, workflow.ErrStaleVersion)
	}
	return nil
}
