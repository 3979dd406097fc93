package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/contractflow/contractflow/pkg/workflow"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements workflow.Store using SQLite
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	path string
}

var _ workflow.Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store instance. Call Init before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	cfg.setDefaults()

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
	}, nil
}

// dsn builds a modernc.org/sqlite connection string. Pragmas are applied on
// every new connection, and BEGIN IMMEDIATE takes the write lock up front so
// concurrent writers queue on busy_timeout instead of deadlocking on upgrade.
func (s *SQLiteStore) dsn() string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds()))
	if s.path != MemoryPath {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	q.Set("_txlock", "immediate")
	q.Set("_time_format", "sqlite")
	return "file:" + s.path + "?" + q.Encode()
}

// Init opens the database connection pool.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SchemaVersion reports the applied migration version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)
	err := s.db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a single transaction. The error returned by fn is passed
// through unchanged so callers can inspect it with errors.As.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx workflow.Tx) error) (err error) {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetContract retrieves a contract by ID
func (s *SQLiteStore) GetContract(ctx context.Context, id string) (*workflow.Contract, error) {
	return getContract(ctx, s.db, id)
}

// ListContracts lists contracts newest first, optionally filtered by status.
func (s *SQLiteStore) ListContracts(ctx context.Context, status *workflow.ContractStatus, limit, offset int) ([]*workflow.Contract, error) {
	var statusArg sql.NullString
	if status != nil {
		statusArg = sql.NullString{String: string(*status), Valid: true}
	}

	query := `
		SELECT ` + contractColumns + `
		FROM contracts
		WHERE (? IS NULL OR status = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, statusArg, statusArg, pageLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()

	contracts := []*workflow.Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contracts: %w", err)
	}

	return contracts, nil
}

// CountContractsByStatus returns the number of contracts in each status.
func (s *SQLiteStore) CountContractsByStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM contracts GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count contracts: %w", err)
	}
	defer rows.Close()

	counts := []StatusCount{}
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan contract count: %w", err)
		}
		counts = append(counts, sc)
	}
	return counts, rows.Err()
}

// ListTracks lists every track of a contract, oldest first.
func (s *SQLiteStore) ListTracks(ctx context.Context, contractID string) ([]*workflow.ApprovalTrack, error) {
	return listTracks(ctx, s.db, contractID)
}

// GetTrack retrieves a track by ID
func (s *SQLiteStore) GetTrack(ctx context.Context, id string) (*workflow.ApprovalTrack, error) {
	return getTrack(ctx, s.db, id)
}

// ListAudit lists a contract's audit entries in insertion order.
func (s *SQLiteStore) ListAudit(ctx context.Context, contractID string, limit, offset int) ([]*workflow.AuditEntry, error) {
	query := `
		SELECT id, contract_id, track_id, action, actor_id, comment, metadata, created_at
		FROM audit_entries
		WHERE contract_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, contractID, pageLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*workflow.AuditEntry{}
	for rows.Next() {
		var (
			entry    workflow.AuditEntry
			trackID  sql.NullString
			metadata string
		)
		err := rows.Scan(
			&entry.ID,
			&entry.ContractID,
			&trackID,
			&entry.Action,
			&entry.ActorID,
			&entry.Comment,
			&metadata,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.TrackID = stringPtr(trackID)
		entry.Metadata = json.RawMessage(metadata)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

const contractColumns = `id, title, status, amount, currency, counterparty_name, counterparty_email,
		required_tracks, signed_attachment, created_by, version, created_at, updated_at`

const trackColumns = `id, contract_id, type, status, actor_role, escalated, comment, decided_by,
		version, created_at, opened_at, resolved_at`

func getContract(ctx context.Context, q queryer, id string) (*workflow.Contract, error) {
	row := q.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contract %s: %w", id, workflow.ErrNotFound)
	}
	return c, err
}

func scanContract(row rowScanner) (*workflow.Contract, error) {
	var (
		c        workflow.Contract
		required string
		signed   sql.NullString
	)
	err := row.Scan(
		&c.ID,
		&c.Title,
		&c.Status,
		&c.Amount,
		&c.Currency,
		&c.CounterpartyName,
		&c.CounterpartyEmail,
		&required,
		&signed,
		&c.CreatedBy,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan contract: %w", err)
	}
	if err := json.Unmarshal([]byte(required), &c.RequiredTracks); err != nil {
		return nil, fmt.Errorf("failed to decode required tracks of contract %s: %w", c.ID, err)
	}
	c.SignedAttachment = stringPtr(signed)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func getTrack(ctx context.Context, q queryer, id string) (*workflow.ApprovalTrack, error) {
	row := q.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM approval_tracks WHERE id = ?`, id)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("track %s: %w", id, workflow.ErrNotFound)
	}
	return t, err
}

func listTracks(ctx context.Context, q queryer, contractID string) ([]*workflow.ApprovalTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM approval_tracks WHERE contract_id = ? ORDER BY rowid ASC`

	rows, err := q.QueryContext(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	defer rows.Close()

	tracks := []*workflow.ApprovalTrack{}
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tracks: %w", err)
	}

	return tracks, nil
}

func scanTrack(row rowScanner) (*workflow.ApprovalTrack, error) {
	var (
		t         workflow.ApprovalTrack
		decidedBy sql.NullString
		openedAt  sql.NullTime
		resolved  sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.ContractID,
		&t.Type,
		&t.Status,
		&t.ActorRole,
		&t.Escalated,
		&t.Comment,
		&decidedBy,
		&t.Version,
		&t.CreatedAt,
		&openedAt,
		&resolved,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}
	t.DecidedBy = stringPtr(decidedBy)
	t.OpenedAt = timePtr(openedAt)
	t.ResolvedAt = timePtr(resolved)
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
