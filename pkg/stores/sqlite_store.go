package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/snapvault/snapvault/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteJournal implements engine.Journal on SQLite. One database per
// deployment; WAL mode keeps concurrent invocations on the same host safe.
type SQLiteJournal struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite journal configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteJournal creates a new SQLite journal instance
func NewSQLiteJournal(cfg Config) (*SQLiteJournal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteJournal{cfg: cfg}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteJournal) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
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

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteJournal) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteJournal) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteJournal) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// GetItem retrieves an item's journal state by ID
func (s *SQLiteJournal) GetItem(ctx context.Context, itemID string) (engine.SourceItem, error) {
	query := `
		SELECT id, name, mime_type, captured_at, status
		FROM items
		WHERE id = ?
	`

	var item engine.SourceItem
	var capturedAt string
	err := s.db.QueryRowContext(ctx, query, itemID).Scan(
		&item.ID,
		&item.Name,
		&item.MimeType,
		&capturedAt,
		&item.Status,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return engine.SourceItem{}, engine.ErrNotFound
	}
	if err != nil {
		return engine.SourceItem{}, fmt.Errorf("failed to get item: %w", err)
	}

	item.CapturedAt, err = parseTime(capturedAt)
	if err != nil {
		return engine.SourceItem{}, fmt.Errorf("failed to parse captured_at: %w", err)
	}
	return item, nil
}

// UpsertItem records or updates an item's lifecycle state
func (s *SQLiteJournal) UpsertItem(ctx context.Context, item engine.SourceItem) error {
	query := `
		INSERT INTO items (id, name, mime_type, captured_at, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		item.ID,
		item.Name,
		item.MimeType,
		formatTime(item.CapturedAt),
		item.Status,
		formatTime(time.Now()),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

// SaveAnalysis persists the immutable analysis result for an item
func (s *SQLiteJournal) SaveAnalysis(ctx context.Context, analysis *engine.AnalysisResult) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}

	query := `
		INSERT INTO analyses (item_id, payload, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(item_id) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, analysis.SourceItemID, string(payload), formatTime(time.Now())); err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

// GetAnalysis retrieves the persisted analysis for an item
func (s *SQLiteJournal) GetAnalysis(ctx context.Context, itemID string) (*engine.AnalysisResult, error) {
	query := `SELECT payload FROM analyses WHERE item_id = ?`

	var payload string
	err := s.db.QueryRowContext(ctx, query, itemID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	var analysis engine.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &analysis); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	return &analysis, nil
}

// SaveMutations records the derived mutation set for an item. Rows that
// already exist keep their status and attempt counts.
func (s *SQLiteJournal) SaveMutations(ctx context.Context, muts []engine.DestinationMutation) error {
	if len(muts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO mutations (
			idempotency_key, item_id, fragment_index, destination_key,
			op, payload, heading, status, attempts, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`

	now := formatTime(time.Now())
	for _, m := range muts {
		if _, err := tx.ExecContext(ctx, query,
			m.IdempotencyKey,
			m.SourceItemID,
			m.FragmentIndex,
			m.DestinationKey,
			m.Op,
			m.Payload,
			m.Heading,
			m.Status,
			m.Attempts,
			m.LastError,
			now,
			now,
		); err != nil {
			return fmt.Errorf("failed to save mutation: %w", err)
		}
	}

	return tx.Commit()
}

// Mutations returns every journalled mutation for an item
func (s *SQLiteJournal) Mutations(ctx context.Context, itemID string) ([]engine.DestinationMutation, error) {
	query := `
		SELECT idempotency_key, item_id, fragment_index, destination_key,
		       op, payload, heading, status, attempts, last_error
		FROM mutations
		WHERE item_id = ?
		ORDER BY fragment_index ASC, destination_key ASC
	`

	rows, err := s.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	muts := []engine.DestinationMutation{}
	for rows.Next() {
		var m engine.DestinationMutation
		if err := rows.Scan(
			&m.IdempotencyKey,
			&m.SourceItemID,
			&m.FragmentIndex,
			&m.DestinationKey,
			&m.Op,
			&m.Payload,
			&m.Heading,
			&m.Status,
			&m.Attempts,
			&m.LastError,
		); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		muts = append(muts, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutations: %w", err)
	}
	return muts, nil
}

// MarkMutation updates one mutation's status, attempt count and error
func (s *SQLiteJournal) MarkMutation(ctx context.Context, idempotencyKey string, status engine.MutationStatus, attempts int, lastErr string) error {
	query := `
		UPDATE mutations
		SET status = ?, attempts = ?, last_error = ?, updated_at = ?
		WHERE idempotency_key = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, attempts, lastErr, formatTime(time.Now()), idempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to mark mutation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return engine.ErrNotFound
	}
	return nil
}

// IsApplied reports whether an idempotency key has already been applied
func (s *SQLiteJournal) IsApplied(ctx context.Context, idempotencyKey string) (bool, error) {
	query := `SELECT status FROM mutations WHERE idempotency_key = ?`

	var status engine.MutationStatus
	err := s.db.QueryRowContext(ctx, query, idempotencyKey).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return status == engine.MutationApplied, nil
}

// Checkpoint returns the stored processing checkpoint, or a zero value when
// none exists yet
func (s *SQLiteJournal) Checkpoint(ctx context.Context) (engine.Checkpoint, error) {
	query := `SELECT cursor, last_run_at FROM checkpoint WHERE id = 1`

	var cursor, lastRunAt string
	err := s.db.QueryRowContext(ctx, query).Scan(&cursor, &lastRunAt)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Checkpoint{}, nil
	}
	if err != nil {
		return engine.Checkpoint{}, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	cp := engine.Checkpoint{}
	if cp.Cursor, err = parseTime(cursor); err != nil {
		return engine.Checkpoint{}, fmt.Errorf("failed to parse cursor: %w", err)
	}
	if cp.LastRunAt, err = parseTime(lastRunAt); err != nil {
		return engine.Checkpoint{}, fmt.Errorf("failed to parse last_run_at: %w", err)
	}
	return cp, nil
}

// SaveCheckpoint stores the processing checkpoint
func (s *SQLiteJournal) SaveCheckpoint(ctx context.Context, cp engine.Checkpoint) error {
	query := `
		INSERT INTO checkpoint (id, cursor, last_run_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cursor = excluded.cursor,
			last_run_at = excluded.last_run_at
	`

	if _, err := s.db.ExecContext(ctx, query, formatTime(cp.Cursor), formatTime(cp.LastRunAt)); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
