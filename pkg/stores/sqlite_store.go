package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if s.path == ":memory:" {
		// Every pooled connection to :memory: would otherwise get its
		// own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting in SQLite.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
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

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
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

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// CreateRun creates a new deployment run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *DeploymentRun) error {
	query := `
		INSERT INTO deployment_runs (id, twin_name, operation, status, provider_map, started_at, completed_at, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.TwinName,
		run.Operation,
		run.Status,
		run.ProviderMap,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.CreatedAt,
		run.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a deployment run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*DeploymentRun, error) {
	query := `
		SELECT id, twin_name, operation, status, provider_map, started_at, completed_at, error, created_at, updated_at
		FROM deployment_runs
		WHERE id = ?
	`

	run := &DeploymentRun{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.TwinName,
		&run.Operation,
		&run.Status,
		&run.ProviderMap,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// UpdateRunStatus updates the status of a deployment run. Terminal
// statuses also stamp the completion time.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	query := `
		UPDATE deployment_runs
		SET status = ?, error = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	var completedAt *time.Time
	if status == RunStatusSucceeded || status == RunStatusFailed || status == RunStatusCancelled {
		now := time.Now()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// ListRuns lists runs for a twin with pagination, newest first. An
// empty twin name lists runs across all twins.
func (s *SQLiteStore) ListRuns(ctx context.Context, twinName string, limit, offset int) ([]*DeploymentRun, error) {
	query := `
		SELECT id, twin_name, operation, status, provider_map, started_at, completed_at, error, created_at, updated_at
		FROM deployment_runs
		WHERE (? = '' OR twin_name = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, twinName, twinName, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*DeploymentRun{}
	for rows.Next() {
		run := &DeploymentRun{}
		err := rows.Scan(
			&run.ID,
			&run.TwinName,
			&run.Operation,
			&run.Status,
			&run.ProviderMap,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// LatestRun returns the most recent run for a twin.
func (s *SQLiteStore) LatestRun(ctx context.Context, twinName string) (*DeploymentRun, error) {
	runs, err := s.ListRuns(ctx, twinName, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no runs recorded for twin: %s", twinName)
	}
	return runs[0], nil
}

// CreateLayerState creates a layer state record for a run
func (s *SQLiteStore) CreateLayerState(ctx context.Context, state *LayerState) error {
	query := `
		INSERT INTO layer_states (id, run_id, layer, provider, phase, started_at, completed_at, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		state.ID,
		state.RunID,
		state.Layer,
		state.Provider,
		state.Phase,
		state.StartedAt,
		state.CompletedAt,
		state.Error,
		state.CreatedAt,
		state.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create layer state: %w", err)
	}

	return nil
}

// UpdateLayerPhase advances a layer state to a new phase. Terminal
// phases stamp the completion time; the first advance past init stamps
// the start time.
func (s *SQLiteStore) UpdateLayerPhase(ctx context.Context, id string, phase LayerPhase, errMsg *string) error {
	query := `
		UPDATE layer_states
		SET phase = ?, error = ?,
			started_at = CASE WHEN started_at IS NULL THEN CURRENT_TIMESTAMP ELSE started_at END,
			completed_at = CASE WHEN ? IN ('post_provisioning_done', 'failed', 'destroyed') THEN CURRENT_TIMESTAMP ELSE completed_at END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, phase, errMsg, phase, id)
	if err != nil {
		return fmt.Errorf("failed to update layer phase: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("layer state not found: %s", id)
	}

	return nil
}

// ListLayerStatesByRun lists all layer states for a run in creation order
func (s *SQLiteStore) ListLayerStatesByRun(ctx context.Context, runID string) ([]*LayerState, error) {
	query := `
		SELECT id, run_id, layer, provider, phase, started_at, completed_at, error, created_at, updated_at
		FROM layer_states
		WHERE run_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list layer states: %w", err)
	}
	defer rows.Close()

	states := []*LayerState{}
	for rows.Next() {
		state := &LayerState{}
		err := rows.Scan(
			&state.ID,
			&state.RunID,
			&state.Layer,
			&state.Provider,
			&state.Phase,
			&state.StartedAt,
			&state.CompletedAt,
			&state.Error,
			&state.CreatedAt,
			&state.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan layer state: %w", err)
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating layer states: %w", err)
	}

	return states, nil
}

// RecordResource appends a created resource to the ledger
func (s *SQLiteStore) RecordResource(ctx context.Context, rec *ResourceRecord) error {
	query := `
		INSERT INTO resource_ledger (id, run_id, twin_name, provider, service, name, layer, deleted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.RunID,
		rec.TwinName,
		rec.Provider,
		rec.Service,
		rec.Name,
		rec.Layer,
		rec.DeletedAt,
		rec.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to record resource: %w", err)
	}

	return nil
}

// ListLiveResources lists ledger entries for a twin that have not been
// marked deleted, newest first. The destroy sweep reads these.
func (s *SQLiteStore) ListLiveResources(ctx context.Context, twinName string) ([]*ResourceRecord, error) {
	query := `
		SELECT id, run_id, twin_name, provider, service, name, layer, deleted_at, created_at
		FROM resource_ledger
		WHERE twin_name = ? AND deleted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, twinName)
	if err != nil {
		return nil, fmt.Errorf("failed to list live resources: %w", err)
	}
	defer rows.Close()

	recs := []*ResourceRecord{}
	for rows.Next() {
		rec := &ResourceRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.TwinName,
			&rec.Provider,
			&rec.Service,
			&rec.Name,
			&rec.Layer,
			&rec.DeletedAt,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource record: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource records: %w", err)
	}

	return recs, nil
}

// MarkResourceDeleted stamps a ledger entry as removed
func (s *SQLiteStore) MarkResourceDeleted(ctx context.Context, id string) error {
	query := `UPDATE resource_ledger SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark resource deleted: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("resource record not found: %s", id)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
