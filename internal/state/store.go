// Package state persists the engine's view of managed resources and apply
// runs in a local SQLite database. The spec JSON stored per resource is the
// canonical form, so an unchanged manifest diffs to zero operations.
package state

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("state: not found")

// ResourceRow is one managed resource as last applied.
type ResourceRow struct {
	Address    string
	Kind       string
	Name       string
	SpecJSON   string
	ProviderID string
	Status     string
	CreatedAt  string
	UpdatedAt  string
}

// RunRow records one apply or destroy invocation.
type RunRow struct {
	ID         string
	Manifest   string
	PlanID     string
	Op         string
	Phase      string
	Error      string
	StartedAt  string
	FinishedAt string
}

// Store is a SQLite-backed state database.
type Store struct {
	db    *sql.DB
	clock Clock
}

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	address     TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	name        TEXT NOT NULL,
	spec_json   TEXT NOT NULL,
	provider_id TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	manifest    TEXT NOT NULL,
	plan_id     TEXT NOT NULL,
	op          TEXT NOT NULL,
	phase       TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT ''
);
`

// Open opens (creating if needed) the state database at path. ":memory:"
// gives an ephemeral store for tests.
func Open(path string, clock Clock) (*Store, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply state schema: %w", err)
	}

	return &Store{db: db, clock: clock}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertResource writes a resource row, preserving created_at on update.
func (s *Store) UpsertResource(ctx context.Context, row ResourceRow) error {
	now := s.now()
	if row.CreatedAt == "" {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resources (address, kind, name, spec_json, provider_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET
			spec_json = excluded.spec_json,
			provider_id = excluded.provider_id,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		row.Address, row.Kind, row.Name, row.SpecJSON, row.ProviderID, row.Status, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert resource %s: %w", row.Address, err)
	}
	return nil
}

// GetResource returns the row for an address, or ErrNotFound.
func (s *Store) GetResource(ctx context.Context, address string) (ResourceRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT address, kind, name, spec_json, provider_id, status, created_at, updated_at
		 FROM resources WHERE address = ?`, address)

	var out ResourceRow
	err := row.Scan(&out.Address, &out.Kind, &out.Name, &out.SpecJSON, &out.ProviderID, &out.Status, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ResourceRow{}, fmt.Errorf("resource %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return ResourceRow{}, fmt.Errorf("read resource %s: %w", address, err)
	}
	return out, nil
}

// ListResources returns all resource rows ordered by address.
func (s *Store) ListResources(ctx context.Context) ([]ResourceRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, kind, name, spec_json, provider_id, status, created_at, updated_at
		 FROM resources ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var out []ResourceRow
	for rows.Next() {
		var r ResourceRow
		if err := rows.Scan(&r.Address, &r.Kind, &r.Name, &r.SpecJSON, &r.ProviderID, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan resource row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return out, nil
}

// DeleteResource removes a resource row. Deleting a missing row is not an
// error; destroy must be re-runnable.
func (s *Store) DeleteResource(ctx context.Context, address string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE address = ?`, address); err != nil {
		return fmt.Errorf("delete resource %s: %w", address, err)
	}
	return nil
}

// InsertRun opens a run record in the given phase.
func (s *Store) InsertRun(ctx context.Context, run RunRow) error {
	if run.StartedAt == "" {
		run.StartedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, manifest, plan_id, op, phase, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Manifest, run.PlanID, run.Op, run.Phase, run.Error, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun closes a run record with its final phase and optional error.
func (s *Store) FinishRun(ctx context.Context, id, phase, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET phase = ?, error = ?, finished_at = ? WHERE id = ?`,
		phase, errMsg, s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, manifest, plan_id, op, phase, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.ID, &r.Manifest, &r.PlanID, &r.Op, &r.Phase, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// NewRunID generates a short random run identifier.
func NewRunID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b)
}

func (s *Store) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339Nano)
}
