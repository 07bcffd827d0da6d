package core

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/chaindeploy/pkg/api"
)

// Store is a SQLite-backed history of deployment runs.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("mkdir store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps :memory: databases shared across queries.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// BeginRun inserts a new run and returns it with its generated id.
func (s *Store) BeginRun(ctx context.Context, hosts int, install, forceLoad bool) (api.RunRecord, error) {
	rec := api.RunRecord{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    api.RunPending,
		Hosts:     hosts,
		Install:   install,
		ForceLoad: forceLoad,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, status, hosts, install, force_load) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartedAt.UnixNano(), string(rec.Status), rec.Hosts, boolInt(install), boolInt(forceLoad))
	if err != nil {
		return api.RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}

// SetStatus moves a run to status. Terminal statuses also stamp finished_at.
func (s *Store) SetStatus(ctx context.Context, id string, status api.RunStatus, runErr error) error {
	var finished int64
	if status.Done() {
		finished = time.Now().UTC().UnixNano()
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
		string(status), finished, msg, id)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

func (s *Store) RecordStep(ctx context.Context, runID string, step api.StepRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO steps (run_id, seq, name, duration_ms, status, hosts_done, hosts_failed, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, step.Seq, step.Name, step.Duration.Milliseconds(), string(step.Status),
		step.HostsDone, step.HostsFailed, step.Error)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]api.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, status, hosts, install, force_load, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []api.RunRecord
	for rows.Next() {
		var (
			rec                api.RunRecord
			started, finished  int64
			status             string
			install, forceLoad int
		)
		if err := rows.Scan(&rec.ID, &started, &finished, &status, &rec.Hosts, &install, &forceLoad, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.StartedAt = time.Unix(0, started).UTC()
		if finished > 0 {
			rec.FinishedAt = time.Unix(0, finished).UTC()
		}
		rec.Status = api.RunStatus(status)
		rec.Install = install != 0
		rec.ForceLoad = forceLoad != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Steps(ctx context.Context, runID string) ([]api.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, name, duration_ms, status, hosts_done, hosts_failed, error
		 FROM steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()
	var out []api.StepRecord
	for rows.Next() {
		var (
			step   api.StepRecord
			ms     int64
			status string
		)
		if err := rows.Scan(&step.Seq, &step.Name, &ms, &status, &step.HostsDone, &step.HostsFailed, &step.Error); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Duration = time.Duration(ms) * time.Millisecond
		step.Status = api.RunStatus(status)
		out = append(out, step)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
