// Package store keeps the audit history of finished pipeline runs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/piperun/internal/common"
	"github.com/loykin/piperun/internal/retry"
	"github.com/loykin/piperun/internal/store/connector"
)

// ErrNotFound is returned by GetRun for an unknown run id.
var ErrNotFound = errors.New("run not found")

type (
	RunRecord      = connector.RunRecord
	StageRecord    = connector.StageRecord
	ArtifactRecord = connector.ArtifactRecord
)

// ListOptions filters ListRuns. Zero values mean no filter.
type ListOptions struct {
	Limit     int
	Outcome   string
	SourceRef string
}

type Store struct {
	DB      *sql.DB
	dialect connector.Dialect
	tables  TableNames
	retry   *retry.Config
	logger  *common.Logger
}

// Open connects to the configured backend and ensures the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	c, err := newConnector(cfg)
	if err != nil {
		return nil, err
	}
	th, err := TableNamesFor(cfg.TablePrefix)
	if err != nil {
		return nil, err
	}
	d := c.Dialect()
	db, err := d.Connect(c.DSN())
	if err != nil {
		return nil, err
	}
	s := &Store{
		DB:      db,
		dialect: d,
		tables:  th,
		retry:   cfg.Retry,
		logger:  common.GetLogger().WithStore(d.GetDriverName()),
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info("run store ready", "tables", []string{th.Runs, th.Stages, th.Artifacts})
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Driver returns the backend name.
func (s *Store) Driver() string { return s.dialect.GetDriverName() }

// EnsureSchema creates missing tables. It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for i, q := range s.dialect.GetEnsureStatements(s.tables) {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			s.logger.Error("schema statement failed", "index", i+1, "error", err)
			return fmt.Errorf("store: ensure schema (%d): %w", i+1, err)
		}
	}
	return nil
}

// placeholders returns n comma-separated bind markers starting at from.
func (s *Store) placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = s.dialect.GetPlaceholder(from + i)
	}
	return strings.Join(ph, ", ")
}

// RecordRun writes r and its stage and artifact rows in one transaction.
// Recording the same run id again replaces the earlier rows.
func (s *Store) RecordRun(ctx context.Context, r RunRecord) error {
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("store: run id is required")
	}
	err := retry.WithRetry(ctx, s.retry, func() error {
		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := s.writeRun(ctx, tx, r); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("store: record run %s: %w", r.RunID, err)
	}
	s.logger.WithRun(r.RunID).Debug("run recorded", "stages", len(r.Stages), "artifacts", len(r.Artifacts))
	return nil
}

func (s *Store) writeRun(ctx context.Context, tx *sql.Tx, r RunRecord) error {
	p1 := s.dialect.GetPlaceholder(1)
	for _, tbl := range []string{s.tables.Artifacts, s.tables.Stages, s.tables.Runs} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE run_id = %s", tbl, p1), r.RunID); err != nil {
			return err
		}
	}

	q := fmt.Sprintf("INSERT INTO %s (run_id, source_ref, status, outcome, started_at, finished_at, report_path) VALUES (%s)",
		s.tables.Runs, s.placeholders(1, 7))
	if _, err := tx.ExecContext(ctx, q, r.RunID, r.SourceRef, r.Status, r.Outcome,
		s.dialect.ConvertTimeToStorage(r.StartedAt), s.dialect.ConvertTimeToStorage(r.FinishedAt), r.ReportPath); err != nil {
		return err
	}

	q = fmt.Sprintf("INSERT INTO %s (run_id, seq, name, status, isolation, exit_code, duration_ms, error, started_at, log_path) VALUES (%s)",
		s.tables.Stages, s.placeholders(1, 10))
	for i, st := range r.Stages {
		seq := st.Seq
		if seq == 0 {
			seq = i + 1
		}
		if _, err := tx.ExecContext(ctx, q, r.RunID, seq, st.Name, st.Status, st.Isolation, st.ExitCode,
			st.DurationMS, st.Error, s.dialect.ConvertTimeToStorage(st.StartedAt), st.LogPath); err != nil {
			return err
		}
	}

	q = fmt.Sprintf("INSERT INTO %s (run_id, stage, pattern, path, location, archived, sha256, size, error) VALUES (%s)",
		s.tables.Artifacts, s.placeholders(1, 9))
	for _, a := range r.Artifacts {
		if _, err := tx.ExecContext(ctx, q, r.RunID, a.Stage, a.Pattern, a.Path, a.Location,
			s.dialect.ConvertBoolToStorage(a.Archived), a.SHA256, a.Size, a.Error); err != nil {
			return err
		}
	}
	return nil
}

// GetRun loads a run with its stages and artifacts.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	q := fmt.Sprintf("SELECT run_id, source_ref, status, outcome, started_at, finished_at, report_path FROM %s WHERE run_id = %s",
		s.tables.Runs, s.dialect.GetPlaceholder(1))
	rows, err := retry.Do(ctx, s.retry, func() (*sql.Rows, error) { return s.DB.QueryContext(ctx, q, runID) })
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	runs, err := s.scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	r := runs[0]
	if r.Stages, err = s.stages(ctx, runID); err != nil {
		return nil, err
	}
	if r.Artifacts, err = s.artifacts(ctx, runID); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns runs newest first, without stage or artifact rows.
func (s *Store) ListRuns(ctx context.Context, opts ListOptions) ([]RunRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if opts.Outcome != "" {
		args = append(args, opts.Outcome)
		where = append(where, "outcome = "+s.dialect.GetPlaceholder(len(args)))
	}
	if opts.SourceRef != "" {
		args = append(args, opts.SourceRef)
		where = append(where, "source_ref = "+s.dialect.GetPlaceholder(len(args)))
	}
	q := fmt.Sprintf("SELECT run_id, source_ref, status, outcome, started_at, finished_at, report_path FROM %s", s.tables.Runs)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at DESC, run_id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += " LIMIT " + s.dialect.GetPlaceholder(len(args))
	}
	rows, err := retry.Do(ctx, s.retry, func() (*sql.Rows, error) { return s.DB.QueryContext(ctx, q, args...) })
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return s.scanRuns(rows)
}

func (s *Store) scanRuns(rows *sql.Rows) ([]RunRecord, error) {
	defer func() { _ = rows.Close() }()
	var out []RunRecord
	for rows.Next() {
		var (
			r                 RunRecord
			started, finished interface{}
			err               error
		)
		if err := rows.Scan(&r.RunID, &r.SourceRef, &r.Status, &r.Outcome, &started, &finished, &r.ReportPath); err != nil {
			return nil, err
		}
		if r.StartedAt, err = s.dialect.ConvertTimeFromStorage(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = s.dialect.ConvertTimeFromStorage(finished); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) stages(ctx context.Context, runID string) ([]StageRecord, error) {
	q := fmt.Sprintf("SELECT seq, name, status, isolation, exit_code, duration_ms, error, started_at, log_path FROM %s WHERE run_id = %s ORDER BY seq",
		s.tables.Stages, s.dialect.GetPlaceholder(1))
	rows, err := retry.Do(ctx, s.retry, func() (*sql.Rows, error) { return s.DB.QueryContext(ctx, q, runID) })
	if err != nil {
		return nil, fmt.Errorf("store: load stages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []StageRecord
	for rows.Next() {
		var (
			st      StageRecord
			started interface{}
		)
		if err := rows.Scan(&st.Seq, &st.Name, &st.Status, &st.Isolation, &st.ExitCode, &st.DurationMS, &st.Error, &started, &st.LogPath); err != nil {
			return nil, err
		}
		if st.StartedAt, err = s.dialect.ConvertTimeFromStorage(started); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) artifacts(ctx context.Context, runID string) ([]ArtifactRecord, error) {
	q := fmt.Sprintf("SELECT stage, pattern, path, location, archived, sha256, size, error FROM %s WHERE run_id = %s ORDER BY id",
		s.tables.Artifacts, s.dialect.GetPlaceholder(1))
	rows, err := retry.Do(ctx, s.retry, func() (*sql.Rows, error) { return s.DB.QueryContext(ctx, q, runID) })
	if err != nil {
		return nil, fmt.Errorf("store: load artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []ArtifactRecord
	for rows.Next() {
		var (
			a        ArtifactRecord
			archived interface{}
		)
		if err := rows.Scan(&a.Stage, &a.Pattern, &a.Path, &a.Location, &archived, &a.SHA256, &a.Size, &a.Error); err != nil {
			return nil, err
		}
		a.Archived = s.dialect.ConvertBoolFromStorage(archived)
		out = append(out, a)
	}
	return out, rows.Err()
}
