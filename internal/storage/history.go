/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"unideploy/internal/domain"
	applog "unideploy/internal/log"
	"unideploy/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	HistoryFileName = "history.sqlite"

	// schemaVersion is the layout created for fresh databases; older files are migrated up to it.
	schemaVersion = 2
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("not found")

// HistoryPath returns <projectRoot>/.unideploy/history.sqlite.
func HistoryPath(projectRoot string) string {
	return filepath.Join(projectRoot, StateDirName, HistoryFileName)
}

// History is the local run log.
type History struct {
	db   *sql.DB
	path string
}

func (h *History) DB() *sql.DB  { return h.db }
func (h *History) Path() string { return h.path }
func (h *History) Close() error { return h.db.Close() }

// OpenHistory creates or opens the history database, enables WAL and brings the schema up to date.
func OpenHistory(projectRoot string) (*History, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "history_open").With(
		slog.String("root", projectRoot),
	)
	if strings.TrimSpace(projectRoot) == "" {
		return nil, errors.New("project root is required")
	}
	if err := os.MkdirAll(filepath.Join(projectRoot, StateDirName), 0o755); err != nil {
		l.Error("create state dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create %s dir: %w", StateDirName, err)
	}
	path := HistoryPath(projectRoot)
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		l.Warn("enable foreign_keys failed", slog.Any("err", err))
	}
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureHistorySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}
	l.Debug("history ready", slog.String("path", path))
	return &History{db: db, path: path}, nil
}

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var cur int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`, schemaVersion, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

func ensureHistorySchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			builder      TEXT NOT NULL,
			settings     TEXT NOT NULL,
			build_target TEXT NOT NULL,
			deploy_path  TEXT NOT NULL,
			success      INTEGER NOT NULL,
			started_at   TEXT NOT NULL,
			finished_at  TEXT NOT NULL,
			zip_file     TEXT NOT NULL DEFAULT '',
			zip_bytes    INTEGER NOT NULL DEFAULT 0,
			report       TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS stages (
			run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			name        TEXT NOT NULL,
			status      TEXT NOT NULL,
			started_at  TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			detail      TEXT NOT NULL DEFAULT '',
			PRIMARY KEY(run_id, seq)
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create history schema: %w", err)
		}
	}
	return nil
}

// runMigrations upgrades older history files up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for cur < schemaVersion {
		next := cur + 1
		var stmts []string
		switch next {
		case 2:
			// v1 had no zip size and no started_at index
			stmts = []string{
				`ALTER TABLE runs ADD COLUMN zip_bytes INTEGER NOT NULL DEFAULT 0;`,
				`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
			}
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		cur = next
	}
	_, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`)
	return err
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// RecordRun stores r and its stages in one transaction.
func (h *History) RecordRun(ctx context.Context, r domain.Run) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	success := 0
	if r.Success {
		success = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO runs (id, builder, settings, build_target, deploy_path, success, started_at, finished_at, zip_file, zip_bytes, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Builder, r.Settings, string(r.BuildTarget), r.DeployPath, success, ts(r.StartedAt), ts(r.FinishedAt), r.ZipFile, r.ZipBytes, r.Report)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for i, st := range r.Stages {
		_, err := tx.ExecContext(ctx, `INSERT INTO stages (run_id, seq, name, status, started_at, duration_ms, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i, st.Name, string(st.Status), ts(st.Started), st.Duration.Milliseconds(), st.Detail)
		if err != nil {
			return fmt.Errorf("insert stage %s: %w", st.Name, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, builder, settings, build_target, deploy_path, success, started_at, finished_at, zip_file, zip_bytes, report`

type scanner interface{ Scan(dest ...any) error }

func scanRun(s scanner) (domain.Run, error) {
	var (
		r                 domain.Run
		target            string
		success           int
		started, finished string
	)
	if err := s.Scan(&r.ID, &r.Builder, &r.Settings, &target, &r.DeployPath, &success, &started, &finished, &r.ZipFile, &r.ZipBytes, &r.Report); err != nil {
		return r, err
	}
	r.BuildTarget = domain.BuildTarget(target)
	r.Success = success != 0
	r.StartedAt = parseTS(started)
	r.FinishedAt = parseTS(finished)
	return r, nil
}

// ListRuns returns the newest runs first, without stages. limit <= 0 means 50.
func (h *History) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns one run with its stages.
func (h *History) GetRun(ctx context.Context, id string) (domain.Run, error) {
	r, err := scanRun(h.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("get run: %w", err)
	}
	rows, err := h.db.QueryContext(ctx, `SELECT name, status, started_at, duration_ms, detail FROM stages WHERE run_id=? ORDER BY seq`, id)
	if err != nil {
		return r, fmt.Errorf("get stages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			st      domain.StageRecord
			status  string
			started string
			ms      int64
		)
		if err := rows.Scan(&st.Name, &status, &started, &ms, &st.Detail); err != nil {
			return r, fmt.Errorf("scan stage: %w", err)
		}
		st.Status = domain.StageStatus(status)
		st.Started = parseTS(started)
		st.Duration = time.Duration(ms) * time.Millisecond
		r.Stages = append(r.Stages, st)
	}
	return r, rows.Err()
}
