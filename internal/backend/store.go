/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package backend keeps a shared run history in Postgres and serves it over a small
// authenticated HTTP API so several machines can see each other's deploys.
package backend

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"unideploy/internal/domain"
	applog "unideploy/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("run not found")

// Store is the Postgres run history.
type Store struct {
	db   *sql.DB
	host string
}

// OpenStore connects to dsn and applies pending migrations.
func OpenStore(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := applyMigrations(pctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	host, _ := os.Hostname()
	return &Store{db: db, host: host}, nil
}

func (s *Store) DB() *sql.DB  { return s.db }
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// RecordRun inserts a run and its stages.
func (s *Store) RecordRun(ctx context.Context, r domain.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx, `INSERT INTO runs (id, builder, settings, build_target, deploy_path, success, started_at, finished_at, zip_file, zip_bytes, report, host)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.Builder, r.Settings, string(r.BuildTarget), r.DeployPath, r.Success, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.ZipFile, r.ZipBytes, r.Report, s.host)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for i, st := range r.Stages {
		_, err := tx.ExecContext(ctx, `INSERT INTO stages (run_id, seq, name, status, started_at, duration_ms, detail) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, i, st.Name, string(st.Status), st.Started.UTC(), st.Duration.Milliseconds(), st.Detail)
		if err != nil {
			return fmt.Errorf("insert stage %s: %w", st.Name, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, builder, settings, build_target, deploy_path, success, started_at, finished_at, zip_file, zip_bytes, report`

type rowScanner interface{ Scan(dest ...any) error }

func scanRun(sc rowScanner) (domain.Run, error) {
	var r domain.Run
	var target string
	err := sc.Scan(&r.ID, &r.Builder, &r.Settings, &target, &r.DeployPath, &r.Success, &r.StartedAt, &r.FinishedAt, &r.ZipFile, &r.ZipBytes, &r.Report)
	r.BuildTarget = domain.BuildTarget(target)
	return r, err
}

// ListRuns returns the newest runs first. limit <= 0 means 50.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
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

// GetRun returns a run with its stages.
func (s *Store) GetRun(ctx context.Context, id string) (domain.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("get run: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, status, started_at, duration_ms, detail FROM stages WHERE run_id = $1 ORDER BY seq`, id)
	if err != nil {
		return r, fmt.Errorf("get stages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var st domain.StageRecord
		var status string
		var ms int64
		if err := rows.Scan(&st.Name, &status, &st.Started, &ms, &st.Detail); err != nil {
			return r, fmt.Errorf("scan stage: %w", err)
		}
		st.Status = domain.StageStatus(status)
		st.Duration = time.Duration(ms) * time.Millisecond
		r.Stages = append(r.Stages, st)
	}
	return r, rows.Err()
}

// applyMigrations applies embedded SQL migrations in filename order and records them.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	logger := applog.WithComponent("backend")
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied := map[int64]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, fname := range files {
		ver, err := parseVersion(fname)
		if err != nil {
			return err
		}
		if applied[ver] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", fname))
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "applying migration", "file", fname)
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(b)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", fname, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, ver, fname); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", fname, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", fname, err)
		}
	}
	return nil
}

func parseVersion(name string) (int64, error) {
	base := path.Base(name)
	head, _, _ := strings.Cut(base, "_")
	v, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return v, nil
}
