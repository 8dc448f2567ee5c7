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
	"os"
	"path/filepath"
	"testing"
	"time"

	"unideploy/internal/domain"

	_ "modernc.org/sqlite"
)

func sampleRun(id string, at time.Time) domain.Run {
	return domain.Run{
		ID:          id,
		Builder:     "Release",
		Settings:    "win",
		BuildTarget: domain.TargetWindows64,
		DeployPath:  "/deploy",
		Success:     true,
		StartedAt:   at,
		FinishedAt:  at.Add(90 * time.Second),
		ZipFile:     "/deploy/win.zip",
		ZipBytes:    1234,
		Report:      "\n----- Done at x",
		Stages: []domain.StageRecord{
			{Name: domain.StageBuild, Status: domain.StageOK, Started: at, Duration: 80 * time.Second},
			{Name: domain.StageZip, Status: domain.StageOK, Started: at.Add(80 * time.Second), Duration: 10 * time.Second},
			{Name: domain.StageScript, Status: domain.StageSkipped, Started: at.Add(90 * time.Second)},
		},
	}
}

func TestHistoryRecordListGet(t *testing.T) {
	root := t.TempDir()
	h, err := OpenHistory(root)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()
	ctx := context.Background()
	t0 := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := h.RecordRun(ctx, sampleRun("r1", t0)); err != nil {
		t.Fatalf("record r1: %v", err)
	}
	r2 := sampleRun("r2", t0.Add(time.Hour))
	r2.Success = false
	if err := h.RecordRun(ctx, r2); err != nil {
		t.Fatalf("record r2: %v", err)
	}
	if err := h.RecordRun(ctx, sampleRun("r1", t0)); err == nil {
		t.Fatalf("duplicate id accepted")
	}

	runs, err := h.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r2" || runs[0].Success || !runs[1].Success {
		t.Fatalf("unexpected list %+v", runs)
	}
	if one, _ := h.ListRuns(ctx, 1); len(one) != 1 {
		t.Fatalf("limit ignored")
	}

	got, err := h.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.StartedAt.Equal(t0) || got.Duration() != 90*time.Second || got.ZipBytes != 1234 {
		t.Fatalf("unexpected run %+v", got)
	}
	if len(got.Stages) != 3 || got.Stages[1].Name != domain.StageZip || got.Stages[1].Duration != 10*time.Second || got.Stages[2].Status != domain.StageSkipped {
		t.Fatalf("unexpected stages %+v", got.Stages)
	}
	if _, err := h.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := os.Stat(HistoryPath(root)); err != nil {
		t.Fatalf("history file missing: %v", err)
	}
}

// An older history file (schema 1, no zip_bytes) is migrated on open.
func TestHistoryMigratesV1(t *testing.T) {
	root := t.TempDir()
	p := HistoryPath(root)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)", filepath.ToSlash(p)))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stmts := []string{
		`CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);`,
		`CREATE TABLE version (id INTEGER PRIMARY KEY CHECK(id=1), schema INTEGER NOT NULL, app TEXT, created_at TEXT NOT NULL, updated_at TEXT NOT NULL);`,
		`INSERT INTO version VALUES (1, 1, 'old', '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z');`,
		`CREATE TABLE runs (id TEXT PRIMARY KEY, builder TEXT NOT NULL, settings TEXT NOT NULL, build_target TEXT NOT NULL, deploy_path TEXT NOT NULL, success INTEGER NOT NULL, started_at TEXT NOT NULL, finished_at TEXT NOT NULL, zip_file TEXT NOT NULL DEFAULT '', report TEXT NOT NULL DEFAULT '');`,
		`INSERT INTO runs VALUES ('old1', 'b', 's', 'WebGL', '/d', 1, '2024-01-01T00:00:00Z', '2024-01-01T00:01:00Z', '', '');`,
	}
	for _, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("seed: %v (%s)", err, q)
		}
	}
	_ = db.Close()

	h, err := OpenHistory(root)
	if err != nil {
		t.Fatalf("open migrated: %v", err)
	}
	defer h.Close()
	var schema int
	if err := h.DB().QueryRow(`SELECT schema FROM version WHERE id=1`).Scan(&schema); err != nil || schema != schemaVersion {
		t.Fatalf("schema %d %v", schema, err)
	}
	r, err := h.GetRun(context.Background(), "old1")
	if err != nil || r.ZipBytes != 0 || r.BuildTarget != domain.TargetWebGL {
		t.Fatalf("old run not readable: %+v %v", r, err)
	}
	var idx string
	if err := h.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type='index' AND name='idx_runs_started'`).Scan(&idx); err != nil {
		t.Fatalf("index missing: %v", err)
	}
}

func TestOpenHistoryRequiresRoot(t *testing.T) {
	if _, err := OpenHistory("  "); err == nil {
		t.Fatalf("empty root accepted")
	}
}
