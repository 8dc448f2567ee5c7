/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package log

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestInitWritesJSONFile checks the rotating file handler and the static/context attributes.
func TestInitWritesJSONFile(t *testing.T) {
	// os.TempDir instead of t.TempDir: lumberjack keeps the handle open and Windows refuses the cleanup.
	fpath := filepath.Join(os.TempDir(), fmt.Sprintf("udep_log_%d.json", time.Now().UnixNano()))

	var console bytes.Buffer
	Init(Options{Level: "debug", Format: "json", File: fpath, Writer: &console})

	l := WithOperation(WithComponent("pipeline"), "build")
	ctx := ContextWithRun(context.Background(), "run-123")
	l.InfoContext(ctx, "build started", slog.String("target", "WebGL"))

	time.Sleep(50 * time.Millisecond)

	b, err := os.ReadFile(fpath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(b))
	var last string
	for scanner.Scan() {
		if s := strings.TrimSpace(scanner.Text()); s != "" {
			last = s
		}
	}
	if last == "" {
		t.Fatalf("no log lines in %s", fpath)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(last), &m); err != nil {
		t.Fatalf("unmarshal json log: %v", err)
	}
	want := map[string]string{
		"app":       "unideploy",
		"component": "pipeline",
		"op":        "build",
		"run":       "run-123",
		"target":    "WebGL",
		"msg":       "build started",
	}
	for k, v := range want {
		if m[k] != v {
			t.Fatalf("%s = %v, want %q (line %s)", k, m[k], v, last)
		}
	}
	if _, ok := m["ver"].(string); !ok {
		t.Fatalf("missing ver attr")
	}
	if !strings.Contains(console.String(), "build started") {
		t.Fatalf("console writer did not receive the record: %q", console.String())
	}
}

func TestRunFromContext(t *testing.T) {
	if got := RunFromContext(context.Background()); got != "" {
		t.Fatalf("empty context returned %q", got)
	}
	ctx := ContextWithRun(context.Background(), "abc")
	if got := RunFromContext(ctx); got != "abc" {
		t.Fatalf("RunFromContext = %q, want abc", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := parseLevel(c.in).Level(); got != c.want {
			t.Errorf("parseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
