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
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func TestFromEnvAndGetenv(t *testing.T) {
	t.Setenv("UDEP_LOG_LEVEL", "warn")
	t.Setenv("UDEP_LOG_FORMAT", "json")
	t.Setenv("UDEP_LOG_SOURCE", "true")
	t.Setenv("UDEP_LOG_FILE", "")

	opts := FromEnv()
	if opts.Level != "warn" || opts.Format != "json" || !opts.AddSource || opts.File != "" {
		t.Fatalf("FromEnv mismatch: %+v", opts)
	}

	if err := os.Unsetenv("UDEP_SOME_UNSET_VAR"); err != nil {
		t.Fatalf("Unsetenv error: %v", err)
	}
	if v := getenv("UDEP_SOME_UNSET_VAR", "fallback"); v != "fallback" {
		t.Fatalf("getenv fallback failed: %q", v)
	}
}

func TestPrettyTextHandler_Behavior(t *testing.T) {
	var buf bytes.Buffer
	h := newConsoleHandler(&buf, slog.LevelWarn, false)

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should not be enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}

	h2 := h.WithAttrs([]slog.Attr{slog.String("app", "unideploy"), slog.String("component", "pipeline"), slog.String("k", "v")}).WithGroup("grp")

	r := slog.NewRecord(time.Now(), slog.LevelError, "zip failed", 0)
	r.AddAttrs(slog.Int("n", 42), slog.Float64("pi", 3.14), slog.Bool("ok", true), slog.String("path", "C:/My Builds/win"))
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("handle error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "ERR [pipeline] zip failed") {
		t.Fatalf("component prefix missing: %q", out)
	}
	if strings.Contains(out, "app=") {
		t.Fatalf("static attr leaked into console output: %q", out)
	}
	for _, want := range []string{"ERR", "zip failed", "k=v", "grp.n=42", "grp.pi=3.14", "grp.ok=true", `grp.path="C:/My Builds/win"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestMultiHandlerFansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := multiHandler(
		newConsoleHandler(&a, slog.LevelInfo, false),
		newConsoleHandler(&b, slog.LevelError, false),
	)
	l := slog.New(h)
	l.Info("only first")
	l.Error("both")
	if !strings.Contains(a.String(), "only first") || !strings.Contains(a.String(), "both") {
		t.Fatalf("first handler output: %q", a.String())
	}
	if strings.Contains(b.String(), "only first") || !strings.Contains(b.String(), "both") {
		t.Fatalf("second handler output: %q", b.String())
	}
}
