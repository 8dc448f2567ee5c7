/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"unideploy/internal/domain"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2025, 3, 4, 10, 20, 30, 0, time.Local)
	return func() time.Time { return t0 }
}

func TestSettingsReportLines(t *testing.T) {
	w := NewWriter(fixedClock())
	s := domain.NewBuildSettings("win")
	s.BuildName = "Game.exe"
	s.BuildDirectory = "/d/win"
	s.BuildTarget = domain.TargetWindows64
	w.Start(&s)
	w.BuildFinished(true, 2500*time.Millisecond)
	w.Zipping("/d/win")
	w.Zipped(true, "/d/win.zip", 999*time.Millisecond)
	w.ZipSize(2_500_000)
	w.SkippedBatch()
	w.SwitchedBack(domain.TargetOSX, true, 3*time.Second)
	w.Done()

	want := "\n----- Starting 'Game.exe' build at 2025-03-04 10:20:30" +
		"\n- Directory: /d/win" +
		"\n- Build group: Standalone" +
		"\n- Build target: StandaloneWindows64" +
		"\n--- Build completed at 2025-03-04 10:20:30 in 2 seconds" +
		"\n--- Zipping /d/win at 2025-03-04 10:20:30" +
		"\n--- Zipped to '/d/win.zip' at 2025-03-04 10:20:30 in 0 seconds" +
		"\n--- Zip size: 2.5 MB" +
		"\n---Skipped batch execution" +
		"\n-- ---Switching build target to StandaloneOSX" +
		"\n---Build target switched at 2025-03-04 10:20:30 in 3s" +
		"\n----- Done at 2025-03-04 10:20:30"
	if got := w.String(); got != want {
		t.Fatalf("report mismatch\n got %q\nwant %q", got, want)
	}
}

func TestFailureWording(t *testing.T) {
	w := NewWriter(fixedClock())
	w.BuildFinished(false, 0)
	w.Zipped(false, "", 0)
	w.Executed(false, time.Second)
	w.Pushed(false, 0)
	w.MirrorFailed("/d/win.zip")
	got := w.String()
	for _, want := range []string{
		"--- Build failed at",
		"--- Failed to zip to '' at",
		"--- Batch file failed execution at 2025-03-04 10:20:30 in 1 seconds",
		"--- Failed to push to itch at",
		"--- Failed to mirror '/d/win.zip'",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
	if !strings.Contains(SwitchReport(domain.TargetWebGL, false, 0, time.Now()), "---Build target failed to switch at") {
		t.Errorf("switch failure wording")
	}
}

func TestBuildAllFraming(t *testing.T) {
	w := NewWriter(fixedClock())
	w.BuildAllStarted()
	w.Section("\n----- Done at x")
	w.BuildAllDone()
	want := "\n----- Build All process started at 2025-03-04 10:20:30\n\n\n----- Done at x\n\n-----Build All process was done at 2025-03-04 10:20:30"
	if got := w.String(); got != want {
		t.Fatalf("got %q", got)
	}
}

func TestSave(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sub", "Report.txt")
	if err := Save("", p); !errors.Is(err, ErrEmptyReport) {
		t.Fatalf("expected ErrEmptyReport, got %v", err)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("empty report must not be written")
	}
	if ErrEmptyReport.Error() != "Report is empty, nothing to save" {
		t.Fatalf("message changed")
	}
	if err := Save("\nhello", p); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := Save("\nagain", p); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	b, _ := os.ReadFile(p)
	if string(b) != "\nagain" {
		t.Fatalf("content %q", b)
	}
	entries, _ := os.ReadDir(filepath.Dir(p))
	if len(entries) != 1 {
		t.Fatalf("temp files left: %v", entries)
	}
}

func TestFileName(t *testing.T) {
	at := time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC)
	if got := FileName("My Game", at); got != "My Game-20250102-150405.txt" {
		t.Fatalf("got %q", got)
	}
	if got := FileName("", at); got != "Report-20250102-150405.txt" {
		t.Fatalf("got %q", got)
	}
	if got := FileName("a/b", at); strings.Contains(got, "/") {
		t.Fatalf("separator kept: %q", got)
	}
}

func TestLineColor(t *testing.T) {
	cases := map[string]rgb{
		"--- Build completed at x":  colOK,
		"--- Build failed at x":     colFail,
		"---Skipped zipping":        colSkipped,
		"--- Zipping /d at x":       colText,
		"--- Zipped to 'a' at x":    colOK,
		"--- Pushed to itch at x":   colOK,
		"- Build target: WebGL":     colText,
		"---Build target switched ": colOK,
	}
	for line, want := range cases {
		if got := lineColor(line); got != want {
			t.Errorf("lineColor(%q) = %v want %v", line, got, want)
		}
	}
}

func TestExportPDF(t *testing.T) {
	out := filepath.Join(t.TempDir(), "r.pdf")
	rep := "\n----- Starting 'Game' build at x\n--- Build failed at y in 0 seconds\n\n----- Done at z"
	if err := ExportPDF(rep, "Deploy report", out); err != nil {
		t.Fatalf("export: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil || !strings.HasPrefix(string(b), "%PDF") {
		t.Fatalf("not a pdf: %v", err)
	}
	if err := ExportPDF("  ", "t", out); !errors.Is(err, ErrEmptyReport) {
		t.Fatalf("empty report: %v", err)
	}
}
