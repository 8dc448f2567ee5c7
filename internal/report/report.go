/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package report builds the plain-text deploy report. The line formats are read by
// people and by scripts that grep for them, so they stay stable.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"unideploy/internal/domain"
)

// TimeLayout is used for every timestamp in a report.
const TimeLayout = "2006-01-02 15:04:05"

// Seconds converts an elapsed time to the whole seconds shown in reports.
func Seconds(d time.Duration) int64 { return d.Milliseconds() / 1000 }

// Writer accumulates report text. Every line is written with a leading newline.
type Writer struct {
	now func() time.Time
	sb  strings.Builder
}

// NewWriter returns a Writer using clock for timestamps; nil means time.Now.
func NewWriter(clock func() time.Time) *Writer {
	if clock == nil {
		clock = time.Now
	}
	return &Writer{now: clock}
}

// Stamp formats the current clock time.
func (w *Writer) Stamp() string { return w.now().Format(TimeLayout) }

func (w *Writer) Line(s string) {
	w.sb.WriteByte('\n')
	w.sb.WriteString(s)
}

func (w *Writer) Linef(format string, args ...any) { w.Line(fmt.Sprintf(format, args...)) }

// Raw appends s as is.
func (w *Writer) Raw(s string) { w.sb.WriteString(s) }

func (w *Writer) String() string { return w.sb.String() }

func (w *Writer) Len() int { return w.sb.Len() }

func pick(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// Start writes the build header of one settings entry.
func (w *Writer) Start(s *domain.BuildSettings) {
	w.Linef("----- Starting '%s' build at %s", s.BuildName, w.Stamp())
	w.Linef("- Directory: %s", s.BuildDirectory)
	w.Linef("- Build group: %s", s.Group())
	w.Linef("- Build target: %s", s.BuildTarget)
}

func (w *Writer) BuildFinished(ok bool, d time.Duration) {
	w.Linef("--- Build %s at %s in %d seconds", pick(ok, "completed", "failed"), w.Stamp(), Seconds(d))
}

func (w *Writer) Zipping(dir string) {
	w.Linef("--- Zipping %s at %s", dir, w.Stamp())
}

// Zipped reports the zip outcome; zipFile is empty on failure.
func (w *Writer) Zipped(ok bool, zipFile string, d time.Duration) {
	w.Linef("--- %s to '%s' at %s in %d seconds", pick(ok, "Zipped", "Failed to zip"), zipFile, w.Stamp(), Seconds(d))
}

func (w *Writer) ZipSize(bytes int64) {
	w.Linef("--- Zip size: %s", humanize.Bytes(uint64(bytes)))
}

func (w *Writer) SkippedZip() { w.Line("---Skipped zipping") }

func (w *Writer) Mirrored(url string) { w.Linef("--- Mirrored to '%s'", url) }

func (w *Writer) MirrorFailed(zip string) { w.Linef("--- Failed to mirror '%s'", zip) }

func (w *Writer) Executing(path string) {
	w.Linef("--- Executing batch file '%s' at %s", path, w.Stamp())
}

func (w *Writer) Executed(ok bool, d time.Duration) {
	w.Linef("--- Batch file %s at %s in %d seconds", pick(ok, "was executed", "failed execution"), w.Stamp(), Seconds(d))
}

func (w *Writer) SkippedBatch() { w.Line("---Skipped batch execution") }

func (w *Writer) Pushing(src, target string) {
	w.Linef("--- Pushing '%s' to itch '%s' at %s", src, target, w.Stamp())
}

func (w *Writer) Pushed(ok bool, d time.Duration) {
	w.Linef("--- %s at %s in %d seconds", pick(ok, "Pushed to itch", "Failed to push to itch"), w.Stamp(), Seconds(d))
}

// SwitchedBack appends a target restore inside a settings report.
func (w *Writer) SwitchedBack(target domain.BuildTarget, ok bool, d time.Duration) {
	w.Line("-- " + SwitchReport(target, ok, d, w.now()))
}

func (w *Writer) Done() { w.Linef("----- Done at %s", w.Stamp()) }

// SwitchReport is the two-line report of a build target switch.
func SwitchReport(target domain.BuildTarget, ok bool, d time.Duration, at time.Time) string {
	return fmt.Sprintf("---Switching build target to %s\n---Build target %s at %s in %ds",
		target, pick(ok, "switched", "failed to switch"), at.Format(TimeLayout), Seconds(d))
}

// BuildAllStarted opens a Build All report.
func (w *Writer) BuildAllStarted() {
	w.Linef("----- Build All process started at %s", w.Stamp())
}

// Section appends a settings report separated by a blank line.
func (w *Writer) Section(rep string) {
	w.Raw("\n\n" + rep)
}

// BuildAllDone closes a Build All report.
func (w *Writer) BuildAllDone() {
	w.Raw("\n\n-----Build All process was done at " + w.Stamp())
}
