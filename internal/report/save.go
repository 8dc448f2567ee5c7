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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flytam/filenamify"
)

// ErrEmptyReport is returned by Save when there is nothing to write.
var ErrEmptyReport = errors.New("Report is empty, nothing to save") //nolint:staticcheck // shown to users verbatim

// Save writes report to path through a temp file and rename.
func Save(report, path string) error {
	if strings.TrimSpace(report) == "" {
		return ErrEmptyReport
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure report dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.WriteString(report); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace report: %w", err)
	}
	return nil
}

// FileName suggests a report file name for title, e.g. "My Game-20250102-150405.txt".
func FileName(title string, at time.Time) string {
	name, err := filenamify.FilenamifyV2(strings.TrimSpace(title), func(o *filenamify.Options) {
		o.Replacement = "_"
	})
	if err != nil || name == "" {
		name = "Report"
	}
	return name + "-" + at.Format("20060102-150405") + ".txt"
}
