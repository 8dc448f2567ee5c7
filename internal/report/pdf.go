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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

type rgb struct{ r, g, b int }

var (
	colText    = rgb{20, 20, 20}
	colOK      = rgb{0, 120, 40}
	colFail    = rgb{180, 20, 20}
	colSkipped = rgb{120, 120, 120}
)

// lineColor picks the colour of a report line from its outcome words.
func lineColor(line string) rgb {
	l := strings.ToLower(line)
	switch {
	case strings.Contains(l, "fail"):
		return colFail
	case strings.Contains(l, "skipped"):
		return colSkipped
	case strings.Contains(l, "completed"), strings.Contains(l, "--- zipped"),
		strings.Contains(l, "was executed"), strings.Contains(l, "pushed to itch"),
		strings.Contains(l, "target switched"), strings.Contains(l, "mirrored"):
		return colOK
	}
	return colText
}

// ExportPDF renders a text report into an A4 PDF with a monospaced font.
func ExportPDF(report, title, path string) error {
	if strings.TrimSpace(report) == "" {
		return ErrEmptyReport
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: 210, Ht: 297},
	})
	pdf.SetTitle(title, true)
	pdf.SetAuthor("unideploy", false)
	pdf.SetCreationDate(time.Now())
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(colText.r, colText.g, colText.b)
	pdf.CellFormat(0, 8, tr(title), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	for _, line := range strings.Split(strings.TrimLeft(report, "\n"), "\n") {
		style := ""
		if strings.HasPrefix(line, "-----") {
			style = "B"
		}
		c := lineColor(line)
		pdf.SetFont("Courier", style, 8.5)
		pdf.SetTextColor(c.r, c.g, c.b)
		if line == "" {
			pdf.Ln(4)
			continue
		}
		pdf.MultiCell(0, 4, tr(line), "", "L", false)
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
