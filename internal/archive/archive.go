/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package archive zips a build output directory.
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	applog "unideploy/internal/log"
)

// Stats summarises a created archive.
type Stats struct {
	Files      int
	Dirs       int
	InputBytes int64
	ZipBytes   int64
}

// ZipDir writes every file and directory below dir into zipPath. An existing
// zipPath is removed first. Entry names are relative to dir with forward slashes.
func ZipDir(ctx context.Context, dir, zipPath string) (Stats, error) {
	var st Stats
	logger := applog.WithComponent("archive")
	fi, err := os.Stat(dir)
	if err != nil {
		return st, fmt.Errorf("zip source: %w", err)
	}
	if !fi.IsDir() {
		return st, fmt.Errorf("zip source %s is not a directory", dir)
	}
	if err := os.Remove(zipPath); err != nil && !os.IsNotExist(err) {
		return st, fmt.Errorf("remove old zip: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(zipPath), 0o755); err != nil {
		return st, fmt.Errorf("ensure zip dir: %w", err)
	}
	absZip, _ := filepath.Abs(zipPath)

	f, err := os.Create(zipPath)
	if err != nil {
		return st, fmt.Errorf("create zip: %w", err)
	}
	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if abs, _ := filepath.Abs(path); abs == absZip {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
			hdr.Method = zip.Store
			if _, err := zw.CreateHeader(hdr); err != nil {
				return err
			}
			st.Dirs++
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		n, err := copyFile(w, path)
		if err != nil {
			return err
		}
		st.Files++
		st.InputBytes += n
		return nil
	})
	closeErr := zw.Close()
	if err := f.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	if walkErr != nil || closeErr != nil {
		_ = os.Remove(zipPath)
		if walkErr != nil {
			return st, fmt.Errorf("zip %s: %w", dir, walkErr)
		}
		return st, fmt.Errorf("finish zip: %w", closeErr)
	}

	zi, err := os.Stat(zipPath)
	if err != nil {
		return st, fmt.Errorf("zip not created: %w", err)
	}
	st.ZipBytes = zi.Size()
	logger.InfoContext(ctx, "zipped", "dir", dir, "zip", zipPath, "files", st.Files, "bytes", st.ZipBytes)
	return st, nil
}

func copyFile(w io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return io.Copy(w, f)
}

// Entries returns the sorted entry names of the archive at zipPath.
func Entries(zipPath string) ([]string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer func() { _ = zr.Close() }()
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names, nil
}
