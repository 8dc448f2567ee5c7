/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestZipDirEntriesAndStats(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "win")
	writeTree(t, dir, map[string]string{
		"Game.exe":                 strings.Repeat("x", 4096),
		"Game_Data/level0":         "level",
		"Game_Data/Managed/a.dll":  "dll",
		"MonoBleedingEdge/etc/cfg": "cfg",
	})
	zipPath := dir + ".zip"
	if err := os.WriteFile(zipPath, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := ZipDir(context.Background(), dir, zipPath)
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	if st.Files != 4 || st.Dirs != 4 {
		t.Fatalf("stats %+v", st)
	}
	if st.InputBytes != 4096+5+3+3 {
		t.Fatalf("input bytes %d", st.InputBytes)
	}
	if st.ZipBytes <= 0 || st.ZipBytes >= st.InputBytes {
		t.Fatalf("zip size %d not smaller than input %d", st.ZipBytes, st.InputBytes)
	}
	names, err := Entries(zipPath)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	got := strings.Join(names, ",")
	want := "Game.exe,Game_Data/,Game_Data/Managed/,Game_Data/Managed/a.dll,Game_Data/level0,MonoBleedingEdge/,MonoBleedingEdge/etc/,MonoBleedingEdge/etc/cfg"
	if got != want {
		t.Fatalf("entries\n got %s\nwant %s", got, want)
	}
}

func TestZipDirMissingSource(t *testing.T) {
	base := t.TempDir()
	if _, err := ZipDir(context.Background(), filepath.Join(base, "nope"), filepath.Join(base, "nope.zip")); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := os.Stat(filepath.Join(base, "nope.zip")); !os.IsNotExist(err) {
		t.Fatalf("zip should not exist")
	}
}

func TestZipDirCancelled(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "out")
	writeTree(t, dir, map[string]string{"a": "1", "b": "2"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ZipDir(ctx, dir, dir+".zip"); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if _, err := os.Stat(dir + ".zip"); !os.IsNotExist(err) {
		t.Fatalf("partial zip left behind")
	}
}
