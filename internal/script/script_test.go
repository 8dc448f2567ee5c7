/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package script

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"unideploy/internal/domain"
)

func settings() *domain.BuildSettings {
	s := domain.NewBuildSettings("win")
	s.BuildName = "Game.exe"
	s.ZipFile = "/deploy/win.zip"
	s.Itch = domain.ItchPush{Project: "me/game", Channel: "windows"}
	return &s
}

func TestParseArguments(t *testing.T) {
	got, err := ParseArguments(settings(), []string{"%zipFile", "literal", "", "%", "%itchTarget"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"/deploy/win.zip", "literal", "", "%", "me/game:windows"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}

	_, err = ParseArguments(settings(), []string{"%nope"})
	if !errors.Is(err, ErrUnknownField) || !strings.Contains(err.Error(), "%nope") {
		t.Fatalf("expected unknown field error naming the argument, got %v", err)
	}
}

func TestCompileHighIndexFirst(t *testing.T) {
	args := make([]string, 10)
	for i := range args {
		args[i] = "a" + string(rune('0'+i))
	}
	args[9] = "TEN"
	got := Compile("x %10 %1", settings(), args, false)
	if got != "x TEN a0" {
		t.Fatalf("got %q", got)
	}
}

func TestCompileFallsBackToRawArgument(t *testing.T) {
	s := settings()
	s.BatchFile = ""
	got := Compile("push %1 %2 %3", s, []string{"%zipFile", "%batchFile", "%unknown"}, false)
	if got != "push /deploy/win.zip %batchFile %unknown" {
		t.Fatalf("got %q", got)
	}
}

func TestCompilePOSIXPlaceholders(t *testing.T) {
	got := Compile(`butler push "$1" "${2}:$3"`, settings(), DefaultPushArguments(), true)
	if got != `butler push "/deploy/win.zip" "me/game:windows"` {
		t.Fatalf("got %q", got)
	}
	if Compile("echo $1", settings(), []string{"x"}, false) != "echo $1" {
		t.Fatalf("$N must only be replaced for POSIX scripts")
	}
}

func TestWriteDefaultPushScriptDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	p, err := WriteDefaultPushScript(dir)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(p) != DefaultPushScriptName() {
		t.Fatalf("unexpected name %s", p)
	}
	b, _ := os.ReadFile(p)
	if !strings.Contains(string(b), "butler push") {
		t.Fatalf("script body missing butler push: %s", b)
	}
	if err := os.WriteFile(p, []byte("custom"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteDefaultPushScript(dir); err != nil {
		t.Fatalf("second write: %v", err)
	}
	b, _ = os.ReadFile(p)
	if string(b) != "custom" {
		t.Fatalf("existing script was overwritten")
	}

	out, err := CompileFile(p, settings(), DefaultPushArguments())
	if err != nil || out != "custom" {
		t.Fatalf("compile file: %q %v", out, err)
	}
}

func TestCommand(t *testing.T) {
	cases := []struct {
		path, exe string
		first     string
	}{
		{"push.bat", "cmd.exe", "/C"},
		{"PUSH.CMD", "cmd.exe", "/C"},
		{"push.ps1", "powershell", "-NoProfile"},
		{"push.sh", "/bin/sh", "push.sh"},
		{"push", "push", "a"},
	}
	for _, c := range cases {
		exe, args := Command(c.path, []string{"a"})
		if exe != c.exe || args[0] != c.first || args[len(args)-1] != "a" {
			t.Errorf("Command(%s) = %s %v", c.path, exe, args)
		}
	}
}

func TestResolveScriptPath(t *testing.T) {
	root := t.TempDir()
	if got := ResolveScriptPath(root, "Tools/push.sh"); got != filepath.Join(root, "Tools", "push.sh") {
		t.Fatalf("relative: %s", got)
	}
	abs := filepath.Join(root, "x.sh")
	if got := ResolveScriptPath("/elsewhere", abs); got != abs {
		t.Fatalf("absolute changed: %s", got)
	}
	if runtime.GOOS != "windows" && ResolveScriptPath(root, "") != "" {
		t.Fatalf("empty path should stay empty")
	}
}
