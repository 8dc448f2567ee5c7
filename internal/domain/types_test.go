/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package domain

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func validSettings() BuildSettings {
	s := NewBuildSettings("win")
	s.BuildName = "Game.exe"
	s.Directory = "win"
	s.BuildGroup = GroupStandalone
	s.BuildTarget = TargetWindows64
	s.Scenes = []string{"Assets/Scenes/Main"}
	return s
}

func TestTargetGroupsAndCLINames(t *testing.T) {
	cases := []struct {
		target BuildTarget
		group  BuildTargetGroup
		cli    string
	}{
		{TargetWindows64, GroupStandalone, "Win64"},
		{TargetOSX, GroupStandalone, "OSXUniversal"},
		{TargetLinux64, GroupStandalone, "Linux64"},
		{TargetWebGL, GroupWebGL, "WebGL"},
		{TargetAndroid, GroupAndroid, "Android"},
		{BuildTarget("Amiga"), GroupUnknown, "Amiga"},
	}
	for _, c := range cases {
		if got := c.target.Group(); got != c.group {
			t.Errorf("%s.Group() = %s want %s", c.target, got, c.group)
		}
		if got := c.target.CLIName(); got != c.cli {
			t.Errorf("%s.CLIName() = %s want %s", c.target, got, c.cli)
		}
	}
	for _, tg := range AllTargets() {
		if !tg.Valid() {
			t.Errorf("%s should be valid", tg)
		}
	}
}

func TestDefaults(t *testing.T) {
	s := NewBuildSettings("x")
	if !s.CreateZipFile || s.UseBatchFile {
		t.Fatalf("unexpected settings defaults: %+v", s)
	}
	b := NewBuilder("b")
	if !b.AutomaticallySaveReport || b.KeepCurrentBuildTarget {
		t.Fatalf("unexpected builder defaults: %+v", b)
	}
}

func TestYAMLMissingKeysKeepDefaults(t *testing.T) {
	src := "name: demo\nsettings:\n  - name: web\n    buildName: index\n    directory: web\n    buildTarget: WebGL\n"
	var b Builder
	if err := yaml.Unmarshal([]byte(src), &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !b.AutomaticallySaveReport {
		t.Fatalf("builder default lost")
	}
	if len(b.Settings) != 1 || !b.Settings[0].CreateZipFile {
		t.Fatalf("settings default lost: %+v", b.Settings)
	}

	var off BuildSettings
	if err := yaml.Unmarshal([]byte("name: x\ncreateZipFile: false\n"), &off); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if off.CreateZipFile {
		t.Fatalf("explicit false should win")
	}
}

func TestValidate(t *testing.T) {
	s := validSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	bad := NewBuildSettings("bad")
	bad.BuildTarget = TargetAndroid
	bad.BuildGroup = GroupStandalone
	bad.UseBatchFile = true
	bad.Itch = ItchPush{Enabled: true, Project: "nogame", Channel: "android"}
	err := bad.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"buildName is empty", "directory is empty", "belongs to group", "no scenes", "batchFile is empty", "user/game"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}

	s.Itch = ItchPush{Enabled: true}
	if err := s.Validate(); err == nil || !strings.Contains(err.Error(), "project and channel") {
		t.Fatalf("missing itch project not reported: %v", err)
	}
}

func TestScenePathsAppendsExtension(t *testing.T) {
	s := BuildSettings{Scenes: []string{"A", "B.unity", " ", "c.UNITY"}}
	got := strings.Join(s.ScenePaths(), ",")
	if got != "A.unity,B.unity,c.UNITY" {
		t.Fatalf("got %q", got)
	}
}

func TestFieldValue(t *testing.T) {
	s := validSettings()
	s.Scenes = []string{"A", "B"}
	s.BatchArguments = []string{"%zipFile", "x"}
	s.ZipFile = "/d/win.zip"
	s.Itch = ItchPush{Project: "me/game", Channel: "windows"}

	cases := map[string]string{
		"buildName":      "Game.exe",
		"buildTarget":    "StandaloneWindows64",
		"buildGroup":     "Standalone",
		"scenes":         "A.unity;B.unity",
		"batchArguments": "%zipFile x",
		"createZipFile":  "true",
		"useBatchFile":   "false",
		"zipFile":        "/d/win.zip",
		"itchTarget":     "me/game:windows",
	}
	for name, want := range cases {
		got, ok := s.FieldValue(name)
		if !ok || got != want {
			t.Errorf("FieldValue(%q) = %q,%v want %q", name, got, ok, want)
		}
	}
	if _, ok := s.FieldValue("BuildName"); ok {
		t.Errorf("field names are case-sensitive")
	}
	for _, n := range ArgumentNames() {
		if _, ok := s.FieldValue(n); !ok {
			t.Errorf("listed argument %q not resolvable", n)
		}
	}
}

func names(b *Builder) string {
	var out []string
	for _, s := range b.Settings {
		out = append(out, s.Name)
	}
	return strings.Join(out, ",")
}

func TestBuilderListEditing(t *testing.T) {
	b := NewBuilder("b")
	for _, n := range []string{"a", "b", "c"} {
		if err := b.Add(NewBuildSettings(n)); err != nil {
			t.Fatalf("add %s: %v", n, err)
		}
	}
	if err := b.Add(NewBuildSettings("a")); err == nil {
		t.Fatalf("duplicate name accepted")
	}
	if err := b.InsertAfter(0, NewBuildSettings("x")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := names(&b); got != "a,x,b,c" {
		t.Fatalf("after insert: %s", got)
	}
	if err := b.InsertAfter(-1, NewBuildSettings("first")); err != nil {
		t.Fatalf("insert front: %v", err)
	}
	if err := b.Move(0, 4); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := names(&b); got != "a,x,b,c,first" {
		t.Fatalf("after move: %s", got)
	}
	if err := b.Remove(1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := names(&b); got != "a,b,c,first" {
		t.Fatalf("after remove: %s", got)
	}
	if b.Find("c") != 2 || b.Find("C") != -1 {
		t.Fatalf("find mismatch")
	}
	if err := b.Remove(9); err == nil {
		t.Fatalf("out of range remove accepted")
	}
}

func TestBuilderValidateDuplicates(t *testing.T) {
	b := NewBuilder("b")
	b.Settings = []BuildSettings{validSettings(), validSettings()}
	err := b.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}
