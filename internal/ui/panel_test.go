/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"unideploy/internal/domain"
	"unideploy/internal/runner"
	"unideploy/internal/storage"
)

func TestBuilderCandidates(t *testing.T) {
	root := t.TempDir()
	if got, err := builderCandidates(Options{Root: root}); err != nil || len(got) != 0 {
		t.Fatalf("empty root: %v %v", got, err)
	}
	for _, n := range []string{"b", "a"} {
		p, err := builderFileFor(root, n)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := storage.CreateBuilder(p, domain.NewBuilder(n)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	got, err := builderCandidates(Options{Root: root})
	if err != nil || len(got) != 2 || filepath.Base(got[0]) != "a"+storage.BuilderExt {
		t.Fatalf("unexpected candidates %v %v", got, err)
	}
	explicit, _ := builderCandidates(Options{Root: root, BuilderPath: got[1]})
	if len(explicit) != 1 || explicit[0] != got[1] {
		t.Fatalf("explicit builder ignored: %v", explicit)
	}
}

func TestBuilderFileFor(t *testing.T) {
	if _, err := builderFileFor("/p", "  "); err == nil {
		t.Fatalf("empty name accepted")
	}
	if _, err := builderFileFor("/p", "a/b"); err == nil {
		t.Fatalf("separator accepted")
	}
	p, err := builderFileFor("/p", " Release ")
	if err != nil || p != filepath.Join("/p", "Release"+storage.BuilderExt) {
		t.Fatalf("got %s %v", p, err)
	}
}

func TestFieldsRoundTrip(t *testing.T) {
	s := domain.NewBuildSettings("web")
	s.BuildName = "index.html"
	s.Directory = "web"
	s.BuildTarget = domain.TargetWebGL
	s.Scenes = []string{"Assets/A.unity", "Assets/B.unity"}
	s.BatchArguments = []string{"%zipFile", "--flag"}
	s.Itch = domain.ItchPush{Enabled: true, Project: "me/game", Channel: "html5"}

	f := fieldsOf(s)
	f.Scenes += "\n\n  "
	f.Target = string(domain.TargetAndroid)
	var out domain.BuildSettings
	f.apply(&out)
	if out.BuildTarget != domain.TargetAndroid || out.BuildGroup != domain.GroupAndroid {
		t.Fatalf("target/group %s %s", out.BuildTarget, out.BuildGroup)
	}
	if len(out.Scenes) != 2 || len(out.BatchArguments) != 2 || out.BatchArguments[1] != "--flag" {
		t.Fatalf("lists %v %v", out.Scenes, out.BatchArguments)
	}
	if !out.CreateZipFile || out.Itch.Target() != "me/game:html5" {
		t.Fatalf("flags %+v", out)
	}
}

func TestSettingsLabelAndUniqueName(t *testing.T) {
	s := domain.NewBuildSettings("win")
	s.BuildTarget = domain.TargetWindows64
	s.UseBatchFile = true
	if got := settingsLabel(s); got != "win  [StandaloneWindows64]  zip+script" {
		t.Fatalf("label %q", got)
	}
	b := domain.NewBuilder("x")
	_ = b.Add(domain.NewBuildSettings("settings"))
	_ = b.Add(domain.NewBuildSettings("settings-2"))
	if n := uniqueName(&b, "settings"); n != "settings-3" {
		t.Fatalf("unique %s", n)
	}
	if n := uniqueName(&b, "other"); n != "other" {
		t.Fatalf("unique %s", n)
	}
}

func TestProgressTextAndDeployPath(t *testing.T) {
	got := progressText(runner.Progress{Name: "butler push", Elapsed: 2500 * time.Millisecond, Status: runner.StatusRunning})
	if got != "butler push: Running (2s)" {
		t.Fatalf("progress %q", got)
	}
	b := domain.NewBuilder("x")
	if deployPathFor(&b, "/fallback") != "/fallback" {
		t.Fatalf("fallback not used")
	}
	b.DeployPath = "/builds"
	if deployPathFor(&b, "/fallback") != "/builds" {
		t.Fatalf("builder path not used")
	}
	if len(targetNames()) != len(domain.AllTargets()) || !strings.HasPrefix(targetNames()[0], "Standalone") {
		t.Fatalf("targets %v", targetNames())
	}
}

func TestRunGuardAdmitsOneBuild(t *testing.T) {
	var g runGuard
	if g.active() || !g.begin() {
		t.Fatalf("fresh guard should admit a build")
	}
	if !g.active() || g.begin() {
		t.Fatalf("second build admitted while the first runs")
	}
	g.end()
	if g.active() || !g.begin() {
		t.Fatalf("guard not released")
	}
}
