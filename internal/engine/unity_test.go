/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"unideploy/internal/config"
	"unideploy/internal/domain"
	"unideploy/internal/runner"
)

type call struct {
	path string
	args []string
}

func fakeRunner(calls *[]call, fn func(spec runner.Spec) (runner.Result, error)) runner.Runner {
	return runner.Func(func(_ context.Context, spec runner.Spec, _ runner.ProgressFunc) (runner.Result, error) {
		*calls = append(*calls, call{spec.Path, spec.Args})
		return fn(spec)
	})
}

func argAfter(args []string, name string) string {
	for i := range args {
		if args[i] == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestPlayerArgs(t *testing.T) {
	u := &Unity{ProjectPath: "/proj"}
	args := u.PlayerArgs(PlayerOptions{
		Scenes:           []string{"Assets/A.unity", "Assets/B.unity"},
		Target:           domain.TargetWindows64,
		LocationPathName: "/deploy/win/Game.exe",
	})
	joined := strings.Join(args, " ")
	for _, want := range []string{"-batchmode", "-quit", "-nographics"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %s in %s", want, joined)
		}
	}
	checks := map[string]string{
		"-projectPath":   "/proj",
		"-buildTarget":   "Win64",
		"-logFile":       "-",
		"-executeMethod": DefaultBuildMethod,
		"-deployScenes":  "Assets/A.unity;Assets/B.unity",
		"-deployOutput":  "/deploy/win/Game.exe",
		"-deployTarget":  "StandaloneWindows64",
	}
	for k, v := range checks {
		if got := argAfter(args, k); got != v {
			t.Errorf("%s = %q want %q", k, got, v)
		}
	}
}

func TestActiveTargetDefaultsAndTracksBuilds(t *testing.T) {
	proj := t.TempDir()
	out := filepath.Join(t.TempDir(), "Game.x86_64")
	var calls []call
	u := &Unity{
		EditorPath:    "unity",
		ProjectPath:   proj,
		DefaultTarget: domain.TargetOSX,
		Runner: fakeRunner(&calls, func(spec runner.Spec) (runner.Result, error) {
			if argAfter(spec.Args, "-deployOutput") != "" {
				_ = os.WriteFile(out, []byte("elf"), 0o755)
			}
			return runner.Result{Status: runner.StatusCompleted, Duration: time.Second}, nil
		}),
	}
	g, tg, err := u.ActiveTarget(context.Background())
	if err != nil || tg != domain.TargetOSX || g != domain.GroupStandalone {
		t.Fatalf("default target: %s %s %v", g, tg, err)
	}

	sum, err := u.BuildPlayer(context.Background(), PlayerOptions{
		Scenes: []string{"A.unity"}, Target: domain.TargetLinux64, Group: domain.GroupStandalone, LocationPathName: out,
	})
	if err != nil || sum.Result != Succeeded {
		t.Fatalf("build: %+v %v", sum, err)
	}
	_, tg, _ = u.ActiveTarget(context.Background())
	if tg != domain.TargetLinux64 {
		t.Fatalf("active target after build = %s", tg)
	}

	if err := u.SwitchTarget(context.Background(), domain.GroupWebGL, domain.TargetWebGL); err != nil {
		t.Fatalf("switch: %v", err)
	}
	g, tg, _ = u.ActiveTarget(context.Background())
	if tg != domain.TargetWebGL || g != domain.GroupWebGL {
		t.Fatalf("after switch: %s %s", g, tg)
	}
	if len(calls) != 2 || argAfter(calls[1].args, "-buildTarget") != "WebGL" {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if err := u.SwitchTarget(context.Background(), domain.GroupUnknown, "Amiga"); err == nil {
		t.Fatalf("unknown target accepted")
	}
}

func TestBuildPlayerFailures(t *testing.T) {
	proj := t.TempDir()
	var calls []call
	okRun := fakeRunner(&calls, func(runner.Spec) (runner.Result, error) {
		return runner.Result{Status: runner.StatusCompleted}, nil
	})
	u := &Unity{ProjectPath: proj, Runner: okRun}
	sum, err := u.BuildPlayer(context.Background(), PlayerOptions{Target: domain.TargetWebGL, LocationPathName: filepath.Join(proj, "missing")})
	if err == nil || sum.Result != Failed {
		t.Fatalf("missing output should fail: %+v %v", sum, err)
	}

	u.Runner = fakeRunner(&calls, func(runner.Spec) (runner.Result, error) {
		return runner.Result{Status: runner.StatusError, ExitCode: 1}, &runner.ExitError{Name: "unity", Code: 1}
	})
	if sum, err = u.BuildPlayer(context.Background(), PlayerOptions{Target: domain.TargetWebGL}); err == nil || sum.Result != Failed {
		t.Fatalf("exit error should fail: %+v", sum)
	}

	u.Runner = fakeRunner(&calls, func(runner.Spec) (runner.Result, error) {
		return runner.Result{Status: runner.StatusStopped}, runner.ErrStopped
	})
	sum, err = u.BuildPlayer(context.Background(), PlayerOptions{Target: domain.TargetWebGL})
	if !errors.Is(err, runner.ErrStopped) || sum.Result != Cancelled {
		t.Fatalf("stop should cancel: %+v %v", sum, err)
	}
	if _, err := os.Stat(statePath(proj)); !os.IsNotExist(err) {
		t.Fatalf("failed builds must not record a target")
	}
}

func writeProjectVersion(t *testing.T, root, ver string) {
	t.Helper()
	dir := filepath.Join(root, "ProjectSettings")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := "m_EditorVersion: " + ver + "\nm_EditorVersionWithRevision: " + ver + " (abc)\n"
	if err := os.WriteFile(filepath.Join(dir, "ProjectVersion.txt"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProjectVersionAndLocateEditor(t *testing.T) {
	root := t.TempDir()
	writeProjectVersion(t, root, "2022.3.10f1")
	v, err := ProjectVersion(root)
	if err != nil || v != "2022.3.10f1" {
		t.Fatalf("version %q %v", v, err)
	}

	t.Setenv(config.EnvUnityPath, "")
	if p, _ := LocateEditor(config.UnityConfig{EditorPath: "/opt/unity", ProjectPath: root}); p != "/opt/unity" {
		t.Fatalf("explicit path ignored: %s", p)
	}
	t.Setenv(config.EnvUnityPath, "/env/unity")
	if p, _ := LocateEditor(config.UnityConfig{ProjectPath: root}); p != "/env/unity" {
		t.Fatalf("env path ignored: %s", p)
	}
	t.Setenv(config.EnvUnityPath, "")
	t.Setenv("HOME", t.TempDir())
	t.Setenv("USERPROFILE", os.Getenv("HOME"))
	if _, err := LocateEditor(config.UnityConfig{ProjectPath: root}); err == nil || !strings.Contains(err.Error(), "2022.3.10f1") {
		t.Fatalf("expected not found error naming the version, got %v", err)
	}
	if _, err := ProjectVersion(t.TempDir()); err == nil {
		t.Fatalf("missing version file accepted")
	}
}

func TestHubEditorPath(t *testing.T) {
	if p := hubEditorPath("linux", "/home/me", "6000.0.1f1"); p != filepath.Join("/home/me", "Unity", "Hub", "Editor", "6000.0.1f1", "Editor", "Unity") {
		t.Fatalf("linux path %s", p)
	}
	if p := hubEditorPath("darwin", "", "6000.0.1f1"); !strings.HasSuffix(p, filepath.Join("Unity.app", "Contents", "MacOS", "Unity")) {
		t.Fatalf("darwin path %s", p)
	}
}

func TestInstallScript(t *testing.T) {
	root := t.TempDir()
	p, err := InstallScript(root)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	b, _ := os.ReadFile(p)
	if !strings.Contains(string(b), "class BatchBuild") || !strings.Contains(UnityScript(), "-deployOutput") {
		t.Fatalf("unexpected script content")
	}
}
