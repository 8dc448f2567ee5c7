/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package engine drives the Unity editor in batch mode: switching the active build
// target and building players.
package engine

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"unideploy/internal/config"
	"unideploy/internal/domain"
	applog "unideploy/internal/log"
	"unideploy/internal/runner"
)

// BuildResult mirrors the editor's build report result.
type BuildResult string

const (
	Succeeded BuildResult = "Succeeded"
	Failed    BuildResult = "Failed"
	Cancelled BuildResult = "Cancelled"
)

// PlayerOptions is the input of a player build.
type PlayerOptions struct {
	Scenes           []string
	Target           domain.BuildTarget
	Group            domain.BuildTargetGroup
	LocationPathName string
	LogFile          string // "-" or empty logs to stdout
}

// BuildSummary is the outcome of a player build.
type BuildSummary struct {
	Result   BuildResult
	Duration time.Duration
	Output   string
}

// Engine is the host engine as seen by the deploy pipeline.
type Engine interface {
	ActiveTarget(ctx context.Context) (domain.BuildTargetGroup, domain.BuildTarget, error)
	SwitchTarget(ctx context.Context, group domain.BuildTargetGroup, target domain.BuildTarget) error
	BuildPlayer(ctx context.Context, opts PlayerOptions) (BuildSummary, error)
}

// DefaultBuildMethod is the static method in BatchBuild.cs.
const DefaultBuildMethod = "UniDeploy.BatchBuild.Build"

//go:embed BatchBuild.cs
var batchBuildScript string

// UnityScript returns the editor script that receives -deployScenes, -deployOutput and -deployTarget.
func UnityScript() string { return batchBuildScript }

// InstallScript writes the editor script to Assets/Editor/UniDeploy inside the project.
func InstallScript(projectRoot string) (string, error) {
	dir := filepath.Join(projectRoot, "Assets", "Editor", "UniDeploy")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create editor dir: %w", err)
	}
	p := filepath.Join(dir, "BatchBuild.cs")
	if err := os.WriteFile(p, []byte(batchBuildScript), 0o644); err != nil {
		return "", fmt.Errorf("write editor script: %w", err)
	}
	return p, nil
}

// Unity runs the editor executable.
type Unity struct {
	EditorPath    string
	ProjectPath   string
	BuildMethod   string
	DefaultTarget domain.BuildTarget
	Timeout       time.Duration
	Runner        runner.Runner
	// Progress is polled while the editor runs; returning false cancels it.
	Progress runner.ProgressFunc
}

// NewUnity builds a Unity engine from the configuration.
func NewUnity(cfg config.UnityConfig, r runner.Runner) (*Unity, error) {
	editor, err := LocateEditor(cfg)
	if err != nil {
		return nil, err
	}
	return &Unity{
		EditorPath:    editor,
		ProjectPath:   cfg.ProjectPath,
		BuildMethod:   cfg.BuildMethod,
		DefaultTarget: domain.BuildTarget(cfg.DefaultTarget),
		Timeout:       cfg.UnityTimeout(),
		Runner:        r,
	}, nil
}

type targetState struct {
	Group      domain.BuildTargetGroup `yaml:"group"`
	Target     domain.BuildTarget      `yaml:"target"`
	SwitchedAt time.Time               `yaml:"switched_at"`
}

func statePath(projectRoot string) string {
	return filepath.Join(projectRoot, "Library", "unideploy", "active_target.yaml")
}

// ActiveTarget reports the last target switched to, or the default target when none was recorded.
func (u *Unity) ActiveTarget(_ context.Context) (domain.BuildTargetGroup, domain.BuildTarget, error) {
	b, err := os.ReadFile(statePath(u.ProjectPath))
	if errors.Is(err, os.ErrNotExist) {
		t := u.DefaultTarget
		if t == "" {
			t = domain.TargetWindows64
		}
		return t.Group(), t, nil
	}
	if err != nil {
		return domain.GroupUnknown, "", fmt.Errorf("read target state: %w", err)
	}
	var st targetState
	if err := yaml.Unmarshal(b, &st); err != nil {
		return domain.GroupUnknown, "", fmt.Errorf("parse target state: %w", err)
	}
	if st.Group == "" {
		st.Group = st.Target.Group()
	}
	return st.Group, st.Target, nil
}

func (u *Unity) recordTarget(group domain.BuildTargetGroup, target domain.BuildTarget) error {
	p := statePath(u.ProjectPath)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(targetState{Group: group, Target: target, SwitchedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o644)
}

func (u *Unity) baseArgs(target domain.BuildTarget, logFile string) []string {
	if logFile == "" {
		logFile = "-"
	}
	return []string{
		"-batchmode", "-quit", "-nographics",
		"-projectPath", u.ProjectPath,
		"-buildTarget", target.CLIName(),
		"-logFile", logFile,
	}
}

// SwitchTarget opens the project with -buildTarget, which makes the editor switch and reimport.
func (u *Unity) SwitchTarget(ctx context.Context, group domain.BuildTargetGroup, target domain.BuildTarget) error {
	if !target.Valid() {
		return fmt.Errorf("unknown build target %q", target)
	}
	_, err := u.Runner.Run(ctx, runner.Spec{
		Name:    "unity switch " + string(target),
		Path:    u.EditorPath,
		Args:    u.baseArgs(target, ""),
		Dir:     u.ProjectPath,
		Timeout: u.Timeout,
	}, u.Progress)
	if err != nil {
		return fmt.Errorf("switch to %s: %w", target, err)
	}
	return u.recordTarget(group, target)
}

// PlayerArgs returns the editor command line for a player build.
func (u *Unity) PlayerArgs(opts PlayerOptions) []string {
	method := u.BuildMethod
	if method == "" {
		method = DefaultBuildMethod
	}
	args := u.baseArgs(opts.Target, opts.LogFile)
	return append(args,
		"-executeMethod", method,
		"-deployScenes", strings.Join(opts.Scenes, ";"),
		"-deployOutput", opts.LocationPathName,
		"-deployTarget", string(opts.Target),
	)
}

// BuildPlayer runs the build method and checks that the output exists.
func (u *Unity) BuildPlayer(ctx context.Context, opts PlayerOptions) (BuildSummary, error) {
	logger := applog.WithComponent("engine")
	res, err := u.Runner.Run(ctx, runner.Spec{
		Name:    "unity build " + string(opts.Target),
		Path:    u.EditorPath,
		Args:    u.PlayerArgs(opts),
		Dir:     u.ProjectPath,
		Timeout: u.Timeout,
	}, u.Progress)
	sum := BuildSummary{Duration: res.Duration, Output: res.Output}
	switch {
	case res.Status == runner.StatusStopped:
		sum.Result = Cancelled
		return sum, err
	case err != nil:
		sum.Result = Failed
		return sum, err
	}
	if _, statErr := os.Stat(opts.LocationPathName); statErr != nil {
		sum.Result = Failed
		return sum, fmt.Errorf("build output missing: %w", statErr)
	}
	sum.Result = Succeeded
	if err := u.recordTarget(opts.Group, opts.Target); err != nil {
		logger.WarnContext(ctx, "record active target", "err", err)
	}
	return sum, nil
}

// ProjectVersion returns the editor version recorded in ProjectSettings/ProjectVersion.txt.
func ProjectVersion(projectRoot string) (string, error) {
	f, err := os.Open(filepath.Join(projectRoot, "ProjectSettings", "ProjectVersion.txt"))
	if err != nil {
		return "", fmt.Errorf("open project version: %w", err)
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if v, ok := strings.CutPrefix(line, "m_EditorVersion:"); ok {
			return strings.TrimSpace(v), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", errors.New("m_EditorVersion not found")
}

// hubEditorPath is where Unity Hub installs an editor version by default.
func hubEditorPath(goos, home, version string) string {
	switch goos {
	case "windows":
		return filepath.Join(`C:\Program Files\Unity\Hub\Editor`, version, "Editor", "Unity.exe")
	case "darwin":
		return filepath.Join("/Applications/Unity/Hub/Editor", version, "Unity.app", "Contents", "MacOS", "Unity")
	}
	return filepath.Join(home, "Unity", "Hub", "Editor", version, "Editor", "Unity")
}

// LocateEditor picks the editor executable: configured path, then UDEP_UNITY_PATH,
// then the Unity Hub install matching the project's editor version.
func LocateEditor(cfg config.UnityConfig) (string, error) {
	if cfg.EditorPath != "" {
		return cfg.EditorPath, nil
	}
	if p := os.Getenv(config.EnvUnityPath); p != "" {
		return p, nil
	}
	ver, err := ProjectVersion(cfg.ProjectPath)
	if err != nil {
		return "", fmt.Errorf("locate editor: %w", err)
	}
	home, _ := os.UserHomeDir()
	p := hubEditorPath(runtime.GOOS, home, ver)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("editor %s not found at %s (set %s)", ver, p, config.EnvUnityPath)
	}
	return p, nil
}
