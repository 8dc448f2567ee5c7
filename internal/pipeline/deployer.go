/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package pipeline runs the per-settings deploy sequence and Build All.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"unideploy/internal/archive"
	"unideploy/internal/domain"
	"unideploy/internal/engine"
	"unideploy/internal/itch"
	applog "unideploy/internal/log"
	"unideploy/internal/mirror"
	"unideploy/internal/report"
	"unideploy/internal/runner"
	"unideploy/internal/script"
	"unideploy/internal/telemetry"
)

// ReportFileName is the auto-saved report inside a build directory or deploy path.
const ReportFileName = "Report.txt"

// History receives every finished run. Both the local SQLite history and
// the Postgres store satisfy it.
type History interface {
	RecordRun(ctx context.Context, r domain.Run) error
}

// Pusher uploads a build to itch.
type Pusher interface {
	Push(ctx context.Context, opts itch.PushOptions, onProgress runner.ProgressFunc) (runner.Result, error)
}

// Deployer wires the external systems a deploy needs. Engine and Runner are
// required; the rest are optional and a nil value makes the matching stage fail
// when a settings entry asks for it.
type Deployer struct {
	Engine      engine.Engine
	Runner      runner.Runner
	Butler      Pusher
	Mirror      mirror.Uploader
	History     []History
	Telemetry   telemetry.Sink
	Clock       func() time.Time
	ProjectRoot string
	Progress    runner.ProgressFunc
	DryRunPush  bool
	// PushIfChanged adds --if-changed to every push.
	PushIfChanged bool
	// Builder is recorded as the builder name of runs started with Build.
	Builder string
}

// Result is the outcome of one settings build.
type Result struct {
	RunID    string
	Settings string
	Success  bool
	ZipFile  string
	Stages   []domain.StageRecord
	Report   string
}

// Failed returns the first failed stage, or "".
func (r Result) Failed() string {
	for _, st := range r.Stages {
		if st.Status == domain.StageFailed {
			return st.Name
		}
	}
	return ""
}

// AllResult is the outcome of Build All.
type AllResult struct {
	Results []Result
	Success bool
	Report  string
}

func (d *Deployer) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

func (d *Deployer) newRunID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// stages collects stage records of one run.
type stages struct {
	now  func() time.Time
	list []domain.StageRecord
}

func (st *stages) done(name string, start time.Time, err error) time.Duration {
	d := st.now().Sub(start)
	rec := domain.StageRecord{Name: name, Status: domain.StageOK, Started: start, Duration: d}
	if err != nil {
		rec.Status = domain.StageFailed
		rec.Detail = err.Error()
	}
	st.list = append(st.list, rec)
	return d
}

func (st *stages) skip(name string) {
	st.list = append(st.list, domain.StageRecord{Name: name, Status: domain.StageSkipped, Started: st.now()})
}

// Build deploys one settings entry: reset output, switch and build, zip,
// mirror, script, itch push, restore target, report. Every failure ends up in
// the report; a failed build or zip skips the stages after it. An empty
// deployPath runs nothing and returns an empty report.
func (d *Deployer) Build(ctx context.Context, s *domain.BuildSettings, deployPath string, keepBuildTarget bool) Result {
	return d.build(ctx, d.Builder, s, deployPath, keepBuildTarget)
}

func (d *Deployer) build(ctx context.Context, builderName string, s *domain.BuildSettings, deployPath string, keepBuildTarget bool) Result {
	if deployPath == "" {
		return Result{Settings: s.Name}
	}
	runID := d.newRunID()
	ctx = applog.ContextWithRun(ctx, runID)
	logger := applog.WithComponent("pipeline").With(slog.String("settings", s.Name))
	started := d.now()

	w := report.NewWriter(d.now)
	st := &stages{now: d.now}
	res := Result{RunID: runID, Settings: s.Name}

	prevGroup, prevTarget, err := d.Engine.ActiveTarget(ctx)
	if err != nil {
		logger.WarnContext(ctx, "active target unknown", slog.Any("err", err))
	}
	s.BuildDirectory = filepath.Join(deployPath, s.Directory)
	s.ZipFile = ""
	w.Start(s)

	restore := func() {
		if !keepBuildTarget {
			st.skip(domain.StageRestore)
			return
		}
		t0 := d.now()
		var err error
		if prevTarget == "" {
			err = errors.New("previous build target unknown")
		} else {
			// the switch back also runs after a cancel
			err = d.Engine.SwitchTarget(context.WithoutCancel(ctx), prevGroup, prevTarget)
		}
		w.SwitchedBack(prevTarget, err == nil, st.done(domain.StageRestore, t0, err))
	}

	ok := d.buildPlayer(ctx, s, w, st, logger)
	if ok {
		ok = d.zip(ctx, s, w, st, logger)
	}
	if ok {
		d.mirror(ctx, runID, s, w, st, logger)
		d.runScript(ctx, s, w, st, logger)
		if ctx.Err() == nil {
			d.push(ctx, s, w, st, logger)
		} else if s.Itch.Enabled {
			st.skip(domain.StagePush)
		}
	}
	restore()
	w.Done()

	res.Stages = st.list
	res.Success = res.Failed() == ""
	res.ZipFile = s.ZipFile
	res.Report = w.String()
	s.Report = res.Report

	d.finish(ctx, domain.Run{
		ID:          runID,
		Builder:     builderName,
		Settings:    s.Name,
		BuildTarget: s.BuildTarget,
		DeployPath:  deployPath,
		Success:     res.Success,
		StartedAt:   started,
		FinishedAt:  d.now(),
		ZipFile:     s.ZipFile,
		ZipBytes:    fileSize(s.ZipFile),
		Report:      res.Report,
		Stages:      res.Stages,
	}, logger)

	if s.AutomaticallySaveReport {
		p := filepath.Join(s.BuildDirectory, ReportFileName)
		if err := report.Save(res.Report, p); err != nil {
			logger.WarnContext(ctx, "auto-save report failed", slog.String("path", p), slog.Any("err", err))
		}
	}
	return res
}

// buildPlayer resets the output directory, switches target and runs the player build.
func (d *Deployer) buildPlayer(ctx context.Context, s *domain.BuildSettings, w *report.Writer, st *stages, logger *slog.Logger) bool {
	t0 := d.now()
	err := s.Validate()
	if err == nil {
		err = resetDir(s.BuildDirectory)
	}
	st.done(domain.StagePrepare, t0, err)
	if err != nil {
		logger.ErrorContext(ctx, "prepare failed", slog.Any("err", err))
		w.BuildFinished(false, d.now().Sub(t0))
		return false
	}

	t0 = d.now()
	err = d.Engine.SwitchTarget(ctx, s.Group(), s.BuildTarget)
	if err == nil {
		var sum engine.BuildSummary
		sum, err = d.Engine.BuildPlayer(ctx, engine.PlayerOptions{
			Scenes:           s.ScenePaths(),
			Target:           s.BuildTarget,
			Group:            s.Group(),
			LocationPathName: filepath.Join(s.BuildDirectory, s.BuildName),
		})
		if err == nil && sum.Result != engine.Succeeded {
			err = fmt.Errorf("player build %s", sum.Result)
		}
	}
	dur := st.done(domain.StageBuild, t0, err)
	w.BuildFinished(err == nil, dur)
	if err != nil {
		logger.ErrorContext(ctx, "build failed", slog.Any("err", err))
		return false
	}
	logger.InfoContext(ctx, "build completed", slog.Duration("took", dur))
	return true
}

func (d *Deployer) zip(ctx context.Context, s *domain.BuildSettings, w *report.Writer, st *stages, logger *slog.Logger) bool {
	if !s.CreateZipFile {
		w.SkippedZip()
		st.skip(domain.StageZip)
		return true
	}
	w.Zipping(s.BuildDirectory)
	t0 := d.now()
	zipPath := s.BuildDirectory + ".zip"
	stats, err := archive.ZipDir(ctx, s.BuildDirectory, zipPath)
	if err == nil {
		s.ZipFile = zipPath
	}
	w.Zipped(err == nil, s.ZipFile, st.done(domain.StageZip, t0, err))
	if err != nil {
		logger.ErrorContext(ctx, "zip failed", slog.Any("err", err))
		return false
	}
	w.ZipSize(stats.ZipBytes)
	return true
}

// mirror copies the zip to object storage; a failure is reported but does not stop the run.
func (d *Deployer) mirror(ctx context.Context, runID string, s *domain.BuildSettings, w *report.Writer, st *stages, logger *slog.Logger) {
	if !s.Mirror || s.ZipFile == "" {
		return
	}
	t0 := d.now()
	var url string
	err := errors.New("mirror is not configured")
	if d.Mirror != nil {
		url, err = d.Mirror.Upload(ctx, s.ZipFile, d.Mirror.Key(s.BuildName, runID, filepath.Base(s.ZipFile)))
	}
	rec := domain.StageRecord{Name: domain.StageMirror, Status: domain.StageOK, Started: t0, Duration: d.now().Sub(t0), Detail: url}
	if err != nil {
		rec.Status = domain.StageSkipped
		rec.Detail = err.Error()
		logger.WarnContext(ctx, "mirror failed", slog.Any("err", err))
		w.MirrorFailed(s.ZipFile)
	} else {
		w.Mirrored(url)
	}
	st.list = append(st.list, rec)
}

func (d *Deployer) runScript(ctx context.Context, s *domain.BuildSettings, w *report.Writer, st *stages, logger *slog.Logger) {
	if !s.UseBatchFile {
		w.SkippedBatch()
		st.skip(domain.StageScript)
		return
	}
	path := script.ResolveScriptPath(d.ProjectRoot, s.BatchFile)
	w.Executing(path)
	t0 := d.now()
	args, err := script.ParseArguments(s, s.BatchArguments)
	if err == nil {
		exe, cmdArgs := script.Command(path, args)
		_, err = d.Runner.Run(ctx, runner.Spec{
			Name: filepath.Base(path),
			Path: exe,
			Args: cmdArgs,
			Dir:  filepath.Dir(path),
		}, d.Progress)
	}
	w.Executed(err == nil, st.done(domain.StageScript, t0, err))
	if err != nil {
		logger.ErrorContext(ctx, "batch file failed", slog.String("path", path), slog.Any("err", err))
	}
}

// push uploads the zip, or the build directory when nothing was zipped.
func (d *Deployer) push(ctx context.Context, s *domain.BuildSettings, w *report.Writer, st *stages, logger *slog.Logger) {
	if !s.Itch.Enabled {
		return
	}
	src := s.ZipFile
	if src == "" {
		src = s.BuildDirectory
	}
	w.Pushing(src, s.Itch.Target())
	t0 := d.now()
	err := errors.New("butler is not configured")
	if d.Butler != nil {
		_, err = d.Butler.Push(ctx, itch.PushOptions{
			Source:      src,
			Project:     s.Itch.Project,
			Channel:     s.Itch.Channel,
			UserVersion: s.Itch.UserVersion,
			IfChanged:   s.Itch.IfChanged || d.PushIfChanged,
			DryRun:      d.DryRunPush,
		}, d.Progress)
	}
	w.Pushed(err == nil, st.done(domain.StagePush, t0, err))
	if err != nil {
		logger.ErrorContext(ctx, "itch push failed", slog.Any("err", err))
	}
}

// finish records the run in every history and emits telemetry. Errors are logged only.
func (d *Deployer) finish(ctx context.Context, run domain.Run, logger *slog.Logger) {
	hctx := context.WithoutCancel(ctx)
	for _, h := range d.History {
		if h == nil {
			continue
		}
		if err := h.RecordRun(hctx, run); err != nil {
			logger.WarnContext(ctx, "record run failed", slog.Any("err", err))
		}
	}
	if d.Telemetry != nil {
		d.Telemetry.Event(telemetry.EventDeployFinished, telemetry.DeployProps(run))
	}
	logger.InfoContext(ctx, "deploy finished", slog.Bool("success", run.Success), slog.Duration("took", run.Duration()))
}

// BuildAll builds every settings entry in order without restoring the target
// in between, then restores the target that was active at the start when the
// builder keeps it.
func (d *Deployer) BuildAll(ctx context.Context, b *domain.Builder, deployPath string) AllResult {
	if deployPath == "" {
		return AllResult{}
	}
	logger := applog.WithComponent("pipeline").With(slog.String("builder", b.Name))
	w := report.NewWriter(d.now)
	out := AllResult{Success: true}

	prevGroup, prevTarget, err := d.Engine.ActiveTarget(ctx)
	if err != nil {
		logger.WarnContext(ctx, "active target unknown", slog.Any("err", err))
	}
	w.BuildAllStarted()
	for i := range b.Settings {
		if ctx.Err() != nil {
			logger.WarnContext(ctx, "build all cancelled", slog.Int("remaining", len(b.Settings)-i))
			out.Success = false
			break
		}
		r := d.build(ctx, b.Name, &b.Settings[i], deployPath, false)
		w.Section(r.Report)
		out.Results = append(out.Results, r)
		out.Success = out.Success && r.Success
	}
	if b.KeepCurrentBuildTarget {
		t0 := d.now()
		err := errors.New("previous build target unknown")
		if prevTarget != "" {
			err = d.Engine.SwitchTarget(context.WithoutCancel(ctx), prevGroup, prevTarget)
		}
		if err != nil {
			logger.WarnContext(ctx, "restore build target failed", slog.Any("err", err))
		}
		w.Line(report.SwitchReport(prevTarget, err == nil, d.now().Sub(t0), d.now()))
	}
	w.BuildAllDone()

	out.Report = w.String()
	b.Report = out.Report
	if b.AutomaticallySaveReport {
		p := filepath.Join(deployPath, ReportFileName)
		if err := report.Save(out.Report, p); err != nil {
			logger.WarnContext(ctx, "auto-save report failed", slog.String("path", p), slog.Any("err", err))
		}
	}
	return out
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

func fileSize(p string) int64 {
	if p == "" {
		return 0
	}
	fi, err := os.Stat(p)
	if err != nil {
		return 0
	}
	return fi.Size()
}
