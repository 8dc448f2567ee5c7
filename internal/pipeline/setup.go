/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"unideploy/internal/backend"
	"unideploy/internal/config"
	"unideploy/internal/engine"
	"unideploy/internal/itch"
	applog "unideploy/internal/log"
	"unideploy/internal/mirror"
	"unideploy/internal/runner"
	"unideploy/internal/storage"
	"unideploy/internal/telemetry"
)

// Setup is a Deployer wired from the user configuration.
type Setup struct {
	Deployer *Deployer
	Unity    *engine.Unity
	Local    *storage.History // nil when history is disabled
	closers  []func() error
}

// NewSetup connects the editor, butler, the optional mirror, the local history
// and the optional shared history for the project at projectRoot (empty uses
// the configured project path, then the working directory). Optional parts
// that fail to open are logged and left out.
func NewSetup(ctx context.Context, cfg config.AppConfig, sec config.Secrets, projectRoot string) (*Setup, error) {
	l := applog.WithComponent("setup")
	if projectRoot == "" {
		projectRoot = cfg.Unity.ProjectPath
	}
	if projectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		projectRoot = wd
	}
	cfg.Unity.ProjectPath = projectRoot

	r := runner.New()
	u, err := engine.NewUnity(cfg.Unity, r)
	if err != nil {
		return nil, fmt.Errorf("unity: %w", err)
	}
	d := &Deployer{
		Engine:        u,
		Runner:        r,
		Butler:        &itch.Butler{Path: cfg.Butler.Path, APIKey: sec.ButlerAPIKey, Runner: r},
		ProjectRoot:   projectRoot,
		DryRunPush:    cfg.Butler.DryRun,
		PushIfChanged: cfg.Butler.IfChanged,
	}
	s := &Setup{Deployer: d, Unity: u}

	if cfg.Mirror.Endpoint != "" {
		m, err := mirror.New(cfg.Mirror, cfg.Mirror.AccessKey, sec.MirrorSecret)
		if err != nil {
			l.Warn("mirror disabled", slog.Any("err", err))
		} else {
			d.Mirror = m
		}
	}
	if cfg.History.Enabled {
		h, err := storage.OpenHistory(projectRoot)
		if err != nil {
			l.Warn("local history disabled", slog.Any("err", err))
		} else {
			s.Local = h
			d.History = append(d.History, h)
			s.closers = append(s.closers, h.Close)
		}
	}
	if dsn := cfg.History.PostgresDSN; dsn != "" {
		st, err := backend.OpenStore(ctx, dsn)
		if err != nil {
			l.Warn("shared history disabled", slog.Any("err", err))
		} else {
			d.History = append(d.History, st)
			s.closers = append(s.closers, st.Close)
		}
	}

	tcfg := telemetry.FromEnv()
	tcfg.OptIn = tcfg.OptIn || cfg.General.TelemetryOptIn
	if tc := telemetry.New(tcfg); tc.Enabled() {
		d.Telemetry = tc
		s.closers = append(s.closers, func() error {
			tc.Flush(context.Background())
			tc.Close()
			return nil
		})
	} else {
		tc.Close()
	}
	return s, nil
}

// SetProgress routes process progress of the editor, scripts and butler to fn.
func (s *Setup) SetProgress(fn runner.ProgressFunc) {
	s.Deployer.Progress = fn
	s.Unity.Progress = fn
}

// Close releases the histories and flushes telemetry.
func (s *Setup) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
