/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package itch pushes builds to itch.io through the butler CLI.
package itch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"unideploy/internal/runner"
)

// Butler runs the butler binary.
type Butler struct {
	Path   string
	APIKey string // passed as BUTLER_API_KEY; empty uses butler's own login
	Runner runner.Runner
}

// PushOptions are the arguments of one butler push.
type PushOptions struct {
	Source      string
	Project     string // user/game
	Channel     string
	UserVersion string
	IfChanged   bool
	DryRun      bool
}

// Target is a parsed "user/game:channel".
type Target struct {
	User, Game, Channel string
}

func (t Target) String() string { return t.User + "/" + t.Game + ":" + t.Channel }

// Project returns "user/game".
func (t Target) Project() string { return t.User + "/" + t.Game }

// ParseTarget parses "user/game:channel".
func ParseTarget(s string) (Target, error) {
	proj, ch, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || ch == "" {
		return Target{}, fmt.Errorf("itch target %q: missing channel", s)
	}
	user, game, ok := strings.Cut(proj, "/")
	if !ok || user == "" || game == "" || strings.Contains(game, "/") {
		return Target{}, fmt.Errorf("itch target %q: project must be user/game", s)
	}
	if strings.ContainsAny(ch, " /:") {
		return Target{}, fmt.Errorf("itch target %q: invalid channel", s)
	}
	return Target{User: user, Game: game, Channel: ch}, nil
}

func (b *Butler) path() string {
	if b.Path == "" {
		return "butler"
	}
	return b.Path
}

func (b *Butler) env() []string {
	if b.APIKey == "" {
		return nil
	}
	return []string{"BUTLER_API_KEY=" + b.APIKey}
}

// PushArgs returns the butler command line for opts.
func PushArgs(opts PushOptions) ([]string, error) {
	if opts.Source == "" {
		return nil, errors.New("push source is empty")
	}
	t, err := ParseTarget(opts.Project + ":" + opts.Channel)
	if err != nil {
		return nil, err
	}
	args := []string{"push", opts.Source, t.String()}
	if opts.UserVersion != "" {
		args = append(args, "--userversion", opts.UserVersion)
	}
	if opts.IfChanged {
		args = append(args, "--if-changed")
	}
	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	return args, nil
}

// Push uploads opts.Source to the itch channel.
func (b *Butler) Push(ctx context.Context, opts PushOptions, onProgress runner.ProgressFunc) (runner.Result, error) {
	args, err := PushArgs(opts)
	if err != nil {
		return runner.Result{Status: runner.StatusError}, err
	}
	res, err := b.Runner.Run(ctx, runner.Spec{
		Name: "butler push",
		Path: b.path(),
		Args: args,
		Env:  b.env(),
	}, onProgress)
	if err != nil {
		return res, fmt.Errorf("butler push %s:%s: %w", opts.Project, opts.Channel, err)
	}
	return res, nil
}

// Version returns the output of butler -V.
func (b *Butler) Version(ctx context.Context) (string, error) {
	res, err := b.Runner.Run(ctx, runner.Spec{Name: "butler version", Path: b.path(), Args: []string{"-V"}}, nil)
	if err != nil {
		return "", fmt.Errorf("butler -V: %w", err)
	}
	return strings.TrimSpace(res.Output), nil
}
