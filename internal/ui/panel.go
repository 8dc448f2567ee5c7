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
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"unideploy/internal/config"
	"unideploy/internal/domain"
	"unideploy/internal/runner"
	"unideploy/internal/storage"
)

var nowFunc = time.Now

// runGuard admits one build at a time. While it is held the settings list
// belongs to the build goroutine and must not be edited.
type runGuard struct{ busy atomic.Bool }

// begin claims the guard; false means a build is already running.
func (g *runGuard) begin() bool { return g.busy.CompareAndSwap(false, true) }

func (g *runGuard) end() { g.busy.Store(false) }

func (g *runGuard) active() bool { return g.busy.Load() }

// Options configures the builder panel.
type Options struct {
	Root        string // project root searched for builder files
	BuilderPath string // opened directly when set
	DeployPath  string // used when the builder has none
	Config      config.AppConfig
	Secrets     config.Secrets
}

// builderCandidates returns the builder files the panel can open.
func builderCandidates(opts Options) ([]string, error) {
	if opts.BuilderPath != "" {
		abs, err := filepath.Abs(opts.BuilderPath)
		if err != nil {
			return nil, err
		}
		return []string{abs}, nil
	}
	return storage.FindBuilders(opts.Root)
}

// builderFileFor turns a builder name typed by the user into a file path under root.
func builderFileFor(root, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("builder name is empty")
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("builder name %q must not contain path separators", name)
	}
	return filepath.Join(root, name+storage.BuilderExt), nil
}

func settingsLabel(s domain.BuildSettings) string {
	var flags []string
	if s.CreateZipFile {
		flags = append(flags, "zip")
	}
	if s.UseBatchFile {
		flags = append(flags, "script")
	}
	if s.Itch.Enabled {
		flags = append(flags, "itch")
	}
	label := fmt.Sprintf("%s  [%s]", s.Name, s.BuildTarget)
	if len(flags) > 0 {
		label += "  " + strings.Join(flags, "+")
	}
	return label
}

func progressText(p runner.Progress) string {
	return fmt.Sprintf("%s: %s (%s)", p.Name, p.Status, p.Elapsed.Truncate(time.Second))
}

// deployPathFor picks the deploy path of a run: builder, then panel default.
func deployPathFor(b *domain.Builder, fallback string) string {
	if b.DeployPath != "" {
		return b.DeployPath
	}
	return fallback
}

// settingsFields is the editable text form of BuildSettings. Lists are one entry per line.
type settingsFields struct {
	Name, BuildName, Directory, Target string
	Scenes, BatchFile, BatchArguments  string
	CreateZip, UseBatch, Mirror        bool
	ItchEnabled                        bool
	ItchProject, ItchChannel           string
	ItchVersion                        string
}

func fieldsOf(s domain.BuildSettings) settingsFields {
	return settingsFields{
		Name:           s.Name,
		BuildName:      s.BuildName,
		Directory:      s.Directory,
		Target:         string(s.BuildTarget),
		Scenes:         strings.Join(s.Scenes, "\n"),
		BatchFile:      s.BatchFile,
		BatchArguments: strings.Join(s.BatchArguments, "\n"),
		CreateZip:      s.CreateZipFile,
		UseBatch:       s.UseBatchFile,
		Mirror:         s.Mirror,
		ItchEnabled:    s.Itch.Enabled,
		ItchProject:    s.Itch.Project,
		ItchChannel:    s.Itch.Channel,
		ItchVersion:    s.Itch.UserVersion,
	}
}

// apply copies the form into s; the group follows the target.
func (f settingsFields) apply(s *domain.BuildSettings) {
	s.Name = strings.TrimSpace(f.Name)
	s.BuildName = strings.TrimSpace(f.BuildName)
	s.Directory = strings.TrimSpace(f.Directory)
	s.BuildTarget = domain.BuildTarget(f.Target)
	s.BuildGroup = s.BuildTarget.Group()
	s.Scenes = lines(f.Scenes)
	s.BatchFile = strings.TrimSpace(f.BatchFile)
	s.BatchArguments = lines(f.BatchArguments)
	s.CreateZipFile = f.CreateZip
	s.UseBatchFile = f.UseBatch
	s.Mirror = f.Mirror
	s.Itch.Enabled = f.ItchEnabled
	s.Itch.Project = strings.TrimSpace(f.ItchProject)
	s.Itch.Channel = strings.TrimSpace(f.ItchChannel)
	s.Itch.UserVersion = strings.TrimSpace(f.ItchVersion)
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// uniqueName returns base, or base-2, base-3... when taken in b.
func uniqueName(b *domain.Builder, base string) string {
	if b.Find(base) < 0 {
		return base
	}
	for i := 2; ; i++ {
		n := fmt.Sprintf("%s-%d", base, i)
		if b.Find(n) < 0 {
			return n
		}
	}
}

func targetNames() []string {
	var out []string
	for _, t := range domain.AllTargets() {
		out = append(out, string(t))
	}
	return out
}
