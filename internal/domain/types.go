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
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// BuildSettings describes one platform deploy: what to build, where, and what to do with the output.
// The last three fields are written by a run and persisted so the panel can show them.
type BuildSettings struct {
	Name           string           `yaml:"name" json:"name"`
	BuildName      string           `yaml:"buildName" json:"buildName"` // executable incl. extension, e.g. MyGame.exe
	Directory      string           `yaml:"directory" json:"directory"` // relative to the deploy path, e.g. win
	BuildGroup     BuildTargetGroup `yaml:"buildGroup" json:"buildGroup"`
	BuildTarget    BuildTarget      `yaml:"buildTarget" json:"buildTarget"`
	Scenes         []string         `yaml:"scenes" json:"scenes"`
	BatchFile      string           `yaml:"batchFile,omitempty" json:"batchFile,omitempty"`
	BatchArguments []string         `yaml:"batchArguments,omitempty" json:"batchArguments,omitempty"`

	CreateZipFile           bool `yaml:"createZipFile" json:"createZipFile"`
	UseBatchFile            bool `yaml:"useBatchFile" json:"useBatchFile"`
	KeepCurrentBuildTarget  bool `yaml:"keepCurrentBuildTarget" json:"keepCurrentBuildTarget"`
	AutomaticallySaveReport bool `yaml:"automaticallySaveReport" json:"automaticallySaveReport"`
	Mirror                  bool `yaml:"mirror,omitempty" json:"mirror,omitempty"`

	Itch ItchPush `yaml:"itch,omitempty" json:"itch,omitempty"`

	ZipFile        string `yaml:"zipFile,omitempty" json:"zipFile,omitempty"`
	BuildDirectory string `yaml:"buildDirectory,omitempty" json:"buildDirectory,omitempty"`
	Report         string `yaml:"report,omitempty" json:"report,omitempty"`
}

// ItchPush configures the butler push that follows a successful build.
type ItchPush struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Project     string `yaml:"project,omitempty" json:"project,omitempty"` // user/game
	Channel     string `yaml:"channel,omitempty" json:"channel,omitempty"` // e.g. windows-beta
	UserVersion string `yaml:"userVersion,omitempty" json:"userVersion,omitempty"`
	IfChanged   bool   `yaml:"ifChanged,omitempty" json:"ifChanged,omitempty"`
}

// Target returns "user/game:channel".
func (p ItchPush) Target() string {
	if p.Project == "" || p.Channel == "" {
		return ""
	}
	return p.Project + ":" + p.Channel
}

// Builder is an ordered list of settings deployed together by Build All.
type Builder struct {
	Name                    string          `yaml:"name" json:"name"`
	KeepCurrentBuildTarget  bool            `yaml:"keepCurrentBuildTarget" json:"keepCurrentBuildTarget"`
	AutomaticallySaveReport bool            `yaml:"automaticallySaveReport" json:"automaticallySaveReport"`
	DeployPath              string          `yaml:"deployPath,omitempty" json:"deployPath,omitempty"`
	Settings                []BuildSettings `yaml:"settings" json:"settings"`
	Report                  string          `yaml:"report,omitempty" json:"report,omitempty"`
}

// NewBuildSettings returns settings with zipping enabled, the only default that is on.
func NewBuildSettings(name string) BuildSettings {
	return BuildSettings{Name: name, CreateZipFile: true}
}

// NewBuilder returns an empty builder that saves its report after Build All.
func NewBuilder(name string) Builder {
	return Builder{Name: name, AutomaticallySaveReport: true, Settings: []BuildSettings{}}
}

// UnmarshalYAML applies the defaults of NewBuildSettings to keys missing from the file.
func (s *BuildSettings) UnmarshalYAML(n *yaml.Node) error {
	type plain BuildSettings
	v := plain(NewBuildSettings(""))
	if err := n.Decode(&v); err != nil {
		return err
	}
	*s = BuildSettings(v)
	return nil
}

// UnmarshalYAML applies the defaults of NewBuilder to keys missing from the file.
func (b *Builder) UnmarshalYAML(n *yaml.Node) error {
	type plain Builder
	v := plain(NewBuilder(""))
	if err := n.Decode(&v); err != nil {
		return err
	}
	*b = Builder(v)
	return nil
}

// ScenePaths returns the scene list with the .unity extension added where it is missing.
func (s *BuildSettings) ScenePaths() []string {
	out := make([]string, 0, len(s.Scenes))
	for _, sc := range s.Scenes {
		sc = strings.TrimSpace(sc)
		if sc == "" {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(sc), ".unity") {
			sc += ".unity"
		}
		out = append(out, sc)
	}
	return out
}

// Validate returns every problem found, joined.
func (s *BuildSettings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.BuildName) == "" {
		errs = append(errs, errors.New("buildName is empty"))
	}
	if strings.TrimSpace(s.Directory) == "" {
		errs = append(errs, errors.New("directory is empty"))
	}
	if !s.BuildTarget.Valid() {
		errs = append(errs, fmt.Errorf("unknown build target %q", s.BuildTarget))
	} else if s.BuildGroup != "" && s.BuildGroup != s.BuildTarget.Group() {
		errs = append(errs, fmt.Errorf("build target %s belongs to group %s, not %s", s.BuildTarget, s.BuildTarget.Group(), s.BuildGroup))
	}
	if len(s.ScenePaths()) == 0 {
		errs = append(errs, errors.New("no scenes"))
	}
	if s.UseBatchFile && strings.TrimSpace(s.BatchFile) == "" {
		errs = append(errs, errors.New("useBatchFile is set but batchFile is empty"))
	}
	if s.Itch.Enabled {
		if s.Itch.Project == "" || s.Itch.Channel == "" {
			errs = append(errs, errors.New("itch push needs project and channel"))
		} else if parts := strings.Split(s.Itch.Project, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			errs = append(errs, fmt.Errorf("itch project %q is not of the form user/game", s.Itch.Project))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	label := s.Name
	if label == "" {
		label = s.BuildName
	}
	return fmt.Errorf("settings %q: %w", label, errors.Join(errs...))
}

// Group returns BuildGroup, falling back to the group of the target.
func (s *BuildSettings) Group() BuildTargetGroup {
	if s.BuildGroup != "" {
		return s.BuildGroup
	}
	return s.BuildTarget.Group()
}

var argumentNames = []string{
	"buildName", "directory", "buildGroup", "buildTarget", "scenes", "batchFile",
	"batchArguments", "createZipFile", "useBatchFile", "keepCurrentBuildTarget",
	"automaticallySaveReport", "zipFile", "buildDirectory", "name",
	"itchProject", "itchChannel", "itchTarget",
}

// ArgumentNames lists the field names usable as %name script arguments.
func ArgumentNames() []string { return append([]string(nil), argumentNames...) }

// FieldValue returns the value of the settings field called name, as passed to scripts.
func (s *BuildSettings) FieldValue(name string) (string, bool) {
	switch name {
	case "buildName":
		return s.BuildName, true
	case "directory":
		return s.Directory, true
	case "buildGroup":
		return string(s.Group()), true
	case "buildTarget":
		return string(s.BuildTarget), true
	case "scenes":
		return strings.Join(s.ScenePaths(), ";"), true
	case "batchFile":
		return s.BatchFile, true
	case "batchArguments":
		return strings.Join(s.BatchArguments, " "), true
	case "createZipFile":
		return strconv.FormatBool(s.CreateZipFile), true
	case "useBatchFile":
		return strconv.FormatBool(s.UseBatchFile), true
	case "keepCurrentBuildTarget":
		return strconv.FormatBool(s.KeepCurrentBuildTarget), true
	case "automaticallySaveReport":
		return strconv.FormatBool(s.AutomaticallySaveReport), true
	case "zipFile":
		return s.ZipFile, true
	case "buildDirectory":
		return s.BuildDirectory, true
	case "name":
		return s.Name, true
	case "itchProject":
		return s.Itch.Project, true
	case "itchChannel":
		return s.Itch.Channel, true
	case "itchTarget":
		return s.Itch.Target(), true
	}
	return "", false
}

// Find returns the index of the settings called name, or -1.
func (b *Builder) Find(name string) int {
	for i := range b.Settings {
		if b.Settings[i].Name == name {
			return i
		}
	}
	return -1
}

// Add appends s; names must be unique.
func (b *Builder) Add(s BuildSettings) error {
	return b.insert(len(b.Settings), s)
}

// InsertAfter places s right after index i (-1 inserts at the front).
func (b *Builder) InsertAfter(i int, s BuildSettings) error {
	if i < -1 || i >= len(b.Settings) {
		return fmt.Errorf("index %d out of range", i)
	}
	return b.insert(i+1, s)
}

func (b *Builder) insert(at int, s BuildSettings) error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("settings name is empty")
	}
	if b.Find(s.Name) >= 0 {
		return fmt.Errorf("settings %q already exists", s.Name)
	}
	b.Settings = append(b.Settings, BuildSettings{})
	copy(b.Settings[at+1:], b.Settings[at:])
	b.Settings[at] = s
	return nil
}

// Remove deletes the settings at index i.
func (b *Builder) Remove(i int) error {
	if i < 0 || i >= len(b.Settings) {
		return fmt.Errorf("index %d out of range", i)
	}
	b.Settings = append(b.Settings[:i], b.Settings[i+1:]...)
	return nil
}

// Move shifts the settings at index from to index to.
func (b *Builder) Move(from, to int) error {
	n := len(b.Settings)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("move %d -> %d out of range", from, to)
	}
	s := b.Settings[from]
	b.Settings = append(b.Settings[:from], b.Settings[from+1:]...)
	b.Settings = append(b.Settings[:to], append([]BuildSettings{s}, b.Settings[to:]...)...)
	return nil
}

// Validate checks every settings entry and the uniqueness of names.
func (b *Builder) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for i := range b.Settings {
		s := &b.Settings[i]
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("settings #%d has no name", i+1))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("duplicate settings name %q", s.Name))
		}
		seen[s.Name] = true
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
