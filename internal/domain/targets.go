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

// BuildTargetGroup mirrors the editor's platform families.
type BuildTargetGroup string

const (
	GroupUnknown    BuildTargetGroup = "Unknown"
	GroupStandalone BuildTargetGroup = "Standalone"
	GroupWebGL      BuildTargetGroup = "WebGL"
	GroupAndroid    BuildTargetGroup = "Android"
	GroupIOS        BuildTargetGroup = "iOS"
	GroupTVOS       BuildTargetGroup = "tvOS"
	GroupPS4        BuildTargetGroup = "PS4"
	GroupPS5        BuildTargetGroup = "PS5"
	GroupXboxOne    BuildTargetGroup = "XboxOne"
	GroupSwitch     BuildTargetGroup = "Switch"
)

// BuildTarget is a concrete player platform.
type BuildTarget string

const (
	TargetWindows   BuildTarget = "StandaloneWindows"
	TargetWindows64 BuildTarget = "StandaloneWindows64"
	TargetOSX       BuildTarget = "StandaloneOSX"
	TargetLinux64   BuildTarget = "StandaloneLinux64"
	TargetWebGL     BuildTarget = "WebGL"
	TargetAndroid   BuildTarget = "Android"
	TargetIOS       BuildTarget = "iOS"
	TargetTVOS      BuildTarget = "tvOS"
	TargetPS4       BuildTarget = "PS4"
	TargetPS5       BuildTarget = "PS5"
	TargetXboxOne   BuildTarget = "XboxOne"
	TargetSwitch    BuildTarget = "Switch"
)

type targetInfo struct {
	group   BuildTargetGroup
	cliName string // value for the editor's -buildTarget switch
}

var targets = map[BuildTarget]targetInfo{
	TargetWindows:   {GroupStandalone, "Win"},
	TargetWindows64: {GroupStandalone, "Win64"},
	TargetOSX:       {GroupStandalone, "OSXUniversal"},
	TargetLinux64:   {GroupStandalone, "Linux64"},
	TargetWebGL:     {GroupWebGL, "WebGL"},
	TargetAndroid:   {GroupAndroid, "Android"},
	TargetIOS:       {GroupIOS, "iOS"},
	TargetTVOS:      {GroupTVOS, "tvOS"},
	TargetPS4:       {GroupPS4, "PS4"},
	TargetPS5:       {GroupPS5, "PS5"},
	TargetXboxOne:   {GroupXboxOne, "XboxOne"},
	TargetSwitch:    {GroupSwitch, "Switch"},
}

// AllTargets lists the known targets in a stable order for menus and help output.
func AllTargets() []BuildTarget {
	return []BuildTarget{
		TargetWindows64, TargetWindows, TargetOSX, TargetLinux64, TargetWebGL,
		TargetAndroid, TargetIOS, TargetTVOS, TargetPS4, TargetPS5, TargetXboxOne, TargetSwitch,
	}
}

func (t BuildTarget) Valid() bool {
	_, ok := targets[t]
	return ok
}

// Group returns the platform family of t, GroupUnknown for unknown targets.
func (t BuildTarget) Group() BuildTargetGroup {
	if ti, ok := targets[t]; ok {
		return ti.group
	}
	return GroupUnknown
}

// CLIName is the -buildTarget argument understood by the editor.
func (t BuildTarget) CLIName() string {
	if ti, ok := targets[t]; ok {
		return ti.cliName
	}
	return string(t)
}

func (t BuildTarget) String() string { return string(t) }

func (g BuildTargetGroup) String() string { return string(g) }
