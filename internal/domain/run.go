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

import "time"

// StageStatus is the outcome of one pipeline stage.
type StageStatus string

const (
	StageOK      StageStatus = "ok"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// Stage names as recorded in history.
const (
	StagePrepare = "prepare"
	StageBuild   = "build"
	StageZip     = "zip"
	StageMirror  = "mirror"
	StageScript  = "script"
	StagePush    = "push"
	StageRestore = "restore"
)

// StageRecord is one row of a run's stage list.
type StageRecord struct {
	Name     string        `json:"name"`
	Status   StageStatus   `json:"status"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Detail   string        `json:"detail,omitempty"`
}

// Run is a finished deploy of one settings entry, as kept in history.
type Run struct {
	ID          string        `json:"id"`
	Builder     string        `json:"builder"`
	Settings    string        `json:"settings"`
	BuildTarget BuildTarget   `json:"buildTarget"`
	DeployPath  string        `json:"deployPath"`
	Success     bool          `json:"success"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
	ZipFile     string        `json:"zipFile,omitempty"`
	ZipBytes    int64         `json:"zipBytes,omitempty"`
	Report      string        `json:"report,omitempty"`
	Stages      []StageRecord `json:"stages,omitempty"`
}

// Duration is the wall time of the run.
func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }
