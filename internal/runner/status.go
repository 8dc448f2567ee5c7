/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package runner

// Status is the lifecycle state of a supervised process.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusStarting  Status = "Starting"
	StatusRunning   Status = "Running"
	StatusStopping  Status = "Stopping"
	StatusStopped   Status = "Stopped" // cancelled by the user or the context
	StatusCompleted Status = "Completed"
	StatusError     Status = "Error"
)

func (s Status) String() string { return string(s) }

// IsActive reports whether a process is starting, running or being stopped.
func (s Status) IsActive() bool {
	return s == StatusStarting || s == StatusRunning || s == StatusStopping
}

// IsFinished reports whether the process reached a terminal state.
func (s Status) IsFinished() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusError
}
