// jobclerk is a job-dispatch and lease server.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package jobclerk contains the shared data models and wire types used by
// the store, the dispatcher, and the HTTP transport. These types mirror
// the job/project/lease model described in the design documents.
package jobclerk

import (
	"encoding/json"
	"time"
)

// JobState is the lifecycle state of a job.
type JobState string

const (
	JobAvailable JobState = "available"
	JobRunning   JobState = "running"
	JobCanceling JobState = "canceling"
	JobCanceled  JobState = "canceled"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Valid reports whether s is one of the recognized job states.
func (s JobState) Valid() bool {
	switch s {
	case JobAvailable, JobRunning, JobCanceling, JobCanceled, JobSucceeded, JobFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is an absorbing state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobCanceled, JobSucceeded, JobFailed:
		return true
	default:
		return false
	}
}

func (s JobState) String() string { return string(s) }

// Project is a namespace of jobs sharing one heartbeat expiration policy.
type Project struct {
	ID                        int64           `json:"project_id"`
	Name                      string          `json:"name"`
	HeartbeatExpirationMillis int64           `json:"heartbeat_expiration_millis"`
	Data                      json.RawMessage `json:"data"`
}

// Job is a single unit of work and its lease state. Heartbeat, runner and
// token are tracked internally but never serialized on GetJob/GetJobs
// responses: the token is a capability (see take_job), and the other two
// are not part of the documented wire contract.
type Job struct {
	ID          int64           `json:"id"`
	ProjectID   int64           `json:"project_id"`
	ProjectName string          `json:"project_name"`
	State       JobState        `json:"state"`
	Created     time.Time       `json:"created"`
	Started     *time.Time      `json:"started,omitempty"`
	Finished    *time.Time      `json:"finished,omitempty"`
	Heartbeat   *time.Time      `json:"-"`
	Runner      *string         `json:"-"`
	Token       *string         `json:"-"`
	Priority    int32           `json:"priority"`
	Data        json.RawMessage `json:"data"`
}
