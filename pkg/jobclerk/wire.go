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

package jobclerk

import (
	"encoding/json"
	"fmt"
)

// RequestKind discriminates the Request tagged union on the wire.
type RequestKind string

const (
	KindAddProject      RequestKind = "AddProject"
	KindAddJob          RequestKind = "AddJob"
	KindGetJob          RequestKind = "GetJob"
	KindGetJobs         RequestKind = "GetJobs"
	KindTakeJob         RequestKind = "TakeJob"
	KindUpdateJob       RequestKind = "UpdateJob"
	KindHandleStuckJobs RequestKind = "HandleStuckJobs"
)

type AddProjectRequest struct {
	Name                      string          `json:"name"`
	HeartbeatExpirationMillis int64           `json:"heartbeat_expiration_millis"`
	Data                      json.RawMessage `json:"data"`
}

type AddProjectResponse struct {
	ProjectID int64 `json:"project_id"`
}

type AddJobRequest struct {
	ProjectName string          `json:"project_name"`
	Data        json.RawMessage `json:"data"`
}

type AddJobResponse struct {
	JobID int64 `json:"job_id"`
}

type GetJobRequest struct {
	ProjectName string `json:"project_name"`
	JobID       int64  `json:"job_id"`
}

// GetJobResponse carries the job directly on the wire, not wrapped in an
// object; see MarshalJSON.
type GetJobResponse struct {
	Job Job
}

func (r GetJobResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Job)
}

func (r *GetJobResponse) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &r.Job)
}

type GetJobsRequest struct {
	ProjectName string `json:"project_name"`
}

// GetJobsResponse carries the job list directly on the wire, not wrapped
// in an object; see MarshalJSON.
type GetJobsResponse struct {
	Jobs []Job
}

func (r GetJobsResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Jobs)
}

func (r *GetJobsResponse) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &r.Jobs)
}

type TakeJobRequest struct {
	ProjectName string `json:"project_name"`
	Runner      string `json:"runner"`
}

// TakeJobResponseJob is the payload returned on a successful lease.
type TakeJobResponseJob struct {
	JobID    int64  `json:"job_id"`
	JobToken string `json:"job_token"`
}

// TakeJobResponse carries either a leased job or nil when none was available.
type TakeJobResponse struct {
	Job *TakeJobResponseJob
}

func (r TakeJobResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Job)
}

func (r *TakeJobResponse) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		r.Job = nil
		return nil
	}
	var job TakeJobResponseJob
	if err := json.Unmarshal(data, &job); err != nil {
		return err
	}
	r.Job = &job
	return nil
}

type UpdateJobRequest struct {
	ProjectName string          `json:"project_name"`
	JobID       int64           `json:"job_id"`
	Token       string          `json:"token"`
	State       *JobState       `json:"state,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Request is the tagged union of every request kind the dispatcher accepts.
// Exactly one of the payload fields is meaningful, selected by Kind.
type Request struct {
	Kind RequestKind

	AddProject AddProjectRequest
	AddJob     AddJobRequest
	GetJob     GetJobRequest
	GetJobs    GetJobsRequest
	TakeJob    TakeJobRequest
	UpdateJob  UpdateJobRequest
}

func (r Request) MarshalJSON() ([]byte, error) {
	if r.Kind == KindHandleStuckJobs {
		return json.Marshal(string(KindHandleStuckJobs))
	}

	var payload any
	switch r.Kind {
	case KindAddProject:
		payload = r.AddProject
	case KindAddJob:
		payload = r.AddJob
	case KindGetJob:
		payload = r.GetJob
	case KindGetJobs:
		payload = r.GetJobs
	case KindTakeJob:
		payload = r.TakeJob
	case KindUpdateJob:
		payload = r.UpdateJob
	default:
		return nil, fmt.Errorf("jobclerk: unknown request kind %q", r.Kind)
	}
	return json.Marshal(map[string]any{string(r.Kind): payload})
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		if bare != string(KindHandleStuckJobs) {
			return fmt.Errorf("jobclerk: unrecognized bare request %q", bare)
		}
		r.Kind = KindHandleStuckJobs
		return nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("jobclerk: request is neither a string nor an object: %w", err)
	}
	if len(envelope) != 1 {
		return fmt.Errorf("jobclerk: request envelope must have exactly one key, got %d", len(envelope))
	}

	for k, raw := range envelope {
		kind := RequestKind(k)
		switch kind {
		case KindAddProject:
			r.Kind = kind
			return json.Unmarshal(raw, &r.AddProject)
		case KindAddJob:
			r.Kind = kind
			return json.Unmarshal(raw, &r.AddJob)
		case KindGetJob:
			r.Kind = kind
			return json.Unmarshal(raw, &r.GetJob)
		case KindGetJobs:
			r.Kind = kind
			return json.Unmarshal(raw, &r.GetJobs)
		case KindTakeJob:
			r.Kind = kind
			return json.Unmarshal(raw, &r.TakeJob)
		case KindUpdateJob:
			r.Kind = kind
			return json.Unmarshal(raw, &r.UpdateJob)
		default:
			return fmt.Errorf("jobclerk: unknown request kind %q", k)
		}
	}
	return nil
}

// ResponseKind discriminates the Response tagged union on the wire.
type ResponseKind string

const (
	RespAddProject  ResponseKind = "AddProject"
	RespAddJob      ResponseKind = "AddJob"
	RespGetJob      ResponseKind = "GetJob"
	RespGetJobs     ResponseKind = "GetJobs"
	RespTakeJob     ResponseKind = "TakeJob"
	RespEmpty       ResponseKind = "Empty"
	RespBadRequest  ResponseKind = "BadRequest"
	RespNotFound    ResponseKind = "NotFound"
	RespInternalErr ResponseKind = "InternalError"
)

// Response is the tagged union of every response kind the dispatcher returns.
type Response struct {
	Kind ResponseKind

	AddProject AddProjectResponse
	AddJob     AddJobResponse
	GetJob     GetJobResponse
	GetJobs    GetJobsResponse
	TakeJob    TakeJobResponse
	BadRequest string
}

// IsError reports whether the response represents a failure.
func (r Response) IsError() bool {
	switch r.Kind {
	case RespBadRequest, RespNotFound, RespInternalErr:
		return true
	default:
		return false
	}
}

func EmptyResponse() Response           { return Response{Kind: RespEmpty} }
func NotFoundResponse() Response        { return Response{Kind: RespNotFound} }
func InternalErrorResponse() Response   { return Response{Kind: RespInternalErr} }
func BadRequestResponse(msg string) Response {
	return Response{Kind: RespBadRequest, BadRequest: msg}
}

func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RespEmpty, RespNotFound, RespInternalErr:
		return json.Marshal(string(r.Kind))
	case RespBadRequest:
		return json.Marshal(map[string]any{string(RespBadRequest): r.BadRequest})
	case RespAddProject:
		return json.Marshal(map[string]any{string(RespAddProject): r.AddProject})
	case RespAddJob:
		return json.Marshal(map[string]any{string(RespAddJob): r.AddJob})
	case RespGetJob:
		return json.Marshal(map[string]any{string(RespGetJob): r.GetJob})
	case RespGetJobs:
		return json.Marshal(map[string]any{string(RespGetJobs): r.GetJobs})
	case RespTakeJob:
		return json.Marshal(map[string]any{string(RespTakeJob): r.TakeJob})
	default:
		return nil, fmt.Errorf("jobclerk: unknown response kind %q", r.Kind)
	}
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		switch ResponseKind(bare) {
		case RespEmpty, RespNotFound, RespInternalErr:
			r.Kind = ResponseKind(bare)
			return nil
		default:
			return fmt.Errorf("jobclerk: unrecognized bare response %q", bare)
		}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("jobclerk: response is neither a string nor an object: %w", err)
	}
	if len(envelope) != 1 {
		return fmt.Errorf("jobclerk: response envelope must have exactly one key, got %d", len(envelope))
	}

	for k, raw := range envelope {
		kind := ResponseKind(k)
		switch kind {
		case RespBadRequest:
			r.Kind = kind
			return json.Unmarshal(raw, &r.BadRequest)
		case RespAddProject:
			r.Kind = kind
			return json.Unmarshal(raw, &r.AddProject)
		case RespAddJob:
			r.Kind = kind
			return json.Unmarshal(raw, &r.AddJob)
		case RespGetJob:
			r.Kind = kind
			return json.Unmarshal(raw, &r.GetJob)
		case RespGetJobs:
			r.Kind = kind
			return json.Unmarshal(raw, &r.GetJobs)
		case RespTakeJob:
			r.Kind = kind
			return json.Unmarshal(raw, &r.TakeJob)
		default:
			return fmt.Errorf("jobclerk: unknown response kind %q", k)
		}
	}
	return nil
}
