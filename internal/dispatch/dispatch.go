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

// Package dispatch implements the dispatch engine: the single synchronous
// Handle(request) -> response operation that maps each request kind to
// exactly one transactional store interaction.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"jobclerk/internal/metrics"
	"jobclerk/internal/store"
	"jobclerk/pkg/jobclerk"
)

// Store is the persistence surface the dispatcher depends on. Defined as
// an interface so tests can substitute a fake without a real database.
type Store interface {
	AddProject(ctx context.Context, name string, heartbeatExpirationMillis int64, data json.RawMessage) (int64, error)
	AddJob(ctx context.Context, projectName string, data json.RawMessage) (int64, error)
	GetJob(ctx context.Context, projectName string, jobID int64) (*jobclerk.Job, error)
	GetJobs(ctx context.Context, projectName string) ([]*jobclerk.Job, error)
	TakeJob(ctx context.Context, projectName, runner string) (*jobclerk.TakeJobResponseJob, error)
	UpdateJob(ctx context.Context, projectName string, jobID int64, token string, state *jobclerk.JobState, data json.RawMessage) error
	HandleStuckJobs(ctx context.Context) (int64, error)
}

// Dispatcher holds the dependencies needed to handle one request at a
// time; it carries no state of its own across calls.
type Dispatcher struct {
	store  Store
	logger *slog.Logger
}

// New constructs a Dispatcher backed by store. If logger is nil, the
// default slog logger is used.
func New(st Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: st, logger: logger}
}

// Handle maps req to one store interaction and returns a Response. Every
// failure below this entry point is caught here and translated to the
// opaque response kind the caller sees; the underlying error is logged
// but never returned verbatim except for BadRequest messages.
func (d *Dispatcher) Handle(ctx context.Context, req jobclerk.Request) jobclerk.Response {
	d.logger.Debug("dispatch request", "kind", req.Kind)
	start := time.Now()

	resp := d.dispatch(ctx, req)
	metrics.ObserveRequest(string(req.Kind), string(resp.Kind), time.Since(start))
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req jobclerk.Request) jobclerk.Response {
	resp, err := d.handle(ctx, req)
	if err == nil {
		return resp
	}

	var badReq *store.BadRequestError
	switch {
	case errors.As(err, &badReq):
		return jobclerk.BadRequestResponse(badReq.Msg)
	case errors.Is(err, store.ErrNotFound):
		return jobclerk.NotFoundResponse()
	default:
		d.logger.Error("dispatch failed", "kind", req.Kind, "error", err)
		return jobclerk.InternalErrorResponse()
	}
}

func (d *Dispatcher) handle(ctx context.Context, req jobclerk.Request) (jobclerk.Response, error) {
	switch req.Kind {
	case jobclerk.KindAddProject:
		id, err := d.store.AddProject(ctx, req.AddProject.Name, req.AddProject.HeartbeatExpirationMillis, req.AddProject.Data)
		if err != nil {
			return jobclerk.Response{}, err
		}
		return jobclerk.Response{Kind: jobclerk.RespAddProject, AddProject: jobclerk.AddProjectResponse{ProjectID: id}}, nil

	case jobclerk.KindAddJob:
		id, err := d.store.AddJob(ctx, req.AddJob.ProjectName, req.AddJob.Data)
		if err != nil {
			return jobclerk.Response{}, err
		}
		return jobclerk.Response{Kind: jobclerk.RespAddJob, AddJob: jobclerk.AddJobResponse{JobID: id}}, nil

	case jobclerk.KindGetJob:
		job, err := d.store.GetJob(ctx, req.GetJob.ProjectName, req.GetJob.JobID)
		if err != nil {
			return jobclerk.Response{}, err
		}
		return jobclerk.Response{Kind: jobclerk.RespGetJob, GetJob: jobclerk.GetJobResponse{Job: *job}}, nil

	case jobclerk.KindGetJobs:
		jobs, err := d.store.GetJobs(ctx, req.GetJobs.ProjectName)
		if err != nil {
			return jobclerk.Response{}, err
		}
		out := make([]jobclerk.Job, len(jobs))
		for i, j := range jobs {
			out[i] = *j
		}
		return jobclerk.Response{Kind: jobclerk.RespGetJobs, GetJobs: jobclerk.GetJobsResponse{Jobs: out}}, nil

	case jobclerk.KindTakeJob:
		taken, err := d.store.TakeJob(ctx, req.TakeJob.ProjectName, req.TakeJob.Runner)
		if err != nil {
			return jobclerk.Response{}, err
		}
		return jobclerk.Response{Kind: jobclerk.RespTakeJob, TakeJob: jobclerk.TakeJobResponse{Job: taken}}, nil

	case jobclerk.KindUpdateJob:
		err := d.store.UpdateJob(ctx, req.UpdateJob.ProjectName, req.UpdateJob.JobID, req.UpdateJob.Token, req.UpdateJob.State, req.UpdateJob.Data)
		if err != nil {
			return jobclerk.Response{}, err
		}
		return jobclerk.EmptyResponse(), nil

	case jobclerk.KindHandleStuckJobs:
		n, err := d.store.HandleStuckJobs(ctx)
		if err != nil {
			return jobclerk.Response{}, err
		}
		metrics.IncReapedJobs(int(n))
		return jobclerk.EmptyResponse(), nil

	default:
		return jobclerk.BadRequestResponse("unknown request kind: " + string(req.Kind)), nil
	}
}
