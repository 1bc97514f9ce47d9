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

package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"jobclerk/pkg/jobclerk"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetJobs(ctx, "nonexistent"); err != nil {
		t.Fatalf("expected querying an unknown project to succeed with zero rows, got: %v", err)
	}
}

func TestAddProjectRejectsNonPositiveHeartbeat(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AddProject(ctx, "p1", 0, nil)
	var badReq *BadRequestError
	if !errors.As(err, &badReq) {
		t.Fatalf("expected BadRequestError, got: %v", err)
	}
}

func TestAddJobUnknownProjectIsNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AddJob(ctx, "does-not-exist", json.RawMessage(`{}`))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestAddJobAndGetJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddProject(ctx, "p1", 30000, json.RawMessage(`{"env":"test"}`)); err != nil {
		t.Fatalf("add project: %v", err)
	}

	jobID, err := s.AddJob(ctx, "p1", json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	job, err := s.GetJob(ctx, "p1", jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.State != jobclerk.JobAvailable {
		t.Fatalf("expected job to start available, got %q", job.State)
	}
	if job.ProjectName != "p1" {
		t.Fatalf("expected project name p1, got %q", job.ProjectName)
	}
	if string(job.Data) != `{"n":1}` {
		t.Fatalf("unexpected job data: %s", job.Data)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddProject(ctx, "p1", 30000, nil); err != nil {
		t.Fatalf("add project: %v", err)
	}

	if _, err := s.GetJob(ctx, "p1", 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestTakeJobLeasesOldestAvailable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddProject(ctx, "p1", 30000, nil); err != nil {
		t.Fatalf("add project: %v", err)
	}
	first, err := s.AddJob(ctx, "p1", json.RawMessage(`{"order":1}`))
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if _, err := s.AddJob(ctx, "p1", json.RawMessage(`{"order":2}`)); err != nil {
		t.Fatalf("add job: %v", err)
	}

	taken, err := s.TakeJob(ctx, "p1", "runner-1")
	if err != nil {
		t.Fatalf("take job: %v", err)
	}
	if taken == nil {
		t.Fatalf("expected a job to be leased")
	}
	if taken.JobID != first {
		t.Fatalf("expected oldest job %d to be leased, got %d", first, taken.JobID)
	}
	if len(taken.JobToken) != jobclerk.TokenLength {
		t.Fatalf("expected token of length %d, got %d", jobclerk.TokenLength, len(taken.JobToken))
	}

	job, err := s.GetJob(ctx, "p1", first)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.State != jobclerk.JobRunning {
		t.Fatalf("expected job to be running, got %q", job.State)
	}
	if job.Started == nil {
		t.Fatalf("expected started to be set")
	}
}

func TestTakeJobNoneAvailable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddProject(ctx, "p1", 30000, nil); err != nil {
		t.Fatalf("add project: %v", err)
	}

	taken, err := s.TakeJob(ctx, "p1", "runner-1")
	if err != nil {
		t.Fatalf("take job: %v", err)
	}
	if taken != nil {
		t.Fatalf("expected no job to be available, got %+v", taken)
	}
}

// TestTakeJobPrefersLowerPriorityOverCreationOrder exercises ORDER BY
// jobs.priority ASC, jobs.created ASC: a lower (including negative) priority
// job must be leased before an older, higher-priority one. AddJobRequest
// does not expose a priority field, so the rows are seeded directly.
func TestTakeJobPrefersLowerPriorityOverCreationOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddProject(ctx, "p1", 30000, nil); err != nil {
		t.Fatalf("add project: %v", err)
	}

	oldestHighPriority, err := s.AddJob(ctx, "p1", json.RawMessage(`{"order":1}`))
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE jobs SET priority = 5 WHERE id = ?`, oldestHighPriority); err != nil {
		t.Fatalf("set priority: %v", err)
	}

	newerLowPriority, err := s.AddJob(ctx, "p1", json.RawMessage(`{"order":2}`))
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE jobs SET priority = -1 WHERE id = ?`, newerLowPriority); err != nil {
		t.Fatalf("set priority: %v", err)
	}

	taken, err := s.TakeJob(ctx, "p1", "runner-1")
	if err != nil {
		t.Fatalf("take job: %v", err)
	}
	if taken == nil {
		t.Fatalf("expected a job to be leased")
	}
	if taken.JobID != newerLowPriority {
		t.Fatalf("expected newer but lower-priority job %d to be leased first, got %d", newerLowPriority, taken.JobID)
	}

	job, err := s.GetJob(ctx, "p1", oldestHighPriority)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.State != jobclerk.JobAvailable {
		t.Fatalf("expected higher-priority older job to remain available, got %q", job.State)
	}
}

func TestTakeJobIsExclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddProject(ctx, "p1", 30000, nil); err != nil {
		t.Fatalf("add project: %v", err)
	}
	if _, err := s.AddJob(ctx, "p1", nil); err != nil {
		t.Fatalf("add job: %v", err)
	}

	const runners = 8
	results := make(chan *jobclerk.TakeJobResponseJob, runners)
	errs := make(chan error, runners)

	for i := 0; i < runners; i++ {
		go func(n int) {
			taken, err := s.TakeJob(ctx, "p1", "runner")
			results <- taken
			errs <- err
		}(i)
	}

	var leased int
	for i := 0; i < runners; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("take job: %v", err)
		}
		if r := <-results; r != nil {
			leased++
		}
	}
	if leased != 1 {
		t.Fatalf("expected exactly one runner to lease the job, got %d", leased)
	}
}

func TestUpdateJobHeartbeatRequiresMatchingToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddProject(ctx, "p1", 30000, nil); err != nil {
		t.Fatalf("add project: %v", err)
	}
	jobID, err := s.AddJob(ctx, "p1", nil)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	taken, err := s.TakeJob(ctx, "p1", "runner-1")
	if err != nil || taken == nil {
		t.Fatalf("take job: %v", err)
	}

	if err := s.UpdateJob(ctx, "p1", jobID, "wrong-token", nil, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong token, got: %v", err)
	}

	if err := s.UpdateJob(ctx, "p1", jobID, taken.JobToken, nil, nil); err != nil {
		t.Fatalf("heartbeat update: %v", err)
	}

	job, err := s.GetJob(ctx, "p1", jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Heartbeat == nil {
		t.Fatalf("expected heartbeat to be set")
	}
}

func TestUpdateJobTerminalStateClearsToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddProject(ctx, "p1", 30000, nil); err != nil {
		t.Fatalf("add project: %v", err)
	}
	jobID, err := s.AddJob(ctx, "p1", nil)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	taken, err := s.TakeJob(ctx, "p1", "runner-1")
	if err != nil || taken == nil {
		t.Fatalf("take job: %v", err)
	}

	succeeded := jobclerk.JobSucceeded
	if err := s.UpdateJob(ctx, "p1", jobID, taken.JobToken, &succeeded, json.RawMessage(`{"result":"ok"}`)); err != nil {
		t.Fatalf("terminal update: %v", err)
	}

	job, err := s.GetJob(ctx, "p1", jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.State != jobclerk.JobSucceeded {
		t.Fatalf("expected succeeded, got %q", job.State)
	}
	if job.Finished == nil {
		t.Fatalf("expected finished to be set")
	}

	// The token was cleared, so a second update with the same token fails.
	if err := s.UpdateJob(ctx, "p1", jobID, taken.JobToken, nil, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after terminal state, got: %v", err)
	}
}

func TestUpdateJobRejectsRunningOrCancelingTarget(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddProject(ctx, "p1", 30000, nil); err != nil {
		t.Fatalf("add project: %v", err)
	}
	jobID, err := s.AddJob(ctx, "p1", nil)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	taken, err := s.TakeJob(ctx, "p1", "runner-1")
	if err != nil || taken == nil {
		t.Fatalf("take job: %v", err)
	}

	running := jobclerk.JobRunning
	err = s.UpdateJob(ctx, "p1", jobID, taken.JobToken, &running, nil)
	var badReq *BadRequestError
	if !errors.As(err, &badReq) {
		t.Fatalf("expected BadRequestError, got: %v", err)
	}
}

func TestHandleStuckJobsReclaimsExpiredHeartbeat(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Heartbeat expiration is the minimum allowed so the job is stuck the
	// instant its heartbeat stops advancing relative to "now".
	if _, err := s.AddProject(ctx, "p1", 1, nil); err != nil {
		t.Fatalf("add project: %v", err)
	}
	jobID, err := s.AddJob(ctx, "p1", nil)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if _, err := s.TakeJob(ctx, "p1", "runner-1"); err != nil {
		t.Fatalf("take job: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	n, err := s.HandleStuckJobs(ctx)
	if err != nil {
		t.Fatalf("handle stuck jobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected to reclaim 1 job, got %d", n)
	}

	job, err := s.GetJob(ctx, "p1", jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.State != jobclerk.JobAvailable {
		t.Fatalf("expected job back to available, got %q", job.State)
	}

	// Idempotent: a second sweep with nothing stuck reclaims zero rows.
	n, err = s.HandleStuckJobs(ctx)
	if err != nil {
		t.Fatalf("handle stuck jobs (second sweep): %v", err)
	}
	if n != 0 {
		t.Fatalf("expected second sweep to reclaim 0 jobs, got %d", n)
	}
}
