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

// Package reaper wraps the dispatcher's HandleStuckJobs request in a
// ticker loop, for operators who want an always-on sweep instead of
// wiring an external cron or administrative endpoint.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"jobclerk/pkg/jobclerk"
)

// Dispatcher is the subset of dispatch.Dispatcher the reaper needs.
type Dispatcher interface {
	Handle(ctx context.Context, req jobclerk.Request) jobclerk.Response
}

// Run invokes HandleStuckJobs on every tick of interval until ctx is
// canceled. Safe to run concurrently with other reaper invocations
// (including the on-demand HandleStuckJobs request) since the underlying
// store statement is idempotent.
func Run(ctx context.Context, d Dispatcher, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp := d.Handle(ctx, jobclerk.Request{Kind: jobclerk.KindHandleStuckJobs})
			if resp.IsError() {
				logger.Warn("reaper sweep failed", "response_kind", resp.Kind)
			}
		}
	}
}
