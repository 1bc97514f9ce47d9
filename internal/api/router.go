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

// Package api exposes the dispatch engine over HTTP: a single POST /api
// endpoint carrying the tagged-union wire protocol, plus health, readiness,
// and metrics endpoints for operators.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"jobclerk/internal/metrics"
	"jobclerk/pkg/jobclerk"
)

// Dispatcher is the subset of dispatch.Dispatcher the transport layer needs.
type Dispatcher interface {
	Handle(ctx context.Context, req jobclerk.Request) jobclerk.Response
}

// Pinger checks store connectivity for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the dependencies the HTTP routes need.
type Handler struct {
	dispatcher Dispatcher
	pinger     Pinger
	logger     *slog.Logger
}

// NewRouter constructs the HTTP router for the jobclerk server.
func NewRouter(dispatcher Dispatcher, pinger Pinger, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{dispatcher: dispatcher, pinger: pinger, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/api", h.handleDispatch)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/readyz", h.handleReady)
	mux.Handle("/metrics", metrics.Handler())
	return withRequestID(logger, mux)
}
