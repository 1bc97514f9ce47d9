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

// Package metrics exposes Prometheus collectors for the dispatch engine
// and the reaper.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	reapedJobs     prometheus.Counter
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors. Used by tests to ensure
// clean state between runs.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler exposing metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one dispatch request by kind, result kind, and
// the time it took to handle.
func ObserveRequest(requestKind, responseKind string, duration time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	if requests != nil {
		requests.WithLabelValues(requestKind, responseKind).Inc()
	}
	if requestLatency != nil {
		requestLatency.WithLabelValues(requestKind).Observe(duration.Seconds())
	}
}

// IncReapedJobs increments the count of jobs returned to available by the
// reaper. Call with the number of rows affected by one sweep.
func IncReapedJobs(n int) {
	if n <= 0 {
		return
	}
	mu.RLock()
	defer mu.RUnlock()
	if reapedJobs != nil {
		reapedJobs.Add(float64(n))
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	reqTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobclerk",
		Name:      "requests_total",
		Help:      "Total dispatch requests grouped by request kind and response kind.",
	}, []string{"request", "response"})

	reqLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jobclerk",
		Name:      "request_duration_seconds",
		Help:      "Duration of dispatch requests by request kind.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"request"})

	reaped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jobclerk",
		Name:      "reaped_jobs_total",
		Help:      "Total number of jobs reclaimed by the stuck-job reaper.",
	})

	registry.MustRegister(reqTotal, reqLatency, reaped)

	reg = registry
	requests = reqTotal
	requestLatency = reqLatency
	reapedJobs = reaped
}
