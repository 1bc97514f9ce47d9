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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"jobclerk/pkg/jobclerk"
)

// handleDispatch decodes a Request from the body, runs it through the
// dispatcher, and writes the Response. The wire protocol carries errors in
// the envelope itself, so a well-formed request always gets HTTP 200; only
// a malformed body short-circuits with 400 before reaching the dispatcher.
func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, h.logger, http.StatusMethodNotAllowed, jobclerk.BadRequestResponse("method not allowed"))
		return
	}

	var req jobclerk.Request
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, h.logger, http.StatusOK, jobclerk.BadRequestResponse("malformed request body: "+err.Error()))
		return
	}

	resp := h.dispatcher.Handle(r.Context(), req)
	writeJSON(w, h.logger, http.StatusOK, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		writeJSON(w, h.logger, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"ready": true})
}
