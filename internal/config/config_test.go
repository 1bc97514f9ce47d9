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

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8000" {
		t.Errorf("expected default addr :8000, got %q", cfg.HTTPAddr)
	}
	if cfg.ReaperInterval != 0 {
		t.Errorf("expected default reaper interval 0, got %s", cfg.ReaperInterval)
	}
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"-addr", ":9000", "-db", "/tmp/x.db", "-reaper-interval", "5s"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Errorf("expected :9000, got %q", cfg.HTTPAddr)
	}
	if cfg.DBPath != "/tmp/x.db" {
		t.Errorf("expected /tmp/x.db, got %q", cfg.DBPath)
	}
	if cfg.ReaperInterval != 5*time.Second {
		t.Errorf("expected 5s, got %s", cfg.ReaperInterval)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("JOBCLERK_HTTP_ADDR", ":7000")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Errorf("expected :7000, got %q", cfg.HTTPAddr)
	}
}

func TestHeartbeatExpirationFromSeconds(t *testing.T) {
	if got := HeartbeatExpirationFromSeconds(30); got != 30000 {
		t.Errorf("expected 30000, got %d", got)
	}
}
