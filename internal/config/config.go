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

// Package config loads the jobclerk server's runtime configuration from
// environment variables, with flags taking precedence.
package config

import (
	"flag"
	"os"
	"time"
)

// Config holds runtime configuration for the jobclerk server.
type Config struct {
	HTTPAddr       string        // JOBCLERK_HTTP_ADDR
	DBPath         string        // JOBCLERK_DB_PATH
	LogLevel       string        // JOBCLERK_LOG_LEVEL
	ReaperInterval time.Duration // JOBCLERK_REAPER_INTERVAL; 0 disables the internal reaper ticker
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:       ":8000",
		DBPath:         "./jobclerk.db",
		LogLevel:       "info",
		ReaperInterval: 0,
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Load builds a Config from the environment, then overlays any flags
// explicitly passed in args (flags take precedence over env vars).
func Load(args []string) (Config, error) {
	def := defaultConfig()

	cfg := Config{
		HTTPAddr:       getenv("JOBCLERK_HTTP_ADDR", def.HTTPAddr),
		DBPath:         getenv("JOBCLERK_DB_PATH", def.DBPath),
		LogLevel:       getenv("JOBCLERK_LOG_LEVEL", def.LogLevel),
		ReaperInterval: getenvDuration("JOBCLERK_REAPER_INTERVAL", def.ReaperInterval),
	}

	fs := flag.NewFlagSet("jobclerk-server", flag.ContinueOnError)
	fs.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address (env JOBCLERK_HTTP_ADDR)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path (env JOBCLERK_DB_PATH)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error (env JOBCLERK_LOG_LEVEL)")
	fs.DurationVar(&cfg.ReaperInterval, "reaper-interval", cfg.ReaperInterval, "Interval for the internal stuck-job reaper; 0 disables it (env JOBCLERK_REAPER_INTERVAL)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// HeartbeatExpirationFromSeconds converts a CLI-friendly seconds value
// (as used by the add-project client subcommand) to milliseconds.
func HeartbeatExpirationFromSeconds(seconds int) int64 {
	return int64(seconds) * 1000
}
