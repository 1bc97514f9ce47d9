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

// Command jobclerk-dbctl initializes, cleans, or smoke-tests a jobclerk
// SQLite database file, independent of the server process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"jobclerk/internal/store"
)

var dbPath string

func main() {
	root := &cobra.Command{
		Use:   "jobclerk-dbctl",
		Short: "Database control for a jobclerk SQLite database",
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "./jobclerk.db", "SQLite database path")
	root.AddCommand(buildInitCommand(), buildCleanCommand(), buildTestCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database file and run migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := store.Open(ctx, dbPath)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = st.Close() }()
			fmt.Println("database initialized:", dbPath)
			return nil
		},
	}
}

func buildCleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the database file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove database: %w", err)
			}
			fmt.Println("database removed:", dbPath)
			return nil
		},
	}
}

func buildTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Seed a sample project and job for smoke testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			st, err := store.Open(ctx, dbPath)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			projectID, err := st.AddProject(ctx, "smoke-test", 30000, json.RawMessage(`{}`))
			if err != nil {
				return fmt.Errorf("failed to add project: %w", err)
			}

			jobID, err := st.AddJob(ctx, "smoke-test", json.RawMessage(`{"note":"seeded by dbctl test"}`))
			if err != nil {
				return fmt.Errorf("failed to add job: %w", err)
			}

			fmt.Printf("seeded project_id=%d job_id=%d\n", projectID, jobID)
			return nil
		},
	}
}
