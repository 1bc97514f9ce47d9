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

// Command jobclerk is a CLI client for the jobclerk server: it sends one
// request per invocation to POST /api and prints the JSON response.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"jobclerk/pkg/jobclerk"
)

var baseURL string

func main() {
	root := buildRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "jobclerk",
		Short: "Command-line client for a jobclerk server",
	}
	root.PersistentFlags().StringVar(&baseURL, "base-url", "http://localhost:8000", "base URL of the server (including scheme)")

	root.AddCommand(
		buildAddProjectCommand(),
		buildAddJobCommand(),
		buildGetJobCommand(),
		buildGetJobsCommand(),
		buildTakeJobCommand(),
		buildUpdateJobCommand(),
		buildHandleStuckJobsCommand(),
	)
	return root
}

func buildAddProjectCommand() *cobra.Command {
	var gracePeriod int
	var data string

	cmd := &cobra.Command{
		Use:   "add-project NAME",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := jsonOrEmpty(data)
			if err != nil {
				return err
			}
			return send(jobclerk.Request{
				Kind: jobclerk.KindAddProject,
				AddProject: jobclerk.AddProjectRequest{
					Name:                      args[0],
					HeartbeatExpirationMillis: int64(gracePeriod) * 1000,
					Data:                      raw,
				},
			})
		},
	}
	cmd.Flags().IntVar(&gracePeriod, "grace-period", 30, "length of time in seconds before jobs are considered stuck")
	cmd.Flags().StringVar(&data, "data", "{}", "project data as a JSON object")
	return cmd
}

func buildAddJobCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-job PROJECT_NAME DATA",
		Short: "Create a job within a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := jsonOrEmpty(args[1])
			if err != nil {
				return err
			}
			return send(jobclerk.Request{
				Kind: jobclerk.KindAddJob,
				AddJob: jobclerk.AddJobRequest{
					ProjectName: args[0],
					Data:        raw,
				},
			})
		},
	}
	return cmd
}

func buildGetJobCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-job PROJECT_NAME JOB_ID",
		Short: "Fetch a single job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[1])
			if err != nil {
				return err
			}
			return send(jobclerk.Request{
				Kind:   jobclerk.KindGetJob,
				GetJob: jobclerk.GetJobRequest{ProjectName: args[0], JobID: id},
			})
		},
	}
	return cmd
}

func buildGetJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-jobs PROJECT_NAME",
		Short: "List all jobs in a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(jobclerk.Request{
				Kind:    jobclerk.KindGetJobs,
				GetJobs: jobclerk.GetJobsRequest{ProjectName: args[0]},
			})
		},
	}
	return cmd
}

func buildTakeJobCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "take-job PROJECT_NAME RUNNER",
		Short: "Start running an available job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(jobclerk.Request{
				Kind:    jobclerk.KindTakeJob,
				TakeJob: jobclerk.TakeJobRequest{ProjectName: args[0], Runner: args[1]},
			})
		},
	}
	return cmd
}

func buildUpdateJobCommand() *cobra.Command {
	var state string
	var data string

	cmd := &cobra.Command{
		Use:   "update-job PROJECT_NAME JOB_ID TOKEN",
		Short: "Update a running job",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[1])
			if err != nil {
				return err
			}

			var statePtr *jobclerk.JobState
			if state != "" {
				s := jobclerk.JobState(state)
				if !s.Valid() {
					return fmt.Errorf("invalid job state: %q", state)
				}
				statePtr = &s
			}

			var raw json.RawMessage
			if data != "" {
				raw, err = jsonOrEmpty(data)
				if err != nil {
					return err
				}
			}

			return send(jobclerk.Request{
				Kind: jobclerk.KindUpdateJob,
				UpdateJob: jobclerk.UpdateJobRequest{
					ProjectName: args[0],
					JobID:       id,
					Token:       args[2],
					State:       statePtr,
					Data:        raw,
				},
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "new job state (available, canceled, succeeded, failed)")
	cmd.Flags().StringVar(&data, "data", "", "replacement job data as a JSON object")
	return cmd
}

func buildHandleStuckJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handle-stuck-jobs",
		Short: "Reclaim jobs whose heartbeat has expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(jobclerk.Request{Kind: jobclerk.KindHandleStuckJobs})
		},
	}
	return cmd
}

func parseJobID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid job id %q: %w", s, err)
	}
	return id, nil
}

func jsonOrEmpty(s string) (json.RawMessage, error) {
	if s == "" {
		s = "{}"
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("invalid JSON: %q", s)
	}
	return json.RawMessage(s), nil
}

// send POSTs req to the server's /api endpoint and prints the response body.
func send(req jobclerk.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to convert request to JSON: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(baseURL+"/api", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out.Bytes(), "", "  "); err != nil {
		fmt.Println(out.String())
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
