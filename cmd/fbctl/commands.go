package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/feedbackd/internal/dashboard"
	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	httpserver "github.com/fyrsmithlabs/feedbackd/internal/http"
	"github.com/fyrsmithlabs/feedbackd/internal/services"
)

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check feedbackd server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp httpserver.HealthResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/health", nil, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
			return nil
		},
	}
}

func newTrainCmd(opts *rootOptions) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Start a training run",
		Long: `Start a training run. If a run is already in progress the running job is
printed instead and no new run starts.

Examples:
  # Start and return immediately
  fbctl train

  # Start and wait for the run to finish
  fbctl train --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := opts.client()
			var resp httpserver.TrainingResponse
			if err := c.do(cmd.Context(), http.MethodPost, "/api/v1/training", nil, nil, &resp); err != nil {
				return err
			}
			if !resp.Started {
				fmt.Fprintln(cmd.ErrOrStderr(), "[fbctl] training already running")
			}
			if !wait {
				return render(cmd.OutOrStdout(), opts.output, resp)
			}

			job, err := waitForJob(cmd.Context(), c, interval)
			if err != nil {
				return err
			}
			if err := render(cmd.OutOrStdout(), opts.output, job); err != nil {
				return err
			}
			if job.Status == feedback.JobError {
				return fmt.Errorf("training failed: %s", job.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the run completes or fails")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval with --wait")
	return cmd
}

// waitForJob polls the training job until it reaches a terminal state.
func waitForJob(ctx context.Context, c *client, interval time.Duration) (feedback.TrainingJob, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var job feedback.TrainingJob
		if err := c.do(ctx, http.MethodGet, "/api/v1/training", nil, nil, &job); err != nil {
			return job, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current training job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var job feedback.TrainingJob
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/training", nil, nil, &job); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, job)
		},
	}
}

func newCorrelationsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "correlations",
		Short: "List section/topic correlations, strongest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			var resp httpserver.CorrelationsResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/correlations", q, nil, &resp); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (server default when 0)")
	return cmd
}

func newImportanceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "importance",
		Short: "Show feature importance per section",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp httpserver.ImportanceResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/importance", nil, nil, &resp); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, resp)
		},
	}
}

func userQuery(userID string) url.Values {
	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	return q
}

func newTrendCmd(opts *rootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Show the quarterly sentiment trend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp services.TrendView
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/trend", userQuery(userID), nil, &resp); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, resp)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "highlight this user's latest submission")
	return cmd
}

func newDashboardCmd(opts *rootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Build a dashboard snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var snap dashboard.Snapshot
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/dashboard", userQuery(userID), nil, &snap); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, snap)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "include this user's latest submission")
	return cmd
}

func newRecordsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Feedback record operations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Import a JSON array of feedback records",
		Long: `Import feedback records from a file or stdin. The input is a JSON array of
records; missing record IDs and submission times are filled in by the server.

Examples:
  fbctl records import survey.json
  cat survey.json | fbctl records import -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			if len(content) == 0 {
				return errors.New("no records to import")
			}

			var res services.ImportResult
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/records", nil, content, &res); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, res)
		},
	})
	return cmd
}

func readInput(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		content, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", args[0], err)
	}
	return content, nil
}
