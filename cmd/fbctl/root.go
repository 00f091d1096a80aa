package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	server  string
	output  string
	timeout time.Duration
}

func (o *rootOptions) client() *client {
	return newClient(o.server, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fbctl",
		Short: "CLI for the feedbackd HTTP API",
		Long: `fbctl talks to a running feedbackd server. It starts and watches training
runs, imports feedback records and prints correlations, feature importance,
trends and dashboard snapshots as JSON or YAML.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.output != "json" && opts.output != "yaml" {
				return fmt.Errorf("--output must be json or yaml, got %q", opts.output)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:8080", "feedbackd server URL")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "output format: json or yaml")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout")

	cmd.AddCommand(
		newHealthCmd(opts),
		newTrainCmd(opts),
		newStatusCmd(opts),
		newCorrelationsCmd(opts),
		newImportanceCmd(opts),
		newTrendCmd(opts),
		newDashboardCmd(opts),
		newRecordsCmd(opts),
	)
	return cmd
}
