// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRCA/pkg/logging"
	"github.com/AleutianAI/AleutianRCA/services/rca"
	"github.com/AleutianAI/AleutianRCA/services/rca/config"
	"github.com/AleutianAI/AleutianRCA/services/rca/datatypes"
	"github.com/AleutianAI/AleutianRCA/services/rca/runstore"
)

// cliOptions holds the persistent flags.
type cliOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
	logDir     string

	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "rca",
		Short:         "Finance root-cause analysis orchestrator",
		Long:          `Runs RCA jobs over finance, demand, supply, shipments, FX and event data, either as an HTTP service or directly from the command line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logging.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logging.New(logging.Config{
				Level:   level,
				Service: "rca",
				JSON:    opts.logJSON,
				LogDir:  opts.logDir,
				Output:  cmd.ErrOrStderr(),
			})
			slog.SetDefault(opts.logger.Slog())
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if opts.logger != nil {
				return opts.logger.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("RCA_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "emit JSON logs on stderr")
	root.PersistentFlags().StringVar(&opts.logDir, "log-dir", "", "also write JSON logs to a daily file in this directory")

	root.AddCommand(newServeCmd(opts), newRunCmd(opts), newStatusCmd(opts), newListCmd(opts))
	return root
}

// openService loads config and builds the service.
func (o *cliOptions) openService(ctx context.Context) (*rca.Service, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	var logger *slog.Logger
	if o.logger != nil {
		logger = o.logger.Slog()
	}
	return rca.New(ctx, cfg, nil, logger)
}

// =============================================================================
// serve
// =============================================================================

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  `Serves the run lifecycle and reasoning API until SIGINT or SIGTERM, then drains requests and waits for background runs.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := opts.openService(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()
			return svc.Run(ctx)
		},
	}
}

// =============================================================================
// run
// =============================================================================

func newRunCmd(opts *cliOptions) *cobra.Command {
	var (
		job        datatypes.RCAJob
		comparison string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one RCA job in the foreground",
		Long:  `Runs a job synchronously against the configured store and data directory and prints the final record. A job without slice filters runs as a full sweep.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := opts.openService(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			job.Comparison = datatypes.Comparison(comparison)
			rec, runErr := svc.Engine().Run(ctx, job)
			if rec != nil {
				view := rec.View()
				if err := writeJSON(cmd.OutOrStdout(), view); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	f := cmd.Flags()
	f.StringVar(&job.Month, "month", "", "month to analyze, YYYY-MM (required)")
	f.StringVar(&job.Region, "region", "", "region filter")
	f.StringVar(&job.BU, "bu", "", "business unit filter")
	f.StringVar(&job.ProductLine, "product-line", "", "product line filter")
	f.StringVar(&job.Segment, "segment", "", "segment filter")
	f.StringVar(&job.Metric, "metric", "", "finance metric filter")
	f.StringVar(&comparison, "comparison", "all", "plan, prior or all")
	f.BoolVar(&job.FullSweep, "full-sweep", false, "sweep every region, BU, product line, segment and metric under the filters")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

// =============================================================================
// status / list
// =============================================================================

func newStatusCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status RUN_ID",
		Short: "Print the stored record of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			rec, err := svc.Engine().Record(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func newListCmd(opts *cliOptions) *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" && !datatypes.RunStatus(status).Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			svc, err := opts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			list, err := svc.Engine().List(cmd.Context(), runstore.ListOptions{
				Limit:  limit,
				Offset: offset,
				Status: datatypes.RunStatus(status),
			})
			if err != nil {
				return err
			}
			return writeRunTable(cmd.OutOrStdout(), list)
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "only runs in this status")
	f.IntVar(&limit, "limit", runstore.DefaultListLimit, "page size")
	f.IntVar(&offset, "offset", 0, "records to skip")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRunTable(w io.Writer, list *datatypes.RunList) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTATUS\tUPDATED\tMESSAGE")
	for _, rec := range list.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.RunID, rec.Status, humanize.Time(rec.UpdatedAt), rec.Message)
	}
	fmt.Fprintf(tw, "\n%s of %s runs\n", humanize.Comma(int64(len(list.Items))), humanize.Comma(int64(list.Total)))
	return tw.Flush()
}
