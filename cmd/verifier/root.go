package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/romaneios/internal/app"
)

type deps struct {
	loadConfig func() (*app.Config, error)
	build      func(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*app.Container, error)
	logOutput  io.Writer
	colored    bool
}

func defaultDeps() deps {
	return deps{
		loadConfig: app.LoadConfig,
		build:      app.Build,
		logOutput:  os.Stderr,
		colored:    true,
	}
}

func newRootCmd(d deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "verifier",
		Short:         "Reconcile romaneios against the inventory system",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(d), verifyCmd(d), migrateCmd(d), enqueueCmd(d), queueCmd(d), botsCmd(d))
	return root
}

// session loads config and wires the container for one command invocation.
func (d deps) session(ctx context.Context) (*app.Config, *app.Container, error) {
	cfg, err := d.loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLoggerTo(cfg, d.logOutput)
	container, err := d.build(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build application: %w", err)
	}
	return cfg, container, nil
}

func runCmd(d deps) *cobra.Command {
	var (
		once   bool
		loop   bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Verify every non-finalized romaneio",
		Long: `Verify every non-finalized romaneio once (default) or repeatedly.

With --loop the batch repeats every VERIFY_INTERVAL until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if once && loop {
				return errors.New("--once and --loop are mutually exclusive")
			}
			cfg, container, err := d.session(cmd.Context())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
				return err
			}
			defer container.Close()

			out := cmd.OutOrStdout()
			r := newRenderer(d.colored)
			if !asJSON {
				r.header(out, cfg)
			}
			if !cfg.VerifyEnabled {
				r.disabled(out)
				return nil
			}
			execute := func() error {
				summary, err := container.Orchestrator.RunAll(cmd.Context())
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "error: verification run failed:", err)
					return err
				}
				if asJSON {
					return json.NewEncoder(out).Encode(summary)
				}
				r.summary(out, summary)
				return nil
			}
			if !loop {
				return execute()
			}
			return runLoop(cmd.Context(), cfg.VerifyInterval, func(n int) error {
				if !asJSON {
					r.iteration(out, n)
				}
				return execute()
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single batch and exit (default)")
	cmd.Flags().BoolVar(&loop, "loop", false, "repeat the batch every VERIFY_INTERVAL")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run summary as JSON")
	return cmd
}

// runLoop calls fn immediately and then once per interval until ctx ends.
// A failed iteration is reported and the loop keeps going.
func runLoop(ctx context.Context, interval time.Duration, fn func(iteration int) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 1; ; n++ {
		_ = fn(n)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func verifyCmd(d deps) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "verify <romaneio-id>",
		Short: "Verify one romaneio now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				err = fmt.Errorf("invalid romaneio id %q", args[0])
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
				return err
			}
			_, container, err := d.session(cmd.Context())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
				return err
			}
			defer container.Close()

			res, runErr := container.Orchestrator.RunOne(cmd.Context(), id)
			if asJSON {
				if err := json.NewEncoder(cmd.OutOrStdout()).Encode(res); err != nil {
					return err
				}
			} else {
				newRenderer(d.colored).result(cmd.OutOrStdout(), res)
			}
			if runErr != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", runErr)
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func migrateCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema for the configured DB_DRIVER",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, container, err := d.session(cmd.Context())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
				return err
			}
			defer container.Close()
			if err := container.Migrate(cmd.Context()); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema applied (%s)\n", cfg.DBDriver)
			return nil
		},
	}
}
