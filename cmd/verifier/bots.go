package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/romaneios/internal/app"
	"github.com/odyssey-erp/romaneios/internal/bots"
)

func botsCmd(d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bots",
		Short: "List and run the registered receiving automations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered bots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := d.loadConfig()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tESTIMATE\tDESCRIPTION")
			for _, b := range registry(cfg).List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ID, b.Name, b.EstimatedDuration, b.Description)
			}
			return tw.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "run <bot-id>",
		Short: "Run one bot and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := d.loadConfig()
			if err != nil {
				return err
			}
			runner := bots.NewRunner(registry(cfg), cfg.BotsTimeout, app.NewLoggerTo(cfg, d.logOutput))
			run, err := runner.Run(cmd.Context(), args[0])
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "execution %s: %s (exit %d, %s)\n", run.ID, run.Status, run.ExitCode, run.Duration().Round(time.Millisecond))
			if run.Output != "" {
				fmt.Fprint(out, run.Output)
			}
			if run.Status != bots.StatusCompleted {
				return fmt.Errorf("bot %s failed: %s", run.BotID, run.Error)
			}
			return nil
		},
	})
	return cmd
}

func registry(cfg *app.Config) *bots.Registry {
	return bots.DefaultRegistry(cfg.BotsInterpreter, cfg.BotsDir)
}
