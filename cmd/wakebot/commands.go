package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"wakebot/internal/app"
	"wakebot/internal/config"
	logx "wakebot/pkg/logx"
)

type rootFlags struct {
	config  string
	envFile string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	serve := newServeCmd(f)
	root := &cobra.Command{
		Use:           "wakebot",
		Short:         "Schedules wake-up calls and reminders from a shared sheet",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Bare "wakebot" serves.
		RunE: serve.RunE,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv(f.envFile)
		},
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "./wakebot.yaml", "path to config file (yaml or json)")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, newCheckCmd(f), newValidateCmd(f), newVersionCmd())
	return root
}

func newServeCmd(f *rootFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconcile loop and deliver messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(app.Options{ConfigPath: f.config, DryRun: dryRun, Version: version})
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}
			stopCtx, stop := context.WithTimeout(context.Background(), 2*time.Minute)
			defer stop()
			_ = a.Stop(stopCtx, reason)
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log messages instead of sending them")
	return cmd
}

func newCheckCmd(f *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Fetch the sheet and print what would be scheduled; sends nothing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f.config)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			log := logx.NewWriter(cmd.ErrOrStderr(), "WARN")
			rows, err := app.Plan(ctx, cfg, time.Now(), log)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			printPlan(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printPlan(w io.Writer, rows []app.PlannedRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no data rows")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tSUBJECT\tWAKE AT\tREMINDER AT\tTO / REASON")
	for _, r := range rows {
		if r.Rejected != "" {
			fmt.Fprintf(tw, "%d\t-\t-\t-\trejected: %s\n", r.Row, r.Rejected)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%v\n", r.Row, r.Subject,
			r.WakeAt.Format("Mon 15:04:05"), r.ReminderAt.Format("Mon 15:04:05"), r.Recipients)
	}
	_ = tw.Flush()
}

func newValidateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f.config)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d recipients, ledger %q)\n", f.config, len(cfg.Recipients), cfg.Ledger.Driver)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	return config.NewManager(path).Load()
}
