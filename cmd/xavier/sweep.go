package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/holon-run/xavier/pkg/thread"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired threads once",
	Long: `Scan the thread root and remove every thread idle for more than an hour.
Threads in use by a running server in this process are skipped; the command
does not coordinate with other processes.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}

		report := thread.NewSweeper(thread.NewStore(cfg.ThreadRoot), thread.DefaultTTL).SweepNow(cmd.Context())
		out := cmd.OutOrStdout()
		for _, id := range report.Reaped {
			fmt.Fprintf(out, "reaped %s\n", id)
		}
		fmt.Fprintf(out, "scanned %d, reaped %d\n", report.Scanned, len(report.Reaped))
		return report.Err()
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
