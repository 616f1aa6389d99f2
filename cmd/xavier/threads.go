package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/holon-run/xavier/pkg/git"
	"github.com/holon-run/xavier/pkg/thread"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List threads under the thread root",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}

		store := thread.NewStore(cfg.ThreadRoot)
		ids, err := store.List()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no threads")
			return nil
		}

		gitClient := git.NewClient()
		now := store.Now()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "THREAD\tSTEP\tREPO\tHEAD\tIDLE")
		for _, id := range ids {
			meta, err := store.Load(id)
			if err != nil {
				fmt.Fprintf(tw, "%s\t-\t(unreadable)\t-\t-\n", id)
				continue
			}
			head := "-"
			if sha, err := gitClient.HeadSHA(store.RepoDir(id)); err == nil && len(sha) >= 7 {
				head = sha[:7]
			}
			idle := now.Sub(meta.LastAccessAt).Truncate(time.Second)
			state := idle.String()
			if meta.Expired(now, thread.DefaultTTL) {
				state += " (expired)"
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", id, meta.Step, meta.RepoURL, head, state)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(threadsCmd)
}
