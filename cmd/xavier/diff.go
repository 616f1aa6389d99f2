package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/holon-run/xavier/pkg/serve"
	"github.com/holon-run/xavier/pkg/session"
)

var (
	diffServer string
	diffRepo   string
	diffThread string
	diffJSON   bool
)

// errRequestFailed marks a stream that ended in an error event; the event
// itself has already been printed.
var errRequestFailed = errors.New("request failed")

var diffCmd = &cobra.Command{
	Use:   "diff [flags] PROMPT...",
	Short: "Send a prompt to a running server and print the diff",
	Long: `Send a prompt to a running xavier server and print the resulting diff.

Start a thread with --repo, then continue it with --thread using the id
printed on success.

Examples:
  xavier diff --repo github.com/acme/widgets "add a README"
  xavier diff --thread 0b7c6a3e-9d1f-4c2a-8e55-3f1a2b4c5d6e "mention the license"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := session.Request{
			Repo:     diffRepo,
			Prompt:   strings.Join(args, " "),
			ThreadID: diffThread,
		}
		out := cmd.OutOrStdout()
		errOut := cmd.ErrOrStderr()

		final, err := serve.NewClient(diffServer).Diff(cmd.Context(), req, func(e session.Event, raw []byte) {
			if diffJSON {
				fmt.Fprintf(out, "%s\n", raw)
				return
			}
			if e.Type == session.EventStatus {
				fmt.Fprintf(errOut, "> %s\n", e.Message)
			}
		})
		if err != nil {
			return err
		}

		if final.Type == session.EventError {
			if !diffJSON {
				fmt.Fprintf(errOut, "error: %s\n", final.Error)
			}
			return errRequestFailed
		}
		if !diffJSON {
			fmt.Fprintf(errOut, "thread %s step %d\n", final.ThreadID, final.Step)
			fmt.Fprint(out, final.Diff)
		}
		return nil
	},
}

func init() {
	diffCmd.Flags().StringVar(&diffServer, "server", "http://localhost:8787", "Base URL of the xavier server")
	diffCmd.Flags().StringVar(&diffRepo, "repo", "", "Repository to clone for a new thread (host/owner/name)")
	diffCmd.Flags().StringVar(&diffThread, "thread", "", "Thread id to continue")
	diffCmd.Flags().BoolVar(&diffJSON, "json", false, "Print the raw NDJSON event stream")
	rootCmd.AddCommand(diffCmd)
}
