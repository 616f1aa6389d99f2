package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/holon-run/xavier/pkg/agent"
	"github.com/holon-run/xavier/pkg/config"
	"github.com/holon-run/xavier/pkg/diff"
	"github.com/holon-run/xavier/pkg/git"
	holonlog "github.com/holon-run/xavier/pkg/log"
	"github.com/holon-run/xavier/pkg/preflight"
	"github.com/holon-run/xavier/pkg/redact"
	"github.com/holon-run/xavier/pkg/serve"
	"github.com/holon-run/xavier/pkg/session"
	"github.com/holon-run/xavier/pkg/thread"
)

var (
	serveAddr          string
	serveThreadRoot    string
	serveAgentPath     string
	serveStreamOutput  bool
	serveSweepInterval time.Duration
	skipPreflight      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the diff API over HTTP",
	Long: `Serve POST /api/diff. Each request is answered with a stream of
newline-delimited JSON events ending in a result or an error.

Expired threads are removed by a background sweeper that runs on every
request and every --sweep-interval.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd, func(c *config.Config) {
			flags := cmd.Flags()
			if flags.Changed("addr") {
				c.Addr = serveAddr
			}
			if flags.Changed("thread-root") {
				c.ThreadRoot = serveThreadRoot
			}
			if flags.Changed("agent") {
				c.Agent.Path = serveAgentPath
			}
			if flags.Changed("stream-output") {
				c.Agent.StreamOutput = serveStreamOutput
			}
			if flags.Changed("sweep-interval") {
				c.SweepInterval = serveSweepInterval
			}
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

// newPipeline wires the request pipeline for cfg.
func newPipeline(cfg config.Config) (*session.Orchestrator, *thread.Sweeper) {
	store := thread.NewStore(cfg.ThreadRoot)
	sweeper := thread.NewSweeper(store, thread.DefaultTTL)

	mode, err := redact.ParseMode(cfg.Agent.Redact)
	if err != nil {
		mode = redact.ModeBasic
	}

	gitClient := git.NewClient()
	gitClient.Depth = cfg.Git.CloneDepth

	orch := session.NewOrchestrator(
		thread.NewManager(store, gitClient),
		agent.NewRunner(cfg.Agent.Path),
		diff.NewProducer(gitClient),
		session.WithSweeper(sweeper),
		session.WithStreamOutput(cfg.Agent.StreamOutput),
		session.WithRedactor(redact.New(mode)),
	)
	return orch, sweeper
}

func runServer(ctx context.Context, cfg config.Config) error {
	checker := preflight.NewChecker(preflight.Config{
		Skip:       skipPreflight,
		GitBinary:  "git",
		AgentPath:  cfg.Agent.Path,
		ThreadRoot: cfg.ThreadRoot,
	})
	if err := checker.Run(ctx); err != nil {
		return err
	}

	orch, sweeper := newPipeline(cfg)
	srv, err := serve.NewServer(serve.Config{Addr: cfg.Addr, Handler: orch})
	if err != nil {
		return err
	}

	holonlog.Info("serve started", "thread_root", cfg.ThreadRoot, "agent", cfg.Agent.Path, "sweep_interval", cfg.SweepInterval)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	sweeper.Trigger()
	wg.Go(func() { sweeper.Run(ctx, cfg.SweepInterval) })

	err = srv.Start(ctx)
	// Stops the sweep loop when Start fails as well as on shutdown.
	cancel()
	wg.Wait()
	sweeper.Wait()
	if err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", config.DefaultAddr, "Listen address")
	serveCmd.Flags().StringVar(&serveThreadRoot, "thread-root", "", "Directory holding thread checkouts (env "+config.EnvThreadRoot+")")
	serveCmd.Flags().StringVar(&serveAgentPath, "agent", "", "Path to the coding agent binary")
	serveCmd.Flags().BoolVar(&serveStreamOutput, "stream-output", false, "Forward agent output to clients as status events")
	serveCmd.Flags().DurationVar(&serveSweepInterval, "sweep-interval", config.DefaultSweepInterval, "Period of background expiry sweeps (0 disables periodic sweeps)")
	serveCmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Skip host checks before serving")
	rootCmd.AddCommand(serveCmd)
}
