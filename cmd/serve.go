package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/worldweaver/internal/api"
	"github.com/worldweaver/internal/capture"
	"github.com/worldweaver/internal/config"
	"github.com/worldweaver/internal/conversation"
	"github.com/worldweaver/internal/gamemodes"
	"github.com/worldweaver/internal/jobqueue"
	"github.com/worldweaver/internal/llm"
	"github.com/worldweaver/internal/logging"
	"github.com/worldweaver/internal/metrics"
	"github.com/worldweaver/internal/orchestrator"
	"github.com/worldweaver/internal/provider_output/neynar"
	"github.com/worldweaver/internal/providers/interact"
)

// ServeCommand returns the CLI command for starting the webhook server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the webhook server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the webhook server (overrides server.port)",
			},
			&cli.BoolFlag{
				Name:  "sync",
				Usage: "Process events before answering the webhook",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadValidConfig(c)
	if err != nil {
		return err
	}
	if port := c.Int("port"); port > 0 {
		cfg.Server.Port = port
	}
	if c.Bool("sync") {
		cfg.Server.Async = false
	}

	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closer.Close()

	capture.Enable(cfg.Server.CaptureDir)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := metrics.NewPrometheusRecorder()
	social := neynar.NewAPIClient(cfg.Neynar)

	generator, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	generator.SetObserver(recorder)

	subscriptions, stopQueue, err := subscriptionRegistrar(ctx, cfg, social)
	if err != nil {
		return err
	}
	defer stopQueue()

	orch := orchestrator.New(
		orchestrator.Config{
			BotID:             cfg.Bot.FID,
			ProcessingTimeout: cfg.Server.ProcessingTimeout,
		},
		conversation.NewStore(),
		conversation.NewDedupGuard(),
		gamemodes.Deps{
			Social:        social,
			Subscriptions: subscriptions,
			LLM:           generator,
			Observer:      recorder,
		},
		recorder,
	)

	log.Info().
		Str("bot_fid", cfg.Bot.FID).
		Str("llm_provider", cfg.LLM.Provider).
		Str("llm_model", cfg.LLM.Model).
		Bool("queue", cfg.Queue.Enabled()).
		Msg("Starting worldweaver")

	server := api.NewServer(orch, api.Options{
		Port:            cfg.Server.Port,
		Async:           cfg.Server.Async,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		DedupRetention:  cfg.Dedup.Retention,
		PruneInterval:   cfg.Dedup.PruneInterval,
		Metrics:         recorder.Handler(),
	})
	return server.Start(ctx)
}

// subscriptionRegistrar returns the Neynar client itself, or a River queue
// in front of it when a database is configured.
func subscriptionRegistrar(ctx context.Context, cfg *config.Config, social *neynar.APIClient) (interact.SubscriptionRegistrar, func(), error) {
	if !cfg.Queue.Enabled() {
		return social, func() {}, nil
	}

	queue, err := jobqueue.NewJobQueue(ctx, cfg.Queue, social)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create job queue: %w", err)
	}
	// Workers finish on Stop, not on signal.
	if err := queue.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, nil, fmt.Errorf("failed to start job queue: %w", err)
	}

	stopQueue := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := queue.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("Job queue did not stop cleanly")
		}
	}
	return queue, stopQueue, nil
}
