package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/makeasinger/sunoproxy/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API together with the job workers and scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		noWorkers, _ := cmd.Flags().GetBool("no-workers")
		return runServe(cmd.Context(), !noWorkers)
	},
}

func init() {
	serveCmd.Flags().Bool("no-workers", false, "serve HTTP only; run `worker` separately (the generation cap applies per process)")
}

func runServe(parent context.Context, withWorkers bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Server.IsProduction() && cfg.Webhook.Secret == "" {
		log.Error().Msg("TRIGGER_WEBHOOK_SECRET is not set; inbound webhooks will be rejected")
	}

	c := newComponents(ctx, cfg, true)
	defer c.Close()

	if withWorkers {
		pool, err := worker.NewPool(c.redisOpt, cfg, c.runtime)
		if err != nil {
			return err
		}
		if err := pool.Start(); err != nil {
			return err
		}
		defer pool.Shutdown()
	}

	app := c.httpApp()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.hub.Run(gctx)
		return nil
	})
	if c.relay != nil {
		g.Go(func() error {
			if err := c.relay.Forward(gctx, c.hub, nil); err != nil && gctx.Err() == nil {
				log.Error().Err(err).Msg("run event relay stopped; /ws receives no live updates")
			}
			return nil
		})
	}
	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		log.Info().Str("addr", addr).Bool("workers", withWorkers).Msg("server starting")
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		return app.ShutdownWithTimeout(10 * time.Second)
	})
	return g.Wait()
}
