package main

import (
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/makeasinger/sunoproxy/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job workers and the credit probe scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c := newComponents(ctx, cfg, false)
		defer c.Close()

		pool, err := worker.NewPool(c.redisOpt, cfg, c.runtime)
		if err != nil {
			return err
		}
		if err := pool.Start(); err != nil {
			return err
		}

		<-ctx.Done()
		log.Info().Msg("shutting down workers")
		pool.Shutdown()
		return nil
	},
}
