package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mkovalev/web-agent-brain/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the websocket decision endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := buildDeps(a)
			if err != nil {
				return err
			}

			srv := server.New(a.cfg.ServerAddr, d.decider, d.chatter, d.planner,
				d.recall, d.sitemap, d.recorder, a.logger)
			a.logger.Info().
				Str("addr", a.cfg.ServerAddr).
				Str("model", d.oracle.Name()).
				Msg("starting")
			return srv.Run(ctx)
		},
	}
}
