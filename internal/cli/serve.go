package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tunemesh/tunemesh/internal/rendezvous/hub"
)

var flagServeAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run a rendezvous hub for peers to find each other through",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()

		srv, err := hub.NewServer(hub.Config{Addr: flagServeAddr, Logger: log})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := srv.Start(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", ":8080", "listen address")
}
