package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hipsterbrown/servobus/internal/server"
	"github.com/hipsterbrown/servobus/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session over HTTP and WebSocket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s := session.New(nil, logger)
		return server.New(cfg, s, logger).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("host", "", "address to listen on")
	serveCmd.Flags().String("http-port", "", "HTTP port")
	serveCmd.Flags().String("protocol", "", "default protocol for requests that omit it")
	serveCmd.Flags().Int("baudrate", 0, "default baud rate for requests that omit it")
}
