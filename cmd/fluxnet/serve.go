package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/1ureka/fluxnet/internal/transport"
	"github.com/1ureka/fluxnet/internal/util"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept remotes and advertise on the LAN",
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		return runServe(cmd.Context(), port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "TCP port to listen on (default from config)")
}

func runServe(ctx context.Context, port int) error {
	sock, cleanup, err := newSocket()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sock.Start(port); err != nil {
		return err
	}

	if ws := sock.WebSocketAddr(); ws != nil {
		util.LogInfo("websocket remotes can join at ws://%s%s", ws, transport.WebSocketPath)
	}
	util.StartStatsReporter(ctx)
	util.LogSuccess("server ready, press Ctrl+C to stop")

	tickLoop(ctx, sock, nil)
	return nil
}
