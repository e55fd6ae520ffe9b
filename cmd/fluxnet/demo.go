package main

import (
	"context"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/1ureka/fluxnet/internal/protocol"
	"github.com/1ureka/fluxnet/internal/socket"
	"github.com/1ureka/fluxnet/internal/util"
)

var demoPort int

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a server and a LAN-discovered client in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Port
		if cmd.Flags().Changed("port") {
			port = demoPort
		}
		return runDemo(cmd.Context(), port)
	},
}

func init() {
	demoCmd.Flags().IntVarP(&demoPort, "port", "p", 0, "TCP port to serve on (default from config)")
}

// runDemo starts a server, finds it again through LAN discovery, and greets
// it. Both roles share one socket and one tick loop.
func runDemo(ctx context.Context, port int) error {
	sock, cleanup, err := newSocket()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sock.Start(port); err != nil {
		return err
	}
	if err := sock.Connect(ctx, socket.LAN, "", 0); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		util.LogWarning("falling back to the integrated server: %v", err)
		if err := sock.Connect(ctx, socket.Integrated, "", sock.Addr().(*net.TCPAddr).Port); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
	}

	if err := sock.SendToServer(&protocol.Debug{Message: "hello"}); err != nil {
		util.LogWarning("failed to send greeting: %v", err)
	}

	util.StartStatsReporter(ctx)
	tickLoop(ctx, sock, nil)
	return nil
}
