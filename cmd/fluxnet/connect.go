package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/1ureka/fluxnet/internal/protocol"
	"github.com/1ureka/fluxnet/internal/socket"
	"github.com/1ureka/fluxnet/internal/util"
)

var (
	connectKind     string
	connectHost     string
	connectPort     int
	connectMessages []string
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a server and send debug messages",
	Long: `Connect to a server and send a Debug packet for every --message, or for
every line read from stdin when no --message is given.

Kinds: integrated (127.0.0.1), address (--host/--port), lan (discovery),
ws (--host/--port over WebSocket).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := socket.ParseConnectKind(connectKind)
		if err != nil {
			return err
		}
		host := connectHost
		if host == "" {
			host = cfg.Host
		}
		port := connectPort
		if port == 0 && kind != socket.WebSocket {
			port = cfg.Port
		}
		if port == 0 && kind == socket.WebSocket {
			port = cfg.WebSocketPort
		}
		return runConnect(cmd.Context(), kind, host, port, connectMessages)
	},
}

func init() {
	connectCmd.Flags().StringVarP(&connectKind, "kind", "k", "lan", "how to reach the server: integrated, address, lan, ws")
	connectCmd.Flags().StringVar(&connectHost, "host", "", "server host for address and ws (default from config)")
	connectCmd.Flags().IntVarP(&connectPort, "port", "p", 0, "server port (default from config)")
	connectCmd.Flags().StringArrayVarP(&connectMessages, "message", "m", nil, "message to send; may be repeated")
}

func runConnect(ctx context.Context, kind socket.ConnectKind, host string, port int, messages []string) error {
	sock, cleanup, err := newSocket()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sock.Connect(ctx, kind, host, port); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if len(messages) > 0 {
		for _, m := range messages {
			if err := sock.SendToServer(&protocol.Debug{Message: m}); err != nil {
				util.LogWarning("failed to send %q: %v", m, err)
			}
		}
	} else {
		go sendLines(sock)
	}

	util.StartStatsReporter(ctx)
	tickLoop(ctx, sock, func() bool { return !sock.Connected() })
	return nil
}

// sendLines forwards every non-empty stdin line as a Debug packet.
func sendLines(sock *socket.Socket) {
	util.LogInfo("type a line and press Enter to send it")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := sock.SendToServer(&protocol.Debug{Message: line}); err != nil {
			util.LogWarning("failed to send: %v", err)
			if !sock.Connected() {
				return
			}
		}
	}
}
