// Command fluxnet is the CLI host for the engine's packet transport.
//
// It runs a server, a remote, or both in one process, driving the socket
// with a fixed-rate tick loop the way the engine's frame loop does. Without
// a subcommand it runs the role named in the config file, or asks for one
// when the config leaves the role empty.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/fluxnet/internal/config"
	"github.com/1ureka/fluxnet/internal/protocol"
	"github.com/1ureka/fluxnet/internal/socket"
	"github.com/1ureka/fluxnet/internal/util"
)

var version = "dev"

var (
	cfgFile   string
	debugMode bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "fluxnet",
	Short:         "Packet transport host: serve, connect, or both",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if debugMode || cfg.Debug {
			util.EnableDebug()
		}

		pterm.Info.Println(fmt.Sprintf("fluxnet — v%s", version))
		pterm.Println()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRole(cmd.Context(), cfg.Role)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.fluxnet/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, connectCmd, demoCmd)
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Shared plumbing
// ---------------------------------------------------------------------------

// newSocket builds a socket whose codec knows the built-in packets.
func newSocket() (*socket.Socket, func(), error) {
	reg := protocol.NewRegistry()
	protocol.RegisterBuiltins(reg)

	codec, err := protocol.NewCodec(reg)
	if err != nil {
		return nil, nil, err
	}
	sock, err := socket.New(codec, socket.WithConfig(cfg))
	if err != nil {
		codec.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := sock.Close(); err != nil {
			util.LogWarning("failed to close socket cleanly: %v", err)
		}
		codec.Close()
	}
	return sock, cleanup, nil
}

// tickLoop calls Tick at the configured rate until ctx is done or until
// stopWhen reports true.
func tickLoop(ctx context.Context, sock *socket.Socket, stopWhen func() bool) {
	ticker := time.NewTicker(time.Second / time.Duration(cfg.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sock.Tick()
			if stopWhen != nil && stopWhen() {
				return
			}
		}
	}
}

// runRole starts the mode a configured role maps to.
func runRole(ctx context.Context, role config.Role) error {
	switch role {
	case config.RoleServer:
		return runServe(ctx, cfg.Port)
	case config.RoleRemote:
		return runConnect(ctx, socket.LAN, "", 0, nil)
	case config.RoleBoth:
		return runDemo(ctx, cfg.Port)
	default:
		return runInteractive(ctx)
	}
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

func runInteractive(ctx context.Context) error {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Serve   — Host a server on this machine",
			"Connect — Join a server on the LAN",
			"Demo    — Server and LAN client in one process",
		}).
		WithDefaultText("Select a mode").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(choice, "Serve"):
		return runServe(ctx, askPort("Port to listen on (1 ~ 65535)"))
	case strings.HasPrefix(choice, "Connect"):
		return runConnect(ctx, socket.LAN, "", 0, nil)
	default:
		return runDemo(ctx, cfg.Port)
	}
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}
