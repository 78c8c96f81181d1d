// Command chordnode runs a single Chord DHT peer from the command line:
// positional ip/port, an optional known peer to join, and a minimal
// REPL over the store/retrieve/delete operations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"chordkv"
	"chordkv/internal/config"
)

func main() {
	var (
		joinIP     string
		joinPort   int
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "chordnode <ip> <port> [known_ip known_port]",
		Short: "Run a Chord DHT peer",
		Args:  cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[1], err)
			}
			self := chordkv.NewAddress(args[0], port)

			known, err := resolveKnownPeer(args, joinIP, joinPort)
			if err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			node, err := chordkv.New(self, cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := node.Start(ctx); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			if err := node.Join(ctx, known); err != nil {
				node.Stop()
				return fmt.Errorf("join: %w", err)
			}

			go node.WaitForSignal(ctx)

			runREPL(ctx, node)
			node.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&joinIP, "join-ip", "", "IP address of a known peer to join")
	cmd.Flags().IntVar(&joinPort, "join-port", 0, "port of a known peer to join")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML tunables file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func resolveKnownPeer(args []string, joinIP string, joinPort int) (*chordkv.Address, error) {
	if len(args) == 4 {
		kport, err := strconv.Atoi(args[3])
		if err != nil {
			return nil, fmt.Errorf("invalid known port %q: %w", args[3], err)
		}
		addr := chordkv.NewAddress(args[2], kport)
		return &addr, nil
	}
	if joinIP != "" {
		addr := chordkv.NewAddress(joinIP, joinPort)
		return &addr, nil
	}
	return nil, nil
}
