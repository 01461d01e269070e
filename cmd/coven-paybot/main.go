// ABOUTME: Entry point for coven-paybot
// ABOUTME: cobra commands to serve the bot, write a config, inspect sessions, and issue admin tokens

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/coven-paybot/internal/config"
	"github.com/2389/coven-paybot/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                    _           _
  ___ _____   _____ _ __        _ __   __ _ _   _| |__   ___ | |_
 / __/ _ \ \ / / _ \ '_ \ _____| '_ \ / _' | | | | '_ \ / _ \| __|
| (_| (_) \ V /  __/ | | |_____| |_) | (_| | |_| | |_) | (_) | |_
 \___\___/ \_/ \___|_| |_|     | .__/ \__,_|\__, |_.__/ \___/ \__|
                               |_|          |___/
`

// getConfigPath returns the path to the paybot config file.
// Priority: PAYBOT_CONFIG env var > XDG_CONFIG_HOME/coven/paybot.yaml > ~/.config/coven/paybot.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PAYBOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "paybot.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "paybot.yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "coven-paybot",
		Short:         "Conversational payment bot",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// a missing .env is fine
			_ = godotenv.Load()
			if configPath == "" {
				configPath = getConfigPath()
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $PAYBOT_CONFIG or ~/.config/coven/paybot.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newInitCmd(&configPath),
		newSessionCmd(&configPath),
		newTokenCmd(&configPath),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	shutdownTracing, err := setupTracing(ctx, cfg.Tracing, os.Stdout)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Transport: ")
	cyan.Print(cfg.Transport.Kind)
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Storage:   %s\n", cfg.Storage.Driver)
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! admin API disabled (auth.jwt_secret not set)")
	}
	fmt.Println()

	logger.Info("starting coven-paybot",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"transport", cfg.Transport.Kind,
	)

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}
