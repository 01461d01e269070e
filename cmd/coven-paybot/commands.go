// ABOUTME: init, session, and token subcommands
// ABOUTME: Offline helpers that work from the config file without a running server

package main

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-paybot/internal/auth"
	"github.com/2389/coven-paybot/internal/bot"
	"github.com/2389/coven-paybot/internal/config"
	"github.com/2389/coven-paybot/internal/session"
	"github.com/2389/coven-paybot/internal/store"
)

func newInitCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.OutOrStdout(), *configPath, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runInit(out io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(config.Starter), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprint(out, "✓ ")
	fmt.Fprintf(out, "Config written to %s\n\n", path)
	fmt.Fprintln(out, "Set an admin API secret before serving, for example:")
	fmt.Fprintf(out, "  export PAYBOT_ADMIN_SECRET=%s\n", secret)
	return nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func newSessionCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or reset stored sessions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <address>",
			Short: "Print a session record as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStoredSession(cmd, *configPath, args[0], func(s *session.Session) error {
					var pretty bytes.Buffer
					if err := json.Indent(&pretty, []byte(s.JSON()), "", "  "); err != nil {
						return fmt.Errorf("formatting record: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "reset <address>",
			Short: "Close the open thread and clear a session's data",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStoredSession(cmd, *configPath, args[0], func(s *session.Session) error {
					s.Reset(cmd.Context())
					if err := s.Wait(cmd.Context()); err != nil {
						return fmt.Errorf("saving session: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Session %s reset\n", s.Address())
					return nil
				})
			},
		},
	)
	return cmd
}

// withStoredSession loads address from the configured store only. Transport,
// identity, and chain collaborators are left out, so thread hooks that reply
// are logged and dropped.
func withStoredSession(cmd *cobra.Command, configPath, address string, fn func(*session.Session) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(config.LoggingConfig{Level: "error"}, cmd.ErrOrStderr())

	st, err := store.Open(store.Options{
		Driver:        cfg.Storage.Driver,
		SQLitePath:    cfg.Storage.SQLitePath,
		RedisAddr:     cfg.Storage.Redis.Addr,
		RedisPassword: cfg.Storage.Redis.Password,
		RedisDB:       cfg.Storage.Redis.DB,
		RedisPrefix:   cfg.Storage.Redis.Prefix,
		RedisTTL:      cfg.Storage.Redis.TTL,
	})
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer st.Close()

	threads := session.NewRegistry()
	if err := bot.RegisterThreads(threads, logger); err != nil {
		return err
	}

	s := session.New(&session.Deps{
		Store:   st,
		Threads: threads,
		Logger:  logger,
	}, address)
	if err := s.Load(cmd.Context()); err != nil {
		return err
	}
	return fn(s)
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		name string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set")
			}
			if name == "" {
				return errors.New("--name is required")
			}

			token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(name, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "operator name")
	cmd.Flags().StringVar(&role, "role", auth.RoleViewer, "operator role (viewer or admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
