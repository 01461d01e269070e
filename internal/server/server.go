// ABOUTME: Server wires config into the bot, its collaborators, and its listeners
// ABOUTME: Runs the admin HTTP server, gRPC health, and the inbound transport until shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/coven-paybot/internal/admin"
	"github.com/2389/coven-paybot/internal/auth"
	"github.com/2389/coven-paybot/internal/bot"
	"github.com/2389/coven-paybot/internal/config"
	"github.com/2389/coven-paybot/internal/ethereum"
	"github.com/2389/coven-paybot/internal/fiat"
	"github.com/2389/coven-paybot/internal/headless"
	"github.com/2389/coven-paybot/internal/identity"
	"github.com/2389/coven-paybot/internal/matrix"
	"github.com/2389/coven-paybot/internal/metrics"
	"github.com/2389/coven-paybot/internal/session"
	"github.com/2389/coven-paybot/internal/store"
)

// HealthService is the gRPC health service name reported alongside "".
const HealthService = "paybot"

// Listener delivers inbound events from a transport until ctx is cancelled.
type Listener interface {
	Listen(ctx context.Context, handle func(context.Context, bot.Event) error) error
}

// Server owns every long-lived component of a running bot.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	store    store.SessionStore
	threads  *session.Registry
	bot      *bot.Bot
	listener Listener

	redis    *redis.Client    // headless transport connection, if any
	headless *headless.Client // signing client, if any
	balances *ethereum.Balances

	httpServer *http.Server
	grpcServer *grpc.Server // nil when server.grpc_addr is empty
	health     *health.Server

	listening sync.WaitGroup
}

// New builds a Server from cfg. Network collaborators are connected here;
// listeners are opened by Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "server"),
	}

	if err := s.init(ctx, logger); err != nil {
		s.closeComponents()
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context, logger *slog.Logger) error {
	cfg := s.cfg

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
	s.store = st

	s.threads = session.NewRegistry()
	if err := bot.RegisterThreads(s.threads, logger); err != nil {
		return fmt.Errorf("registering threads: %w", err)
	}

	deps := &session.Deps{
		Store:          st,
		Threads:        s.threads,
		PaymentAddress: cfg.Bot.PaymentAddress,
		TokenIDAddress: cfg.Bot.TokenIDAddress,
		SaveTimeout:    cfg.Bot.SaveTimeout,
		Logger:         logger,
	}

	if cfg.Identity.URL != "" {
		deps.Identity = identity.NewClient(cfg.Identity.URL, cfg.Identity.Timeout)
	} else {
		s.logger.Warn("identity.url not set - users will have empty profiles")
	}
	if cfg.Fiat.URL != "" {
		deps.Rates = fiat.NewClient(cfg.Fiat.URL, cfg.Fiat.TTL, logger)
	}
	if cfg.Ethereum.RPCURL != "" {
		s.balances, err = ethereum.Dial(ctx, cfg.Ethereum.RPCURL)
		if err != nil {
			return err
		}
		deps.Balances = s.balances
	}

	if err := s.initTransport(ctx, deps, logger); err != nil {
		return err
	}

	s.bot, err = bot.New(bot.Config{
		Deps:       deps,
		Default:    bot.NewCommands(s.threads, logger),
		DedupeTTL:  cfg.Bot.DedupeTTL,
		DedupeSize: cfg.Bot.DedupeSize,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}
	if cfg.Metrics.Enabled {
		metrics.Init()
	}
	s.httpServer = &http.Server{
		Handler: admin.NewRouter(admin.Config{
			Sessions: s.bot,
			Threads:  s.threads,
			Verifier: verifier,
			Metrics:  cfg.Metrics.Enabled,
			Logger:   logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.GRPCAddr != "" {
		s.grpcServer, s.health = createHealthServer()
	}
	return nil
}

// initTransport connects the message gateway, the signing client and the
// inbound listener. Matrix users can still send payments when a headless
// Redis link is configured alongside the bridge.
func (s *Server) initTransport(ctx context.Context, deps *session.Deps, logger *slog.Logger) error {
	tc := s.cfg.Transport

	if tc.Headless.Redis.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     tc.Headless.Redis.Addr,
			Password: tc.Headless.Redis.Password,
			DB:       tc.Headless.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}

		hc, err := headless.New(ctx, s.redis, headless.Config{
			Prefix:      tc.Headless.Prefix,
			CallTimeout: tc.Headless.CallTimeout,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("connecting headless client: %w", err)
		}
		s.headless = hc
		deps.RPC = hc
	}

	switch tc.Kind {
	case config.TransportMatrix:
		bridge, err := matrix.New(matrix.Config{
			Homeserver:    tc.Matrix.Homeserver,
			UserID:        tc.Matrix.UserID,
			AccessToken:   tc.Matrix.AccessToken,
			AllowedRooms:  tc.Matrix.AllowedRooms,
			CommandPrefix: tc.Matrix.CommandPrefix,
			SendRate:      tc.Matrix.SendRate,
			SendBurst:     tc.Matrix.SendBurst,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		deps.Gateway = bridge
		s.listener = bridge
		if s.headless == nil {
			s.logger.Warn("no headless signing client configured - payments are disabled")
		}
	default:
		if s.headless == nil {
			return errors.New("headless transport requires transport.headless.redis.addr")
		}
		deps.Gateway = s.headless
		s.listener = s.headless
	}
	return nil
}

func createHealthServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// Bot returns the dispatcher, for callers that feed events directly.
func (s *Server) Bot() *bot.Bot {
	return s.bot
}

func (s *Server) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	httpLn, err = net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address %s: %w", s.cfg.Server.HTTPAddr, err)
	}
	if s.grpcServer == nil {
		return nil, httpLn, nil
	}
	grpcLn, err = net.Listen("tcp", s.cfg.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address %s: %w", s.cfg.Server.GRPCAddr, err)
	}
	return grpcLn, httpLn, nil
}

// Run serves until ctx is cancelled or a server fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	grpcLn, httpLn, err := s.setupListeners()
	if err != nil {
		return err
	}
	return s.serve(ctx, grpcLn, httpLn)
}

func (s *Server) serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := s.startServers(ctx, grpcLn, httpLn)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	cancel()
	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (s *Server) startServers(ctx context.Context, grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 3)

	if grpcLn != nil {
		go func() {
			s.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	s.listening.Add(1)
	go func() {
		defer s.listening.Done()
		err := s.listener.Listen(ctx, s.bot.Dispatch)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("listener stopped")
		}
		errCh <- fmt.Errorf("transport: %w", err)
	}()

	return errCh
}

func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		s.drainErrors(errCh)
		return err
	}
}

func (s *Server) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		s.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

func (s *Server) shutdownGRPCServer(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// waitForListener waits for the transport listener to return so no event is
// mid-dispatch when the store closes.
func (s *Server) waitForListener(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.listening.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for transport listener: %w", ctx.Err())
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents releases everything New opened. Nil components are skipped.
func (s *Server) closeComponents() []error {
	var errs []error
	if s.headless != nil {
		errs = appendCloseError(errs, "headless close", s.headless.Close())
	}
	if s.bot != nil {
		s.bot.Close()
	}
	if s.redis != nil {
		errs = appendCloseError(errs, "redis close", s.redis.Close())
	}
	if s.balances != nil {
		s.balances.Close()
	}
	if s.store != nil {
		errs = appendCloseError(errs, "store close", s.store.Close())
	}
	return errs
}

// Shutdown stops the servers, waits for in-flight events, and closes every
// component.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	s.shutdownGRPCServer(ctx)

	errs = appendCloseError(errs, "transport shutdown", s.waitForListener(ctx))
	errs = append(errs, s.closeComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
