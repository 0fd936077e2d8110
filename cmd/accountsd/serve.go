package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	acc "github.com/panyam/accounts"
	"github.com/panyam/accounts/config"
	accgrpc "github.com/panyam/accounts/grpc"
	"github.com/panyam/accounts/logging"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the account pages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServe starts the HTTP (and optional gRPC) servers and blocks until ctx is done.
func runServe(ctx context.Context, cfg *config.Config) error {
	logger := logging.SetDefault("accountsd", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	accounts := newAccounts(cfg, b, reg, logger)
	router, err := accounts.Router()
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	if cfg.MetricsAddr == "" {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	handler, err := accounts.Handler()
	if err != nil {
		return fmt.Errorf("failed to build handler: %w", err)
	}

	servers := []*http.Server{{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second})
	}

	errChan := make(chan error, len(servers)+1)
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	if cleaner, ok := b.tokens.(acc.ExpiredTokenCleaner); ok && cfg.Tokens.CleanupInterval > 0 {
		go sweepExpiredTokens(ctx, cleaner, cfg.Tokens.CleanupInterval, logger)
	}

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcServer, err = startGRPC(cfg, accounts.SignIn, logger, errChan)
		if err != nil {
			shutdownHTTP(servers, logger)
			return err
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errChan:
		logger.Error("server failed", "error", err)
	}

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	shutdownHTTP(servers, logger)
	logger.Info("shutdown complete")
	return err
}

func shutdownHTTP(servers []*http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("error stopping http server", "addr", srv.Addr, "error", err)
		}
	}
}

// sweepExpiredTokens removes expired tokens every interval until ctx is done
func sweepExpiredTokens(ctx context.Context, cleaner acc.ExpiredTokenCleaner, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cleaner.CleanupExpiredTokens(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("expired token sweep failed", "error", err)
			}
		}
	}
}

// healthMethods are reachable without a session token
var healthMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/Watch",
	"/grpc.health.v1.Health/List",
}

// startGRPC serves the health service behind the session token interceptors.
// Applications embedding the accounts package register their own services the same way.
func startGRPC(cfg *config.Config, signIn *acc.SignInManager, logger *slog.Logger, errChan chan<- error) (*grpc.Server, error) {
	interceptorCfg := accgrpc.NewInterceptorConfig(accgrpc.NewSignInConfig(signIn), healthMethods...)
	server := grpc.NewServer(
		grpc.UnaryInterceptor(accgrpc.UnaryAuthInterceptor(interceptorCfg)),
		grpc.StreamInterceptor(accgrpc.StreamAuthInterceptor(interceptorCfg)),
	)
	healthpb.RegisterHealthServer(server, health.NewServer())

	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}
	go func() {
		logger.Info("grpc server listening", "addr", cfg.GRPCAddr)
		if err := server.Serve(listener); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	return server, nil
}

