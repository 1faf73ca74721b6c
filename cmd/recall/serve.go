package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/recall"
	"github.com/aretw0/recall/internal/config"
	httpAdapter "github.com/aretw0/recall/pkg/adapters/http"
	"github.com/aretw0/recall/pkg/observability"
	"github.com/aretw0/recall/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Starts the agent behind an HTTP API with streaming chat, thread inspection, checkpoint events and metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		svc, err := newService(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer svc.Close()

		opts := []httpAdapter.Option{
			httpAdapter.WithGraph(svc.agent.Graph()),
			httpAdapter.WithStreams(svc.streams),
			httpAdapter.WithLogger(logger),
		}
		if cfg.Server.Metrics {
			opts = append(opts, httpAdapter.WithMetricsHandler(promhttp.HandlerFor(svc.registry, promhttp.HandlerOpts{})))
		}

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           httpAdapter.NewHandler(svc.sessions, opts...),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			logger.Info("starting recall server", "addr", srv.Addr, "model", cfg.Model.Name, "store", cfg.Store.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		// Blocking main and waiting for shutdown.
		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			logger.Info("start shutdown", "signal", sig.String())

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				if err := srv.Close(); err != nil {
					return fmt.Errorf("killing server: %w", err)
				}
			}
			logger.Info("recall server stopped gracefully")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on; overrides server.addr")
}

// service is a fully wired agent behind a session manager, with its observers.
type service struct {
	agent    *recall.Agent
	sessions *session.Manager
	streams  *httpAdapter.StreamManager
	registry *prometheus.Registry

	backends *backends
	shutdown func(context.Context) error
}

func newService(ctx context.Context, cfg config.Config, logger *slog.Logger) (*service, error) {
	svc := &service{
		registry: prometheus.NewRegistry(),
		streams:  httpAdapter.NewStreamManager(logger),
	}
	svc.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics, err := observability.NewMetrics(svc.registry)
	if err != nil {
		return nil, err
	}
	hooks := observability.LoggingHooks(logger).
		Merge(metrics.Hooks()).
		Merge(svc.streams.Hooks())

	extra := []recall.Option{recall.WithLifecycleHooks(hooks)}
	if cfg.Tracing.Enabled {
		tracer, shutdown, err := observability.InitTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		svc.shutdown = shutdown
		extra = append(extra, recall.WithTracer(tracer))
	}

	agent, b, err := buildAgent(ctx, cfg, logger, extra...)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.agent, svc.backends = agent, b
	svc.sessions = newSessions(cfg, agent, b, logger)
	return svc, nil
}

func newSessions(cfg config.Config, agent session.Conversation, b *backends, logger *slog.Logger) *session.Manager {
	opts := []session.Option{session.WithLogger(logger)}
	if b.locker != nil {
		opts = append(opts, session.WithLocker(b.locker), session.WithLockTTL(cfg.Lock.TTL()))
	}
	return session.NewManager(agent, opts...)
}

func (s *service) Close() {
	if s.backends != nil {
		if err := s.backends.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing backends: %v\n", err)
		}
	}
	if s.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.shutdown(ctx)
	}
}
