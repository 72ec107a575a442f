package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/polisai/polis-docmeter/pkg/api"
	"github.com/polisai/polis-docmeter/pkg/config"
	"github.com/polisai/polis-docmeter/pkg/docstore"
	"github.com/polisai/polis-docmeter/pkg/domain"
	"github.com/polisai/polis-docmeter/pkg/faults"
	"github.com/polisai/polis-docmeter/pkg/logging"
	"github.com/polisai/polis-docmeter/pkg/metrics"
	"github.com/polisai/polis-docmeter/pkg/notify"
	"github.com/polisai/polis-docmeter/pkg/storage"
	"github.com/polisai/polis-docmeter/pkg/telemetry"
	"github.com/spf13/cobra"
)

const (
	telemetryShutdownTimeout = 5 * time.Second
	gracefulShutdownTimeout  = 10 * time.Second
)

// serveOptions holds the parsed serve flags
type serveOptions struct {
	ConfigPath   string
	DataAddr     string
	AdminAddr    string
	LogLevel     string
	OTelEndpoint string
}

func parseServeOptions(cmd *cobra.Command) (serveOptions, error) {
	var opts serveOptions
	flags := []struct {
		name string
		dst  *string
	}{
		{"config", &opts.ConfigPath},
		{"data-listen", &opts.DataAddr},
		{"admin-listen", &opts.AdminAddr},
		{"log-level", &opts.LogLevel},
		{"otel-endpoint", &opts.OTelEndpoint},
	}
	for _, f := range flags {
		v, err := cmd.Flags().GetString(f.name)
		if err != nil {
			return serveOptions{}, fmt.Errorf("failed to get %s flag: %w", f.name, err)
		}
		*f.dst = v
	}
	return opts, nil
}

// applyFlags lets command line flags override the loaded configuration.
func applyFlags(cfg *config.Config, opts serveOptions) error {
	if opts.DataAddr != "" {
		cfg.Server.DataAddress = opts.DataAddr
	}
	if opts.AdminAddr != "" {
		cfg.Server.AdminAddress = opts.AdminAddr
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.OTelEndpoint != "" {
		cfg.Telemetry.OTLPEndpoint = opts.OTelEndpoint
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	opts, err := parseServeOptions(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg, opts); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		Environment:  os.Getenv("DOCMETER_ENVIRONMENT"),
		ResourceTags: map[string]string{"log.level": cfg.Logging.Level},
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer shutdownTelemetry(telemetryShutdown, logger)

	app, err := newApplication(cfg, logger)
	if err != nil {
		return err
	}

	if opts.ConfigPath != "" {
		watcher, err := config.NewWatcher(opts.ConfigPath, app.reload, logger)
		if err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Error("Failed to close config watcher", "error", err)
			}
		}()
	}

	logger.Info("Starting docmeter",
		"data_addr", cfg.Server.DataAddress,
		"admin_addr", cfg.Server.AdminAddress,
		"otlp_endpoint", cfg.Telemetry.OTLPEndpoint,
	)

	dataSrv, err := startServer(cfg.Server.DataAddress, app.data, "data", logger)
	if err != nil {
		return err
	}
	defer shutdownServer(dataSrv, "data", logger)

	adminSrv, err := startServer(cfg.Server.AdminAddress, app.admin, "admin", logger)
	if err != nil {
		return err
	}
	defer shutdownServer(adminSrv, "admin", logger)

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}

// application holds the wired data and admin handlers.
type application struct {
	backend  *docstore.MemoryBackend
	exporter *telemetry.PrometheusExporter
	logger   *slog.Logger
	data     http.Handler
	admin    http.Handler
}

func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	backend := docstore.NewMemoryBackend(cfg.BackendOptions())
	exporter := telemetry.NewPrometheusExporter()

	bus := notify.NewBus()
	bus.Subscribe("prometheus", exporter)
	bus.Subscribe("otel", telemetry.OTelSubscriber{})
	bus.Subscribe("span", telemetry.SpanSubscriber{})
	bus.Subscribe("log", telemetry.NewLogSubscriber(logger))

	accessor := domain.ContextAccessor{}
	processor, err := metrics.NewProcessor(accessor, bus, logger,
		metrics.WithHeaderNames(cfg.Headers.SessionToken, cfg.Headers.RequestCharge),
		metrics.WithPublishFailureObserver(exporter.RecordPublishFailure),
	)
	if err != nil {
		return nil, err
	}
	classifier, err := faults.NewClassifier(accessor, processor)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewMeteredStore(backend, processor, classifier, logger)
	if err != nil {
		return nil, err
	}

	handler, err := api.NewHandler(api.Config{
		Store:        store,
		Logger:       logger,
		MaxItemCount: cfg.Backend.PageSize,
	})
	if err != nil {
		return nil, err
	}

	admin := http.NewServeMux()
	admin.Handle("GET /metrics", exporter.Handler())
	admin.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	admin.HandleFunc("GET /debug/limits", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(backend.LimitStats()); err != nil {
			logger.Error("Failed to encode limit stats", "error", err)
		}
	})

	return &application{
		backend:  backend,
		exporter: exporter,
		logger:   logger,
		data:     handler.Instrumented(),
		admin:    admin,
	}, nil
}

// reload applies hot-reloadable configuration.
func (a *application) reload(cfg *config.Config) {
	a.backend.Reconfigure(cfg.Backend.Limits)
	a.logger.Info("Backend limits updated", "partitions", len(cfg.Backend.Limits))
}

func startServer(addr string, handler http.Handler, name string, logger *slog.Logger) (*http.Server, error) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s listener on %s: %w", name, addr, err)
	}

	logger.Info("Server listening", "server", name, "addr", listener.Addr().String())

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "server", name, "error", err)
		}
	}()

	return server, nil
}

func shutdownServer(server *http.Server, name string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", "server", name, "error", err)
	}
}

func shutdownTelemetry(shutdown func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("Telemetry shutdown error", "error", err)
	}
}
