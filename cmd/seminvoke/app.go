package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/seminvoke/config"
	"github.com/c360studio/seminvoke/llm"
	"github.com/c360studio/seminvoke/llm/providers"
	"github.com/c360studio/seminvoke/storage"
	"github.com/c360studio/seminvoke/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
)

// deps holds the constructors the commands use, replaceable in tests.
type deps struct {
	newCaller        func(cfg config.ProviderConfig) (llm.Caller, error)
	openRecordReader func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (recordReader, func(), error)
}

func defaultDeps() deps {
	return deps{newCaller: newCaller, openRecordReader: openRecordReader}
}

// newCaller builds the provider caller selected by the config.
func newCaller(cfg config.ProviderConfig) (llm.Caller, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Kind {
	case config.ProviderOpenAI:
		return providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			HTTPClient: httpClient,
		}), nil
	case config.ProviderCompat:
		return providers.NewCompat(cfg.BaseURL, cfg.APIKey, providers.WithHTTPClient(httpClient)), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// App wires an invoker with its ambient services.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	invoker *llm.Invoker

	// Registry collects the invoker metrics.
	Registry *prometheus.Registry

	natsConn        *nats.Conn
	shutdownTracing func(context.Context) error
}

// NewApp builds the invoker described by cfg. NATS recording and tracing are
// enabled only when configured.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, d deps) (*App, error) {
	caller, err := d.newCaller(cfg.Provider)
	if err != nil {
		return nil, err
	}

	app := &App{cfg: cfg, logger: logger, Registry: prometheus.NewRegistry()}

	metrics, err := llm.NewMetrics(app.Registry)
	if err != nil {
		return nil, err
	}

	tp, shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	app.shutdownTracing = shutdown

	opts := []llm.Option{
		llm.WithRetryConfig(cfg.Retry),
		llm.WithRegistry(cfg.Registry()),
		llm.WithLogger(logger),
		llm.WithMetrics(metrics),
		llm.WithTracerProvider(tp),
	}

	if cfg.NATS.URL != "" {
		store, err := app.connectRecording(ctx, cfg.NATS)
		if err != nil {
			// Recording is optional; invocations still run without it.
			logger.Warn("Invocation recording disabled", "error", err)
		} else {
			opts = append(opts, llm.WithCallStore(store))
		}
	}

	app.invoker = llm.NewInvoker(caller, opts...)
	return app, nil
}

func (a *App) connectRecording(ctx context.Context, cfg config.NATSConfig) (*llm.CallStore, error) {
	nc, err := connectNATS(cfg.URL, a.logger)
	if err != nil {
		return nil, err
	}
	a.natsConn = nc

	pubs := llm.FanOut{llm.NewNATSPublisher(nc)}
	if cfg.Bucket != "" {
		records, err := openRecords(ctx, nc, cfg, a.logger)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, records)
	}

	store, err := llm.NewCallStore(pubs,
		llm.WithSubjectPrefix(cfg.SubjectPrefix),
		llm.WithStoreLogger(a.logger))
	if err != nil {
		return nil, err
	}
	a.logger.Info("Recording invocations", "subject_prefix", cfg.SubjectPrefix, "bucket", cfg.Bucket)
	return store, nil
}

func connectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	logger.Info("Connecting to NATS", "url", url)

	nc, err := nats.Connect(url,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, wrapNATSError(err, url)
	}
	logger.Info("Connected to NATS", "url", url)
	return nc, nil
}

// openRecords opens the JetStream KV bucket holding invocation records.
func openRecords(ctx context.Context, nc *nats.Conn, cfg config.NATSConfig, logger *slog.Logger) (*storage.Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return storage.NewStore(ctx, js,
		storage.WithBucket(cfg.Bucket),
		storage.WithTTL(cfg.RecordTTL),
		storage.WithLogger(logger))
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	// Check for common connection errors
	if errors.Is(err, nats.ErrNoServers) ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker run -p 4222:4222 nats

Or unset nats.url to disable invocation recording.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

// Close flushes recording and tracing.
func (a *App) Close(ctx context.Context) {
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.logger.Warn("Failed to drain NATS connection", "error", err)
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Warn("Failed to flush traces", "error", err)
		}
	}
}
