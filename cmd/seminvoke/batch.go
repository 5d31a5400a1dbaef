package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/c360studio/seminvoke/llm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// batchLine is one JSON line of batch output.
type batchLine struct {
	File       string          `json:"file"`
	RequestID  string          `json:"request_id,omitempty"`
	Attempts   int             `json:"attempts"`
	DurationMs int64           `json:"duration_ms"`
	Value      json.RawMessage `json:"value,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func batchCmd(g *globalFlags, d deps) *cobra.Command {
	var (
		f           requestFlags
		pattern     string
		concurrency int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run one invocation per prompt file, printing JSON lines",
		Long: `Batch runs one independent invocation per file matched by --glob. Each
file's content is the user prompt. Results are printed as JSON lines in
completion order; a failed file does not affect the others.`,
		Example: `  seminvoke batch --glob 'prompts/**/*.txt' --schema verdict.json --concurrency 8
  seminvoke batch --glob 'reviews/*.md' --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pattern == "" {
				return fmt.Errorf("--glob is required")
			}
			if concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1")
			}

			cfg, logger, err := setup(cmd, g)
			if err != nil {
				return err
			}
			tmpl, err := f.template(cmd, cfg)
			if err != nil {
				return err
			}

			files, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
			if err != nil {
				return fmt.Errorf("expand --glob: %w", err)
			}
			if len(files) == 0 {
				return fmt.Errorf("no files match %q", pattern)
			}
			sort.Strings(files)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(ctx, cfg, logger, d)
			if err != nil {
				return err
			}
			defer app.Close(context.WithoutCancel(ctx))

			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, app.Registry, logger)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			logger.Info("Starting batch", "files", len(files), "concurrency", concurrency)
			failed := runBatch(ctx, app.invoker, files, concurrency, f.timeout, func(prompt string) llm.Request {
				return f.withPrompt(tmpl, prompt)
			}, cmd.OutOrStdout())
			logger.Info("Batch complete", "files", len(files), "failed", failed)

			if failed > 0 {
				return fmt.Errorf("%d of %d invocations failed", failed, len(files))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&pattern, "glob", "g", "", "Doublestar pattern of prompt files (e.g. 'prompts/**/*.txt')")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Maximum concurrent invocations")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	addRequestFlags(cmd, &f)
	return cmd
}

// runBatch invokes once per file with at most concurrency invocations in
// flight and writes one line per file to out. It returns the failure count.
func runBatch(ctx context.Context, inv *llm.Invoker, files []string, concurrency int, timeout time.Duration, build func(prompt string) llm.Request, out io.Writer) int {
	var (
		mu     sync.Mutex
		failed int
		enc    = json.NewEncoder(out)
	)

	var eg errgroup.Group
	eg.SetLimit(concurrency)

	for _, file := range files {
		eg.Go(func() error {
			line := invokeFile(ctx, inv, file, timeout, build)

			mu.Lock()
			defer mu.Unlock()
			if line.Error != "" {
				failed++
			}
			// A write failure on stdout is not a per-file outcome.
			_ = enc.Encode(line)
			return nil
		})
	}
	_ = eg.Wait()
	return failed
}

func invokeFile(ctx context.Context, inv *llm.Invoker, file string, timeout time.Duration, build func(prompt string) llm.Request) batchLine {
	line := batchLine{File: file}

	data, err := os.ReadFile(file)
	if err != nil {
		line.Error = fmt.Sprintf("read prompt: %v", err)
		return line
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := inv.Invoke(ctx, build(string(data)))
	line.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		line.Error = err.Error()
		var exhausted *llm.ExhaustedRetries
		if errors.As(err, &exhausted) {
			line.Attempts = exhausted.Attempts
		}
		return line
	}

	line.RequestID = res.RequestID
	line.Attempts = res.Attempts
	line.Value = res.Value
	return line
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}
