package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/c360studio/seminvoke/config"
	"github.com/c360studio/seminvoke/llm"
	"github.com/c360studio/seminvoke/storage"
	"github.com/spf13/cobra"
)

// recordReader is what the calls commands need from the record store.
type recordReader interface {
	Get(ctx context.Context, requestID string) (*llm.CallRecord, error)
	List(ctx context.Context, f storage.Filter) ([]*llm.CallRecord, error)
}

func callsCmd(g *globalFlags, d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Inspect recorded invocations",
		Long: `Calls reads invocation records kept in the JetStream KV bucket configured
by nats.bucket (default ` + storage.DefaultBucket + `). Requires nats.url.`,
	}
	cmd.AddCommand(callsGetCmd(g, d), callsListCmd(g, d))
	return cmd
}

func callsGetCmd(g *globalFlags, d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "get <request-id>",
		Short: "Print one invocation record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecords(cmd, g, d, func(ctx context.Context, r recordReader) error {
				rec, err := r.Get(ctx, args[0])
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("no invocation record for %q", args[0])
				}
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			})
		},
	}
}

func callsListCmd(g *globalFlags, d deps) *cobra.Command {
	var (
		f      storage.Filter
		since  time.Duration
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List invocation records, oldest first",
		Example: `  seminvoke calls list --outcome exhausted --since 1h
  seminvoke calls list --trace 4bf92f3577b34da6 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			return withRecords(cmd, g, d, func(ctx context.Context, r recordReader) error {
				records, err := r.List(ctx, f)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					for _, rec := range records {
						if err := enc.Encode(rec); err != nil {
							return err
						}
					}
					return nil
				}
				return printRecords(cmd.OutOrStdout(), records)
			})
		},
	}

	cmd.Flags().StringVar(&f.Outcome, "outcome", "", "Filter by outcome (succeeded, exhausted)")
	cmd.Flags().StringVar(&f.TraceID, "trace", "", "Filter by trace ID")
	cmd.Flags().StringVarP(&f.Model, "model", "m", "", "Filter by resolved model")
	cmd.Flags().DurationVar(&since, "since", 0, "Only records started within this duration")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON lines instead of a table")
	return cmd
}

func printRecords(out io.Writer, records []*llm.CallRecord) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REQUEST ID\tSTARTED\tMODEL\tMODE\tOUTCOME\tATTEMPTS\tDURATION")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.RequestID,
			rec.StartedAt.Local().Format(time.DateTime),
			rec.Model,
			rec.Mode,
			rec.Outcome,
			rec.Attempts,
			time.Duration(rec.DurationMs)*time.Millisecond)
	}
	return tw.Flush()
}

// withRecords loads config, opens the record bucket and runs fn.
func withRecords(cmd *cobra.Command, g *globalFlags, d deps, fn func(context.Context, recordReader) error) error {
	cfg, logger, err := setup(cmd, g)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	r, closeFn, err := d.openRecordReader(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()
	logger.Debug("Reading invocation records", "bucket", cfg.NATS.Bucket)
	return fn(ctx, r)
}

// openRecordReader connects to NATS and opens the configured bucket.
func openRecordReader(ctx context.Context, cfg *config.Config, logger *slog.Logger) (recordReader, func(), error) {
	if cfg.NATS.URL == "" {
		return nil, nil, fmt.Errorf("nats.url is not configured (set SEMINVOKE_NATS_URL)")
	}
	nc, err := connectNATS(cfg.NATS.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	natsCfg := cfg.NATS
	if natsCfg.Bucket == "" {
		natsCfg.Bucket = storage.DefaultBucket
	}
	store, err := openRecords(ctx, nc, natsCfg, logger)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return store, nc.Close, nil
}
