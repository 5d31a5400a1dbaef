// Package main runs the seminvoke end-to-end scenarios against a live
// mock-llm server and NATS.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/c360studio/seminvoke/test/e2e/config"
	"github.com/c360studio/seminvoke/test/e2e/scenarios"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd(allScenarios).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// allScenarios returns every scenario in run order.
func allScenarios(cfg *config.Config) []scenarios.Scenario {
	return []scenarios.Scenario{
		scenarios.NewRetryRecoveryScenario(cfg),
		scenarios.NewExhaustedScenario(cfg),
		scenarios.NewSearchPreviewScenario(cfg),
	}
}

func rootCmd(build func(*config.Config) []scenarios.Scenario) *cobra.Command {
	cfg := config.DefaultConfig()
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "e2e [scenario...]",
		Short: "Run seminvoke e2e scenarios",
		Long: `Run invocations end to end against mock-llm and NATS.

Start the dependencies first:
  docker run -p 4222:4222 nats -js
  go run ./cmd/mock-llm -fixtures test/e2e/fixtures/mock-llm`,
		Example: `  e2e                       # every scenario
  e2e retry-recovery exhausted
  e2e --json`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := selectScenarios(build(cfg), args)
			if err != nil {
				return err
			}

			results := make([]*scenarios.Result, 0, len(selected))
			for _, s := range selected {
				if cmd.Context().Err() != nil {
					break
				}
				res := runScenario(cmd.Context(), s, cfg.ScenarioTimeout)
				results = append(results, res)
				if !asJSON {
					printResult(cmd.OutOrStdout(), res)
				}
			}

			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				printSummary(cmd.OutOrStdout(), results)
			}

			if failed := countFailed(results); failed > 0 {
				return fmt.Errorf("%d of %d scenario(s) failed", failed, len(results))
			}
			if len(results) < len(selected) {
				return fmt.Errorf("interrupted after %d of %d scenario(s)", len(results), len(selected))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS server URL (JetStream enabled)")
	cmd.Flags().StringVar(&cfg.MockLLMURL, "mock-llm", cfg.MockLLMURL, "mock-llm base URL")
	cmd.Flags().DurationVar(&cfg.ScenarioTimeout, "timeout", cfg.ScenarioTimeout, "Timeout for each scenario's invocations")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as one JSON document")

	cmd.AddCommand(listCmd(build))
	return cmd
}

func listCmd(build func(*config.Config) []scenarios.Scenario) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, s := range build(config.DefaultConfig()) {
				fmt.Fprintf(tw, "%s\t%s\n", s.Name(), s.Description())
			}
			return tw.Flush()
		},
	}
}

// selectScenarios picks scenarios by name, in the order given. No names
// selects all of them.
func selectScenarios(all []scenarios.Scenario, names []string) ([]scenarios.Scenario, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]scenarios.Scenario, len(all))
	for _, s := range all {
		byName[s.Name()] = s
	}
	selected := make([]scenarios.Scenario, 0, len(names))
	for _, name := range names {
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q (see 'e2e list')", name)
		}
		selected = append(selected, s)
	}
	return selected, nil
}

// runScenario runs setup, execute and teardown. Setup and execute failures
// become failed results; a teardown failure is a warning.
func runScenario(ctx context.Context, s scenarios.Scenario, timeout time.Duration) *scenarios.Result {
	failed := func(format string, err error) *scenarios.Result {
		res := scenarios.NewResult(s.Name())
		res.Error = fmt.Sprintf(format, err)
		res.AddError(res.Error)
		return res.Finish()
	}

	if err := s.Setup(ctx); err != nil {
		res := failed("setup: %v", err)
		if tdErr := s.Teardown(ctx); tdErr != nil {
			res.AddWarning(fmt.Sprintf("teardown: %v", tdErr))
		}
		return res
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	res, err := s.Execute(execCtx)
	cancel()
	if err != nil {
		res = failed("execute: %v", err)
	}

	if err := s.Teardown(ctx); err != nil {
		res.AddWarning(fmt.Sprintf("teardown: %v", err))
	}
	return res
}

func countFailed(results []*scenarios.Result) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}

func printResult(w io.Writer, r *scenarios.Result) {
	status := "PASS"
	if !r.Success {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s %s (%s)\n", status, r.ScenarioName, r.Duration.Round(time.Millisecond))
	for _, st := range r.Stages {
		mark := "ok"
		if !st.Success {
			mark = "failed"
		}
		fmt.Fprintf(w, "    %-16s %-6s %s\n", st.Name, mark, st.Duration.Round(time.Millisecond))
		if st.Error != "" {
			fmt.Fprintf(w, "        %s\n", st.Error)
		}
	}
	if len(r.Stages) == 0 && r.Error != "" {
		fmt.Fprintf(w, "    %s\n", r.Error)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "    warning: %s\n", warn)
	}
}

func printSummary(w io.Writer, results []*scenarios.Result) {
	failed := countFailed(results)
	fmt.Fprintf(w, "\n%d scenario(s): %d passed, %d failed\n", len(results), len(results)-failed, failed)
}

// report is the --json output.
type report struct {
	Timestamp time.Time           `json:"timestamp"`
	Passed    int                 `json:"passed"`
	Failed    int                 `json:"failed"`
	Results   []*scenarios.Result `json:"results"`
}

func writeJSON(w io.Writer, results []*scenarios.Result) error {
	failed := countFailed(results)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report{
		Timestamp: time.Now().UTC(),
		Passed:    len(results) - failed,
		Failed:    failed,
		Results:   results,
	})
}
