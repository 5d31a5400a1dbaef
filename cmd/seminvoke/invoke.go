package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func invokeCmd(g *globalFlags, d deps) *cobra.Command {
	var (
		f      requestFlags
		prompt string
	)

	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Run one invocation and print the result as JSON",
		Example: `  seminvoke invoke --prompt "List three Go proverbs as a JSON array"
  seminvoke invoke --model search --schema answer.json --prompt "Who won the 2024 Tour de France?"
  echo "Summarise: ..." | seminvoke invoke --prompt - --attempts 5 --timeout 2m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, g)
			if err != nil {
				return err
			}

			tmpl, err := f.template(cmd, cfg)
			if err != nil {
				return err
			}

			if prompt == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read prompt from stdin: %w", err)
				}
				prompt = string(data)
			}
			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("--prompt is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(ctx, cfg, logger, d)
			if err != nil {
				return err
			}
			defer app.Close(context.WithoutCancel(ctx))

			if f.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, f.timeout)
				defer cancel()
			}

			res, err := app.invoker.Invoke(ctx, f.withPrompt(tmpl, prompt))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", `User prompt ("-" reads stdin)`)
	addRequestFlags(cmd, &f)
	return cmd
}
