package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360studio/seminvoke/config"
	"github.com/c360studio/seminvoke/llm"
	"github.com/spf13/cobra"
)

// requestFlags are the invocation flags shared by invoke and batch.
type requestFlags struct {
	system       string
	schemaPath   string
	model        string
	mode         string
	attempts     int
	initialDelay time.Duration
	timeout      time.Duration
}

func addRequestFlags(cmd *cobra.Command, f *requestFlags) {
	cmd.Flags().StringVar(&f.system, "system", "", "System prompt")
	cmd.Flags().StringVar(&f.schemaPath, "schema", "", "JSON schema file the answer must match")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model alias or identifier (default from config)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "Decoding mode: structured or text (default from model)")
	cmd.Flags().IntVar(&f.attempts, "attempts", 0, "Maximum attempts per invocation (default from config)")
	cmd.Flags().DurationVar(&f.initialDelay, "initial-delay", 0, "Backoff after the first failure (default from config)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Overall timeout per invocation, including backoff (0 = none)")
}

// template builds the parts of a request that do not depend on the prompt.
func (f *requestFlags) template(cmd *cobra.Command, cfg *config.Config) (llm.Request, error) {
	req := llm.Request{Model: f.model}

	if f.mode != "" {
		req.Mode = llm.ParseMode(f.mode)
		if req.Mode == "" {
			return req, fmt.Errorf("invalid --mode %q: want %q or %q", f.mode, llm.ModeStructured, llm.ModeText)
		}
	}

	if f.schemaPath != "" {
		schema, err := loadSchema(f.schemaPath)
		if err != nil {
			return req, err
		}
		req.Schema = schema
	}

	if cmd.Flags().Changed("attempts") || cmd.Flags().Changed("initial-delay") {
		retry := cfg.Retry
		if cmd.Flags().Changed("attempts") {
			if f.attempts < 1 {
				return req, fmt.Errorf("--attempts must be at least 1")
			}
			retry.MaxAttempts = f.attempts
		}
		if cmd.Flags().Changed("initial-delay") {
			if f.initialDelay < 0 {
				return req, fmt.Errorf("--initial-delay must not be negative")
			}
			retry.BackoffBase = f.initialDelay
		}
		req.Retry = &retry
	}
	return req, nil
}

// withPrompt returns a copy of the template carrying the prompt messages.
func (f *requestFlags) withPrompt(tmpl llm.Request, prompt string) llm.Request {
	req := tmpl
	req.Messages = nil
	if f.system != "" {
		req.Messages = append(req.Messages, llm.Message{Role: "system", Content: f.system})
	}
	req.Messages = append(req.Messages, llm.Message{Role: "user", Content: prompt})
	return req
}

// loadSchema reads a JSON schema file. The schema is named after the file.
func loadSchema(path string) (*llm.JSONSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return llm.NewJSONSchema(name, data)
}
