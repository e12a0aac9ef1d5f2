package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nulpointcorp/gemini-client/internal/app"
	"github.com/nulpointcorp/gemini-client/internal/config"
	"github.com/nulpointcorp/gemini-client/pkg/gemini"
)

// errUnavailable is returned when the API produced no usable answer.
var errUnavailable = errors.New("no result from the Gemini API (see logs)")

type rootOptions struct {
	model   string
	history string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "gemini",
		Short:         "Client for the Gemini generative-language API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.model, "model", "", "model name, overrides GEMINI_MODEL (e.g. gemini-1.5-pro)")
	root.PersistentFlags().StringVar(&opts.history, "history", "", `JSON file with prior turns ({"contents":[...]})`)

	root.AddCommand(
		newGenerateCmd(opts),
		newCountTokensCmd(opts),
		newStreamCmd(opts),
		newServeCmd(opts),
	)
	return root
}

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate [prompt...]",
		Short: "Generate a reply; the prompt is read from stdin when no args are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, opts, args, func(ctx context.Context, c *gemini.Client, contents gemini.Contents) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), c.Generate(ctx, contents))
				return err
			})
		},
	}
}

func newCountTokensCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count-tokens [prompt...]",
		Short: "Count the tokens of a prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, opts, args, func(ctx context.Context, c *gemini.Client, contents gemini.Contents) error {
				n := c.CountTokens(ctx, contents)
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), strconv.Itoa(n)); err != nil {
					return err
				}
				if n < 0 {
					return errUnavailable
				}
				return nil
			})
		},
	}
}

func newStreamCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stream [prompt...]",
		Short: "Call streamGenerateContent and print one line per chunk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(cmd, opts, args, func(ctx context.Context, c *gemini.Client, contents gemini.Contents) error {
				out := cmd.OutOrStdout()
				for text := range c.StreamGenerateContent(ctx, contents) {
					if _, err := fmt.Fprintln(out, text); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			logger := buildLogger(cfg.LogLevel, os.Stdout)
			slog.SetDefault(logger)

			a, err := app.New(ctx, cfg, logger, version)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(ctx)
		},
	}
}

// runOneShot builds the app without starting the relay, assembles the
// request contents and hands both to fn. Logs go to stderr so stdout carries
// only the result.
func runOneShot(cmd *cobra.Command, opts *rootOptions, args []string, fn func(context.Context, *gemini.Client, gemini.Contents) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	contents, err := buildContents(opts.history, args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.LogLevel, cmd.ErrOrStderr())
	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a.Client(), contents)
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.model != "" {
		cfg.Gemini.Model = opts.model
	}
	return cfg, nil
}

// buildContents appends the prompt as a user turn after any history turns.
// The prompt is args joined by spaces, or stdin when args are empty.
func buildContents(historyPath string, args []string, stdin io.Reader) (gemini.Contents, error) {
	b := gemini.NewContentsBuilder()

	if historyPath != "" {
		raw, err := os.ReadFile(historyPath)
		if err != nil {
			return gemini.Contents{}, fmt.Errorf("history: %w", err)
		}
		var hist gemini.Contents
		if err := json.Unmarshal(raw, &hist); err != nil {
			return gemini.Contents{}, fmt.Errorf("history: %s: %w", historyPath, err)
		}
		for _, turn := range hist.Turns() {
			b.Add(turn)
		}
	}

	prompt := strings.Join(args, " ")
	if len(args) == 0 && stdin != nil {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return gemini.Contents{}, fmt.Errorf("read stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(raw))
	}
	if prompt == "" {
		return gemini.Contents{}, errors.New("empty prompt: pass it as arguments or on stdin")
	}

	return b.AddText(prompt, gemini.RoleUser).Build(), nil
}
