package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mlbridge/mlbridge/internal/config"
	"github.com/mlbridge/mlbridge/internal/engine"
	"github.com/mlbridge/mlbridge/internal/tracing"
	"github.com/spf13/cobra"
)

func newEvalCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "eval <code>",
		Short: "Run one command in a short-lived batch engine process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := newOneShotRunner(cfg, timeout)
			if err != nil {
				return err
			}
			if logger != nil {
				logger.With("code_bytes", len(args[0])).Info("one-shot eval")
			}
			return runEval(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), runner, args[0])
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the evaluation after this duration (0 disables)")
	return cmd
}

func newEngineProbe(cfg *config.Config) (*engine.Probe, error) {
	return engine.NewProbe(cfg.EngineBinary, engine.WithProbeTTL(cfg.ProbeTTL))
}

func newOneShotRunner(cfg *config.Config, timeout time.Duration) (*engine.Runner, error) {
	probe, err := newEngineProbe(cfg)
	if err != nil {
		return nil, err
	}
	return engine.NewRunnerWithCommandRunner(probe, engine.RunnerConfig{
		ExtraArgs: cfg.EngineArgs,
		WorkDir:   cfg.WorkDir,
		Env:       cfg.Env,
		Timeout:   timeout,
	}, tracing.NewCommandRunner())
}

func runEval(ctx context.Context, out, errOut io.Writer, runner *engine.Runner, code string) error {
	result, err := runner.Eval(ctx, code)
	if err != nil {
		return err
	}
	if result.Stdout != "" {
		fmt.Fprintln(out, strings.TrimRight(result.Stdout, "\n"))
	}
	if strings.TrimSpace(result.Stderr) != "" {
		fmt.Fprintln(errOut, strings.TrimRight(result.Stderr, "\n"))
	}
	return nil
}
