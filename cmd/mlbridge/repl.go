package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mlbridge/mlbridge/internal/config"
	"github.com/mlbridge/mlbridge/internal/engine"
	"github.com/spf13/cobra"
)

const replPrompt = "mlbridge> "

// commandExecutor is the slice of the session the REPL loop needs.
type commandExecutor func(ctx context.Context, code string) (engine.Result, error)

func newReplCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var searchPaths []string

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Open an interactive prompt against a persistent engine session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newInteractiveSession(cfg, logger, searchPaths, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			release, err := acquireWorkdirLock(cfg, s.ID())
			if err != nil {
				return err
			}
			defer release()

			if err := s.Start(cmd.Context()); err != nil {
				return err
			}
			defer func() {
				_ = s.Close()
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "connected to %s (session %s), type exit to quit\n",
				cfg.EngineBinary, s.ID())
			return replLoop(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), s.Exec)
		},
	}

	cmd.Flags().StringArrayVar(&searchPaths, "path", nil, "extra engine search path (repeatable)")
	return cmd
}

// replLoop reads lines until EOF or an exit keyword, executing each as one
// command. Command-level failures are printed and the loop continues; a dead
// session ends the loop with its error.
func replLoop(ctx context.Context, in io.Reader, out, errOut io.Writer, exec commandExecutor) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, replPrompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		}

		if _, err := exec(ctx, line); err != nil {
			var engineErr *engine.Error
			if errors.As(err, &engineErr) && engineErr.Kind == engine.KindRuntime {
				fmt.Fprintln(errOut, strings.TrimSpace(engineErr.Message))
				continue
			}
			return err
		}
	}
}
