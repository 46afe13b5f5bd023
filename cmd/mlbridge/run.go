package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/mlbridge/mlbridge/internal/config"
	"github.com/mlbridge/mlbridge/internal/events"
	"github.com/mlbridge/mlbridge/internal/locks"
	"github.com/mlbridge/mlbridge/internal/session"
	"github.com/mlbridge/mlbridge/internal/telemetry"
	"github.com/spf13/cobra"
)

func newRunCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var searchPaths []string

	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Execute a script file inside an interactive engine session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// #nosec G304 -- the script path is an explicit CLI argument.
			code, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read script %q: %w", args[0], err)
			}

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

			_, err = s.Exec(cmd.Context(), string(code))
			return err
		},
	}

	cmd.Flags().StringArrayVar(&searchPaths, "path", nil, "extra engine search path (repeatable)")
	return cmd
}

// acquireWorkdirLock claims the session's working directory so two
// interactive sessions cannot fight over one directory's state.
func acquireWorkdirLock(cfg *config.Config, sessionID string) (func(), error) {
	dir := cfg.WorkDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		dir = cwd
	}

	manager, err := locks.NewManager(dir, locks.ManagerConfig{})
	if err != nil {
		return nil, err
	}
	if err := manager.Acquire(sessionID); err != nil {
		return nil, err
	}
	return func() {
		_ = manager.Release(sessionID)
	}, nil
}

// newInteractiveSession builds a session from the loaded config, streaming the
// engine's live output onto the given writers.
func newInteractiveSession(
	cfg *config.Config,
	logger *log.Logger,
	extraSearchPaths []string,
	out, errOut io.Writer,
) (*session.Session, error) {
	probe, err := newEngineProbe(cfg)
	if err != nil {
		return nil, err
	}

	var bus events.Bus
	if logger != nil {
		bus = newLoggingBus(logger)
	}

	searchPaths := append(append([]string{}, cfg.SearchPaths...), extraSearchPaths...)
	return session.New(session.Config{
		Probe:          probe,
		ExtraArgs:      cfg.EngineArgs,
		WorkDir:        cfg.WorkDir,
		Env:            cfg.Env,
		CommandTimeout: cfg.CommandTimeout,
		StartupTimeout: cfg.StartupTimeout,
		ShutdownGrace:  cfg.ShutdownGrace,
		SearchPaths:    searchPaths,
		PromptPattern:  cfg.CompiledPromptPattern(),
		OnLine: func(stream, line string) {
			if stream == "stderr" {
				fmt.Fprintln(errOut, line)
				return
			}
			fmt.Fprintln(out, line)
		},
		Bus:    bus,
		Logger: logger,
		Tracer: telemetry.Tracer(),
	})
}
