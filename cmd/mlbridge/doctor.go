package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mlbridge/mlbridge/internal/config"
	"github.com/mlbridge/mlbridge/internal/doctor"
	"github.com/spf13/cobra"
)

const doctorEvalTimeout = 30 * time.Second

func newDoctorCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the engine and local environment are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, err := newOneShotRunner(cfg, doctorEvalTimeout)
			if err != nil {
				return err
			}
			probe, err := newEngineProbe(cfg)
			if err != nil {
				return err
			}
			var bus doctor.EventBus
			if logger != nil {
				bus = newLoggingBus(logger)
			}
			manager, err := doctor.NewManager(probe, runner, bus)
			if err != nil {
				return err
			}

			report, err := manager.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			printDoctorReport(cmd.OutOrStdout(), report)
			if logger != nil {
				logger.With("healthy", report.Healthy()).Info("doctor run complete")
			}
			if !report.Healthy() {
				return errors.New("environment checks failed")
			}
			return nil
		},
	}
}

func printDoctorReport(out io.Writer, report doctor.Report) {
	for _, result := range report.Results {
		if result.OK() {
			detail := result.Detail
			if detail != "" {
				detail = " (" + detail + ")"
			}
			fmt.Fprintf(out, "ok   %s%s\n", result.Name, detail)
			continue
		}
		fmt.Fprintf(out, "FAIL %s: %v\n", result.Name, result.Err)
	}
}
