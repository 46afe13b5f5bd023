package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mlbridge/mlbridge/internal/engine"
	"github.com/mlbridge/mlbridge/internal/events"
)

const probeCode = "disp('mlbridge-ok'); disp(version);"

// CheckResult is the outcome of one environment check.
type CheckResult struct {
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
	Err    error  `json:"-"`
}

// OK reports whether the check passed.
func (c CheckResult) OK() bool {
	return c.Err == nil
}

// Report aggregates one diagnostic run.
type Report struct {
	Results   []CheckResult `json:"results"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool {
	for _, result := range r.Results {
		if !result.OK() {
			return false
		}
	}
	return true
}

// Evaluator runs one batch command against the engine. *engine.Runner
// satisfies it.
type Evaluator interface {
	Eval(ctx context.Context, code string) (engine.Result, error)
}

// EventBus publishes health reports.
type EventBus interface {
	Publish(event events.Event)
}

// Manager executes deterministic environment checks: is the engine binary
// installed, does it answer a trivial evaluation, and is the local log
// directory writable.
type Manager struct {
	probe   *engine.Probe
	runner  Evaluator
	bus     EventBus
	homeDir func() (string, error)
	now     func() time.Time
}

// NewManager builds a diagnostics manager. The bus is optional.
func NewManager(probe *engine.Probe, runner Evaluator, bus EventBus) (*Manager, error) {
	if probe == nil {
		return nil, errors.New("engine probe is required")
	}
	if runner == nil {
		return nil, errors.New("evaluator is required")
	}
	return &Manager{
		probe:   probe,
		runner:  runner,
		bus:     bus,
		homeDir: os.UserHomeDir,
		now:     time.Now,
	}, nil
}

// RunOnce executes one diagnostic cycle. Failed checks are reported inside the
// Report rather than as an error; the error return covers only the inability
// to run the cycle at all.
func (m *Manager) RunOnce(ctx context.Context) (Report, error) {
	if m == nil {
		return Report{}, errors.New("doctor manager is nil")
	}

	report := Report{CheckedAt: m.now().UTC()}
	report.Results = append(report.Results, m.checkBinary())
	// Only talk to the engine when the binary resolved; the probe error
	// already covers everything downstream.
	if report.Results[0].OK() {
		report.Results = append(report.Results, m.checkEvaluation(ctx))
	}
	report.Results = append(report.Results, m.checkLogDirectory())

	if m.bus != nil {
		severity := events.SeverityInfo
		if !report.Healthy() {
			severity = events.SeverityWarn
		}
		m.bus.Publish(events.Event{
			Type:      events.EventTypeHealthCheck,
			Timestamp: report.CheckedAt,
			Payload:   report,
			Severity:  severity,
		})
	}
	return report, nil
}

func (m *Manager) checkBinary() CheckResult {
	result := CheckResult{Name: "engine binary"}
	path, err := m.probe.Check()
	if err != nil {
		result.Err = err
		return result
	}
	result.Detail = path
	return result
}

func (m *Manager) checkEvaluation(ctx context.Context) CheckResult {
	result := CheckResult{Name: "engine responds"}
	evalResult, err := m.runner.Eval(ctx, probeCode)
	if err != nil {
		result.Err = err
		return result
	}
	lines := strings.Split(strings.TrimSpace(evalResult.Stdout), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "mlbridge-ok" {
		result.Err = fmt.Errorf("unexpected probe output %q", evalResult.Stdout)
		return result
	}
	if len(lines) > 1 {
		result.Detail = "version " + strings.TrimSpace(lines[1])
	}
	return result
}

func (m *Manager) checkLogDirectory() CheckResult {
	result := CheckResult{Name: "log directory"}
	homeDir, err := m.homeDir()
	if err != nil {
		result.Err = fmt.Errorf("resolve home directory: %w", err)
		return result
	}

	logDir := filepath.Join(homeDir, ".mlbridge", "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		result.Err = fmt.Errorf("create log directory: %w", err)
		return result
	}
	marker, err := os.CreateTemp(logDir, ".doctor-*")
	if err != nil {
		result.Err = fmt.Errorf("write to log directory: %w", err)
		return result
	}
	name := marker.Name()
	_ = marker.Close()
	_ = os.Remove(name)

	result.Detail = logDir
	return result
}
