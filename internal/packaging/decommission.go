package packaging

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Outcome classifies the result of one teardown step.
type Outcome int

const (
	// OutcomeDone means the step changed something.
	OutcomeDone Outcome = iota
	// OutcomeAbsent means the desired state already held.
	OutcomeAbsent
	// OutcomeSkipped means the step does not apply on this machine.
	OutcomeSkipped
	// OutcomeWarning means the step failed; teardown continued.
	OutcomeWarning
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeAbsent:
		return "absent"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeWarning:
		return "warning"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// StepResult records one teardown step.
type StepResult struct {
	Step    string
	Outcome Outcome
	Err     error
}

// TeardownReport is the ordered list of step results.
type TeardownReport struct {
	Steps []StepResult
}

// Warnings returns the steps that failed.
func (r TeardownReport) Warnings() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Outcome == OutcomeWarning {
			out = append(out, s)
		}
	}
	return out
}

// Clean reports whether no step failed.
func (r TeardownReport) Clean() bool {
	return len(r.Warnings()) == 0
}

// classify maps a step error onto an outcome. Errors meaning the thing is
// already gone or stopped are success-equivalent.
func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeDone
	case errors.Is(err, ErrUnitNotFound),
		errors.Is(err, ErrNotRunning),
		errors.Is(err, os.ErrNotExist):
		return OutcomeAbsent
	default:
		return OutcomeWarning
	}
}

// teardownStep is one entry of the uninstall sequence.
type teardownStep struct {
	name    string
	manager bool
	run     func(ctx context.Context) (Outcome, error)
}

// Uninstall removes the service and every artifact Install creates. It
// tolerates any partial or absent prior state; step failures are reported
// in the TeardownReport and never abort the sequence.
func (ins *Installer) Uninstall(ctx context.Context) (TeardownReport, error) {
	var report TeardownReport

	if !ins.root.IsRoot() {
		return report, fmt.Errorf("%w: uninstall", ErrNotRoot)
	}
	if err := ins.cfg.ValidateTarget(); err != nil {
		return report, err
	}

	hasManager := ins.systemd.IsAvailable()
	if !hasManager {
		ins.logger.Info("systemd is not available, skipping service manager steps")
	}

	for _, step := range ins.teardownSteps() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if step.manager && !hasManager {
			report.Steps = append(report.Steps, StepResult{Step: step.name, Outcome: OutcomeSkipped})
			continue
		}

		outcome, err := step.run(ctx)
		report.Steps = append(report.Steps, StepResult{Step: step.name, Outcome: outcome, Err: err})
		switch outcome {
		case OutcomeDone:
			ins.logger.Info("teardown step done", "step", step.name)
		case OutcomeAbsent:
			ins.logger.Debug("teardown step already satisfied", "step", step.name, "error", err)
		case OutcomeWarning:
			ins.logger.Warn("teardown step failed", "step", step.name, "error", err)
		}
	}
	return report, nil
}

// teardownSteps returns the uninstall sequence in its fixed order.
func (ins *Installer) teardownSteps() []teardownStep {
	svc := ins.cfg.ServiceName
	manager := func(op func(ctx context.Context, service string) error) func(ctx context.Context) (Outcome, error) {
		return func(ctx context.Context) (Outcome, error) {
			err := op(ctx, svc)
			return classify(err), err
		}
	}

	return []teardownStep{
		{name: "stop", manager: true, run: manager(ins.systemd.Stop)},
		{name: "disable", manager: true, run: manager(ins.systemd.Disable)},
		{name: "kill", manager: true, run: manager(ins.systemd.Kill)},
		{name: "reset-failed", manager: true, run: manager(ins.systemd.ResetFailed)},
		{name: "kill-strays", run: ins.killStrays},
		{name: "remove-unit", run: removePath(ins.cfg.UnitFilePath, os.Remove)},
		{name: "remove-launcher", run: removePath(ins.cfg.LauncherPath, os.Remove)},
		{name: "remove-install-dir", run: removePath(ins.cfg.InstallDir, os.RemoveAll)},
		{name: "daemon-reload", manager: true, run: func(ctx context.Context) (Outcome, error) {
			err := ins.systemd.DaemonReload(ctx)
			return classify(err), err
		}},
	}
}

func (ins *Installer) killStrays(ctx context.Context) (Outcome, error) {
	if ins.procs == nil {
		return OutcomeSkipped, nil
	}
	n, err := ins.procs.KillMatching(ctx, ins.cfg.EntryPointPath())
	if err != nil {
		return OutcomeWarning, err
	}
	if n == 0 {
		return OutcomeAbsent, nil
	}
	ins.logger.Info("stray processes killed", "count", n)
	return OutcomeDone, nil
}

// removePath stats path first so a missing path reports OutcomeAbsent even
// with os.RemoveAll, which does not fail on missing paths.
func removePath(path string, remove func(string) error) func(context.Context) (Outcome, error) {
	return func(context.Context) (Outcome, error) {
		if _, err := os.Lstat(path); err != nil {
			return classify(err), err
		}
		if err := remove(path); err != nil {
			return classify(err), err
		}
		return OutcomeDone, nil
	}
}
