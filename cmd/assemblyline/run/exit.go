package run

import (
	"fmt"
	"strings"

	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
)

const (
	exitCodeSuccess = 0
	exitCodeRunErr  = 1
	exitCodeUsage   = 2
)

type runExitError struct {
	code int
	err  error
}

func (e runExitError) Error() string { return e.err.Error() }
func (e runExitError) Unwrap() error { return e.err }
func (e runExitError) ExitCode() int { return e.code }

func usageError(format string, args ...any) error {
	return runExitError{code: exitCodeUsage, err: fmt.Errorf(format, args...)}
}

// exitError classifies err: configuration problems are usage errors,
// anything else is a failed run.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	if pipeline.IsConfigurationError(err) {
		return runExitError{code: exitCodeUsage, err: err}
	}
	return runExitError{code: exitCodeRunErr, err: err}
}

// failedRun reports the roles that lost messages to hook failures
func failedRun(report pipeline.Report) error {
	var lost []string
	for _, r := range report.Roles {
		if r.Failed > 0 {
			lost = append(lost, fmt.Sprintf("%s %d", r.Role, r.Failed))
		}
	}
	if len(lost) == 0 {
		return nil
	}
	return fmt.Errorf("run %s finished with failures: %s", report.RunID, strings.Join(lost, ", "))
}
