package exitcode

import (
	"errors"
	"os"

	piloterrors "github.com/sccpilot/sccpilot/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// AmbiguousPolicy indicates the existing-policy tie-break was exhausted
	// and an explicit policy name is required
	AmbiguousPolicy = 3

	// BudgetExhausted indicates the convergence loop spent its iteration
	// budget without a successful deployment
	BudgetExhausted = 4

	// ClusterError indicates a cluster connectivity or apply failure
	ClusterError = 5

	// AdvisorError indicates a failure-advisor configuration or API failure
	AdvisorError = 6

	// Interrupted indicates the run was cancelled by the user
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}

	Exit(DetermineExitCode(err))
}

// DetermineExitCode analyzes an error and returns the appropriate exit code
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	var pilotErr *piloterrors.PilotError
	if !errors.As(err, &pilotErr) {
		return GeneralError
	}

	switch pilotErr.Code {
	case piloterrors.ErrCodePolicyAmbiguous:
		return AmbiguousPolicy
	case piloterrors.ErrCodeLoopBudgetExhausted:
		return BudgetExhausted
	case piloterrors.ErrCodeClusterConnect,
		piloterrors.ErrCodeClusterApplyFailed,
		piloterrors.ErrCodeClusterFetchFailed,
		piloterrors.ErrCodeClusterTimeout,
		piloterrors.ErrCodeClusterNotConnected:
		return ClusterError
	case piloterrors.ErrCodeAdvisorNotFound,
		piloterrors.ErrCodeAdvisorConfig,
		piloterrors.ErrCodeAdvisorAuth,
		piloterrors.ErrCodeAdvisorAPI,
		piloterrors.ErrCodeAdvisorTimeout,
		piloterrors.ErrCodeAdvisorLowConfidence:
		return AdvisorError
	case piloterrors.ErrCodeManifestNotFound,
		piloterrors.ErrCodeManifestEmpty,
		piloterrors.ErrCodeLoopInvalidBudget:
		return UsageError
	default:
		return GeneralError
	}
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case AmbiguousPolicy:
		return "Ambiguous policy match (explicit --scc-name required)"
	case BudgetExhausted:
		return "Iteration budget exhausted"
	case ClusterError:
		return "Cluster error"
	case AdvisorError:
		return "Failure-advisor error"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
