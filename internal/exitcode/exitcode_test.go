package exitcode

import (
	"fmt"
	"testing"

	piloterrors "github.com/sccpilot/sccpilot/internal/errors"
)

func TestDetermineExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, Success},
		{"plain error", fmt.Errorf("boom"), GeneralError},
		{
			"ambiguous policy",
			piloterrors.New(piloterrors.ErrCodePolicyAmbiguous, "two policies match"),
			AmbiguousPolicy,
		},
		{
			"budget exhausted",
			piloterrors.New(piloterrors.ErrCodeLoopBudgetExhausted, "out of iterations"),
			BudgetExhausted,
		},
		{
			"cluster apply failure",
			piloterrors.New(piloterrors.ErrCodeClusterApplyFailed, "admission denied"),
			ClusterError,
		},
		{
			"advisor auth",
			piloterrors.New(piloterrors.ErrCodeAdvisorAuth, "bad api key"),
			AdvisorError,
		},
		{
			"missing manifest",
			piloterrors.New(piloterrors.ErrCodeManifestNotFound, "no such file"),
			UsageError,
		},
		{
			"low advisor confidence",
			piloterrors.New(piloterrors.ErrCodeAdvisorLowConfidence, "confidence below threshold"),
			AdvisorError,
		},
		{
			"invalid budget",
			piloterrors.New(piloterrors.ErrCodeLoopInvalidBudget, "budget must be positive"),
			UsageError,
		},
		{
			"wrapped pilot error",
			fmt.Errorf("outer: %w", piloterrors.New(piloterrors.ErrCodeClusterTimeout, "slow cluster")),
			ClusterError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetermineExitCode(tt.err); got != tt.want {
				t.Errorf("DetermineExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetExitCodeDescription(t *testing.T) {
	if GetExitCodeDescription(AmbiguousPolicy) == "Unknown error" {
		t.Error("AmbiguousPolicy should have a description")
	}
	if GetExitCodeDescription(99) != "Unknown error" {
		t.Error("unmapped codes should be unknown")
	}
}
