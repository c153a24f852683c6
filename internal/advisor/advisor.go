package advisor

import (
	"context"

	"github.com/sccpilot/sccpilot/internal/policy"
	"github.com/sccpilot/sccpilot/internal/requirement"
)

// Suggestion is the advisor's proposed fix for a failed apply: a requirement
// delta scored by confidence in [0,1]. The convergence loop only folds the
// delta in when the confidence clears its threshold.
type Suggestion struct {
	Delta      []requirement.Requirement
	Confidence float64
	Analysis   string
	RootCause  string
}

// Advisor turns an admission/runtime error into a suggestion. It must accept
// any opaque error string: unrecognized input yields confidence 0, never an
// error. Errors are reserved for the advisor's own failures (network, auth).
type Advisor interface {
	Name() string
	Suggest(ctx context.Context, errorText string, current policy.Configuration) (Suggestion, error)
}
