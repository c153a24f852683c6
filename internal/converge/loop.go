package converge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sccpilot/sccpilot/internal/advisor"
	"github.com/sccpilot/sccpilot/internal/cluster"
	"github.com/sccpilot/sccpilot/internal/errors"
	"github.com/sccpilot/sccpilot/internal/log"
	"github.com/sccpilot/sccpilot/internal/manifest"
	"github.com/sccpilot/sccpilot/internal/policy"
	"github.com/sccpilot/sccpilot/internal/requirement"
)

// State names one position in the convergence state machine.
type State string

const (
	StateIdle         State = "Idle"
	StateSynthesizing State = "Synthesizing"
	StateMerging      State = "Merging"
	StateApplying     State = "Applying"
	StateSucceeded    State = "Succeeded"
	StateAnalyzing    State = "Analyzing"
	StateExhausted    State = "Exhausted"
)

// Request is one deploy request: the parsed manifests plus the loop's knobs.
type Request struct {
	Documents       []manifest.Document
	ServiceAccounts []manifest.ServiceAccount
	Namespace       string

	// PolicyName pins the target SCC. When empty the loop discovers the
	// policy through the service accounts' bindings.
	PolicyName string

	Budget              int
	ConfidenceThreshold float64
	ApplyTimeout        time.Duration
	AdvisorTimeout      time.Duration
	Optimize            bool
}

// IterationRecord is the history entry for one pass through the machine.
type IterationRecord struct {
	Number            int
	Changes           policy.ChangeReport
	PolicyApplied     bool
	ApplyError        string
	AdvisorConfidence float64
	AdvisorAccepted   bool
	AdvisorAnalysis   string
}

// Report is the terminal outcome handed back to the caller. Every failure
// mode resolves to a state value here; the loop never panics outward.
type Report struct {
	RunID       string
	State       State
	Iterations  []IterationRecord
	LastError   string
	FinalPolicy policy.Configuration
	Created     bool
	Warnings    []manifest.Warning
}

// Loop drives synthesize, merge, apply, analyze until the workload admits or
// the budget runs out. Iterations are strictly sequential.
type Loop struct {
	gateway cluster.Gateway
	advisor advisor.Advisor
	merger  *policy.Merger
	logger  *log.Logger
}

// NewLoop wires a Loop. The advisor may be nil, in which case failures are
// terminal on the first apply error.
func NewLoop(gateway cluster.Gateway, adv advisor.Advisor, merger *policy.Merger, logger *log.Logger) *Loop {
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{gateway: gateway, advisor: adv, merger: merger, logger: logger}
}

// Run executes the request to a terminal state. The returned error carries
// the failure classification; the report is always populated.
func (l *Loop) Run(ctx context.Context, req Request) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), State: StateIdle}

	if req.Budget < 1 {
		report.State = StateExhausted
		err := errors.New(errors.ErrCodeLoopInvalidBudget,
			fmt.Sprintf("iteration budget must be at least 1, got %d", req.Budget))
		report.LastError = err.Error()
		return report, err
	}

	report.State = StateSynthesizing
	reqs, warnings := requirement.Extract(req.Documents)
	report.Warnings = warnings

	targetName, err := l.resolvePolicyName(ctx, req)
	if err != nil {
		report.State = StateExhausted
		report.LastError = err.Error()
		return report, err
	}
	l.logger.Info("convergence run starting",
		"run_id", report.RunID, "policy", targetName, "budget", req.Budget)

	for iteration := 1; iteration <= req.Budget; iteration++ {
		if ctx.Err() != nil {
			report.State = StateExhausted
			cancelErr := errors.Wrap(errors.ErrCodeLoopCancelled, "convergence loop cancelled", ctx.Err())
			report.LastError = cancelErr.Error()
			return report, cancelErr
		}

		record := IterationRecord{Number: iteration}

		report.State = StateMerging
		existing, err := l.gateway.FetchPolicy(ctx, targetName)
		if err != nil {
			report.State = StateExhausted
			report.LastError = err.Error()
			return report, err
		}

		candidate := policy.Synthesize(reqs, targetName)
		if req.Optimize && existing == nil {
			candidate = policy.Optimize(candidate, reqs)
		}

		merged, changes := l.merger.Merge(existing, candidate)
		record.Changes = changes
		if changes.Created {
			report.Created = true
		}

		report.State = StateApplying
		if !changes.Empty() {
			if err := l.applyPolicy(ctx, req, merged); err != nil {
				report.State = StateExhausted
				report.LastError = err.Error()
				report.Iterations = append(report.Iterations, record)
				return report, err
			}
			record.PolicyApplied = true
		} else {
			l.logger.Info("policy already sufficient, skipping apply",
				"policy", targetName, "iteration", iteration)
		}
		report.FinalPolicy = merged

		result, err := l.applyWorkload(ctx, req)
		if err != nil {
			report.State = StateExhausted
			report.LastError = err.Error()
			report.Iterations = append(report.Iterations, record)
			return report, err
		}
		if result.Succeeded {
			report.State = StateSucceeded
			report.Iterations = append(report.Iterations, record)
			l.logger.Info("workload admitted", "run_id", report.RunID, "iteration", iteration)
			return report, nil
		}

		record.ApplyError = result.ErrorText
		report.LastError = result.ErrorText
		report.State = StateAnalyzing
		l.logger.Warn("workload rejected", "iteration", iteration, "error", result.ErrorText)

		if iteration == req.Budget {
			report.Iterations = append(report.Iterations, record)
			break
		}

		accepted, err := l.analyze(ctx, req, result.ErrorText, merged, reqs, &record)
		report.Iterations = append(report.Iterations, record)
		if err != nil {
			report.State = StateExhausted
			report.LastError = err.Error()
			return report, err
		}
		if !accepted {
			report.State = StateExhausted
			return report, errors.New(errors.ErrCodeAdvisorLowConfidence,
				fmt.Sprintf("advisor confidence %.2f below threshold %.2f",
					record.AdvisorConfidence, req.ConfidenceThreshold)).
				WithSuggestion("inspect the last apply error and extend the policy manually")
		}
	}

	report.State = StateExhausted
	return report, errors.New(errors.ErrCodeLoopBudgetExhausted,
		fmt.Sprintf("no successful deployment within %d iterations", req.Budget)).
		WithSuggestion("raise --max-iterations or review the last apply error")
}

// resolvePolicyName applies the tie-break when the request does not pin a
// policy: most bound service accounts, then fewest permissions, then error.
func (l *Loop) resolvePolicyName(ctx context.Context, req Request) (string, error) {
	if req.PolicyName != "" {
		return req.PolicyName, nil
	}

	names := make([]string, 0, len(req.ServiceAccounts))
	for _, sa := range req.ServiceAccounts {
		names = append(names, sa.Name)
	}
	bindings, err := l.gateway.FetchBindings(ctx, names, req.Namespace)
	if err != nil {
		return "", err
	}

	counts := map[string]int{}
	for _, b := range bindings {
		counts[b.PolicyName]++
	}
	if len(counts) == 0 {
		return defaultPolicyName(req), nil
	}

	candidates := make([]policy.Candidate, 0, len(counts))
	for name, count := range counts {
		cfg, err := l.gateway.FetchPolicy(ctx, name)
		if err != nil {
			return "", err
		}
		if cfg == nil {
			// Binding points at a deleted SCC; treat it as creatable.
			continue
		}
		candidates = append(candidates, policy.Candidate{Policy: *cfg, BoundAccounts: count})
	}
	if len(candidates) == 0 {
		return defaultPolicyName(req), nil
	}

	selected, err := policy.Select(candidates)
	if err != nil {
		return "", err
	}
	return selected.Metadata.Name, nil
}

func defaultPolicyName(req Request) string {
	for _, doc := range req.Documents {
		if manifest.IsWorkloadKind(doc.Kind) {
			return doc.Name + "-scc"
		}
	}
	return "sccpilot-generated-scc"
}

func (l *Loop) applyPolicy(ctx context.Context, req Request, cfg policy.Configuration) error {
	applyCtx := ctx
	if req.ApplyTimeout > 0 {
		var cancel context.CancelFunc
		applyCtx, cancel = context.WithTimeout(ctx, req.ApplyTimeout)
		defer cancel()
	}
	return l.gateway.ApplyPolicy(applyCtx, cfg)
}

// applyWorkload applies with the request timeout. A timeout is ambiguous:
// the cluster may have admitted the workload while we stopped listening, so
// the status is re-checked before the failure is declared.
func (l *Loop) applyWorkload(ctx context.Context, req Request) (*cluster.ApplyResult, error) {
	applyCtx := ctx
	if req.ApplyTimeout > 0 {
		var cancel context.CancelFunc
		applyCtx, cancel = context.WithTimeout(ctx, req.ApplyTimeout)
		defer cancel()
	}

	result, err := l.gateway.ApplyWorkload(applyCtx, req.Documents)
	if err == nil {
		return result, nil
	}
	if !errors.IsCode(err, errors.ErrCodeClusterTimeout) || ctx.Err() != nil {
		return nil, err
	}

	l.logger.Warn("apply timed out, re-checking workload status")
	status, statusErr := l.gateway.WorkloadStatus(ctx, req.Documents)
	if statusErr != nil {
		return nil, err
	}
	if !status.Succeeded && status.ErrorText == "" {
		status.ErrorText = "apply timed out and the workload is not ready"
	}
	return status, nil
}

// analyze hands the failure to the advisor and folds an accepted delta into
// the requirement set. Folding only ever adds requirements, so permissions
// granted in earlier iterations stay granted.
func (l *Loop) analyze(ctx context.Context, req Request, errorText string,
	current policy.Configuration, reqs *requirement.Set, record *IterationRecord) (bool, error) {

	if l.advisor == nil {
		return false, nil
	}

	advisorCtx := ctx
	if req.AdvisorTimeout > 0 {
		var cancel context.CancelFunc
		advisorCtx, cancel = context.WithTimeout(ctx, req.AdvisorTimeout)
		defer cancel()
	}

	suggestion, err := l.advisor.Suggest(advisorCtx, errorText, current)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeAdvisorTimeout) || advisorCtx.Err() != nil {
			// A timed-out advisor is the same as a low-confidence answer.
			l.logger.Warn("advisor timed out", "advisor", l.advisor.Name())
			return false, nil
		}
		return false, err
	}

	record.AdvisorConfidence = suggestion.Confidence
	record.AdvisorAnalysis = suggestion.Analysis
	if suggestion.Confidence < req.ConfidenceThreshold || len(suggestion.Delta) == 0 {
		return false, nil
	}

	reqs.AddAll(suggestion.Delta)
	record.AdvisorAccepted = true
	l.logger.Info("advisor delta accepted",
		"advisor", l.advisor.Name(),
		"confidence", suggestion.Confidence,
		"adjustments", len(suggestion.Delta))
	return true, nil
}
