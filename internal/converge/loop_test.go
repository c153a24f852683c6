package converge

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/sccpilot/sccpilot/internal/advisor"
	"github.com/sccpilot/sccpilot/internal/cluster"
	"github.com/sccpilot/sccpilot/internal/errors"
	"github.com/sccpilot/sccpilot/internal/manifest"
	"github.com/sccpilot/sccpilot/internal/policy"
	"github.com/sccpilot/sccpilot/internal/requirement"
)

// fakeGateway scripts the cluster side of a run. Workload applies consume
// the results queue; the last entry repeats.
type fakeGateway struct {
	policies map[string]policy.Configuration
	bindings []cluster.Binding

	workloadResults []*cluster.ApplyResult
	workloadErrs    []error
	statusResult    *cluster.ApplyResult

	policyApplies   int
	workloadApplies int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{policies: map[string]policy.Configuration{}}
}

func (g *fakeGateway) FetchPolicy(_ context.Context, name string) (*policy.Configuration, error) {
	cfg, ok := g.policies[name]
	if !ok {
		return nil, nil
	}
	clone := cfg.Clone()
	return &clone, nil
}

func (g *fakeGateway) ListPolicies(context.Context) ([]policy.Configuration, error) {
	out := make([]policy.Configuration, 0, len(g.policies))
	for _, cfg := range g.policies {
		out = append(out, cfg.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata.Name < out[j].Metadata.Name
	})
	return out, nil
}

func (g *fakeGateway) FetchBindings(context.Context, []string, string) ([]cluster.Binding, error) {
	return g.bindings, nil
}

func (g *fakeGateway) ApplyPolicy(_ context.Context, cfg policy.Configuration) error {
	g.policyApplies++
	stored := cfg.Clone()
	stored.Metadata.ResourceVersion = fmt.Sprintf("%d", g.policyApplies)
	g.policies[cfg.Metadata.Name] = stored
	return nil
}

func (g *fakeGateway) ApplyWorkload(context.Context, []manifest.Document) (*cluster.ApplyResult, error) {
	g.workloadApplies++
	i := g.workloadApplies - 1
	if i < len(g.workloadErrs) && g.workloadErrs[i] != nil {
		return nil, g.workloadErrs[i]
	}
	if len(g.workloadResults) == 0 {
		return &cluster.ApplyResult{Succeeded: true}, nil
	}
	if i >= len(g.workloadResults) {
		i = len(g.workloadResults) - 1
	}
	return g.workloadResults[i], nil
}

func (g *fakeGateway) WorkloadStatus(context.Context, []manifest.Document) (*cluster.ApplyResult, error) {
	if g.statusResult != nil {
		return g.statusResult, nil
	}
	return &cluster.ApplyResult{Succeeded: false, ErrorText: "not ready"}, nil
}

// fakeAdvisor replays scripted suggestions.
type fakeAdvisor struct {
	suggestions []advisor.Suggestion
	calls       int
}

func (a *fakeAdvisor) Name() string { return "fake" }

func (a *fakeAdvisor) Suggest(context.Context, string, policy.Configuration) (advisor.Suggestion, error) {
	i := a.calls
	a.calls++
	if i >= len(a.suggestions) {
		i = len(a.suggestions) - 1
	}
	return a.suggestions[i], nil
}

func testLoop(g cluster.Gateway, adv advisor.Advisor) *Loop {
	merger := &policy.Merger{
		UpdatedBy: "sccpilot",
		Clock:     func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) },
	}
	return NewLoop(g, adv, merger, nil)
}

func capabilityRequest(caps ...string) Request {
	spec := map[string]interface{}{
		"containers": []interface{}{
			map[string]interface{}{
				"name": "app",
				"securityContext": map[string]interface{}{
					"capabilities": map[string]interface{}{
						"add": toIfaces(caps),
					},
				},
			},
		},
	}
	return Request{
		Documents: []manifest.Document{{
			APIVersion: "v1", Kind: "Pod", Name: "web", Namespace: "shop",
			Object: map[string]interface{}{"spec": spec},
		}},
		ServiceAccounts:     []manifest.ServiceAccount{{Name: "web-sa", Namespace: "shop"}},
		Namespace:           "shop",
		PolicyName:          "web-scc",
		Budget:              3,
		ConfidenceThreshold: 0.7,
	}
}

func toIfaces(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func TestRunCreatesPolicyAndSucceeds(t *testing.T) {
	g := newFakeGateway()
	report, err := testLoop(g, nil).Run(context.Background(), capabilityRequest("NET_BIND_SERVICE"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.State != StateSucceeded {
		t.Fatalf("state = %s", report.State)
	}
	if len(report.Iterations) != 1 {
		t.Fatalf("iterations = %d, want 1", len(report.Iterations))
	}
	if !report.Created {
		t.Error("first run against an empty cluster must create the policy")
	}
	if !report.FinalPolicy.HasCapability("NET_BIND_SERVICE") {
		t.Errorf("final policy = %+v", report.FinalPolicy)
	}
	if g.policyApplies != 1 {
		t.Errorf("policy applies = %d, want 1", g.policyApplies)
	}
}

func TestRunSufficientPolicySkipsApply(t *testing.T) {
	g := newFakeGateway()
	existing := policy.Baseline("web-scc")
	existing.AllowedCapabilities = []string{"NET_BIND_SERVICE"}
	existing.Metadata.ResourceVersion = "42"
	existing.Metadata.Annotations = map[string]string{"team": "platform"}
	g.policies["web-scc"] = existing

	report, err := testLoop(g, nil).Run(context.Background(), capabilityRequest("NET_BIND_SERVICE"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.State != StateSucceeded || len(report.Iterations) != 1 {
		t.Fatalf("expected one-iteration success, got %s after %d", report.State, len(report.Iterations))
	}
	if !report.Iterations[0].Changes.Empty() {
		t.Errorf("change report should be empty, got %+v", report.Iterations[0].Changes)
	}
	if g.policyApplies != 0 {
		t.Errorf("no apply call may happen on an empty change report, got %d", g.policyApplies)
	}
	stored := g.policies["web-scc"]
	if _, ok := stored.Metadata.Annotations[policy.AnnotationUpdatedBy]; ok {
		t.Error("audit annotations must stay untouched on the no-op path")
	}
}

func TestRunAdvisorRecoversFailure(t *testing.T) {
	g := newFakeGateway()
	g.workloadResults = []*cluster.ApplyResult{
		{Succeeded: false, ErrorText: `capability "SYS_TIME" may not be used`},
		{Succeeded: true},
	}
	adv := &fakeAdvisor{suggestions: []advisor.Suggestion{{
		Delta: []requirement.Requirement{{
			Kind: requirement.KindCapability, Value: "SYS_TIME",
			Tier: requirement.TierHigh, Source: "advisor",
		}},
		Confidence: 0.9,
	}}}

	report, err := testLoop(g, adv).Run(context.Background(), capabilityRequest("NET_BIND_SERVICE"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.State != StateSucceeded || len(report.Iterations) != 2 {
		t.Fatalf("expected success on iteration 2, got %s after %d", report.State, len(report.Iterations))
	}
	if !report.Iterations[0].AdvisorAccepted {
		t.Error("iteration 1 should record the accepted delta")
	}

	// Monotonicity across iterations: the first grant survives the second.
	if !report.FinalPolicy.HasCapability("NET_BIND_SERVICE") || !report.FinalPolicy.HasCapability("SYS_TIME") {
		t.Errorf("final policy lost a grant: %v", report.FinalPolicy.AllowedCapabilities)
	}
}

func TestRunLowConfidenceExhausts(t *testing.T) {
	g := newFakeGateway()
	g.workloadResults = []*cluster.ApplyResult{{Succeeded: false, ErrorText: "mystery failure"}}
	adv := &fakeAdvisor{suggestions: []advisor.Suggestion{{Confidence: 0.2}}}

	report, err := testLoop(g, adv).Run(context.Background(), capabilityRequest("CHOWN"))
	if !errors.IsCode(err, errors.ErrCodeAdvisorLowConfidence) {
		t.Fatalf("expected ADVISOR-006, got %v", err)
	}
	if report.State != StateExhausted {
		t.Errorf("state = %s", report.State)
	}
	if report.LastError == "" {
		t.Error("the last failure must be preserved for human review")
	}
	if g.workloadApplies != 1 {
		t.Errorf("low confidence must stop retries, got %d applies", g.workloadApplies)
	}
}

func TestRunBudgetBoundsApplies(t *testing.T) {
	g := newFakeGateway()
	g.workloadResults = []*cluster.ApplyResult{{Succeeded: false, ErrorText: `capability "SYS_ADMIN" may not be used`}}
	adv := &fakeAdvisor{suggestions: []advisor.Suggestion{{
		Delta: []requirement.Requirement{{
			Kind: requirement.KindCapability, Value: "SYS_ADMIN",
			Tier: requirement.TierHigh, Source: "advisor",
		}},
		Confidence: 0.95,
	}}}

	req := capabilityRequest("CHOWN")
	req.Budget = 3
	report, err := testLoop(g, adv).Run(context.Background(), req)

	if !errors.IsCode(err, errors.ErrCodeLoopBudgetExhausted) {
		t.Fatalf("expected LOOP-001, got %v", err)
	}
	if g.workloadApplies != 3 {
		t.Errorf("Applying visited %d times, want exactly the budget 3", g.workloadApplies)
	}
	if report.State != StateExhausted || len(report.Iterations) != 3 {
		t.Errorf("report = %s after %d iterations", report.State, len(report.Iterations))
	}
}

func TestRunInvalidBudget(t *testing.T) {
	req := capabilityRequest("CHOWN")
	req.Budget = 0
	_, err := testLoop(newFakeGateway(), nil).Run(context.Background(), req)
	if !errors.IsCode(err, errors.ErrCodeLoopInvalidBudget) {
		t.Errorf("expected LOOP-003, got %v", err)
	}
}

func TestRunApplyTimeoutResolvedByStatusRecheck(t *testing.T) {
	g := newFakeGateway()
	g.workloadErrs = []error{errors.New(errors.ErrCodeClusterTimeout, "apply deadline exceeded")}
	g.statusResult = &cluster.ApplyResult{Succeeded: true}

	report, err := testLoop(g, nil).Run(context.Background(), capabilityRequest("CHOWN"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.State != StateSucceeded {
		t.Errorf("a timed-out apply that actually landed must succeed, got %s", report.State)
	}
}

func TestRunDiscoversPolicyThroughBindings(t *testing.T) {
	g := newFakeGateway()
	bound := policy.Baseline("team-scc")
	bound.Metadata.ResourceVersion = "7"
	g.policies["team-scc"] = bound
	g.bindings = []cluster.Binding{
		{ServiceAccount: "web-sa", Namespace: "shop", PolicyName: "team-scc"},
	}

	req := capabilityRequest("NET_BIND_SERVICE")
	req.PolicyName = ""
	report, err := testLoop(g, nil).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.FinalPolicy.Metadata.Name != "team-scc" {
		t.Errorf("resolved policy = %q, want team-scc", report.FinalPolicy.Metadata.Name)
	}
	if report.FinalPolicy.Metadata.ResourceVersion != "7" {
		t.Error("merged policy must carry the live object's metadata")
	}
}

func TestRunAmbiguousBindingsError(t *testing.T) {
	g := newFakeGateway()
	g.policies["left"] = policy.Baseline("left")
	g.policies["right"] = policy.Baseline("right")
	g.bindings = []cluster.Binding{
		{ServiceAccount: "a", Namespace: "shop", PolicyName: "left"},
		{ServiceAccount: "b", Namespace: "shop", PolicyName: "right"},
	}

	req := capabilityRequest("CHOWN")
	req.PolicyName = ""
	_, err := testLoop(g, nil).Run(context.Background(), req)
	if !errors.IsCode(err, errors.ErrCodePolicyAmbiguous) {
		t.Errorf("expected POLICY-003, got %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := testLoop(newFakeGateway(), nil).Run(ctx, capabilityRequest("CHOWN"))
	if !errors.IsCode(err, errors.ErrCodeLoopCancelled) {
		t.Fatalf("expected LOOP-002, got %v", err)
	}
	if report.State != StateExhausted {
		t.Errorf("state = %s", report.State)
	}
}

func TestRunIdempotentRerun(t *testing.T) {
	g := newFakeGateway()
	loop := testLoop(g, nil)
	req := capabilityRequest("NET_BIND_SERVICE")

	if _, err := loop.Run(context.Background(), req); err != nil {
		t.Fatalf("first run: %v", err)
	}
	appliesAfterFirst := g.policyApplies

	report, err := loop.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.State != StateSucceeded || len(report.Iterations) != 1 {
		t.Fatalf("rerun must succeed in one iteration, got %s after %d", report.State, len(report.Iterations))
	}
	if !report.Iterations[0].Changes.Empty() {
		t.Errorf("rerun change report should be empty, got %+v", report.Iterations[0].Changes)
	}
	if g.policyApplies != appliesAfterFirst {
		t.Error("rerun must not write the policy again")
	}
}
