package cluster

import (
	"context"
	"regexp"

	"github.com/sccpilot/sccpilot/internal/manifest"
	"github.com/sccpilot/sccpilot/internal/policy"
)

// Binding associates a service account with the SCC it is bound to.
type Binding struct {
	ServiceAccount string
	Namespace      string
	PolicyName     string
}

// ApplyResult is the outcome of a workload apply. Admission rejections are
// reported here, not as transport errors; ErrorText feeds the failure
// advisor verbatim.
type ApplyResult struct {
	Succeeded bool
	ErrorText string
	Applied   []string
}

// Gateway is the only path between the agent and the cluster. The core never
// issues raw API calls itself.
type Gateway interface {
	// FetchPolicy returns the named SCC, or nil when it does not exist.
	FetchPolicy(ctx context.Context, name string) (*policy.Configuration, error)

	// ListPolicies returns every SCC in the cluster, sorted by name.
	ListPolicies(ctx context.Context) ([]policy.Configuration, error)

	// FetchBindings resolves which SCCs the given service accounts are bound
	// to through the system:openshift:scc:<name> role convention.
	FetchBindings(ctx context.Context, serviceAccounts []string, namespace string) ([]Binding, error)

	// ApplyPolicy creates or updates the SCC.
	ApplyPolicy(ctx context.Context, cfg policy.Configuration) error

	// ApplyWorkload applies the documents in deployment order and waits for
	// readiness within the context deadline.
	ApplyWorkload(ctx context.Context, docs []manifest.Document) (*ApplyResult, error)

	// WorkloadStatus re-checks readiness without applying, used to resolve
	// apply timeouts before declaring failure.
	WorkloadStatus(ctx context.Context, docs []manifest.Document) (*ApplyResult, error)
}

// RoleNamePrefix is the cluster-role naming convention OpenShift uses to
// grant SCC access.
const RoleNamePrefix = "system:openshift:scc:"

var sccErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`unable to validate against any security context constraint`),
	regexp.MustCompile(`forbidden:.*security context constraint`),
	regexp.MustCompile(`provider ".*": Forbidden`),
	regexp.MustCompile(`(?i)capabilit(y|ies).*(may not be used|not allowed)`),
	regexp.MustCompile(`(?i)privileged.*(not allowed|forbidden)`),
	regexp.MustCompile(`(?i)hostPath.*(not allowed|forbidden)`),
	regexp.MustCompile(`(?i)host(Network|PID|IPC).*(not allowed|forbidden)`),
	regexp.MustCompile(`runAsUser:\s*Invalid value`),
	regexp.MustCompile(`fsGroup:\s*Invalid value`),
	regexp.MustCompile(`seLinuxOptions:\s*Invalid value`),
}

// IsAdmissionDenied reports whether an apply error message points at SCC
// admission control rather than an unrelated failure.
func IsAdmissionDenied(message string) bool {
	for _, re := range sccErrorPatterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}
