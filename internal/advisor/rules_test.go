package advisor

import (
	"context"
	"testing"

	"github.com/sccpilot/sccpilot/internal/policy"
	"github.com/sccpilot/sccpilot/internal/requirement"
)

func TestRuleAdvisorKnownPatterns(t *testing.T) {
	tests := []struct {
		name      string
		errorText string
		wantKind  requirement.Kind
		wantValue string
	}{
		{
			name:      "capability denied",
			errorText: `capability "SYS_TIME" may not be used`,
			wantKind:  requirement.KindCapability,
			wantValue: "SYS_TIME",
		},
		{
			name:      "privileged denied",
			errorText: `Privileged containers are not allowed`,
			wantKind:  requirement.KindAllowPrivileged,
		},
		{
			name:      "host network denied",
			errorText: `spec.securityContext.hostNetwork: Invalid value: true: Host network is not allowed to be used`,
			wantKind:  requirement.KindAllowHostNetwork,
		},
		{
			name:      "host path denied",
			errorText: `spec.volumes[0]: Invalid value: "hostPath": hostPath volumes are not allowed to be used`,
			wantKind:  requirement.KindVolumeType,
			wantValue: "hostPath",
		},
		{
			name:      "root uid rejected",
			errorText: `runAsUser: Invalid value: 0: must be in the ranges: [1000690000, 1000699999]`,
			wantKind:  requirement.KindRunAsRoot,
		},
		{
			name:      "fixed uid rejected",
			errorText: `runAsUser: Invalid value: 1001: must be in the ranges: [1000690000, 1000699999]`,
			wantKind:  requirement.KindFixedUserID,
			wantValue: "1001",
		},
	}

	a := NewRuleAdvisor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Suggest(context.Background(), tt.errorText, policy.Baseline("p"))
			if err != nil {
				t.Fatalf("Suggest() error = %v", err)
			}
			if got.Confidence == 0 {
				t.Fatalf("pattern should match with confidence, got %+v", got)
			}
			found := false
			for _, r := range got.Delta {
				if r.Kind == tt.wantKind && r.Value == tt.wantValue {
					found = true
				}
			}
			if !found {
				t.Errorf("delta %+v missing (%s, %q)", got.Delta, tt.wantKind, tt.wantValue)
			}
		})
	}
}

func TestRuleAdvisorUnknownErrorIsConfidenceZero(t *testing.T) {
	a := NewRuleAdvisor()
	got, err := a.Suggest(context.Background(), "dial tcp: connection refused", policy.Baseline("p"))
	if err != nil {
		t.Fatalf("Suggest() must not error on opaque input, got %v", err)
	}
	if got.Confidence != 0 || len(got.Delta) != 0 {
		t.Errorf("unknown errors must yield an empty zero-confidence suggestion, got %+v", got)
	}
}
