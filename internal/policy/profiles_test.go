package policy

import (
	"testing"

	"github.com/sccpilot/sccpilot/internal/requirement"
)

func TestSuggestProfile(t *testing.T) {
	tests := []struct {
		name string
		reqs []requirement.Requirement
		want string
	}{
		{
			name: "nothing special",
			reqs: nil,
			want: "restricted",
		},
		{
			name: "run as root",
			reqs: []requirement.Requirement{
				{Kind: requirement.KindRunAsRoot, Tier: requirement.TierHigh},
			},
			want: "anyuid",
		},
		{
			name: "host network",
			reqs: []requirement.Requirement{
				{Kind: requirement.KindAllowHostNetwork, Tier: requirement.TierCritical},
			},
			want: "hostnetwork",
		},
		{
			name: "host path",
			reqs: []requirement.Requirement{
				{Kind: requirement.KindHostPathVolume, Value: "/var/log", Tier: requirement.TierHigh},
			},
			want: "hostmount-anyuid",
		},
		{
			name: "privileged",
			reqs: []requirement.Requirement{
				{Kind: requirement.KindAllowPrivileged, Tier: requirement.TierCritical},
			},
			want: "privileged",
		},
		{
			name: "host namespaces and paths together",
			reqs: []requirement.Requirement{
				{Kind: requirement.KindAllowHostPID, Tier: requirement.TierCritical},
				{Kind: requirement.KindHostPathVolume, Value: "/proc", Tier: requirement.TierHigh},
			},
			want: "hostaccess",
		},
		{
			name: "custom capability escalates to privileged",
			reqs: []requirement.Requirement{
				{Kind: requirement.KindCapability, Value: "SYS_ADMIN", Tier: requirement.TierHigh},
			},
			want: "privileged",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := requirement.NewSet()
			set.AddAll(tt.reqs)
			if got := SuggestProfile(set); got != tt.want {
				t.Errorf("SuggestProfile() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProfileLookup(t *testing.T) {
	p, ok := Profile("restricted")
	if !ok {
		t.Fatal("restricted profile must exist")
	}
	if p.AllowPrivilegedContainer {
		t.Error("restricted must not allow privileged containers")
	}
	if _, ok := Profile("bogus"); ok {
		t.Error("unknown profiles must not resolve")
	}
	if names := ProfileNames(); names[0] != "restricted" || names[len(names)-1] != "privileged" {
		t.Errorf("profiles must be ordered least privileged first, got %v", names)
	}
}

func TestSatisfiesInformationalAlwaysTrue(t *testing.T) {
	set := requirement.NewSet()
	set.Add(requirement.Requirement{Kind: requirement.KindInformational, Value: "resource-limits", Tier: requirement.TierLow})
	if !Satisfies(Baseline("p"), set) {
		t.Error("informational requirements never constrain a policy")
	}
}
