package advisor

import (
	"context"
	"regexp"
	"strings"

	"github.com/sccpilot/sccpilot/internal/policy"
	"github.com/sccpilot/sccpilot/internal/requirement"
)

// RuleAdvisor diagnoses the common SCC admission errors with fixed patterns.
// It needs no network and serves as the fallback when no LLM provider is
// configured. Pattern hits are high confidence; everything else is 0.
type RuleAdvisor struct{}

// NewRuleAdvisor creates a RuleAdvisor.
func NewRuleAdvisor() *RuleAdvisor {
	return &RuleAdvisor{}
}

// Name implements Advisor.
func (a *RuleAdvisor) Name() string { return "rules" }

var (
	capabilityDenied = regexp.MustCompile(`capabilit(?:y|ies)[^"]*?"?([A-Z_]{3,})"?.*?(?:may not be used|not allowed)`)
	addCapability    = regexp.MustCompile(`adding capability "?([A-Z_]{3,})"?`)
	privilegedDenied = regexp.MustCompile(`(?i)privileged (?:container|mode).*(?:not allowed|forbidden)|Privileged containers are not allowed`)
	hostNetDenied    = regexp.MustCompile(`(?i)hostNetwork.*(?:not allowed|forbidden)`)
	hostPIDDenied    = regexp.MustCompile(`(?i)hostPID.*(?:not allowed|forbidden)`)
	hostIPCDenied    = regexp.MustCompile(`(?i)hostIPC.*(?:not allowed|forbidden)`)
	hostPathDenied   = regexp.MustCompile(`(?i)hostPath volumes are not allowed|hostPath.*forbidden`)
	runAsUserDenied  = regexp.MustCompile(`runAsUser:\s*Invalid value:\s*(\d+)`)
	volumeDenied     = regexp.MustCompile(`(?i)volume(?:s)? of type "?(\w+)"? (?:is|are) not allowed`)
)

// Suggest implements Advisor.
func (a *RuleAdvisor) Suggest(_ context.Context, errorText string, _ policy.Configuration) (Suggestion, error) {
	var delta []requirement.Requirement
	var causes []string

	if m := capabilityDenied.FindStringSubmatch(errorText); m != nil {
		delta = append(delta, requirement.Requirement{
			Kind: requirement.KindCapability, Value: m[1], Tier: requirement.TierHigh, Source: "advisor",
		})
		causes = append(causes, "capability "+m[1]+" denied")
	} else if m := addCapability.FindStringSubmatch(errorText); m != nil {
		delta = append(delta, requirement.Requirement{
			Kind: requirement.KindCapability, Value: m[1], Tier: requirement.TierHigh, Source: "advisor",
		})
		causes = append(causes, "capability "+m[1]+" denied")
	}

	if privilegedDenied.MatchString(errorText) {
		delta = append(delta, requirement.Requirement{
			Kind: requirement.KindAllowPrivileged, Tier: requirement.TierCritical, Source: "advisor",
		})
		causes = append(causes, "privileged mode denied")
	}
	if hostNetDenied.MatchString(errorText) {
		delta = append(delta, requirement.Requirement{
			Kind: requirement.KindAllowHostNetwork, Tier: requirement.TierCritical, Source: "advisor",
		})
		causes = append(causes, "hostNetwork denied")
	}
	if hostPIDDenied.MatchString(errorText) {
		delta = append(delta, requirement.Requirement{
			Kind: requirement.KindAllowHostPID, Tier: requirement.TierCritical, Source: "advisor",
		})
		causes = append(causes, "hostPID denied")
	}
	if hostIPCDenied.MatchString(errorText) {
		delta = append(delta, requirement.Requirement{
			Kind: requirement.KindAllowHostIPC, Tier: requirement.TierCritical, Source: "advisor",
		})
		causes = append(causes, "hostIPC denied")
	}
	if hostPathDenied.MatchString(errorText) {
		delta = append(delta, requirement.Requirement{
			Kind: requirement.KindVolumeType, Value: "hostPath", Tier: requirement.TierMedium, Source: "advisor",
		})
		causes = append(causes, "hostPath volumes denied")
	}
	if m := runAsUserDenied.FindStringSubmatch(errorText); m != nil {
		if m[1] == "0" {
			delta = append(delta, requirement.Requirement{
				Kind: requirement.KindRunAsRoot, Tier: requirement.TierHigh, Source: "advisor",
			})
		} else {
			delta = append(delta, requirement.Requirement{
				Kind: requirement.KindFixedUserID, Value: m[1], Tier: requirement.TierMedium, Source: "advisor",
			})
		}
		causes = append(causes, "runAsUser "+m[1]+" outside the allowed range")
	}
	if m := volumeDenied.FindStringSubmatch(errorText); m != nil {
		delta = append(delta, requirement.Requirement{
			Kind: requirement.KindVolumeType, Value: m[1], Tier: requirement.TierMedium, Source: "advisor",
		})
		causes = append(causes, "volume type "+m[1]+" denied")
	}

	if len(delta) == 0 {
		return Suggestion{Analysis: "no known SCC failure pattern matched"}, nil
	}
	return Suggestion{
		Delta:      delta,
		Confidence: 0.8,
		Analysis:   "matched known SCC admission patterns",
		RootCause:  strings.Join(causes, "; "),
	}, nil
}
