package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sccpilot/sccpilot/internal/log"
	"github.com/sccpilot/sccpilot/internal/policy"
	"github.com/sccpilot/sccpilot/internal/requirement"
)

const systemPrompt = `You are an OpenShift security expert. You analyze ` +
	`admission and runtime errors from failed deployments and propose the ` +
	`minimal SecurityContextConstraints adjustment that would let the ` +
	`workload run. Always answer with a single JSON object and nothing else.`

const responseContract = `Respond with exactly one JSON object:
{
  "analysis": "<short diagnosis>",
  "root_cause": "<one sentence>",
  "confidence": <0.0-1.0>,
  "adjustments": [
    {"type": "<adjustment type>", "value": "<payload if any>", "readOnly": <bool, host-path only>}
  ]
}
Valid adjustment types: allow-privileged, allow-host-network, allow-host-pid,
allow-host-ipc, run-as-root, capability, host-path-volume, volume-type,
fixed-user-id, fixed-group-id, fixed-fs-group, selinux-context.
Propose only adjustments the error demands. If the error is unrelated to
security context constraints, return confidence 0 and no adjustments.`

// jsonBlock grabs the outermost braced block from a free-form response so
// prose around the JSON does not break parsing.
var jsonBlock = regexp.MustCompile(`(?s)\{.*\}`)

type llmResponse struct {
	Analysis    string          `json:"analysis"`
	RootCause   string          `json:"root_cause"`
	Confidence  float64         `json:"confidence"`
	Adjustments []llmAdjustment `json:"adjustments"`
}

type llmAdjustment struct {
	Type     string `json:"type"`
	Value    string `json:"value,omitempty"`
	ReadOnly bool   `json:"readOnly,omitempty"`
}

// LLMAdvisor asks a completion client to diagnose apply failures.
type LLMAdvisor struct {
	client Client
	logger *log.Logger
}

// NewLLMAdvisor wraps a completion client.
func NewLLMAdvisor(client Client, logger *log.Logger) *LLMAdvisor {
	if logger == nil {
		logger = log.Default()
	}
	return &LLMAdvisor{client: client, logger: logger}
}

// Name implements Advisor.
func (a *LLMAdvisor) Name() string {
	return "llm/" + a.client.Name()
}

// Suggest implements Advisor. Provider failures propagate as errors; an
// answer that cannot be parsed degrades to confidence 0.
func (a *LLMAdvisor) Suggest(ctx context.Context, errorText string, current policy.Configuration) (Suggestion, error) {
	raw, err := a.client.Complete(ctx, buildPrompt(errorText, current))
	if err != nil {
		return Suggestion{}, err
	}

	parsed, ok := parseResponse(raw)
	if !ok {
		a.logger.Warn("advisor response was not parseable, ignoring", "provider", a.client.Name())
		return Suggestion{Analysis: truncate(raw, 200)}, nil
	}

	suggestion := Suggestion{
		Confidence: clamp01(parsed.Confidence),
		Analysis:   parsed.Analysis,
		RootCause:  parsed.RootCause,
	}
	for _, adj := range parsed.Adjustments {
		if r, ok := adjustmentToRequirement(adj); ok {
			suggestion.Delta = append(suggestion.Delta, r)
		}
	}
	if len(suggestion.Delta) == 0 {
		suggestion.Confidence = 0
	}
	return suggestion, nil
}

func buildPrompt(errorText string, current policy.Configuration) string {
	var b strings.Builder
	b.WriteString("A deployment failed with this error:\n\n")
	b.WriteString(errorText)
	b.WriteString("\n\nThe SecurityContextConstraints currently applied:\n")
	fmt.Fprintf(&b, "- allowPrivilegedContainer: %t\n", current.AllowPrivilegedContainer)
	fmt.Fprintf(&b, "- allowHostNetwork: %t, allowHostPID: %t, allowHostIPC: %t\n",
		current.AllowHostNetwork, current.AllowHostPID, current.AllowHostIPC)
	fmt.Fprintf(&b, "- runAsUser: %s", current.RunAsUser.Strategy)
	if current.RunAsUser.HasRange {
		fmt.Fprintf(&b, " [%d-%d]", current.RunAsUser.Min, current.RunAsUser.Max)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- allowedCapabilities: %v\n", current.AllowedCapabilities)
	fmt.Fprintf(&b, "- volumes: %v\n", current.Volumes)
	if len(current.AllowedHostPaths) > 0 {
		fmt.Fprintf(&b, "- allowedHostPaths: %v\n", current.AllowedHostPaths)
	}
	b.WriteString("\n")
	b.WriteString(responseContract)
	return b.String()
}

func parseResponse(raw string) (llmResponse, bool) {
	match := jsonBlock.FindString(raw)
	if match == "" {
		return llmResponse{}, false
	}
	var parsed llmResponse
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return llmResponse{}, false
	}
	return parsed, true
}

func adjustmentToRequirement(adj llmAdjustment) (requirement.Requirement, bool) {
	kind := requirement.Kind(adj.Type)
	r := requirement.Requirement{Kind: kind, Value: adj.Value, Source: "advisor"}

	switch kind {
	case requirement.KindAllowPrivileged,
		requirement.KindAllowHostNetwork,
		requirement.KindAllowHostPID,
		requirement.KindAllowHostIPC:
		r.Value = ""
		r.Tier = requirement.TierCritical
	case requirement.KindRunAsRoot:
		r.Value = ""
		r.Tier = requirement.TierHigh
	case requirement.KindCapability:
		if adj.Value == "" {
			return requirement.Requirement{}, false
		}
		r.Value = strings.ToUpper(adj.Value)
		r.Tier = requirement.TierHigh
	case requirement.KindHostPathVolume:
		if adj.Value == "" {
			return requirement.Requirement{}, false
		}
		r.Tier = requirement.TierHigh
		r.ReadOnly = adj.ReadOnly
	case requirement.KindVolumeType,
		requirement.KindFixedUserID,
		requirement.KindFixedGroupID,
		requirement.KindFixedFSGroup:
		if adj.Value == "" {
			return requirement.Requirement{}, false
		}
		r.Tier = requirement.TierMedium
	case requirement.KindSELinuxContext:
		if r.Value == "" {
			r.Value = "custom"
		}
		r.Tier = requirement.TierMedium
	default:
		return requirement.Requirement{}, false
	}
	return r, true
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
