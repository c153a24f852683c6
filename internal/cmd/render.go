package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sccpilot/sccpilot/internal/converge"
	"github.com/sccpilot/sccpilot/internal/manifest"
	"github.com/sccpilot/sccpilot/internal/policy"
	"github.com/sccpilot/sccpilot/internal/requirement"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).
			MarginTop(1)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("240"))
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	highStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	mediumStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	lowStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func tierStyle(t requirement.Tier) lipgloss.Style {
	switch t {
	case requirement.TierCritical:
		return criticalStyle
	case requirement.TierHigh:
		return highStyle
	case requirement.TierMedium:
		return mediumStyle
	default:
		return lowStyle
	}
}

func renderRequirements(b *strings.Builder, reqs *requirement.Set) {
	b.WriteString(titleStyle.Render("Security requirements") + "\n")
	if reqs.Len() == 0 {
		b.WriteString(dimStyle.Render("  none detected, restricted posture is enough") + "\n")
		return
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-10s %-22s %-24s %s", "TIER", "KIND", "VALUE", "SOURCE")) + "\n")
	for _, r := range reqs.All() {
		value := r.Value
		if value == "" {
			value = "-"
		}
		if r.Kind == requirement.KindHostPathVolume {
			mode := "rw"
			if r.ReadOnly {
				mode = "ro"
			}
			value = fmt.Sprintf("%s (%s)", value, mode)
		}
		line := fmt.Sprintf("  %-10s %-22s %-24s %s",
			tierStyle(r.Tier).Render(strings.ToUpper(r.Tier.String())), r.Kind, value, r.Source)
		b.WriteString(line + "\n")
	}
}

func renderServiceAccounts(b *strings.Builder, accounts []manifest.ServiceAccount) {
	b.WriteString(titleStyle.Render("Service accounts") + "\n")
	if len(accounts) == 0 {
		b.WriteString(dimStyle.Render("  none named, workloads run as default") + "\n")
		return
	}
	for _, sa := range accounts {
		line := fmt.Sprintf("  %s/%s", sa.Namespace, sa.Name)
		if len(sa.Resources) > 0 {
			line += dimStyle.Render("  used by " + strings.Join(sa.Resources, ", "))
		}
		b.WriteString(line + "\n")
	}
}

func renderWarnings(b *strings.Builder, warnings []manifest.Warning) {
	if len(warnings) == 0 {
		return
	}
	b.WriteString(titleStyle.Render("Warnings") + "\n")
	for _, w := range warnings {
		b.WriteString("  " + warnStyle.Render(w.String()) + "\n")
	}
}

func renderPolicyList(b *strings.Builder, policies []policy.Configuration) {
	b.WriteString(titleStyle.Render("Security context constraints") + "\n")
	if len(policies) == 0 {
		b.WriteString(dimStyle.Render("  none found") + "\n")
		return
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-32s %-9s %-11s %-9s %s",
		"NAME", "PRIORITY", "PRIVILEGED", "HOSTNET", "RUNASUSER")) + "\n")
	for _, p := range policies {
		privileged := "no"
		if p.AllowPrivilegedContainer {
			privileged = failStyle.Render("yes")
		}
		hostNet := "no"
		if p.AllowHostNetwork {
			hostNet = warnStyle.Render("yes")
		}
		b.WriteString(fmt.Sprintf("  %-32s %-9d %-11s %-9s %s\n",
			p.Metadata.Name, p.Priority, privileged, hostNet, p.RunAsUser.Strategy))
	}
}

func renderReport(b *strings.Builder, report *converge.Report) {
	b.WriteString(titleStyle.Render("Convergence report") + "\n")
	b.WriteString(fmt.Sprintf("  run:    %s\n", report.RunID))

	state := string(report.State)
	switch report.State {
	case converge.StateSucceeded:
		state = okStyle.Render(state)
	case converge.StateExhausted:
		state = failStyle.Render(state)
	}
	b.WriteString(fmt.Sprintf("  state:  %s\n", state))
	b.WriteString(fmt.Sprintf("  policy: %s", report.FinalPolicy.Metadata.Name))
	if report.Created {
		b.WriteString(dimStyle.Render("  (created)"))
	}
	b.WriteString("\n")

	for _, it := range report.Iterations {
		b.WriteString(headerStyle.Render(fmt.Sprintf("  iteration %d", it.Number)) + "\n")
		if it.Changes.Empty() {
			b.WriteString(dimStyle.Render("    policy already sufficient, apply skipped") + "\n")
		} else {
			for _, field := range it.Changes.Fields() {
				b.WriteString(fmt.Sprintf("    %s: %s\n", field, strings.Join(it.Changes.FieldChanges[field], ", ")))
			}
		}
		if it.ApplyError != "" {
			b.WriteString("    " + failStyle.Render("rejected: ") + it.ApplyError + "\n")
		}
		if it.AdvisorConfidence > 0 {
			verdict := "ignored"
			if it.AdvisorAccepted {
				verdict = "accepted"
			}
			b.WriteString(fmt.Sprintf("    advisor: %.2f confidence, %s\n", it.AdvisorConfidence, verdict))
		}
	}

	if report.LastError != "" && report.State != converge.StateSucceeded {
		b.WriteString("  " + failStyle.Render("last error: ") + report.LastError + "\n")
	}
}
