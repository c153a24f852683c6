package policy

import (
	"fmt"
	"sort"
	"time"
)

// Annotation keys written on every merge that changes effective permissions.
const (
	AnnotationUpdatedBy = "last-updated-by"
	AnnotationUpdatedAt = "last-updated-at"
)

// ChangeReport records what a merge added. Permissions are only ever added;
// an empty report means the candidate was fully subsumed and the caller must
// skip the apply entirely.
type ChangeReport struct {
	Created      bool
	FieldChanges map[string][]string
	Digest       string
}

// Empty reports whether the merge changed nothing. A created policy is never
// empty.
func (r ChangeReport) Empty() bool {
	return !r.Created && len(r.FieldChanges) == 0
}

func (r *ChangeReport) add(field string, changes ...string) {
	if len(changes) == 0 {
		return
	}
	if r.FieldChanges == nil {
		r.FieldChanges = map[string][]string{}
	}
	r.FieldChanges[field] = append(r.FieldChanges[field], changes...)
}

// Fields returns the changed field names in sorted order.
func (r ChangeReport) Fields() []string {
	out := make([]string, 0, len(r.FieldChanges))
	for f := range r.FieldChanges {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Merger computes the monotonic union of an existing policy and a candidate.
// UpdatedBy identifies the agent in audit annotations; Clock is injectable
// for tests and defaults to time.Now.
type Merger struct {
	UpdatedBy string
	Clock     func() time.Time
}

// NewMerger creates a Merger with the given agent identity.
func NewMerger(updatedBy string) *Merger {
	return &Merger{UpdatedBy: updatedBy, Clock: time.Now}
}

// Merge unions candidate into existing. When existing is nil the candidate
// is returned unchanged with Created set. Cluster metadata is preserved
// verbatim from existing; the two audit annotations are overwritten only
// when the merge changed effective permissions.
func (m *Merger) Merge(existing *Configuration, candidate Configuration) (Configuration, ChangeReport) {
	if existing == nil {
		merged := candidate.Clone()
		merged.Normalize()
		return merged, ChangeReport{Created: true, Digest: merged.Digest()}
	}

	merged := existing.Clone()
	report := ChangeReport{}

	mergeBool(&merged.AllowPrivilegedContainer, candidate.AllowPrivilegedContainer, "allowPrivilegedContainer", &report)
	mergeBool(&merged.AllowHostNetwork, candidate.AllowHostNetwork, "allowHostNetwork", &report)
	mergeBool(&merged.AllowHostPID, candidate.AllowHostPID, "allowHostPID", &report)
	mergeBool(&merged.AllowHostIPC, candidate.AllowHostIPC, "allowHostIPC", &report)
	mergeBool(&merged.AllowHostPorts, candidate.AllowHostPorts, "allowHostPorts", &report)
	mergeBool(&merged.AllowHostDirVolumePlugin, candidate.AllowHostDirVolumePlugin, "allowHostDirVolumePlugin", &report)
	mergeBool(&merged.AllowPrivilegeEscalation, candidate.AllowPrivilegeEscalation, "allowPrivilegeEscalation", &report)

	// readOnlyRootFilesystem is a restriction, not a grant: requiring it in
	// either input and not the other relaxes to not-required.
	if merged.ReadOnlyRootFilesystem && !candidate.ReadOnlyRootFilesystem {
		merged.ReadOnlyRootFilesystem = false
		report.add("readOnlyRootFilesystem", "requirement lifted")
	}

	mergeIDPolicy(&merged.RunAsUser, candidate.RunAsUser, "runAsUser", &report)
	mergeIDPolicy(&merged.SELinuxContext, candidate.SELinuxContext, "seLinuxContext", &report)
	mergeIDPolicy(&merged.FSGroup, candidate.FSGroup, "fsGroup", &report)
	mergeIDPolicy(&merged.SupplementalGroups, candidate.SupplementalGroups, "supplementalGroups", &report)

	mergeStringSet(&merged.AllowedCapabilities, candidate.AllowedCapabilities, "allowedCapabilities", &report)
	mergeStringSet(&merged.DefaultAddCapabilities, candidate.DefaultAddCapabilities, "defaultAddCapabilities", &report)
	mergeStringSet(&merged.Volumes, candidate.Volumes, "volumes", &report)
	mergeStringSet(&merged.Users, candidate.Users, "users", &report)
	mergeStringSet(&merged.Groups, candidate.Groups, "groups", &report)

	mergeDropCapabilities(&merged, candidate, &report)
	mergeHostPaths(&merged, candidate, &report)

	merged.Normalize()
	report.Digest = merged.Digest()

	if !report.Empty() {
		m.annotate(&merged)
	}
	return merged, report
}

func (m *Merger) annotate(cfg *Configuration) {
	if cfg.Metadata.Annotations == nil {
		cfg.Metadata.Annotations = map[string]string{}
	}
	clock := m.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg.Metadata.Annotations[AnnotationUpdatedBy] = m.UpdatedBy
	cfg.Metadata.Annotations[AnnotationUpdatedAt] = clock().UTC().Format(time.RFC3339)
}

func mergeBool(dst *bool, candidate bool, field string, report *ChangeReport) {
	if candidate && !*dst {
		*dst = true
		report.add(field, "enabled")
	}
}

func mergeIDPolicy(dst *IDPolicy, candidate IDPolicy, field string, report *ChangeReport) {
	if permissiveness(candidate.Strategy) > permissiveness(dst.Strategy) {
		report.add(field, fmt.Sprintf("strategy %s -> %s", dst.Strategy, candidate.Strategy))
		dst.Strategy = candidate.Strategy
	}
	if dst.Strategy == StrategyRunAsAny || dst.Strategy == StrategyMustRunAsNonRoot {
		// Ranges are meaningless once anything (non-root) is allowed.
		dst.Min, dst.Max, dst.HasRange = 0, 0, false
		return
	}
	if candidate.HasRange {
		if !dst.HasRange {
			dst.Min, dst.Max, dst.HasRange = candidate.Min, candidate.Max, true
			report.add(field, fmt.Sprintf("range [%d,%d]", candidate.Min, candidate.Max))
			return
		}
		if candidate.Min < dst.Min || candidate.Max > dst.Max {
			if candidate.Min < dst.Min {
				dst.Min = candidate.Min
			}
			if candidate.Max > dst.Max {
				dst.Max = candidate.Max
			}
			report.add(field, fmt.Sprintf("range widened to [%d,%d]", dst.Min, dst.Max))
		}
	}
}

func mergeStringSet(dst *[]string, candidate []string, field string, report *ChangeReport) {
	existing := map[string]bool{}
	for _, s := range *dst {
		existing[s] = true
	}
	var added []string
	for _, s := range candidate {
		if !existing[s] {
			added = append(added, s)
		}
	}
	if len(added) > 0 {
		*dst = unionStrings(*dst, candidate)
		sort.Strings(added)
		report.add(field, added...)
	}
}

// mergeDropCapabilities keeps only the drops BOTH inputs still require,
// minus anything the merged policy explicitly allows. Shrinking the drop
// list is the monotone direction: a required drop is a restriction.
func mergeDropCapabilities(merged *Configuration, candidate Configuration, report *ChangeReport) {
	inCandidate := map[string]bool{}
	for _, c := range candidate.RequiredDropCapabilities {
		inCandidate[c] = true
	}
	allowed := map[string]bool{}
	for _, c := range merged.AllowedCapabilities {
		allowed[c] = true
	}

	var kept, lifted []string
	for _, c := range merged.RequiredDropCapabilities {
		if inCandidate[c] && !allowed[c] {
			kept = append(kept, c)
		} else {
			lifted = append(lifted, c)
		}
	}
	if len(lifted) > 0 {
		merged.RequiredDropCapabilities = kept
		sort.Strings(lifted)
		for _, c := range lifted {
			report.add("requiredDropCapabilities", "no longer required to drop "+c)
		}
	}
}

func mergeHostPaths(merged *Configuration, candidate Configuration, report *ChangeReport) {
	for _, hp := range candidate.AllowedHostPaths {
		found := false
		for i := range merged.AllowedHostPaths {
			if merged.AllowedHostPaths[i].PathPrefix != hp.PathPrefix {
				continue
			}
			found = true
			if merged.AllowedHostPaths[i].ReadOnly && !hp.ReadOnly {
				merged.AllowedHostPaths[i].ReadOnly = false
				report.add("allowedHostPaths", hp.PathPrefix+" now writable")
			}
			break
		}
		if !found {
			merged.AllowedHostPaths = append(merged.AllowedHostPaths, hp)
			mode := "rw"
			if hp.ReadOnly {
				mode = "ro"
			}
			report.add("allowedHostPaths", fmt.Sprintf("%s (%s)", hp.PathPrefix, mode))
		}
	}
}
