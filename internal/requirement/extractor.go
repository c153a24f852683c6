package requirement

import (
	"fmt"
	"strings"

	"github.com/sccpilot/sccpilot/internal/manifest"
)

// standardVolumes have no SCC effect beyond the volumes whitelist.
var standardVolumes = map[string]bool{
	"configMap":             true,
	"secret":                true,
	"emptyDir":              true,
	"downwardAPI":           true,
	"projected":             true,
	"persistentVolumeClaim": true,
	"ephemeral":             true,
}

// Extract walks the pod-bearing documents and classifies every recognized
// security-sensitive field into a tiered requirement. Documents without a pod
// spec contribute nothing and are reported as warnings. Unknown fields are
// ignored.
func Extract(docs []manifest.Document) (*Set, []manifest.Warning) {
	set := NewSet()
	var warnings []manifest.Warning

	for _, doc := range docs {
		if !manifest.IsWorkloadKind(doc.Kind) {
			continue
		}
		spec := manifest.PodSpec(doc)
		if spec == nil {
			warnings = append(warnings, manifest.Warning{
				Path:    doc.Locator(),
				Message: "workload carries no pod spec, no requirements extracted",
			})
			continue
		}
		extractPodSpec(set, spec, doc.Locator())
	}

	return set, warnings
}

func extractPodSpec(set *Set, spec map[string]interface{}, source string) {
	for _, field := range []struct {
		name string
		kind Kind
	}{
		{"hostNetwork", KindAllowHostNetwork},
		{"hostPID", KindAllowHostPID},
		{"hostIPC", KindAllowHostIPC},
	} {
		if b, _ := spec[field.name].(bool); b {
			set.Add(Requirement{Kind: field.kind, Tier: TierCritical, Source: source})
		}
	}

	if sc, _ := spec["securityContext"].(map[string]interface{}); sc != nil {
		extractPodSecurityContext(set, sc, source)
	}

	mounts := collectMounts(spec)
	for _, c := range containersOf(spec) {
		extractContainer(set, c, source)
	}
	extractVolumes(set, spec, mounts, source)
}

func extractPodSecurityContext(set *Set, sc map[string]interface{}, source string) {
	if uid, ok := asInt64(sc["runAsUser"]); ok {
		addRunAsUser(set, uid, source)
	}
	if gid, ok := asInt64(sc["runAsGroup"]); ok {
		set.Add(Requirement{Kind: KindFixedGroupID, Value: fmt.Sprintf("%d", gid), Tier: TierMedium, Source: source})
	}
	if fs, ok := asInt64(sc["fsGroup"]); ok {
		set.Add(Requirement{Kind: KindFixedFSGroup, Value: fmt.Sprintf("%d", fs), Tier: TierMedium, Source: source})
	}
	if se, _ := sc["seLinuxOptions"].(map[string]interface{}); se != nil {
		set.Add(Requirement{Kind: KindSELinuxContext, Value: seLinuxValue(se), Tier: TierMedium, Source: source})
	}
	if groups, _ := sc["supplementalGroups"].([]interface{}); len(groups) > 0 {
		set.Add(Requirement{Kind: KindSupplementalGroups, Value: joinInts(groups), Tier: TierMedium, Source: source})
	}
}

func extractContainer(set *Set, c map[string]interface{}, source string) {
	name, _ := c["name"].(string)
	loc := source
	if name != "" {
		loc = source + "/" + name
	}

	if res, _ := c["resources"].(map[string]interface{}); res != nil {
		if limits, _ := res["limits"].(map[string]interface{}); len(limits) > 0 {
			set.Add(Requirement{Kind: KindInformational, Value: "resource-limits", Tier: TierLow, Source: loc})
		}
	}

	sc, _ := c["securityContext"].(map[string]interface{})
	if sc == nil {
		return
	}

	if priv, _ := sc["privileged"].(bool); priv {
		set.Add(Requirement{Kind: KindAllowPrivileged, Tier: TierCritical, Source: loc})
	}
	if uid, ok := asInt64(sc["runAsUser"]); ok {
		addRunAsUser(set, uid, loc)
	}
	if gid, ok := asInt64(sc["runAsGroup"]); ok {
		set.Add(Requirement{Kind: KindFixedGroupID, Value: fmt.Sprintf("%d", gid), Tier: TierMedium, Source: loc})
	}
	if se, _ := sc["seLinuxOptions"].(map[string]interface{}); se != nil {
		set.Add(Requirement{Kind: KindSELinuxContext, Value: seLinuxValue(se), Tier: TierMedium, Source: loc})
	}
	if caps, _ := sc["capabilities"].(map[string]interface{}); caps != nil {
		if add, _ := caps["add"].([]interface{}); add != nil {
			for _, capName := range add {
				s, _ := capName.(string)
				if s == "" {
					continue
				}
				set.Add(Requirement{Kind: KindCapability, Value: strings.ToUpper(s), Tier: TierHigh, Source: loc})
			}
		}
	}
}

func extractVolumes(set *Set, spec map[string]interface{}, mounts map[string][]bool, source string) {
	volumes, _ := spec["volumes"].([]interface{})
	for _, v := range volumes {
		vol, _ := v.(map[string]interface{})
		if vol == nil {
			continue
		}
		volName, _ := vol["name"].(string)

		for key, raw := range vol {
			if key == "name" {
				continue
			}
			typed, _ := raw.(map[string]interface{})
			if typed == nil && raw != nil {
				// emptyDir: {} decodes to an empty map, but some volume
				// sources can be scalars; only maps identify a source type.
				continue
			}

			if key == "hostPath" {
				path, _ := typed["path"].(string)
				if path == "" {
					path = "/"
				}
				set.Add(Requirement{
					Kind:     KindHostPathVolume,
					Value:    path,
					Tier:     TierHigh,
					ReadOnly: allMountsReadOnly(mounts[volName]),
					Source:   source,
				})
			}

			tier := TierMedium
			if standardVolumes[key] {
				tier = TierLow
			}
			set.Add(Requirement{Kind: KindVolumeType, Value: key, Tier: tier, Source: source})
		}
	}
}

func addRunAsUser(set *Set, uid int64, source string) {
	if uid == 0 {
		set.Add(Requirement{Kind: KindRunAsRoot, Tier: TierHigh, Source: source})
		return
	}
	set.Add(Requirement{Kind: KindFixedUserID, Value: fmt.Sprintf("%d", uid), Tier: TierMedium, Source: source})
}

// collectMounts maps volume name to the readOnly flag of every mount of it
// across all containers.
func collectMounts(spec map[string]interface{}) map[string][]bool {
	out := map[string][]bool{}
	for _, c := range containersOf(spec) {
		vms, _ := c["volumeMounts"].([]interface{})
		for _, m := range vms {
			mount, _ := m.(map[string]interface{})
			if mount == nil {
				continue
			}
			name, _ := mount["name"].(string)
			if name == "" {
				continue
			}
			ro, _ := mount["readOnly"].(bool)
			out[name] = append(out[name], ro)
		}
	}
	return out
}

// allMountsReadOnly reports whether the volume is only ever mounted
// read-only. An unmounted volume is treated as read-write.
func allMountsReadOnly(flags []bool) bool {
	if len(flags) == 0 {
		return false
	}
	for _, ro := range flags {
		if !ro {
			return false
		}
	}
	return true
}

func containersOf(spec map[string]interface{}) []map[string]interface{} {
	var out []map[string]interface{}
	for _, key := range []string{"containers", "initContainers", "ephemeralContainers"} {
		list, _ := spec[key].([]interface{})
		for _, item := range list {
			if c, _ := item.(map[string]interface{}); c != nil {
				out = append(out, c)
			}
		}
	}
	return out
}

func seLinuxValue(se map[string]interface{}) string {
	parts := make([]string, 0, 4)
	for _, key := range []string{"user", "role", "type", "level"} {
		if v, _ := se[key].(string); v != "" {
			parts = append(parts, key+"="+v)
		}
	}
	if len(parts) == 0 {
		return "custom"
	}
	return strings.Join(parts, ",")
}

func joinInts(vals []interface{}) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		if n, ok := asInt64(v); ok {
			parts = append(parts, fmt.Sprintf("%d", n))
		}
	}
	return strings.Join(parts, ",")
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
