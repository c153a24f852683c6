package policy

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/sccpilot/sccpilot/internal/errors"
)

// GroupVersion and Kind of the OpenShift SCC resource.
const (
	APIVersion = "security.openshift.io/v1"
	Kind       = "SecurityContextConstraints"
)

// ToUnstructured renders the configuration as the SCC wire object.
func ToUnstructured(cfg Configuration) *unstructured.Unstructured {
	obj := map[string]interface{}{
		"apiVersion":               APIVersion,
		"kind":                     Kind,
		"metadata":                 metadataToMap(cfg.Metadata),
		"allowPrivilegedContainer": cfg.AllowPrivilegedContainer,
		"allowHostNetwork":         cfg.AllowHostNetwork,
		"allowHostPID":             cfg.AllowHostPID,
		"allowHostIPC":             cfg.AllowHostIPC,
		"allowHostPorts":           cfg.AllowHostPorts,
		"allowHostDirVolumePlugin": cfg.AllowHostDirVolumePlugin,
		"allowPrivilegeEscalation": cfg.AllowPrivilegeEscalation,
		"readOnlyRootFilesystem":   cfg.ReadOnlyRootFilesystem,
		"runAsUser":                runAsUserToMap(cfg.RunAsUser),
		"seLinuxContext":           map[string]interface{}{"type": string(cfg.SELinuxContext.Strategy)},
		"fsGroup":                  rangedPolicyToMap(cfg.FSGroup),
		"supplementalGroups":       rangedPolicyToMap(cfg.SupplementalGroups),
		"volumes":                  toInterfaceSlice(cfg.Volumes),
	}

	if len(cfg.AllowedCapabilities) > 0 {
		obj["allowedCapabilities"] = toInterfaceSlice(cfg.AllowedCapabilities)
	}
	if len(cfg.DefaultAddCapabilities) > 0 {
		obj["defaultAddCapabilities"] = toInterfaceSlice(cfg.DefaultAddCapabilities)
	}
	if len(cfg.RequiredDropCapabilities) > 0 {
		obj["requiredDropCapabilities"] = toInterfaceSlice(cfg.RequiredDropCapabilities)
	}
	if len(cfg.AllowedHostPaths) > 0 {
		paths := make([]interface{}, 0, len(cfg.AllowedHostPaths))
		for _, hp := range cfg.AllowedHostPaths {
			entry := map[string]interface{}{"pathPrefix": hp.PathPrefix}
			if hp.ReadOnly {
				entry["readOnly"] = true
			}
			paths = append(paths, entry)
		}
		obj["allowedHostPaths"] = paths
	}
	if len(cfg.Users) > 0 {
		obj["users"] = toInterfaceSlice(cfg.Users)
	}
	if len(cfg.Groups) > 0 {
		obj["groups"] = toInterfaceSlice(cfg.Groups)
	}
	if cfg.Priority != 0 {
		obj["priority"] = int64(cfg.Priority)
	}

	return &unstructured.Unstructured{Object: obj}
}

// FromUnstructured parses a live SCC object into the canonical form.
func FromUnstructured(obj *unstructured.Unstructured) (Configuration, error) {
	if obj == nil {
		return Configuration{}, errors.New(errors.ErrCodePolicyConvert, "nil policy object")
	}
	if obj.GetKind() != Kind {
		return Configuration{}, errors.New(errors.ErrCodePolicyConvert,
			"object is not a SecurityContextConstraints: "+obj.GetKind())
	}

	cfg := Configuration{
		Metadata: Metadata{
			Name:            obj.GetName(),
			ResourceVersion: obj.GetResourceVersion(),
			UID:             string(obj.GetUID()),
			Annotations:     obj.GetAnnotations(),
		},
	}
	if ts := obj.GetCreationTimestamp(); !ts.IsZero() {
		cfg.Metadata.CreationTimestamp = ts.UTC().Format("2006-01-02T15:04:05Z")
	}

	cfg.AllowPrivilegedContainer = nestedBool(obj, "allowPrivilegedContainer")
	cfg.AllowHostNetwork = nestedBool(obj, "allowHostNetwork")
	cfg.AllowHostPID = nestedBool(obj, "allowHostPID")
	cfg.AllowHostIPC = nestedBool(obj, "allowHostIPC")
	cfg.AllowHostPorts = nestedBool(obj, "allowHostPorts")
	cfg.AllowHostDirVolumePlugin = nestedBool(obj, "allowHostDirVolumePlugin")
	cfg.AllowPrivilegeEscalation = nestedBool(obj, "allowPrivilegeEscalation")
	cfg.ReadOnlyRootFilesystem = nestedBool(obj, "readOnlyRootFilesystem")

	cfg.RunAsUser = runAsUserFromMap(nestedMap(obj, "runAsUser"))
	cfg.SELinuxContext = IDPolicy{Strategy: IDStrategy(nestedString(obj, "seLinuxContext", "type"))}
	cfg.FSGroup = rangedPolicyFromMap(nestedMap(obj, "fsGroup"))
	cfg.SupplementalGroups = rangedPolicyFromMap(nestedMap(obj, "supplementalGroups"))

	cfg.AllowedCapabilities = nestedStringSlice(obj, "allowedCapabilities")
	cfg.DefaultAddCapabilities = nestedStringSlice(obj, "defaultAddCapabilities")
	cfg.RequiredDropCapabilities = nestedStringSlice(obj, "requiredDropCapabilities")
	cfg.Volumes = nestedStringSlice(obj, "volumes")
	cfg.Users = nestedStringSlice(obj, "users")
	cfg.Groups = nestedStringSlice(obj, "groups")

	if paths, found, _ := unstructured.NestedSlice(obj.Object, "allowedHostPaths"); found {
		for _, raw := range paths {
			entry, _ := raw.(map[string]interface{})
			if entry == nil {
				continue
			}
			hp := HostPath{}
			hp.PathPrefix, _ = entry["pathPrefix"].(string)
			hp.ReadOnly, _ = entry["readOnly"].(bool)
			cfg.AllowedHostPaths = append(cfg.AllowedHostPaths, hp)
		}
	}

	if pri, found, _ := unstructured.NestedInt64(obj.Object, "priority"); found {
		cfg.Priority = int32(pri)
	}

	cfg.Normalize()
	return cfg, nil
}

func metadataToMap(m Metadata) map[string]interface{} {
	meta := map[string]interface{}{"name": m.Name}
	if m.ResourceVersion != "" {
		meta["resourceVersion"] = m.ResourceVersion
	}
	if m.UID != "" {
		meta["uid"] = m.UID
	}
	if m.CreationTimestamp != "" {
		meta["creationTimestamp"] = m.CreationTimestamp
	}
	if len(m.Annotations) > 0 {
		ann := map[string]interface{}{}
		for k, v := range m.Annotations {
			ann[k] = v
		}
		meta["annotations"] = ann
	}
	return meta
}

func runAsUserToMap(p IDPolicy) map[string]interface{} {
	out := map[string]interface{}{"type": string(p.Strategy)}
	if p.HasRange {
		out["uidRangeMin"] = p.Min
		out["uidRangeMax"] = p.Max
	}
	return out
}

func runAsUserFromMap(m map[string]interface{}) IDPolicy {
	p := IDPolicy{}
	if m == nil {
		return p
	}
	s, _ := m["type"].(string)
	p.Strategy = IDStrategy(s)
	min, okMin := asWireInt(m["uidRangeMin"])
	max, okMax := asWireInt(m["uidRangeMax"])
	if okMin && okMax {
		p.Min, p.Max, p.HasRange = min, max, true
	}
	return p
}

func rangedPolicyToMap(p IDPolicy) map[string]interface{} {
	out := map[string]interface{}{"type": string(p.Strategy)}
	if p.HasRange {
		out["ranges"] = []interface{}{
			map[string]interface{}{"min": p.Min, "max": p.Max},
		}
	}
	return out
}

func rangedPolicyFromMap(m map[string]interface{}) IDPolicy {
	p := IDPolicy{}
	if m == nil {
		return p
	}
	s, _ := m["type"].(string)
	p.Strategy = IDStrategy(s)
	ranges, _ := m["ranges"].([]interface{})
	for _, raw := range ranges {
		entry, _ := raw.(map[string]interface{})
		if entry == nil {
			continue
		}
		min, okMin := asWireInt(entry["min"])
		max, okMax := asWireInt(entry["max"])
		if !okMin || !okMax {
			continue
		}
		if !p.HasRange {
			p.Min, p.Max, p.HasRange = min, max, true
			continue
		}
		if min < p.Min {
			p.Min = min
		}
		if max > p.Max {
			p.Max = max
		}
	}
	return p
}

func nestedBool(obj *unstructured.Unstructured, fields ...string) bool {
	v, _, _ := unstructured.NestedBool(obj.Object, fields...)
	return v
}

func nestedString(obj *unstructured.Unstructured, fields ...string) string {
	v, _, _ := unstructured.NestedString(obj.Object, fields...)
	return v
}

func nestedStringSlice(obj *unstructured.Unstructured, fields ...string) []string {
	v, _, _ := unstructured.NestedStringSlice(obj.Object, fields...)
	return v
}

func nestedMap(obj *unstructured.Unstructured, fields ...string) map[string]interface{} {
	v, _, _ := unstructured.NestedMap(obj.Object, fields...)
	return v
}

func asWireInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func toInterfaceSlice(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
