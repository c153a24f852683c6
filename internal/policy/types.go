package policy

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"
)

// IDStrategy is an SCC identity strategy, ordered from most restrictive to
// most permissive by permissiveness().
type IDStrategy string

const (
	StrategyMustRunAsRange   IDStrategy = "MustRunAsRange"
	StrategyMustRunAs        IDStrategy = "MustRunAs"
	StrategyMustRunAsNonRoot IDStrategy = "MustRunAsNonRoot"
	StrategyRunAsAny         IDStrategy = "RunAsAny"
)

func permissiveness(s IDStrategy) int {
	switch s {
	case StrategyRunAsAny:
		return 4
	case StrategyMustRunAsNonRoot:
		return 3
	case StrategyMustRunAs:
		return 2
	case StrategyMustRunAsRange:
		return 1
	default:
		return 0
	}
}

// IDPolicy is one identity constraint (runAsUser, fsGroup, supplemental
// groups). The range is meaningful only when HasRange is set; strategies
// without an explicit range defer to the namespace allocation.
type IDPolicy struct {
	Strategy IDStrategy `json:"strategy"`
	Min      int64      `json:"min,omitempty"`
	Max      int64      `json:"max,omitempty"`
	HasRange bool       `json:"hasRange,omitempty"`
}

// Covers reports whether id falls inside the policy's effective range.
func (p IDPolicy) Covers(id int64) bool {
	if p.Strategy == StrategyRunAsAny {
		return true
	}
	if p.Strategy == StrategyMustRunAsNonRoot {
		return id != 0
	}
	if !p.HasRange {
		return false
	}
	return id >= p.Min && id <= p.Max
}

// Widen extends the range to include id, keeping the strategy.
func (p *IDPolicy) Widen(id int64) {
	if !p.HasRange {
		p.Min, p.Max, p.HasRange = id, id, true
		return
	}
	if id < p.Min {
		p.Min = id
	}
	if id > p.Max {
		p.Max = id
	}
}

// HostPath is one allowed host-path prefix.
type HostPath struct {
	PathPrefix string `json:"pathPrefix"`
	ReadOnly   bool   `json:"readOnly,omitempty"`
}

// Metadata carries the cluster-owned identity of a live policy object.
// A freshly synthesized Configuration has an empty Metadata apart from the
// intended name; the merger preserves a live object's metadata verbatim.
type Metadata struct {
	Name              string            `json:"name"`
	ResourceVersion   string            `json:"resourceVersion,omitempty"`
	UID               string            `json:"uid,omitempty"`
	CreationTimestamp string            `json:"creationTimestamp,omitempty"`
	Annotations       map[string]string `json:"annotations,omitempty"`
}

// Configuration is the canonical SCC representation the whole agent works
// with. Set-valued fields are kept sorted so comparison and digests are
// deterministic.
type Configuration struct {
	Metadata Metadata `json:"metadata"`

	AllowPrivilegedContainer bool `json:"allowPrivilegedContainer"`
	AllowHostNetwork         bool `json:"allowHostNetwork"`
	AllowHostPID             bool `json:"allowHostPID"`
	AllowHostIPC             bool `json:"allowHostIPC"`
	AllowHostPorts           bool `json:"allowHostPorts"`
	AllowHostDirVolumePlugin bool `json:"allowHostDirVolumePlugin"`
	AllowPrivilegeEscalation bool `json:"allowPrivilegeEscalation"`
	ReadOnlyRootFilesystem   bool `json:"readOnlyRootFilesystem"`

	RunAsUser          IDPolicy `json:"runAsUser"`
	SELinuxContext     IDPolicy `json:"seLinuxContext"`
	FSGroup            IDPolicy `json:"fsGroup"`
	SupplementalGroups IDPolicy `json:"supplementalGroups"`

	AllowedCapabilities      []string `json:"allowedCapabilities,omitempty"`
	DefaultAddCapabilities   []string `json:"defaultAddCapabilities,omitempty"`
	RequiredDropCapabilities []string `json:"requiredDropCapabilities,omitempty"`

	Volumes          []string   `json:"volumes,omitempty"`
	AllowedHostPaths []HostPath `json:"allowedHostPaths,omitempty"`

	Users  []string `json:"users,omitempty"`
	Groups []string `json:"groups,omitempty"`

	Priority int32 `json:"priority,omitempty"`
}

// Clone returns a deep copy. Configurations handed to the cluster gateway
// are value-immutable; every change goes through Clone first.
func (c Configuration) Clone() Configuration {
	out := c
	out.AllowedCapabilities = append([]string(nil), c.AllowedCapabilities...)
	out.DefaultAddCapabilities = append([]string(nil), c.DefaultAddCapabilities...)
	out.RequiredDropCapabilities = append([]string(nil), c.RequiredDropCapabilities...)
	out.Volumes = append([]string(nil), c.Volumes...)
	out.AllowedHostPaths = append([]HostPath(nil), c.AllowedHostPaths...)
	out.Users = append([]string(nil), c.Users...)
	out.Groups = append([]string(nil), c.Groups...)
	if c.Metadata.Annotations != nil {
		out.Metadata.Annotations = make(map[string]string, len(c.Metadata.Annotations))
		for k, v := range c.Metadata.Annotations {
			out.Metadata.Annotations[k] = v
		}
	}
	return out
}

// Normalize sorts every set-valued field in place.
func (c *Configuration) Normalize() {
	sort.Strings(c.AllowedCapabilities)
	sort.Strings(c.DefaultAddCapabilities)
	sort.Strings(c.RequiredDropCapabilities)
	sort.Strings(c.Volumes)
	sort.Strings(c.Users)
	sort.Strings(c.Groups)
	sort.Slice(c.AllowedHostPaths, func(i, j int) bool {
		return c.AllowedHostPaths[i].PathPrefix < c.AllowedHostPaths[j].PathPrefix
	})
}

// PermissionCount is a coarse size of the grant surface, used by the
// existing-policy tie-break (fewer permissions wins a tie).
func (c Configuration) PermissionCount() int {
	count := 0
	for _, b := range []bool{
		c.AllowPrivilegedContainer, c.AllowHostNetwork, c.AllowHostPID,
		c.AllowHostIPC, c.AllowHostPorts, c.AllowHostDirVolumePlugin,
		c.AllowPrivilegeEscalation,
	} {
		if b {
			count++
		}
	}
	count += len(c.AllowedCapabilities)
	count += len(c.Volumes)
	count += len(c.AllowedHostPaths)
	for _, p := range []IDPolicy{c.RunAsUser, c.SELinuxContext, c.FSGroup, c.SupplementalGroups} {
		count += permissiveness(p.Strategy)
	}
	return count
}

// Digest is a stable blake3 hash of the permission surface, recorded in
// change reports so repeated runs can be compared cheaply. Metadata is
// excluded: two policies granting the same permissions digest identically.
func (c Configuration) Digest() string {
	body := c.Clone()
	body.Normalize()
	body.Metadata = Metadata{}
	raw, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(raw)
	return fmt.Sprintf("%x", sum[:8])
}

// HasCapability reports whether cap is in the allowed list.
func (c Configuration) HasCapability(capability string) bool {
	return containsString(c.AllowedCapabilities, capability)
}

// HasVolume reports whether the volume type is allowed, honoring the "*"
// wildcard.
func (c Configuration) HasVolume(volume string) bool {
	return containsString(c.Volumes, "*") || containsString(c.Volumes, volume)
}

// HasHostPath reports whether path is covered by an allowed prefix with a
// compatible mount mode.
func (c Configuration) HasHostPath(path string, readOnly bool) bool {
	for _, hp := range c.AllowedHostPaths {
		if hp.PathPrefix != path {
			continue
		}
		if hp.ReadOnly && !readOnly {
			return false
		}
		return true
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
