package requirement

import "sort"

// Tier classifies the risk of granting a requirement. Higher tiers force
// a more permissive posture at synthesis time.
type Tier int

const (
	TierLow Tier = iota + 1
	TierMedium
	TierHigh
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	default:
		return "unknown"
	}
}

// Kind identifies what a requirement asks for. The value field carries the
// kind-specific payload (capability name, UID, host path, volume type).
type Kind string

const (
	KindAllowPrivileged    Kind = "allow-privileged"
	KindAllowHostNetwork   Kind = "allow-host-network"
	KindAllowHostPID       Kind = "allow-host-pid"
	KindAllowHostIPC       Kind = "allow-host-ipc"
	KindRunAsRoot          Kind = "run-as-root"
	KindHostPathVolume     Kind = "host-path-volume"
	KindCapability         Kind = "capability"
	KindFixedUserID        Kind = "fixed-user-id"
	KindFixedGroupID       Kind = "fixed-group-id"
	KindFixedFSGroup       Kind = "fixed-fs-group"
	KindSELinuxContext     Kind = "selinux-context"
	KindSupplementalGroups Kind = "supplemental-groups"
	KindVolumeType         Kind = "volume-type"
	KindInformational      Kind = "informational"
)

// Requirement is one detected security need.
type Requirement struct {
	Kind  Kind
	Value string
	Tier  Tier
	// ReadOnly applies to host-path requirements only. It is true when every
	// mount of the volume is read-only.
	ReadOnly bool
	Source   string
}

type setKey struct {
	kind  Kind
	value string
}

// Set deduplicates requirements by (kind, value). The tier kept for a pair is
// the maximum seen across all sources; a read-write host path wins over a
// read-only one for the same path.
type Set struct {
	items map[setKey]Requirement
}

// NewSet creates an empty requirement set.
func NewSet() *Set {
	return &Set{items: map[setKey]Requirement{}}
}

// Add inserts a requirement, merging it with any existing entry for the same
// (kind, value).
func (s *Set) Add(r Requirement) {
	key := setKey{r.Kind, r.Value}
	existing, ok := s.items[key]
	if !ok {
		s.items[key] = r
		return
	}
	if r.Tier > existing.Tier {
		existing.Tier = r.Tier
		existing.Source = r.Source
	}
	if !r.ReadOnly {
		existing.ReadOnly = false
	}
	s.items[key] = existing
}

// AddAll inserts every requirement in rs.
func (s *Set) AddAll(rs []Requirement) {
	for _, r := range rs {
		s.Add(r)
	}
}

// Merge folds another set into this one.
func (s *Set) Merge(other *Set) {
	if other == nil {
		return
	}
	for _, r := range other.items {
		s.Add(r)
	}
}

// Len returns the number of distinct requirements.
func (s *Set) Len() int {
	return len(s.items)
}

// Contains reports whether a (kind, value) pair is present.
func (s *Set) Contains(kind Kind, value string) bool {
	_, ok := s.items[setKey{kind, value}]
	return ok
}

// Get returns the requirement stored for a (kind, value) pair.
func (s *Set) Get(kind Kind, value string) (Requirement, bool) {
	r, ok := s.items[setKey{kind, value}]
	return r, ok
}

// All returns the requirements ordered by tier (highest first), then kind,
// then value, so reports and synthesis are deterministic.
func (s *Set) All() []Requirement {
	out := make([]Requirement, 0, len(s.items))
	for _, r := range s.items {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier > out[j].Tier
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// ByKind returns the requirements of one kind, in All() order.
func (s *Set) ByKind(kind Kind) []Requirement {
	var out []Requirement
	for _, r := range s.All() {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// HighestTier returns the maximum tier present, or TierLow for an empty set.
func (s *Set) HighestTier() Tier {
	max := TierLow
	for _, r := range s.items {
		if r.Tier > max {
			max = r.Tier
		}
	}
	return max
}
