package policy

import (
	"strconv"
	"strings"

	"github.com/sccpilot/sccpilot/internal/requirement"
)

// Builtin profiles mirror the SCCs OpenShift ships with, least privileged
// first. SuggestProfile walks them in this order.
var builtinProfiles = []Configuration{
	{
		Metadata:                 Metadata{Name: "restricted"},
		RunAsUser:                IDPolicy{Strategy: StrategyMustRunAsRange},
		SELinuxContext:           IDPolicy{Strategy: StrategyMustRunAs},
		FSGroup:                  IDPolicy{Strategy: StrategyMustRunAs},
		SupplementalGroups:       IDPolicy{Strategy: StrategyRunAsAny},
		RequiredDropCapabilities: []string{"KILL", "MKNOD", "SETGID", "SETUID"},
		Volumes:                  append([]string(nil), baselineVolumes...),
	},
	{
		Metadata:                 Metadata{Name: "nonroot"},
		RunAsUser:                IDPolicy{Strategy: StrategyMustRunAsNonRoot},
		SELinuxContext:           IDPolicy{Strategy: StrategyMustRunAs},
		FSGroup:                  IDPolicy{Strategy: StrategyRunAsAny},
		SupplementalGroups:       IDPolicy{Strategy: StrategyRunAsAny},
		RequiredDropCapabilities: []string{"KILL", "MKNOD", "SETGID", "SETUID"},
		Volumes:                  append([]string(nil), baselineVolumes...),
	},
	{
		Metadata:                 Metadata{Name: "anyuid"},
		RunAsUser:                IDPolicy{Strategy: StrategyRunAsAny},
		SELinuxContext:           IDPolicy{Strategy: StrategyMustRunAs},
		FSGroup:                  IDPolicy{Strategy: StrategyRunAsAny},
		SupplementalGroups:       IDPolicy{Strategy: StrategyRunAsAny},
		RequiredDropCapabilities: []string{"MKNOD"},
		Volumes:                  append([]string(nil), baselineVolumes...),
		Priority:                 10,
	},
	{
		Metadata:           Metadata{Name: "hostnetwork"},
		AllowHostNetwork:   true,
		AllowHostPorts:     true,
		RunAsUser:          IDPolicy{Strategy: StrategyMustRunAsRange},
		SELinuxContext:     IDPolicy{Strategy: StrategyMustRunAs},
		FSGroup:            IDPolicy{Strategy: StrategyMustRunAs},
		SupplementalGroups: IDPolicy{Strategy: StrategyMustRunAs},
		RequiredDropCapabilities: []string{
			"KILL", "MKNOD", "SETGID", "SETUID",
		},
		Volumes: append([]string(nil), baselineVolumes...),
	},
	{
		Metadata:                 Metadata{Name: "hostmount-anyuid"},
		AllowHostDirVolumePlugin: true,
		RunAsUser:                IDPolicy{Strategy: StrategyRunAsAny},
		SELinuxContext:           IDPolicy{Strategy: StrategyMustRunAs},
		FSGroup:                  IDPolicy{Strategy: StrategyRunAsAny},
		SupplementalGroups:       IDPolicy{Strategy: StrategyRunAsAny},
		RequiredDropCapabilities: []string{"MKNOD"},
		Volumes:                  append(append([]string(nil), baselineVolumes...), "hostPath", "nfs"),
		AllowedHostPaths:         []HostPath{{PathPrefix: "/"}},
	},
	{
		Metadata:                 Metadata{Name: "hostaccess"},
		AllowHostNetwork:         true,
		AllowHostPID:             true,
		AllowHostIPC:             true,
		AllowHostPorts:           true,
		AllowHostDirVolumePlugin: true,
		RunAsUser:                IDPolicy{Strategy: StrategyMustRunAsRange},
		SELinuxContext:           IDPolicy{Strategy: StrategyMustRunAs},
		FSGroup:                  IDPolicy{Strategy: StrategyMustRunAs},
		SupplementalGroups:       IDPolicy{Strategy: StrategyRunAsAny},
		RequiredDropCapabilities: []string{"KILL", "MKNOD", "SETGID", "SETUID"},
		Volumes:                  append(append([]string(nil), baselineVolumes...), "hostPath"),
		AllowedHostPaths:         []HostPath{{PathPrefix: "/"}},
	},
	{
		Metadata:                 Metadata{Name: "privileged"},
		AllowPrivilegedContainer: true,
		AllowHostNetwork:         true,
		AllowHostPID:             true,
		AllowHostIPC:             true,
		AllowHostPorts:           true,
		AllowHostDirVolumePlugin: true,
		AllowPrivilegeEscalation: true,
		RunAsUser:                IDPolicy{Strategy: StrategyRunAsAny},
		SELinuxContext:           IDPolicy{Strategy: StrategyRunAsAny},
		FSGroup:                  IDPolicy{Strategy: StrategyRunAsAny},
		SupplementalGroups:       IDPolicy{Strategy: StrategyRunAsAny},
		AllowedCapabilities:      []string{"*"},
		Volumes:                  []string{"*"},
		AllowedHostPaths:         []HostPath{{PathPrefix: "/"}},
	},
}

// Profile returns the builtin profile with the given name.
func Profile(name string) (Configuration, bool) {
	for _, p := range builtinProfiles {
		if p.Metadata.Name == name {
			return p.Clone(), true
		}
	}
	return Configuration{}, false
}

// ProfileNames lists the builtin profiles, least privileged first.
func ProfileNames() []string {
	out := make([]string, len(builtinProfiles))
	for i, p := range builtinProfiles {
		out[i] = p.Metadata.Name
	}
	return out
}

// SuggestProfile returns the least privileged builtin profile that satisfies
// every requirement in the set. The privileged profile satisfies anything,
// so a name is always returned.
func SuggestProfile(reqs *requirement.Set) string {
	for _, p := range builtinProfiles {
		if Satisfies(p, reqs) {
			return p.Metadata.Name
		}
	}
	return "privileged"
}

// Satisfies reports whether cfg grants everything the requirement set asks
// for. Informational requirements never constrain the answer.
func Satisfies(cfg Configuration, reqs *requirement.Set) bool {
	if reqs == nil {
		return true
	}
	for _, r := range reqs.All() {
		if !satisfiesOne(cfg, r) {
			return false
		}
	}
	return true
}

func satisfiesOne(cfg Configuration, r requirement.Requirement) bool {
	switch r.Kind {
	case requirement.KindAllowPrivileged:
		return cfg.AllowPrivilegedContainer
	case requirement.KindAllowHostNetwork:
		return cfg.AllowHostNetwork
	case requirement.KindAllowHostPID:
		return cfg.AllowHostPID
	case requirement.KindAllowHostIPC:
		return cfg.AllowHostIPC
	case requirement.KindRunAsRoot:
		return cfg.RunAsUser.Strategy == StrategyRunAsAny
	case requirement.KindFixedUserID:
		uid, err := strconv.ParseInt(r.Value, 10, 64)
		if err != nil {
			return true
		}
		// MustRunAsRange without an explicit range defers to the namespace
		// allocation, which covers any non-root UID the project assigns.
		if cfg.RunAsUser.Strategy == StrategyMustRunAsRange && !cfg.RunAsUser.HasRange {
			return true
		}
		return cfg.RunAsUser.Covers(uid)
	case requirement.KindFixedGroupID, requirement.KindSupplementalGroups:
		return coversAll(cfg.SupplementalGroups, r.Value)
	case requirement.KindFixedFSGroup:
		if cfg.FSGroup.Strategy == StrategyMustRunAs && !cfg.FSGroup.HasRange {
			return true
		}
		return coversAll(cfg.FSGroup, r.Value)
	case requirement.KindSELinuxContext:
		return cfg.SELinuxContext.Strategy == StrategyRunAsAny
	case requirement.KindCapability:
		return containsString(cfg.AllowedCapabilities, "*") || cfg.HasCapability(r.Value)
	case requirement.KindHostPathVolume:
		if !cfg.AllowHostDirVolumePlugin {
			return false
		}
		for _, hp := range cfg.AllowedHostPaths {
			if strings.HasPrefix(r.Value, hp.PathPrefix) && (!hp.ReadOnly || r.ReadOnly) {
				return true
			}
		}
		return len(cfg.AllowedHostPaths) == 0 && cfg.HasVolume("hostPath")
	case requirement.KindVolumeType:
		return cfg.HasVolume(r.Value)
	case requirement.KindInformational:
		return true
	default:
		return true
	}
}

func coversAll(p IDPolicy, csv string) bool {
	if p.Strategy == StrategyRunAsAny {
		return true
	}
	for _, part := range strings.Split(csv, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		if !p.Covers(id) {
			return false
		}
	}
	return true
}
