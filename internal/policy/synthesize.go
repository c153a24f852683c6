package policy

import (
	"strconv"
	"strings"

	"github.com/sccpilot/sccpilot/internal/requirement"
)

// baselineVolumes are the volume types every policy permits. They map to the
// restricted SCC's whitelist and carry no extra privilege.
var baselineVolumes = []string{
	"configMap", "downwardAPI", "emptyDir", "persistentVolumeClaim",
	"projected", "secret",
}

// baselineDropCapabilities is the restricted posture's mandatory drop list.
var baselineDropCapabilities = []string{"KILL", "MKNOD", "SETGID", "SETUID"}

// Baseline returns the most restrictive starting configuration: every
// boolean denied, namespace-allocated identities, standard volumes only.
func Baseline(name string) Configuration {
	return Configuration{
		Metadata:                 Metadata{Name: name},
		RunAsUser:                IDPolicy{Strategy: StrategyMustRunAsRange},
		SELinuxContext:           IDPolicy{Strategy: StrategyMustRunAs},
		FSGroup:                  IDPolicy{Strategy: StrategyMustRunAs},
		SupplementalGroups:       IDPolicy{Strategy: StrategyRunAsAny},
		RequiredDropCapabilities: append([]string(nil), baselineDropCapabilities...),
		Volumes:                  append([]string(nil), baselineVolumes...),
	}
}

// Synthesize builds the least-privilege configuration that satisfies every
// requirement in the set, starting from Baseline. The result carries no
// cluster metadata beyond the intended name.
func Synthesize(reqs *requirement.Set, name string) Configuration {
	cfg := Baseline(name)
	if reqs == nil {
		return cfg
	}

	for _, r := range reqs.All() {
		applyRequirement(&cfg, r)
	}

	cfg.Normalize()
	return cfg
}

func applyRequirement(cfg *Configuration, r requirement.Requirement) {
	switch r.Kind {
	case requirement.KindAllowPrivileged:
		cfg.AllowPrivilegedContainer = true
		cfg.AllowPrivilegeEscalation = true

	case requirement.KindAllowHostNetwork:
		cfg.AllowHostNetwork = true
		cfg.AllowHostPorts = true

	case requirement.KindAllowHostPID:
		cfg.AllowHostPID = true

	case requirement.KindAllowHostIPC:
		cfg.AllowHostIPC = true

	case requirement.KindRunAsRoot:
		cfg.RunAsUser = IDPolicy{Strategy: StrategyRunAsAny}

	case requirement.KindFixedUserID:
		if uid, err := strconv.ParseInt(r.Value, 10, 64); err == nil {
			if !cfg.RunAsUser.Covers(uid) {
				if cfg.RunAsUser.Strategy == StrategyMustRunAsRange {
					cfg.RunAsUser.Widen(uid)
				}
			}
		}

	case requirement.KindFixedGroupID:
		if gid, err := strconv.ParseInt(r.Value, 10, 64); err == nil {
			if !cfg.SupplementalGroups.Covers(gid) {
				cfg.SupplementalGroups.Strategy = StrategyMustRunAs
				cfg.SupplementalGroups.Widen(gid)
			}
		}

	case requirement.KindFixedFSGroup:
		if fs, err := strconv.ParseInt(r.Value, 10, 64); err == nil {
			if !cfg.FSGroup.Covers(fs) {
				cfg.FSGroup.Widen(fs)
			}
		}

	case requirement.KindSELinuxContext:
		cfg.SELinuxContext = IDPolicy{Strategy: StrategyRunAsAny}

	case requirement.KindSupplementalGroups:
		for _, part := range strings.Split(r.Value, ",") {
			if gid, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
				if !cfg.SupplementalGroups.Covers(gid) {
					cfg.SupplementalGroups.Strategy = StrategyMustRunAs
					cfg.SupplementalGroups.Widen(gid)
				}
			}
		}

	case requirement.KindCapability:
		if !cfg.HasCapability(r.Value) {
			cfg.AllowedCapabilities = append(cfg.AllowedCapabilities, r.Value)
		}
		// An allowed capability cannot simultaneously be a required drop.
		cfg.RequiredDropCapabilities = removeString(cfg.RequiredDropCapabilities, r.Value)

	case requirement.KindHostPathVolume:
		cfg.AllowHostDirVolumePlugin = true
		if !cfg.HasVolume("hostPath") {
			cfg.Volumes = append(cfg.Volumes, "hostPath")
		}
		addHostPath(cfg, HostPath{PathPrefix: r.Value, ReadOnly: r.ReadOnly})

	case requirement.KindVolumeType:
		if !cfg.HasVolume(r.Value) {
			cfg.Volumes = append(cfg.Volumes, r.Value)
		}
		if r.Value == "hostPath" {
			cfg.AllowHostDirVolumePlugin = true
		}

	case requirement.KindInformational:
		// No SCC effect.
	}
}

func addHostPath(cfg *Configuration, hp HostPath) {
	for i := range cfg.AllowedHostPaths {
		if cfg.AllowedHostPaths[i].PathPrefix == hp.PathPrefix {
			if !hp.ReadOnly {
				cfg.AllowedHostPaths[i].ReadOnly = false
			}
			return
		}
	}
	cfg.AllowedHostPaths = append(cfg.AllowedHostPaths, hp)
}

// Optimize tightens a freshly synthesized configuration against the
// requirement set that produced it: capabilities, host paths, and volume
// types with no backing requirement are removed, and booleans with no
// critical requirement are reset. It must never run on a merged or live
// policy; revoking a live grant would break merge monotonicity.
func Optimize(cfg Configuration, reqs *requirement.Set) Configuration {
	out := cfg.Clone()
	if reqs == nil {
		return out
	}

	kept := out.AllowedCapabilities[:0]
	for _, capability := range out.AllowedCapabilities {
		if reqs.Contains(requirement.KindCapability, capability) {
			kept = append(kept, capability)
		}
	}
	out.AllowedCapabilities = kept

	keptPaths := out.AllowedHostPaths[:0]
	for _, hp := range out.AllowedHostPaths {
		if reqs.Contains(requirement.KindHostPathVolume, hp.PathPrefix) {
			keptPaths = append(keptPaths, hp)
		}
	}
	out.AllowedHostPaths = keptPaths

	keptVolumes := out.Volumes[:0]
	for _, v := range out.Volumes {
		if containsString(baselineVolumes, v) ||
			reqs.Contains(requirement.KindVolumeType, v) ||
			(v == "hostPath" && len(out.AllowedHostPaths) > 0) {
			keptVolumes = append(keptVolumes, v)
		}
	}
	out.Volumes = keptVolumes

	if !reqs.Contains(requirement.KindAllowPrivileged, "") {
		out.AllowPrivilegedContainer = false
		out.AllowPrivilegeEscalation = false
	}
	if !reqs.Contains(requirement.KindAllowHostNetwork, "") {
		out.AllowHostNetwork = false
		out.AllowHostPorts = false
	}
	if !reqs.Contains(requirement.KindAllowHostPID, "") {
		out.AllowHostPID = false
	}
	if !reqs.Contains(requirement.KindAllowHostIPC, "") {
		out.AllowHostIPC = false
	}
	if len(out.AllowedHostPaths) == 0 && !reqs.Contains(requirement.KindVolumeType, "hostPath") {
		out.AllowHostDirVolumePlugin = false
		out.Volumes = removeString(out.Volumes, "hostPath")
	}

	out.Normalize()
	return out
}
