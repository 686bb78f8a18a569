package reconfigure

import (
	"sort"

	"k8s.io/klog/v2"

	"github.com/kubeovn/ovsbridge/pkg/config"
	"github.com/kubeovn/ovsbridge/pkg/model"
)

// reconcileMirrors implements §4.5: diff mirrors by name into the
// bridge's 32 slots, resolve each retained/new mirror's selectors, and
// recompute every port's src/dst mirror masks from scratch.
func (e *Engine) reconcileMirrors(bridge *model.Bridge, cfg config.BridgeConfig) {
	byName := make(map[string]int, model.MaxMirrors)
	for idx, m := range bridge.Mirrors {
		if m != nil {
			byName[m.Name] = idx
		}
	}

	structuralChange := false

	for name, idx := range byName {
		if _, keep := cfg.Mirrors[name]; !keep {
			bridge.Mirrors[idx] = nil
			structuralChange = true
		}
	}

	names := make([]string, 0, len(cfg.Mirrors))
	for name := range cfg.Mirrors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mCfg := cfg.Mirrors[name]
		idx, exists := byName[name]
		if !exists {
			slot := bridge.FreeMirrorSlot()
			if slot < 0 {
				klog.Warningf("reconfigure: bridge %q has no free mirror slots, dropping mirror %q", bridge.Name, name)
				continue
			}
			idx = slot
			bridge.Mirrors[idx] = &model.Mirror{Idx: idx, Name: name}
			structuralChange = true
		}
		m := bridge.Mirrors[idx]
		if !resolveMirror(bridge, m, mCfg) {
			klog.Warningf("reconfigure: mirror %q on bridge %q has no resolvable selectors or destination, destroying", name, bridge.Name)
			bridge.Mirrors[idx] = nil
			structuralChange = true
		}
	}

	applyMirrorMembership(bridge)
	bridge.RecomputeMirrorOutputFlags()

	if structuralChange {
		bridge.Flush = true
	}
}

// resolveMirror resolves out_port xor out_vlan and the port/VLAN
// selector sets, returning false if the mirror must be destroyed.
func resolveMirror(bridge *model.Bridge, m *model.Mirror, cfg config.MirrorConfig) bool {
	hasOutPort := cfg.OutPort != ""
	hasOutVlan := cfg.OutVlanSet
	if hasOutPort == hasOutVlan {
		return false
	}

	m.SrcPorts = resolvePortSet(bridge, cfg.SrcPorts)
	m.DstPorts = resolvePortSet(bridge, cfg.DstPorts)
	m.Vlans = resolveVlanSet(cfg.Vlans)

	hadSelectors := len(cfg.SrcPorts) > 0 || len(cfg.DstPorts) > 0 || len(cfg.Vlans) > 0
	if hadSelectors && len(m.SrcPorts) == 0 && len(m.DstPorts) == 0 && len(m.Vlans) == 0 {
		return false
	}

	if hasOutPort {
		p := bridge.FindPort(cfg.OutPort)
		if p == nil {
			return false
		}
		m.OutPort = p
		m.OutVlanSet = false
		m.OutVlan = 0
	} else {
		if cfg.OutVlan < 0 || cfg.OutVlan > model.MaxVlan {
			return false
		}
		m.OutPort = nil
		m.OutVlan = cfg.OutVlan
		m.OutVlanSet = true
	}
	return true
}

func resolvePortSet(bridge *model.Bridge, names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(names))
	for _, name := range names {
		if bridge.FindPort(name) != nil {
			out[name] = struct{}{}
		}
	}
	return out
}

func resolveVlanSet(vlans []int) map[int]struct{} {
	if len(vlans) == 0 {
		return nil
	}
	out := make(map[int]struct{}, len(vlans))
	for _, v := range vlans {
		if v >= 0 && v <= model.MaxVlan {
			out[v] = struct{}{}
		}
	}
	return out
}

// applyMirrorMembership sets src_mirrors/dst_mirrors on every port
// from scratch, per §4.5.
func applyMirrorMembership(bridge *model.Bridge) {
	for _, p := range bridge.Ports {
		p.SrcMirrors = 0
		p.DstMirrors = 0
	}
	for _, m := range bridge.Mirrors {
		if m == nil {
			continue
		}
		bit := uint32(1) << uint(m.Idx)
		for _, p := range bridge.Ports {
			if mirrorSelectsPort(m, p, m.SrcPorts, true) {
				p.SrcMirrors |= bit
			}
			if mirrorSelectsPort(m, p, m.DstPorts, false) {
				p.DstMirrors |= bit
			}
		}
	}
}

// mirrorSelectsPort reports whether p belongs to one of m's port sets.
// The VLAN selector only ever feeds src_mirrors: dst_mirrors is
// mirror-all or an explicit dst-port match, never a VLAN match (§4.5).
func mirrorSelectsPort(m *model.Mirror, p *model.Port, portSet map[string]struct{}, matchVlan bool) bool {
	if m.MatchesAll() {
		return true
	}
	if _, ok := portSet[p.Name]; ok {
		return true
	}
	if !matchVlan || len(m.Vlans) == 0 {
		return false
	}
	if p.VlanMode == model.VlanModeTrunk {
		return p.Trunks.IntersectsSet(m.Vlans)
	}
	_, ok := m.Vlans[p.Vlan]
	return ok
}
