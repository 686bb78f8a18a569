package forwarding

import (
	"github.com/kubeovn/ovsbridge/pkg/bond"
	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/tag"
)

// composeActions implements compose_dsts/compose_actions (§4.3.1):
// build the destination fan-out (direct output plus every mirror that
// applies), partition it so the packet's own VLAN comes first, and
// emit the SET_VLAN_VID/STRIP_VLAN/OUTPUT action sequence.
func composeActions(bridge *model.Bridge, inPort, outPort *model.Port, flood bool, vlan uint16, flow Flow, nowMS int64, deps tag.Set) ([]Action, *model.Iface) {
	dsts := make([]model.Destination, 0, len(bridge.Ports)*(1+model.MaxMirrors))
	var mirrorMask uint32
	var notable *model.Iface

	addDirect := func(port *model.Port, wireVlan uint16) {
		ifaceIdx, ok := bond.SelectEgressIface(port, flow.DlSrc, nowMS, deps)
		if !ok {
			return
		}
		iface := port.Ifaces[ifaceIdx]
		d := model.Destination{Vlan: wireVlan, DpIfidx: iface.DpIfidx}
		if !model.ContainsDestination(dsts, d) {
			dsts = append(dsts, d)
			notable = iface
		}
	}

	if flood {
		for _, p := range bridge.Ports {
			if p == inPort || p.IsMirrorOutputPort || !p.CarriesVlan(vlan) {
				continue
			}
			addDirect(p, wireTagFor(p, vlan))
			mirrorMask |= p.DstMirrors
		}
	} else if outPort != nil {
		addDirect(outPort, wireTagFor(outPort, vlan))
		mirrorMask |= outPort.DstMirrors
	}
	mirrorMask |= inPort.SrcMirrors

	for bit := 0; bit < model.MaxMirrors; bit++ {
		if mirrorMask&(1<<uint(bit)) == 0 {
			continue
		}
		m := bridge.Mirrors[bit]
		if m == nil {
			continue
		}
		if !m.SelectsVlan(vlan) {
			continue
		}
		if m.OutPort != nil {
			d := model.Destination{Vlan: wireTagFor(m.OutPort, vlan), DpIfidx: resolveMirrorDpIfidx(m.OutPort, flow, nowMS, deps)}
			if d.DpIfidx != model.DpIfidxUnresolved && !model.ContainsDestination(dsts, d) {
				dsts = append(dsts, d)
			}
			continue
		}
		if !m.OutVlanSet {
			continue
		}
		outVlan := uint16(m.OutVlan)
		for _, p := range bridge.Ports {
			if !p.CarriesVlan(outVlan) {
				continue
			}
			wireVlan := outVlan
			if p.VlanMode == model.VlanModeAccess {
				wireVlan = VlanNoneTag
			}
			if p == inPort && wireVlan == vlanTagOf(inPort, vlan) {
				continue
			}
			ifaceIdx, ok := bond.SelectEgressIface(p, flow.DlSrc, nowMS, deps)
			if !ok {
				continue
			}
			d := model.Destination{Vlan: wireVlan, DpIfidx: p.Ifaces[ifaceIdx].DpIfidx}
			if !model.ContainsDestination(dsts, d) {
				dsts = append(dsts, d)
			}
		}
	}

	partitioned := partitionByOriginalVlan(dsts, flow.DlVlan)
	return emitActions(partitioned, flow.DlVlan), notable
}

// wireTagFor is the VLAN tag a frame leaving port should carry: the
// real VLAN for a trunk port, or VlanNoneTag (untagged) for access.
func wireTagFor(port *model.Port, vlan uint16) uint16 {
	if port.VlanMode == model.VlanModeAccess {
		return VlanNoneTag
	}
	return vlan
}

// vlanTagOf mirrors wireTagFor but is named for the "suppress a
// duplicate of the arriving frame" comparison in the RSPAN branch.
func vlanTagOf(port *model.Port, vlan uint16) uint16 {
	return wireTagFor(port, vlan)
}

func resolveMirrorDpIfidx(port *model.Port, flow Flow, nowMS int64, deps tag.Set) int32 {
	idx, ok := bond.SelectEgressIface(port, flow.DlSrc, nowMS, deps)
	if !ok {
		return model.DpIfidxUnresolved
	}
	return port.Ifaces[idx].DpIfidx
}

// partitionByOriginalVlan stably moves every destination whose vlan
// equals the packet's own (0 normalized to VlanNoneTag) to the front.
// This is a partition, not a sort: relative order within each half is
// preserved.
func partitionByOriginalVlan(dsts []model.Destination, dlVlan uint16) []model.Destination {
	own := dlVlan
	if own == 0 {
		own = VlanNoneTag
	}
	out := make([]model.Destination, 0, len(dsts))
	for _, d := range dsts {
		if d.Vlan == own {
			out = append(out, d)
		}
	}
	for _, d := range dsts {
		if d.Vlan != own {
			out = append(out, d)
		}
	}
	return out
}

func emitActions(dsts []model.Destination, dlVlan uint16) []Action {
	curVlan := dlVlan
	if curVlan == 0 {
		curVlan = VlanNoneTag
	}
	actions := make([]Action, 0, len(dsts)*2)
	for _, d := range dsts {
		if d.Vlan != curVlan {
			if d.Vlan == VlanNoneTag {
				actions = append(actions, Action{Kind: ActionStripVlan})
			} else {
				actions = append(actions, Action{Kind: ActionSetVlanVID, Vlan: d.Vlan})
			}
			curVlan = d.Vlan
		}
		actions = append(actions, Action{Kind: ActionOutput, DpIfidx: d.DpIfidx})
	}
	return actions
}
