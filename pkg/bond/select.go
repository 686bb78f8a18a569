package bond

import (
	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/tag"
)

// SelectEgressIface implements §4.3.2: pick the iface a frame sourced
// from srcMAC should leave through. For a single-iface port this is
// always that iface. For a bond, the hash-table slot indexed by
// HashBytes(srcMAC) selects it, with a fallback election when the
// slot is stale or points at a disabled iface. ok is false only when
// the port has no usable iface at all, in which case no_ifaces_tag is
// folded into deps.
func SelectEgressIface(port *model.Port, srcMAC []byte, nowMS int64, deps tag.Set) (ifaceIdx int, ok bool) {
	if len(port.Ifaces) == 0 {
		return -1, false
	}
	if !port.IsBond() {
		deps.Add(port.Ifaces[0].Tag)
		return 0, true
	}

	bucket := HashBytes(srcMAC) & model.BondMask
	slot := &port.Bond.Hash[bucket]

	needsReassign := slot.IfaceIdx < 0 || slot.IfaceIdx >= len(port.Ifaces) || !port.Ifaces[slot.IfaceIdx].Enabled
	if needsReassign {
		chosen := ChooseIface(port, nowMS)
		if chosen < 0 {
			deps.Add(port.Bond.NoIfacesTag)
			return -1, false
		}
		slot.IfaceIdx = chosen
		slot.IfaceTag = sharedAllocator.Fresh()
		port.Bond.CompatIsStale = true
	}

	deps.Add(port.Ifaces[slot.IfaceIdx].Tag)
	deps.Add(slot.IfaceTag)
	return slot.IfaceIdx, true
}
