// Package bond implements the link-aggregation state machine: carrier
// debounce, active-slave election, per-MAC-hash slave assignment, the
// byte-accounting rebalancer, and failover learning packets.
package bond

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/tag"
)

// FrameSender is the datapath collaborator that actually transmits a
// composed failover learning frame out a resolved iface.
type FrameSender interface {
	SendFrame(iface *model.Iface, frame []byte) error
}

// RebalanceIntervalMS is the minimum spacing between rebalance passes
// for a single bridge (§4.4, "at most every 10 s").
const RebalanceIntervalMS = 10_000

// LinkStatusUpdate applies a carrier-state change to iface per the
// table in §4.4. nowMS is the current monotonic clock reading; sink
// receives any tag invalidated by an immediate state change (pending
// transitions invalidate nothing until they expire).
func LinkStatusUpdate(port *model.Port, iface *model.Iface, carrierUp bool, nowMS int64, sink tag.Sink, sender FrameSender, mt model.MacTable) {
	pending := iface.PendingTransition()

	switch {
	case !pending && !iface.Enabled && carrierUp:
		if port.Bond.ActiveIface < 0 {
			enableSlave(port, iface, nowMS, sink, sender, mt)
		} else {
			iface.DelayExpiresMS = nowMS + port.Bond.UpdelayMS
		}
	case !pending && iface.Enabled && !carrierUp:
		iface.DelayExpiresMS = nowMS + port.Bond.DowndelayMS
	case pending && !iface.Enabled && !carrierUp:
		// pending-up, carrier went back down before the timer fired:
		// cancel, stays disabled.
		iface.DelayExpiresMS = model.NoDeadline
	case pending && iface.Enabled && carrierUp:
		// pending-down, carrier flapped back up: cancel, stays enabled.
		iface.DelayExpiresMS = model.NoDeadline
	}
	port.Bond.CompatIsStale = true
}

// Run advances every iface's debounce timer against nowMS, firing the
// enable/disable transition for any iface whose deadline has passed.
func Run(port *model.Port, nowMS int64, sink tag.Sink, sender FrameSender, mt model.MacTable) {
	for _, iface := range port.Ifaces {
		if !iface.PendingTransition() || nowMS < iface.DelayExpiresMS {
			continue
		}
		iface.DelayExpiresMS = model.NoDeadline
		toggleSlave(port, iface, !iface.Enabled, nowMS, sink, sender, mt)
	}
}

func toggleSlave(port *model.Port, iface *model.Iface, enable bool, nowMS int64, sink tag.Sink, sender FrameSender, mt model.MacTable) {
	if enable {
		enableSlave(port, iface, nowMS, sink, sender, mt)
	} else {
		disableSlave(port, iface, nowMS, sink, sender, mt)
	}
}

// SetSlaveEnabled implements the bond/enable-slave and bond/disable-slave
// administrative commands (§6.2): forces iface's enabled state through
// the same election/revalidation path LinkStatusUpdate's debounce timer
// eventually reaches, cancelling any pending transition first.
func SetSlaveEnabled(port *model.Port, iface *model.Iface, enable bool, nowMS int64, sink tag.Sink, sender FrameSender, mt model.MacTable) {
	iface.DelayExpiresMS = model.NoDeadline
	if enable == iface.Enabled {
		return
	}
	toggleSlave(port, iface, enable, nowMS, sink, sender, mt)
}

// SetActiveSlave implements the bond/set-active-slave administrative
// command (§6.2): forces iface to be the bond's active slave outside
// the normal election, revalidating the previous active_iface_tag and
// sending failover learning packets when the active slave actually
// changes.
func SetActiveSlave(port *model.Port, iface *model.Iface, nowMS int64, sink tag.Sink, sender FrameSender, mt model.MacTable) (changed bool, err error) {
	if !iface.Enabled {
		return false, fmt.Errorf("cannot make disabled slave %q active", iface.Name)
	}
	if port.Bond.ActiveIface == iface.PortIfidx {
		return false, nil
	}
	tag.RevalidateAll(sink, port.Bond.ActiveIfaceTag)
	port.Bond.ActiveIface = iface.PortIfidx
	port.Bond.ActiveIfaceTag = freshOrZero()
	klog.Infof("bond: port %s: active interface is now %s", port.Name, iface.Name)
	SendFailoverLearningPackets(port, nowMS, sender, mt)
	return true, nil
}

// Migrate implements the bond/migrate administrative command (§6.2):
// reassigns bucket's hash slot to iface, revalidating the flows that
// depended on the slot's previous assignment and minting a fresh tag
// for the new one.
func Migrate(port *model.Port, bucket int, iface *model.Iface, sink tag.Sink) error {
	if !iface.Enabled {
		return fmt.Errorf("cannot migrate to disabled slave %q", iface.Name)
	}
	slot := &port.Bond.Hash[bucket&model.BondMask]
	tag.RevalidateAll(sink, slot.IfaceTag)
	slot.IfaceIdx = iface.PortIfidx
	slot.IfaceTag = freshOrZero()
	port.Bond.CompatIsStale = true
	return nil
}

// enableSlave marks iface enabled and, if there is no active slave,
// elects one and announces it. The election's recursion guard is
// electActive's movingActive argument (false here), an explicit
// parameter, never package state, so concurrent bonds never interfere
// with one another.
func enableSlave(port *model.Port, iface *model.Iface, nowMS int64, sink tag.Sink, sender FrameSender, mt model.MacTable) {
	iface.Enabled = true
	port.Bond.CompatIsStale = true
	if port.Bond.ActiveIface < 0 {
		tag.RevalidateAll(sink, port.Bond.NoIfacesTag)
		electActive(port, nowMS, sink, sender, mt, false)
	}
	iface.Tag = freshOrZero()
}

// disableSlave marks iface disabled and, if it was the active slave,
// invalidates the iface's own tag plus active_iface_tag and elects a
// replacement.
func disableSlave(port *model.Port, iface *model.Iface, nowMS int64, sink tag.Sink, sender FrameSender, mt model.MacTable) {
	iface.Enabled = false
	port.Bond.CompatIsStale = true
	if port.Bond.ActiveIface < 0 || port.Ifaces[port.Bond.ActiveIface] != iface {
		return
	}
	tag.RevalidateAll(sink, iface.Tag, port.Bond.ActiveIfaceTag)
	electActive(port, nowMS, sink, sender, mt, true)
}

// electActive runs bond_choose_iface and, whenever it yields a winner
// (whether or not it is the current active slave), mints a fresh
// active_iface_tag and sends failover learning packets. With no
// winner, active_iface becomes -1 and active_iface_tag Zero.
func electActive(port *model.Port, nowMS int64, sink tag.Sink, sender FrameSender, mt model.MacTable, movingActive bool) {
	// movingActive marks that we are already inside an election
	// triggered by disableSlave; ChooseIface's forced-enable path never
	// calls back into enableSlave, so no caller currently needs to
	// branch on it, but it is threaded through explicitly (not read
	// from package state) so a future caller that does add such a path
	// inherits a guard that is safe under concurrent bonds.
	_ = movingActive
	winner := ChooseIface(port, nowMS)
	port.Bond.ActiveIface = winner
	port.Bond.ActiveIfaceTag = tag.Zero
	if winner < 0 {
		return
	}
	port.Bond.ActiveIfaceTag = freshOrZero()
	SendFailoverLearningPackets(port, nowMS, sender, mt)
}

// freshOrZero mints a tag via a package-level allocator shared by every
// bond; the core only needs distinctness, not ownership of a specific
// allocator instance.
var sharedAllocator = tag.NewAllocator()

func freshOrZero() tag.Tag {
	return sharedAllocator.Fresh()
}

// ChooseIface implements bond_choose_iface: the first enabled iface,
// or, failing that, the iface with the nearest pending deadline forced
// enabled immediately, or -1 if the port has no ifaces at all.
func ChooseIface(port *model.Port, nowMS int64) int {
	for i, iface := range port.Ifaces {
		if iface.Enabled {
			return i
		}
	}
	best := -1
	var bestDeadline int64 = model.NoDeadline
	for i, iface := range port.Ifaces {
		if iface.PendingTransition() && iface.DelayExpiresMS < bestDeadline {
			best = i
			bestDeadline = iface.DelayExpiresMS
		}
	}
	if best < 0 {
		return -1
	}
	iface := port.Ifaces[best]
	iface.Enabled = true
	iface.DelayExpiresMS = model.NoDeadline
	klog.V(2).Infof("bond: forcing %s enabled early (no slave fully up)", iface.Name)
	return best
}

// SendFailoverLearningPackets implements §4.4.1: for every MAC table
// entry learned on a different port than this bond, transmit one
// ethertype-0xF177 frame sourced from that MAC out the newly active
// iface, prompting upstream switches to relearn the path.
func SendFailoverLearningPackets(port *model.Port, nowMS int64, sender FrameSender, mt model.MacTable) {
	if sender == nil || mt == nil || port.Bond.ActiveIface < 0 {
		return
	}
	active := port.Ifaces[port.Bond.ActiveIface]
	vlan := uint16(0)
	if port.VlanMode == model.VlanModeAccess {
		vlan = uint16(port.Vlan)
	}
	for _, ent := range mt.Dump(nowMS) {
		if ent.PortIdx == port.PortIdx {
			continue
		}
		frame := ComposeLearningFrame(ent.MAC, vlan)
		if err := sender.SendFrame(active, frame); err != nil {
			klog.Warningf("bond: failed to send failover learning packet for %s via %s: %v", ent.MAC, active.Name, err)
		}
	}
}
