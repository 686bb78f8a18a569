// Package forwarding implements the per-flow decision (process_flow)
// and its fan-out composer: the hot path consulted once per newly
// seen flow to decide the actions a switch should install.
package forwarding

import "net"

// VlanNoneTag is the wire-level sentinel for "no 802.1Q tag present",
// the same value as model.VlanNone; classifyVlan treats a frame that
// carries it as VLAN 0, per §4.3 step 2.
const VlanNoneTag = 0xFFFF

// Flow is the parsed 5-tuple plus the L2 fields process_flow needs. It
// mirrors the subset of an OpenFlow match the core actually consults;
// everything else is opaque to the core and stays with the caller.
type Flow struct {
	InDpIfidx int32
	DlSrc     net.HardwareAddr
	DlDst     net.HardwareAddr
	// DlVlan is VlanNoneTag when the packet carried no 802.1Q tag.
	DlVlan uint16

	// IsBroadcastARPReply marks a frame the bond loop-prevention check
	// (§4.3 step 4) must never drop: a gratuitous ARP reply flooded
	// from our own bond legitimately arrives back on a different slave.
	IsBroadcastARPReply bool
}

// ActionKind distinguishes the handful of datapath actions process_flow
// can emit.
type ActionKind int

const (
	ActionOutput ActionKind = iota
	ActionSetVlanVID
	ActionStripVlan
)

// Action is one datapath action in the order process_flow wants them
// executed.
type Action struct {
	Kind    ActionKind
	DpIfidx int32  // valid for ActionOutput
	Vlan    uint16 // valid for ActionSetVlanVID
}
