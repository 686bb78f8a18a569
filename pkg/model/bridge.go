package model

import (
	"errors"
	"fmt"
	"net"

	"github.com/kubeovn/ovsbridge/pkg/tag"
)

// ErrTooManyPorts is returned by Datapath.AddPort when the underlying
// datapath has hit its port-table limit (OVSDB's EFBIG). Reconfigure
// stops trying to add further ports to that bridge for the remainder
// of the pass when it sees this error (§4.1 step 3).
var ErrTooManyPorts = errors.New("datapath port table is full")

// MacTable is the contract the core consumes from its sibling MAC
// learning component (§4.7). The concrete implementation (an aging LRU
// table) lives in package mactable; Bridge only ever sees this
// interface.
type MacTable interface {
	// Learn records that mac on vlan is reachable via portIdx. It
	// returns the tag identifying the entry's previous binding when
	// the mapping was added or moved, so dependent flows can be
	// invalidated; ok is false when the mapping was already current.
	Learn(mac net.HardwareAddr, vlan uint16, portIdx int) (t tag.Tag, ok bool)
	// Lookup returns the port the (mac, vlan) pair is known to be
	// reachable through.
	Lookup(mac net.HardwareAddr, vlan uint16) (portIdx int, ok bool)
	// LookupTag is like Lookup but folds the entry's tag into deps.
	// On a miss nothing is added to deps, so a decision made on a miss
	// does not depend on any tag that a later Learn of that key
	// revalidates.
	LookupTag(mac net.HardwareAddr, vlan uint16, deps tag.Set) (portIdx int, ok bool)
	Flush()
	Run(nowMS int64, sink tag.Sink)
	SetFloodVlans(vlans map[int]struct{})
	// Dump returns every learned entry, for failover learning-packet
	// composition (§4.4.1) and the fdb/show administrative command.
	Dump(nowMS int64) []MacEntry
}

// MacEntry is one row of a MacTable.Dump snapshot.
type MacEntry struct {
	MAC     net.HardwareAddr
	Vlan    uint16
	PortIdx int
	AgeMS   int64
}

// Datapath is the kernel-side fast-path switch collaborator: the core
// only ever lists, adds, deletes and reconfigures ports by name.
type Datapath interface {
	ListPorts() ([]DatapathPort, error)
	AddPort(name string, internal bool) error
	DeletePort(name string) error
	ReconfigurePort(name string) error
}

// DatapathPort is one entry of Datapath.ListPorts: a named port and the
// numeric port id the datapath assigned it.
type DatapathPort struct {
	Name   string
	PortNo int32
}

// NetFlowConfig mirrors the subset of NetFlow collector configuration
// the core passes through to the OpenFlow engine untouched.
type NetFlowConfig struct {
	Enabled        bool
	CollectorsIDs  []string
	ActiveTimeoutS int
	AddIDToIface   bool
}

// OFProtoEngine is the controller-connection / flow-table collaborator.
// The core never stores flows itself; it only asks this engine to
// reconsider flows that depended on a tag, and passes through the
// handful of per-bridge settings that live on the OpenFlow engine.
type OFProtoEngine interface {
	tag.Sink
	SetNetFlow(cfg NetFlowConfig) error
	SetInBand(enabled bool) error
	SetFailureMode(mode string) error
	// SetController points the bridge's OpenFlow controller connection
	// at target ("" clears it), the connection §4.1 step 7's
	// ControllerConfig ultimately configures.
	SetController(target string) error
	DumpFlows(bridge string) (string, error)
}

// Bridge is a named L2 virtual switch instance.
type Bridge struct {
	Name string

	DefaultMAC  net.HardwareAddr
	SelectedMAC net.HardwareAddr
	// HwAddrIface is the iface the selected MAC was read from, if any
	// (§4.2.1 step 3); nil when the default MAC was used.
	HwAddrIface *Iface
	DatapathID  uint64

	Flush             bool
	NextRebalanceMS int64

	Ports   []*Port
	Mirrors [MaxMirrors]*Mirror

	MacTable MacTable

	Datapath Datapath
	OFProto  OFProtoEngine

	// IfaceByDpIfidx reverse-indexes every iface whose DpIfidx has been
	// resolved, unique within the bridge.
	IfaceByDpIfidx map[int32]*Iface
}

// NewBridge returns an empty Bridge with a fresh random default MAC.
func NewBridge(name string) *Bridge {
	return &Bridge{
		Name:           name,
		DefaultMAC:     GenerateRandomMAC(),
		IfaceByDpIfidx: make(map[int32]*Iface),
	}
}

// AddPort appends port to the bridge, wiring its back-reference and
// swap-remove index.
func (b *Bridge) AddPort(p *Port) {
	p.Bridge = b
	p.PortIdx = len(b.Ports)
	b.Ports = append(b.Ports, p)
}

// RemovePort removes the port at idx using swap-with-last, updating the
// moved port's PortIdx, unlinking every one of its ifaces from the
// reverse dp-ifidx map, and clearing any Mirror that used it as
// OutPort.
func (b *Bridge) RemovePort(idx int) error {
	if idx < 0 || idx >= len(b.Ports) {
		return fmt.Errorf("port index %d out of range for bridge %q (%d ports)", idx, b.Name, len(b.Ports))
	}
	removed := b.Ports[idx]
	for _, iface := range removed.Ifaces {
		if iface.DpIfidx >= 0 {
			delete(b.IfaceByDpIfidx, iface.DpIfidx)
		}
	}
	for _, m := range b.Mirrors {
		if m != nil && m.OutPort == removed {
			m.OutPort = nil
		}
	}

	last := len(b.Ports) - 1
	if idx != last {
		b.Ports[idx] = b.Ports[last]
		b.Ports[idx].PortIdx = idx
	}
	b.Ports[last] = nil
	b.Ports = b.Ports[:last]
	return nil
}

// FindPort returns the port with the given name, or nil.
func (b *Bridge) FindPort(name string) *Port {
	for _, p := range b.Ports {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// ResolveIface sets iface's DpIfidx and reverse-indexes it, replacing
// any stale entry for that index first.
func (b *Bridge) ResolveIface(iface *Iface, dpIfidx int32) {
	if iface.DpIfidx >= 0 {
		delete(b.IfaceByDpIfidx, iface.DpIfidx)
	}
	iface.DpIfidx = dpIfidx
	if dpIfidx >= 0 {
		b.IfaceByDpIfidx[dpIfidx] = iface
	}
}

// UnresolveIface clears iface's dp_ifidx and the reverse-map entry.
func (b *Bridge) UnresolveIface(iface *Iface) {
	if iface.DpIfidx >= 0 {
		delete(b.IfaceByDpIfidx, iface.DpIfidx)
	}
	iface.DpIfidx = DpIfidxUnresolved
}

// IfaceByPortNo returns the iface reverse-indexed under dpIfidx.
func (b *Bridge) IfaceByPortNo(dpIfidx int32) (*Iface, bool) {
	i, ok := b.IfaceByDpIfidx[dpIfidx]
	return i, ok
}

// RecomputeMirrorOutputFlags recomputes IsMirrorOutputPort for every
// port from scratch, per §4.5 ("recomputed from scratch per reconfigure
// pass before setting").
func (b *Bridge) RecomputeMirrorOutputFlags() {
	for _, p := range b.Ports {
		p.IsMirrorOutputPort = false
	}
	for _, m := range b.Mirrors {
		if m != nil && m.OutPort != nil {
			m.OutPort.IsMirrorOutputPort = true
		}
	}
}

// FreeMirrorSlot returns the lowest free mirror slot index, or -1 if
// all MaxMirrors slots are occupied.
func (b *Bridge) FreeMirrorSlot() int {
	for i, m := range b.Mirrors {
		if m == nil {
			return i
		}
	}
	return -1
}
