package model

import (
	"fmt"

	"github.com/kubeovn/ovsbridge/pkg/tag"
)

// VlanMode distinguishes an access port (one implicit VLAN, untagged on
// the wire) from a trunk port (carries a set of VLANs, identified by a
// bitmap).
type VlanMode int

const (
	VlanModeAccess VlanMode = iota
	VlanModeTrunk
)

// MaxVlan is the highest valid 802.1Q VLAN ID.
const MaxVlan = 4095

// TrunkBitmap is a dense bitmap over the VLAN ID space [0, 4095].
type TrunkBitmap struct {
	words [64]uint64 // 64 * 64 = 4096 bits
}

func (b *TrunkBitmap) Set(vlan int) {
	if vlan < 0 || vlan > MaxVlan {
		return
	}
	b.words[vlan/64] |= 1 << uint(vlan%64)
}

func (b *TrunkBitmap) Test(vlan int) bool {
	if vlan < 0 || vlan > MaxVlan {
		return false
	}
	return b.words[vlan/64]&(1<<uint(vlan%64)) != 0
}

// Intersects reports whether b and o share at least one VLAN.
func (b *TrunkBitmap) Intersects(o *TrunkBitmap) bool {
	if b == nil || o == nil {
		return false
	}
	for i := range b.words {
		if b.words[i]&o.words[i] != 0 {
			return true
		}
	}
	return false
}

// IntersectsSet reports whether b contains any VLAN in the given set.
func (b *TrunkBitmap) IntersectsSet(vlans map[int]struct{}) bool {
	if b == nil {
		return false
	}
	for v := range vlans {
		if b.Test(v) {
			return true
		}
	}
	return false
}

// BondMask is the size-1 mask of the bond hash table (256 slots).
const BondMask = 0xFF

// BondSlot is one entry of a bond's 256-slot hash table.
type BondSlot struct {
	// IfaceIdx is -1 (unassigned) or an index into the owning Port's
	// Ifaces slice.
	IfaceIdx int
	TxBytes  uint64
	IfaceTag tag.Tag
}

// BondState is the link-aggregation state of a Port with two or more
// Ifaces. It is always present on a Port but only meaningful once the
// Port has become a bond.
type BondState struct {
	Hash [BondMask + 1]BondSlot

	ActiveIface    int // -1 or index into Port.Ifaces
	ActiveIfaceTag tag.Tag
	NoIfacesTag    tag.Tag

	UpdelayMS   int64
	DowndelayMS int64

	CompatIsStale bool
	FakeIface     bool
}

// NewBondState returns a BondState with every hash slot and the active
// slave unassigned.
func NewBondState() BondState {
	bs := BondState{ActiveIface: -1}
	for i := range bs.Hash {
		bs.Hash[i].IfaceIdx = -1
	}
	return bs
}

// Port is one L2 forwarding unit: one Iface (a normal port) or two or
// more (a bond).
type Port struct {
	Bridge  *Bridge
	PortIdx int // index into Bridge.Ports; swap-remove maintained

	Name string

	VlanMode VlanMode
	Vlan     int          // access-mode VLAN id; -1 in trunk mode
	Trunks   *TrunkBitmap // non-nil only in trunk mode

	Ifaces []*Iface

	Bond BondState

	SrcMirrors         uint32
	DstMirrors         uint32
	IsMirrorOutputPort bool
}

// NewAccessPort returns a Port in access mode for the given VLAN.
func NewAccessPort(name string, vlan int) *Port {
	return &Port{
		Name:     name,
		VlanMode: VlanModeAccess,
		Vlan:     vlan,
		Bond:     NewBondState(),
	}
}

// NewTrunkPort returns a Port in trunk mode carrying the given trunks.
func NewTrunkPort(name string, trunks *TrunkBitmap) *Port {
	if trunks == nil {
		trunks = &TrunkBitmap{}
	}
	return &Port{
		Name:     name,
		VlanMode: VlanModeTrunk,
		Vlan:     -1,
		Trunks:   trunks,
		Bond:     NewBondState(),
	}
}

// IsBond reports whether this port aggregates two or more interfaces.
func (p *Port) IsBond() bool {
	return len(p.Ifaces) >= 2
}

// CarriesVlan reports whether a frame tagged with vlan belongs on this
// port: the implicit access VLAN, or a member of the trunk set.
func (p *Port) CarriesVlan(vlan uint16) bool {
	if p.VlanMode == VlanModeAccess {
		return int(vlan) == p.Vlan
	}
	return p.Trunks.Test(int(vlan))
}

// AddIface appends iface to the port, wiring its back-reference and
// swap-remove index.
func (p *Port) AddIface(iface *Iface) {
	iface.Port = p
	iface.PortIfidx = len(p.Ifaces)
	p.Ifaces = append(p.Ifaces, iface)
}

// RemoveIface removes the iface at idx using swap-with-last, updating
// the moved iface's PortIfidx and any bond hash slot or active-slave
// link that pointed at either the removed or the moved index.
func (p *Port) RemoveIface(idx int) error {
	if idx < 0 || idx >= len(p.Ifaces) {
		return fmt.Errorf("iface index %d out of range for port %q (%d ifaces)", idx, p.Name, len(p.Ifaces))
	}
	last := len(p.Ifaces) - 1

	if p.Bond.ActiveIface == idx {
		p.Bond.ActiveIface = -1
	} else if p.Bond.ActiveIface == last {
		p.Bond.ActiveIface = idx
	}
	for i := range p.Bond.Hash {
		switch p.Bond.Hash[i].IfaceIdx {
		case idx:
			p.Bond.Hash[i].IfaceIdx = -1
		case last:
			if idx != last {
				p.Bond.Hash[i].IfaceIdx = idx
			}
		}
	}

	if idx != last {
		p.Ifaces[idx] = p.Ifaces[last]
		p.Ifaces[idx].PortIfidx = idx
	}
	p.Ifaces[last] = nil
	p.Ifaces = p.Ifaces[:last]
	return nil
}

// FindIface returns the iface with the given name, or nil.
func (p *Port) FindIface(name string) *Iface {
	for _, i := range p.Ifaces {
		if i.Name == name {
			return i
		}
	}
	return nil
}
