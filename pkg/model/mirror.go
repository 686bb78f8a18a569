package model

// MaxMirrors is the number of mirror slots a Bridge carries (dense
// array addressed by bit position in a 32-bit mask).
const MaxMirrors = 32

// Mirror is a port-mirroring rule: it selects ingress and/or egress
// traffic (by source/destination port, or by VLAN) and duplicates it to
// either a single output port or an RSPAN VLAN broadcast to every port
// carrying that VLAN.
type Mirror struct {
	Idx  int // position in Bridge.Mirrors / bit position in the masks
	Name string

	SrcPorts map[string]struct{}
	DstPorts map[string]struct{}
	Vlans    map[int]struct{} // nil/empty means "no VLAN filter"

	// Exactly one of OutPort/OutVlanSet is true once the mirror has
	// been resolved (§4.5: both set or neither destroys the mirror).
	OutPort    *Port
	OutVlan    int
	OutVlanSet bool
}

// MatchesAll reports whether the mirror has no port or VLAN selectors
// at all, in which case it matches every port ("mirror everything").
func (m *Mirror) MatchesAll() bool {
	return len(m.SrcPorts) == 0 && len(m.DstPorts) == 0 && len(m.Vlans) == 0
}

// SelectsVlan reports whether the mirror's VLAN selector set (if any)
// includes vlan. An empty selector set means "no filter", so it always
// matches.
func (m *Mirror) SelectsVlan(vlan uint16) bool {
	if len(m.Vlans) == 0 {
		return true
	}
	_, ok := m.Vlans[int(vlan)]
	return ok
}

// bitMask returns the single bit for this mirror's slot.
func (m *Mirror) bitMask() uint32 {
	return 1 << uint(m.Idx)
}
