package model

// VlanNone is the sentinel VLAN value meaning "no 802.1Q tag", used both
// on the wire (flow.DlVlan) and in a Destination.
const VlanNone uint16 = 0xFFFF

// Destination is the value type the forwarding core accumulates while
// composing the action list for one flow: where a copy of the frame
// should go, and with what VLAN tag.
type Destination struct {
	Vlan    uint16
	DpIfidx int32
}

// Equal reports whether two destinations would emit the same action -
// per spec this is the sole duplicate test: both DpIfidx and Vlan must
// match.
func (d Destination) Equal(o Destination) bool {
	return d.DpIfidx == o.DpIfidx && d.Vlan == o.Vlan
}

// ContainsDestination reports whether dsts already holds d, using Equal.
func ContainsDestination(dsts []Destination, d Destination) bool {
	for _, e := range dsts {
		if e.Equal(d) {
			return true
		}
	}
	return false
}
