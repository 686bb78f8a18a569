package model

import (
	"math"

	"github.com/kubeovn/ovsbridge/pkg/tag"
)

const (
	// DpIfidxUnresolved marks an Iface that has not yet been matched to
	// a datapath port number.
	DpIfidxUnresolved int32 = -1
	// DpIfidxLocal is the datapath port number of a bridge's local
	// virtual port (OVS's OFPP_LOCAL).
	DpIfidxLocal int32 = 0xFFFE
)

// NoDeadline is the sentinel for Iface.DelayExpiresMS meaning "no
// pending link-state transition".
const NoDeadline int64 = math.MaxInt64

// Netdev is the opaque handle to the underlying network device that an
// Iface is bound to. Its real shape (an open netlink.Link, a file
// descriptor, ...) is owned by the datapath collaborator; the core only
// ever passes it back to that collaborator.
type Netdev any

// Iface is one physical or internal interface bound to a Port.
type Iface struct {
	Port      *Port // non-owning back-reference
	PortIfidx int   // index into Port.Ifaces; swap-remove maintained

	Name    string
	DpIfidx int32
	Netdev  Netdev
	Enabled bool
	Tag     tag.Tag

	// DelayExpiresMS is NoDeadline when no bond link-state transition
	// is pending, otherwise the monotonic millisecond deadline at
	// which the pending enable/disable should fire.
	DelayExpiresMS int64
}

// NewIface returns an Iface ready to be appended to a Port's Ifaces via
// Port.AddIface. It starts disabled with no pending transition and a
// freshly minted Tag, so anything that depends on this iface from the
// moment it exists (bond slot assignment, single-iface egress) has a
// real token to revalidate against instead of the inert Zero sentinel.
func NewIface(name string, alloc *tag.Allocator) *Iface {
	return &Iface{
		Name:           name,
		DpIfidx:        DpIfidxUnresolved,
		Enabled:        false,
		Tag:            alloc.Fresh(),
		DelayExpiresMS: NoDeadline,
	}
}

// IsLocal reports whether this interface represents the bridge's local
// virtual port.
func (i *Iface) IsLocal() bool {
	return i.DpIfidx == DpIfidxLocal
}

// PendingTransition reports whether this iface has a debounce deadline
// outstanding (bond up/down delay).
func (i *Iface) PendingTransition() bool {
	return i.DelayExpiresMS != NoDeadline
}
