// Package tag implements the opaque invalidation tokens that let the
// forwarding core record which pieces of mutable state a cached flow
// decision depended on, so the OpenFlow engine can revalidate exactly
// the flows that need it when that state changes.
package tag

import (
	"encoding/binary"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// Tag is an opaque 64-bit invalidation token. The zero value is Zero and
// is never returned by an Allocator; it is safe to use as a "no tag"
// sentinel in structs that have not yet been assigned one.
type Tag uint64

// Zero is the sentinel meaning "no tag assigned".
const Zero Tag = 0

// Allocator issues Tags that are distinct from every previously issued
// Tag with overwhelming probability. A single Allocator is meant to be
// shared by every Bridge in the process, exactly as the upstream switch
// shares one tag namespace.
type Allocator struct{}

// NewAllocator returns a ready-to-use Allocator.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Fresh returns a new Tag distinct from previously issued tags, folded
// from a v4 UUID's low 8 bytes.
func (a *Allocator) Fresh() Tag {
	id, err := uuid.NewRandom()
	if err != nil {
		// The platform RNG is broken; we still need a usable value, so
		// fall back rather than propagate the failure into a forwarding
		// decision.
		klog.Errorf("tag: failed to generate a UUID, falling back to a fixed seed: %v", err)
		return Tag(0xdeadbeef)
	}
	t := Tag(binary.LittleEndian.Uint64(id[8:16]))
	if t == Zero {
		t = 1
	}
	return t
}

// Set is a small set of Tags a decision depended on.
type Set map[Tag]struct{}

// NewSet returns an empty Set.
func NewSet() Set {
	return make(Set)
}

// Add records dependence on t. Zero is ignored so callers can add an
// iface's not-yet-assigned tag without a branch.
func (s Set) Add(t Tag) {
	if t == Zero {
		return
	}
	s[t] = struct{}{}
}

// Sink is the collaborator that reconsiders cached flows depending on a
// tag. In the running system this is the OpenFlow engine; tests use a
// fake that just records calls.
type Sink interface {
	Revalidate(t Tag)
}

// RevalidateAll invalidates every previous tag in olds via sink. Call
// this before a mutation that changes the state the tags represent -
// the mutation itself must not be observable to forwarding until this
// has run.
func RevalidateAll(sink Sink, olds ...Tag) {
	if sink == nil {
		return
	}
	for _, t := range olds {
		if t != Zero {
			sink.Revalidate(t)
		}
	}
}
