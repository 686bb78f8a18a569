// Package mactable implements the aging, LRU-ordered (MAC, VLAN) →
// port-index table the forwarding core consults on every flow
// decision. It satisfies model.MacTable structurally; the core never
// imports this package's types directly outside of daemon wiring.
package mactable

import (
	"container/list"
	"net"

	"k8s.io/klog/v2"

	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/tag"
)

// DefaultMaxEntries bounds the table's size; the least-recently-used
// entry is evicted to make room for a new one.
const DefaultMaxEntries = 8192

// DefaultIdleTimeoutMS is how long an entry survives without being
// relearned or looked up before Run expires it.
const DefaultIdleTimeoutMS = 5 * 60 * 1000

type key struct {
	mac  [6]byte
	vlan uint16
}

func keyOf(mac net.HardwareAddr, vlan uint16) key {
	var k key
	copy(k.mac[:], mac)
	k.vlan = vlan
	return k
}

type entry struct {
	key        key
	portIdx    int
	tag        tag.Tag
	lastUsedMS int64
	elem       *list.Element
}

// Table is a single bridge's MAC learning table.
type Table struct {
	alloc *tag.Allocator

	maxEntries    int
	idleTimeoutMS int64

	entries map[key]*entry
	lru     *list.List // front = most recently used

	floodVlans map[int]struct{}

	nowMS int64
}

// New returns an empty Table backed by the given tag allocator.
func New(alloc *tag.Allocator) *Table {
	return &Table{
		alloc:         alloc,
		maxEntries:    DefaultMaxEntries,
		idleTimeoutMS: DefaultIdleTimeoutMS,
		entries:       make(map[key]*entry),
		lru:           list.New(),
	}
}

// SetCapacity overrides the default entry cap and idle timeout.
func (t *Table) SetCapacity(maxEntries int, idleTimeoutMS int64) {
	t.maxEntries = maxEntries
	t.idleTimeoutMS = idleTimeoutMS
}

// SetFloodVlans installs the set of VLANs on which learning is
// disabled and destination lookups always miss, forcing flooding, as
// RSPAN destination VLANs need. The reconfigure engine does not call
// it, so no VLAN is a flood VLAN unless a caller installs one.
func (t *Table) SetFloodVlans(vlans map[int]struct{}) {
	t.floodVlans = vlans
}

func (t *Table) isFloodVlan(vlan uint16) bool {
	if len(t.floodVlans) == 0 {
		return false
	}
	_, ok := t.floodVlans[int(vlan)]
	return ok
}

// Learn records that mac on vlan is reachable via portIdx, returning
// the tag that must be revalidated because the binding changed. ok is
// false when the entry already pointed at portIdx (no invalidation
// needed) or when vlan is a flood VLAN (learning disabled).
func (t *Table) Learn(mac net.HardwareAddr, vlan uint16, portIdx int) (tag.Tag, bool) {
	if t.isFloodVlan(vlan) || len(mac) != 6 {
		return tag.Zero, false
	}
	k := keyOf(mac, vlan)
	if e, found := t.entries[k]; found {
		t.lru.MoveToFront(e.elem)
		e.lastUsedMS = t.nowMS
		if e.portIdx == portIdx {
			return tag.Zero, false
		}
		old := e.tag
		e.portIdx = portIdx
		e.tag = t.alloc.Fresh()
		return old, true
	}

	if len(t.entries) >= t.maxEntries {
		t.evictOldest()
	}
	e := &entry{key: k, portIdx: portIdx, tag: t.alloc.Fresh(), lastUsedMS: t.nowMS}
	e.elem = t.lru.PushFront(e)
	t.entries[k] = e
	return tag.Zero, true
}

// Lookup returns the port a (mac, vlan) pair is known to be reachable
// through.
func (t *Table) Lookup(mac net.HardwareAddr, vlan uint16) (int, bool) {
	if t.isFloodVlan(vlan) || len(mac) != 6 {
		return 0, false
	}
	e, ok := t.entries[keyOf(mac, vlan)]
	if !ok {
		return 0, false
	}
	t.lru.MoveToFront(e.elem)
	e.lastUsedMS = t.nowMS
	return e.portIdx, true
}

// LookupTag is Lookup, additionally folding the entry's tag into deps.
// On a miss nothing is folded in, and the first Learn of that key
// returns tag.Zero, so a decision made on a miss is not revalidated by
// that later Learn.
func (t *Table) LookupTag(mac net.HardwareAddr, vlan uint16, deps tag.Set) (int, bool) {
	if t.isFloodVlan(vlan) || len(mac) != 6 {
		return 0, false
	}
	e, ok := t.entries[keyOf(mac, vlan)]
	if !ok {
		return 0, false
	}
	t.lru.MoveToFront(e.elem)
	e.lastUsedMS = t.nowMS
	if deps != nil {
		deps.Add(e.tag)
	}
	return e.portIdx, true
}

// Flush discards every entry without revalidating anything; callers
// that need the flows to be reconsidered must revalidate the tags
// themselves first (e.g. via Run).
func (t *Table) Flush() {
	t.entries = make(map[key]*entry)
	t.lru.Init()
}

// Run advances the clock to nowMS and expires idle entries,
// revalidating each expired entry's tag through sink so cached flows
// relearn the MAC on its next packet. The capacity limit is enforced
// by Learn, not here.
func (t *Table) Run(nowMS int64, sink tag.Sink) {
	t.nowMS = nowMS
	for {
		back := t.lru.Back()
		if back == nil {
			break
		}
		e := back.Value.(*entry)
		if t.nowMS-e.lastUsedMS < t.idleTimeoutMS {
			break
		}
		t.removeEntry(e)
		if sink != nil {
			sink.Revalidate(e.tag)
		}
	}
}

func (t *Table) evictOldest() {
	back := t.lru.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	klog.V(4).Infof("mactable: evicting %s vlan %d (table full, %d entries)", net.HardwareAddr(e.key.mac[:]), e.key.vlan, len(t.entries))
	t.removeEntry(e)
}

func (t *Table) removeEntry(e *entry) {
	t.lru.Remove(e.elem)
	delete(t.entries, e.key)
}

// Len returns the number of learned entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Dump returns every entry, most-recently-used first, for failover
// learning-packet composition (§4.4.1) and the fdb/show administrative
// command.
func (t *Table) Dump(nowMS int64) []model.MacEntry {
	out := make([]model.MacEntry, 0, len(t.entries))
	for e := t.lru.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry)
		mac := make(net.HardwareAddr, 6)
		copy(mac, ent.key.mac[:])
		out = append(out, model.MacEntry{
			MAC:     mac,
			Vlan:    ent.key.vlan,
			PortIdx: ent.portIdx,
			AgeMS:   nowMS - ent.lastUsedMS,
		})
	}
	return out
}
