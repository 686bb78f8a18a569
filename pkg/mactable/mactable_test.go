package mactable

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kubeovn/ovsbridge/pkg/tag"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

func TestLearnThenLookup(t *testing.T) {
	tbl := New(tag.NewAllocator())
	mac := mustMAC(t, "aa:bb:cc:dd:ee:01")

	old, ok := tbl.Learn(mac, 10, 3)
	require.True(t, ok)
	require.Equal(t, tag.Zero, old)

	portIdx, found := tbl.Lookup(mac, 10)
	require.True(t, found)
	require.Equal(t, 3, portIdx)

	_, found = tbl.Lookup(mac, 11)
	require.False(t, found, "same MAC on a different VLAN must not be learned")
}

func TestLearnSamePortIsNoOp(t *testing.T) {
	tbl := New(tag.NewAllocator())
	mac := mustMAC(t, "aa:bb:cc:dd:ee:02")

	_, ok := tbl.Learn(mac, 1, 5)
	require.True(t, ok)
	_, ok = tbl.Learn(mac, 1, 5)
	require.False(t, ok, "relearning the same binding should not report a move")
}

func TestLearnMoveReturnsOldTag(t *testing.T) {
	tbl := New(tag.NewAllocator())
	mac := mustMAC(t, "aa:bb:cc:dd:ee:03")

	_, ok := tbl.Learn(mac, 1, 5)
	require.True(t, ok)

	deps := tag.NewSet()
	portIdx, found := tbl.LookupTag(mac, 1, deps)
	require.True(t, found)
	require.Equal(t, 5, portIdx)
	require.Len(t, deps, 1)

	var depTag tag.Tag
	for dt := range deps {
		depTag = dt
	}

	oldTag, moved := tbl.Learn(mac, 1, 9)
	require.True(t, moved)
	require.Equal(t, depTag, oldTag)

	portIdx, found = tbl.Lookup(mac, 1)
	require.True(t, found)
	require.Equal(t, 9, portIdx)
}

func TestFloodVlanDisablesLearning(t *testing.T) {
	tbl := New(tag.NewAllocator())
	tbl.SetFloodVlans(map[int]struct{}{20: {}})
	mac := mustMAC(t, "aa:bb:cc:dd:ee:04")

	_, ok := tbl.Learn(mac, 20, 1)
	require.False(t, ok)
	_, found := tbl.Lookup(mac, 20)
	require.False(t, found)
}

func TestRunExpiresIdleEntries(t *testing.T) {
	tbl := New(tag.NewAllocator())
	tbl.SetCapacity(DefaultMaxEntries, 1000)
	mac := mustMAC(t, "aa:bb:cc:dd:ee:05")

	_, ok := tbl.Learn(mac, 1, 2)
	require.True(t, ok)

	sink := &collectingSink{}
	tbl.Run(500, sink)
	require.Equal(t, 1, tbl.Len(), "not idle long enough yet")

	tbl.Run(1600, sink)
	require.Equal(t, 0, tbl.Len())
	require.Len(t, sink.revalidated, 1)
}

func TestEvictsLRUWhenFull(t *testing.T) {
	tbl := New(tag.NewAllocator())
	tbl.SetCapacity(2, DefaultIdleTimeoutMS)

	m1 := mustMAC(t, "aa:bb:cc:dd:ee:06")
	m2 := mustMAC(t, "aa:bb:cc:dd:ee:07")
	m3 := mustMAC(t, "aa:bb:cc:dd:ee:08")

	tbl.Learn(m1, 1, 0)
	tbl.Learn(m2, 1, 0)
	tbl.Lookup(m1, 1) // touch m1 so m2 becomes the LRU victim
	tbl.Learn(m3, 1, 0)

	require.Equal(t, 2, tbl.Len())
	_, found := tbl.Lookup(m2, 1)
	require.False(t, found, "m2 should have been evicted as least-recently-used")
	_, found = tbl.Lookup(m1, 1)
	require.True(t, found)
	_, found = tbl.Lookup(m3, 1)
	require.True(t, found)
}

type collectingSink struct {
	revalidated []tag.Tag
}

func (s *collectingSink) Revalidate(t tag.Tag) {
	s.revalidated = append(s.revalidated, t)
}
