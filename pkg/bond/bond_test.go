package bond

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kubeovn/ovsbridge/pkg/mactable"
	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/tag"
)

type recordingSink struct {
	revalidated []tag.Tag
}

func (r *recordingSink) Revalidate(t tag.Tag) {
	r.revalidated = append(r.revalidated, t)
}

type recordingSender struct {
	sent int
}

func (r *recordingSender) SendFrame(iface *model.Iface, frame []byte) error {
	r.sent++
	return nil
}

func newBondPort(n int) *model.Port {
	alloc := tag.NewAllocator()
	p := model.NewAccessPort("bond0", 1)
	for i := 0; i < n; i++ {
		iface := model.NewIface("slave"+string(rune('0'+i)), alloc)
		p.AddIface(iface)
	}
	return p
}

func TestLinkStatusUpdateNoActiveEnablesImmediately(t *testing.T) {
	p := newBondPort(2)
	alloc := tag.NewAllocator()
	mt := mactable.New(alloc)
	sink := &recordingSink{}
	sender := &recordingSender{}

	LinkStatusUpdate(p, p.Ifaces[0], true, 1000, sink, sender, mt)

	require.True(t, p.Ifaces[0].Enabled)
	require.Equal(t, 0, p.Bond.ActiveIface)
}

func TestLinkStatusUpdatePendingUpWhenActiveExists(t *testing.T) {
	p := newBondPort(2)
	alloc := tag.NewAllocator()
	mt := mactable.New(alloc)
	sink := &recordingSink{}
	sender := &recordingSender{}

	LinkStatusUpdate(p, p.Ifaces[0], true, 1000, sink, sender, mt)
	require.Equal(t, 0, p.Bond.ActiveIface)

	p.Ifaces[1].Port = p
	LinkStatusUpdate(p, p.Ifaces[1], true, 1000, sink, sender, mt)
	require.False(t, p.Ifaces[1].Enabled, "second slave should wait out the updelay")
	require.Equal(t, int64(1000+p.Bond.UpdelayMS), p.Ifaces[1].DelayExpiresMS)
}

func TestLinkStatusUpdatePendingDownCancelsOnFlap(t *testing.T) {
	p := newBondPort(1)
	alloc := tag.NewAllocator()
	mt := mactable.New(alloc)
	sink := &recordingSink{}
	sender := &recordingSender{}

	LinkStatusUpdate(p, p.Ifaces[0], true, 0, sink, sender, mt)
	require.True(t, p.Ifaces[0].Enabled)

	LinkStatusUpdate(p, p.Ifaces[0], false, 100, sink, sender, mt)
	require.True(t, p.Ifaces[0].PendingTransition())

	LinkStatusUpdate(p, p.Ifaces[0], true, 150, sink, sender, mt)
	require.False(t, p.Ifaces[0].PendingTransition())
	require.True(t, p.Ifaces[0].Enabled, "flap back up before downdelay fires should cancel, staying enabled")
}

func TestRunFiresExpiredTransition(t *testing.T) {
	p := newBondPort(2)
	alloc := tag.NewAllocator()
	mt := mactable.New(alloc)
	sink := &recordingSink{}
	sender := &recordingSender{}
	p.Bond.UpdelayMS = 100

	LinkStatusUpdate(p, p.Ifaces[0], true, 0, sink, sender, mt)
	LinkStatusUpdate(p, p.Ifaces[1], true, 0, sink, sender, mt)
	require.True(t, p.Ifaces[1].PendingTransition())

	Run(p, 0, sink, sender, mt)
	require.True(t, p.Ifaces[1].PendingTransition(), "not yet due")

	Run(p, 0+p.Bond.UpdelayMS+1, sink, sender, mt)
	require.True(t, p.Ifaces[1].Enabled)
}

func TestChooseIfaceForcesEnableWhenNoneUp(t *testing.T) {
	p := newBondPort(2)
	p.Ifaces[0].DelayExpiresMS = 500
	p.Ifaces[1].DelayExpiresMS = 900

	idx := ChooseIface(p, 100)
	require.Equal(t, 0, idx)
	require.True(t, p.Ifaces[0].Enabled)
}

func TestSelectEgressIfaceSingleIface(t *testing.T) {
	p := model.NewAccessPort("eth0", 1)
	p.AddIface(model.NewIface("eth0", tag.NewAllocator()))

	deps := tag.NewSet()
	idx, ok := SelectEgressIface(p, []byte{1, 2, 3, 4, 5, 6}, 0, deps)
	require.True(t, ok)
	require.Equal(t, 0, idx)
}

func TestSelectEgressIfaceBondFallsBackWhenSlotDisabled(t *testing.T) {
	p := newBondPort(2)
	p.Ifaces[0].Enabled = true
	p.Ifaces[1].Enabled = false

	deps := tag.NewSet()
	idx, ok := SelectEgressIface(p, []byte{1, 2, 3, 4, 5, 6}, 0, deps)
	require.True(t, ok)
	require.True(t, p.Ifaces[idx].Enabled)
}

func TestRebalanceMovesHotBucketAndAgesCounters(t *testing.T) {
	p := newBondPort(2)
	p.Ifaces[0].Enabled = true
	p.Ifaces[1].Enabled = true

	for i := range p.Bond.Hash {
		p.Bond.Hash[i].IfaceIdx = 0
	}
	p.Bond.Hash[0].TxBytes = 10_000_000
	p.Bond.Hash[1].TxBytes = 10_000_000
	p.Bond.Hash[2].IfaceIdx = 1
	p.Bond.Hash[2].TxBytes = 100

	sink := &recordingSink{}
	Rebalance(p, sink)

	moved := false
	for i := 0; i < 2; i++ {
		if p.Bond.Hash[i].IfaceIdx == 1 {
			moved = true
		}
	}
	require.True(t, moved, "a bucket should have migrated off the overloaded slave")

	require.Equal(t, uint64(50), p.Bond.Hash[2].TxBytes, "counters age by half after the pass")
}
