package forwarding

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kubeovn/ovsbridge/pkg/mactable"
	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/tag"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

func newTestBridge(t *testing.T) (*model.Bridge, *model.Port, *model.Port) {
	t.Helper()
	b := model.NewBridge("br0")
	alloc := tag.NewAllocator()
	b.MacTable = mactable.New(alloc)

	p1 := model.NewAccessPort("p1", 10)
	i1 := model.NewIface("p1", alloc)
	p1.AddIface(i1)
	b.AddPort(p1)
	b.ResolveIface(i1, 1)
	i1.Enabled = true

	p2 := model.NewAccessPort("p2", 10)
	i2 := model.NewIface("p2", alloc)
	p2.AddIface(i2)
	b.AddPort(p2)
	b.ResolveIface(i2, 2)
	i2.Enabled = true

	return b, p1, p2
}

func TestProcessFlowUnknownInPortDrops(t *testing.T) {
	b, _, _ := newTestBridge(t)
	res := ProcessFlow(b, Flow{InDpIfidx: 999, DlSrc: mustMAC(t, "00:00:00:00:00:01"), DlDst: mustMAC(t, "00:00:00:00:00:02"), DlVlan: VlanNoneTag}, true, 0, nil)
	require.True(t, res.Applicable)
	require.Empty(t, res.Actions)
}

func TestProcessFlowLearnsAndFloodsUnknownDest(t *testing.T) {
	b, _, _ := newTestBridge(t)
	src := mustMAC(t, "00:00:00:00:00:01")
	dst := mustMAC(t, "00:00:00:00:00:02")

	res := ProcessFlow(b, Flow{InDpIfidx: 1, DlSrc: src, DlDst: dst, DlVlan: VlanNoneTag}, true, 0, nil)
	require.True(t, res.Applicable)
	require.Len(t, res.Actions, 1, "only p2 should receive the flooded frame")
	require.Equal(t, ActionOutput, res.Actions[0].Kind)
	require.Equal(t, int32(2), res.Actions[0].DpIfidx)

	portIdx, found := b.MacTable.Lookup(src, 10)
	require.True(t, found)
	require.Equal(t, 0, portIdx)
}

func TestProcessFlowKnownDestUnicasts(t *testing.T) {
	b, _, p2 := newTestBridge(t)
	src := mustMAC(t, "00:00:00:00:00:01")
	dst := mustMAC(t, "00:00:00:00:00:02")
	b.MacTable.Learn(dst, 10, p2.PortIdx)

	res := ProcessFlow(b, Flow{InDpIfidx: 1, DlSrc: src, DlDst: dst, DlVlan: VlanNoneTag}, true, 0, nil)
	require.True(t, res.Applicable)
	require.Len(t, res.Actions, 1)
	require.Equal(t, ActionOutput, res.Actions[0].Kind)
	require.Equal(t, p2.Ifaces[0].DpIfidx, res.Actions[0].DpIfidx)
}

func TestProcessFlowHairpinSuppressed(t *testing.T) {
	b, p1, _ := newTestBridge(t)
	src := mustMAC(t, "00:00:00:00:00:01")
	dst := mustMAC(t, "00:00:00:00:00:02")
	b.MacTable.Learn(dst, 10, p1.PortIdx)

	res := ProcessFlow(b, Flow{InDpIfidx: 1, DlSrc: src, DlDst: dst, DlVlan: VlanNoneTag}, true, 0, nil)
	require.True(t, res.Applicable)
	require.Empty(t, res.Actions, "never hairpin back out the ingress port")
}

func TestProcessFlowRevalidationRefusesFloodInstall(t *testing.T) {
	b, _, _ := newTestBridge(t)
	src := mustMAC(t, "00:00:00:00:00:01")
	dst := mustMAC(t, "00:00:00:00:00:02")

	res := ProcessFlow(b, Flow{InDpIfidx: 1, DlSrc: src, DlDst: dst, DlVlan: VlanNoneTag}, false, 0, nil)
	require.False(t, res.Applicable, "revalidation of an unknown unicast dest must refuse to cache a flood rule")
}

func TestProcessFlowAccessPortRejectsTaggedFrame(t *testing.T) {
	b, _, _ := newTestBridge(t)
	src := mustMAC(t, "00:00:00:00:00:01")
	dst := mustMAC(t, "00:00:00:00:00:02")

	res := ProcessFlow(b, Flow{InDpIfidx: 1, DlSrc: src, DlDst: dst, DlVlan: 20}, true, 0, nil)
	require.True(t, res.Applicable)
	require.Empty(t, res.Actions)
}
