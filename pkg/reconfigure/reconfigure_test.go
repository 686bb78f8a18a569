package reconfigure

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kubeovn/ovsbridge/pkg/config"
	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/tag"
)

type fakeDatapath struct {
	ports map[string]int32
	next  int32
}

func newFakeDatapath() *fakeDatapath {
	return &fakeDatapath{ports: make(map[string]int32), next: 1}
}

func (d *fakeDatapath) ListPorts() ([]model.DatapathPort, error) {
	out := make([]model.DatapathPort, 0, len(d.ports))
	for name, no := range d.ports {
		out = append(out, model.DatapathPort{Name: name, PortNo: no})
	}
	return out, nil
}

func (d *fakeDatapath) AddPort(name string, internal bool) error {
	d.ports[name] = d.next
	d.next++
	return nil
}

func (d *fakeDatapath) DeletePort(name string) error {
	delete(d.ports, name)
	return nil
}

func (d *fakeDatapath) ReconfigurePort(name string) error { return nil }

type fakeOFProto struct{}

func (fakeOFProto) Revalidate(tag.Tag)                        {}
func (fakeOFProto) SetNetFlow(model.NetFlowConfig) error       { return nil }
func (fakeOFProto) SetInBand(bool) error                       { return nil }
func (fakeOFProto) SetFailureMode(string) error                { return nil }
func (fakeOFProto) SetController(string) error                 { return nil }
func (fakeOFProto) DumpFlows(string) (string, error)           { return "", nil }

type fakeFactory struct {
	dps map[string]*fakeDatapath
}

func newFakeFactory() *fakeFactory { return &fakeFactory{dps: make(map[string]*fakeDatapath)} }

func (f *fakeFactory) CreateBridge(name string) (model.Datapath, model.OFProtoEngine, error) {
	dp := newFakeDatapath()
	dp.ports[name] = model.DpIfidxLocal
	f.dps[name] = dp
	return dp, fakeOFProto{}, nil
}

func (f *fakeFactory) DestroyBridge(name string) error {
	delete(f.dps, name)
	return nil
}

type fakeNetdevs struct{}

func (fakeNetdevs) CurrentMAC(iface *model.Iface) (net.HardwareAddr, bool) {
	return net.HardwareAddr{0x02, 0, 0, 0, 0, 1}, true
}
func (fakeNetdevs) SetMAC(*model.Iface, net.HardwareAddr) error           { return nil }
func (fakeNetdevs) SetIngressPolicing(*model.Iface, int64, int64) error { return nil }

type fakeNetdevResolver struct{}

func (fakeNetdevResolver) Resolve(name string) (model.Netdev, bool) { return name, true }

func TestReconfigureCreatesBridgeWithPorts(t *testing.T) {
	factory := newFakeFactory()
	eng := NewEngine(factory, fakeNetdevs{}, fakeNetdevResolver{}, nil, tag.NewAllocator(), func() int64 { return 0 })

	snap := config.Snapshot{Bridges: map[string]config.BridgeConfig{
		"br0": {
			Name: "br0",
			Ports: map[string]config.PortConfig{
				"p1": {Name: "p1", VlanMode: "access", Vlan: 10, Ifaces: map[string]config.IfaceConfig{
					"p1": {Name: "p1"},
				}},
			},
		},
	}}

	eng.Reconfigure(snap)

	br, ok := eng.Bridges["br0"]
	require.True(t, ok)
	require.Len(t, br.Ports, 1)
	require.Equal(t, "p1", br.Ports[0].Name)
	require.NotNil(t, br.SelectedMAC)
}

func TestReconfigureRemovesBridgeNotInSnapshot(t *testing.T) {
	factory := newFakeFactory()
	eng := NewEngine(factory, fakeNetdevs{}, fakeNetdevResolver{}, nil, tag.NewAllocator(), func() int64 { return 0 })

	eng.Reconfigure(config.Snapshot{Bridges: map[string]config.BridgeConfig{"br0": {Name: "br0"}}})
	require.Contains(t, eng.Bridges, "br0")

	eng.Reconfigure(config.Snapshot{Bridges: map[string]config.BridgeConfig{}})
	require.NotContains(t, eng.Bridges, "br0")
}

func TestReconfigureIsIdempotent(t *testing.T) {
	factory := newFakeFactory()
	eng := NewEngine(factory, fakeNetdevs{}, fakeNetdevResolver{}, nil, tag.NewAllocator(), func() int64 { return 0 })

	snap := config.Snapshot{Bridges: map[string]config.BridgeConfig{
		"br0": {
			Name: "br0",
			Ports: map[string]config.PortConfig{
				"p1": {Name: "p1", VlanMode: "access", Vlan: 10, Ifaces: map[string]config.IfaceConfig{
					"p1": {Name: "p1"},
				}},
			},
		},
	}}

	eng.Reconfigure(snap)
	firstMAC := eng.Bridges["br0"].SelectedMAC
	eng.Reconfigure(snap)
	require.Equal(t, firstMAC, eng.Bridges["br0"].SelectedMAC)
	require.Len(t, eng.Bridges["br0"].Ports, 1)
}
