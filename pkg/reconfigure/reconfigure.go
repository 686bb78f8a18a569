// Package reconfigure implements the diff-and-apply engine that
// reconciles a desired configuration snapshot with the running Bridge
// model, including the underlying datapath's port set (§4.1).
package reconfigure

import (
	"errors"
	"net"

	"k8s.io/klog/v2"

	"github.com/kubeovn/ovsbridge/pkg/config"
	"github.com/kubeovn/ovsbridge/pkg/mactable"
	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/tag"
)

// NetdevConfigurator is the collaborator that turns an Iface into a
// live network device: resolving its current MAC (for MAC-selection
// candidates), and programming its MAC and ingress policing once the
// bridge has committed to a configuration.
type NetdevConfigurator interface {
	CurrentMAC(iface *model.Iface) (net.HardwareAddr, bool)
	SetMAC(iface *model.Iface, mac net.HardwareAddr) error
	SetIngressPolicing(iface *model.Iface, rateKbps, burstKb int64) error
}

// HostIDProvider supplies the platform host identifier used as a
// datapath-id fallback (§4.2.2 step 3).
type HostIDProvider interface {
	HostUUID() (string, bool)
}

// NetdevResolver opens the kernel network device backing a resolved
// datapath port, e.g. via netlink. An iface that cannot be resolved
// here is pruned (§4.1 step 5, "ifaces that failed to obtain a
// netdev").
type NetdevResolver interface {
	Resolve(name string) (model.Netdev, bool)
}

// DatapathFactory creates and destroys the per-bridge datapath handle
// and OpenFlow engine connection; bridge creation only fails at this
// boundary (§4.1, "only a failed datapath create aborts the creation
// of that bridge").
type DatapathFactory interface {
	CreateBridge(name string) (model.Datapath, model.OFProtoEngine, error)
	DestroyBridge(name string) error
}

// Engine holds the collaborators the reconfigure pipeline needs beyond
// the model itself.
type Engine struct {
	Bridges map[string]*model.Bridge

	Datapaths     DatapathFactory
	Netdevs       NetdevConfigurator
	NetdevResolve NetdevResolver
	HostID        HostIDProvider
	TagAlloc      *tag.Allocator
	NowMS         func() int64
}

// NewEngine returns an Engine with an empty bridge set.
func NewEngine(datapaths DatapathFactory, netdevs NetdevConfigurator, netdevResolve NetdevResolver, hostID HostIDProvider, alloc *tag.Allocator, nowMS func() int64) *Engine {
	return &Engine{
		Bridges:       make(map[string]*model.Bridge),
		Datapaths:     datapaths,
		Netdevs:       netdevs,
		NetdevResolve: netdevResolve,
		HostID:        hostID,
		TagAlloc:      alloc,
		NowMS:         nowMS,
	}
}

// Bridge returns the running bridge with the given name, for the
// administrative command server.
func (e *Engine) Bridge(name string) (*model.Bridge, bool) {
	b, ok := e.Bridges[name]
	return b, ok
}

// Reconfigure applies snapshot to the running model (§4.1 steps 1-10).
func (e *Engine) Reconfigure(snapshot config.Snapshot) {
	e.diffBridges(snapshot)

	for name, bridge := range e.Bridges {
		cfg, ok := snapshot.Bridges[name]
		if !ok {
			continue
		}
		e.reconfigureBridge(bridge, cfg)
	}

	e.reconcileDatapathPortsPass1(snapshot)
	e.reconcileDatapathPortsPass2(snapshot)

	for name, bridge := range e.Bridges {
		e.resolveDpIfidx(bridge)
		e.pruneIfaces(bridge)

		e.pickBridgeMAC(bridge, snapshot.Bridges[name])
		e.pickDatapathID(bridge, snapshot.Bridges[name])

		e.pushEngineConfig(bridge, snapshot.Bridges[name])

		for _, port := range bridge.Ports {
			e.updateVlanCompat(port)
			e.updateBondCompat(port)
		}
		for _, port := range bridge.Ports {
			for _, iface := range port.Ifaces {
				e.programIface(bridge, iface, snapshot.Bridges[name])
			}
		}

		e.reconcileMirrors(bridge, snapshot.Bridges[name])
	}
}

// diffBridges implements §4.1 step 1.
func (e *Engine) diffBridges(snapshot config.Snapshot) {
	seen := make(map[string]struct{}, len(snapshot.Bridges))
	for name := range snapshot.Bridges {
		if _, dup := seen[name]; dup {
			klog.Warningf("reconfigure: duplicate bridge name %q in snapshot, dropping second occurrence", name)
			continue
		}
		seen[name] = struct{}{}
	}

	for name := range e.Bridges {
		if _, keep := snapshot.Bridges[name]; !keep {
			e.destroyBridge(name)
		}
	}

	for name := range seen {
		if _, exists := e.Bridges[name]; exists {
			continue
		}
		dp, ofproto, err := e.Datapaths.CreateBridge(name)
		if err != nil {
			klog.Errorf("reconfigure: failed to create datapath for bridge %q, skipping: %v", name, err)
			continue
		}
		b := model.NewBridge(name)
		b.Datapath = dp
		b.OFProto = ofproto
		b.MacTable = mactable.New(e.TagAlloc)
		e.Bridges[name] = b
	}
}

func (e *Engine) destroyBridge(name string) {
	if err := e.Datapaths.DestroyBridge(name); err != nil {
		klog.Errorf("reconfigure: failed to destroy datapath for bridge %q: %v", name, err)
	}
	delete(e.Bridges, name)
}

// reconcileDatapathPortsPass1 implements §4.1 step 3 pass 1: delete any
// datapath port whose name is neither the bridge name nor a desired
// interface.
func (e *Engine) reconcileDatapathPortsPass1(snapshot config.Snapshot) {
	for name, bridge := range e.Bridges {
		cfg, ok := snapshot.Bridges[name]
		if !ok || bridge.Datapath == nil {
			continue
		}
		desired := desiredIfaceNames(cfg)
		ports, err := bridge.Datapath.ListPorts()
		if err != nil {
			klog.Errorf("reconfigure: failed to list datapath ports for bridge %q: %v", name, err)
			continue
		}
		for _, p := range ports {
			if p.Name == name {
				continue
			}
			if _, want := desired[p.Name]; want {
				continue
			}
			if err := bridge.Datapath.DeletePort(p.Name); err != nil {
				klog.Errorf("reconfigure: failed to delete stale datapath port %q on bridge %q: %v", p.Name, name, err)
			}
		}
	}
}

// reconcileDatapathPortsPass2 implements §4.1 step 3 pass 2: add every
// desired interface missing from the datapath, or reconfigure it if
// already present.
func (e *Engine) reconcileDatapathPortsPass2(snapshot config.Snapshot) {
	for name, bridge := range e.Bridges {
		cfg, ok := snapshot.Bridges[name]
		if !ok || bridge.Datapath == nil {
			continue
		}
		present := make(map[string]struct{})
		ports, err := bridge.Datapath.ListPorts()
		if err != nil {
			klog.Errorf("reconfigure: failed to list datapath ports for bridge %q: %v", name, err)
			continue
		}
		for _, p := range ports {
			present[p.Name] = struct{}{}
		}

	bridgeLoop:
		for _, portCfg := range cfg.Ports {
			for ifaceName, ifaceCfg := range portCfg.Ifaces {
				if _, ok := present[ifaceName]; ok {
					if err := bridge.Datapath.ReconfigurePort(ifaceName); err != nil {
						klog.Errorf("reconfigure: failed to reconfigure datapath port %q on bridge %q: %v", ifaceName, name, err)
					}
					continue
				}
				internal := ifaceName == name || ifaceCfg.Type == "internal"
				if err := bridge.Datapath.AddPort(ifaceName, internal); err != nil {
					if errors.Is(err, model.ErrTooManyPorts) {
						klog.Errorf("reconfigure: bridge %q hit the datapath port limit, stopping additions", name)
						break bridgeLoop
					}
					klog.Errorf("reconfigure: failed to add datapath port %q on bridge %q: %v", ifaceName, name, err)
				}
			}
		}
	}
}

func desiredIfaceNames(cfg config.BridgeConfig) map[string]struct{} {
	out := make(map[string]struct{})
	for _, p := range cfg.Ports {
		for ifaceName := range p.Ifaces {
			out[ifaceName] = struct{}{}
		}
	}
	return out
}

// resolveDpIfidx implements §4.1 step 4.
func (e *Engine) resolveDpIfidx(bridge *model.Bridge) {
	for _, iface := range bridgeIfaces(bridge) {
		bridge.UnresolveIface(iface)
	}
	if bridge.Datapath == nil {
		return
	}
	ports, err := bridge.Datapath.ListPorts()
	if err != nil {
		klog.Errorf("reconfigure: failed to list datapath ports for bridge %q: %v", bridge.Name, err)
		return
	}

	byName := make(map[string]*model.Iface)
	for _, iface := range bridgeIfaces(bridge) {
		byName[iface.Name] = iface
	}

	seenPortNo := make(map[int32]struct{})
	for _, p := range ports {
		iface, ok := byName[p.Name]
		if !ok {
			continue
		}
		if _, dup := seenPortNo[p.PortNo]; dup {
			klog.Warningf("reconfigure: duplicate datapath port number %d on bridge %q, ignoring %q", p.PortNo, bridge.Name, p.Name)
			continue
		}
		dpIfidx := p.PortNo
		if p.Name == bridge.Name {
			dpIfidx = model.DpIfidxLocal
		}
		seenPortNo[p.PortNo] = struct{}{}
		bridge.ResolveIface(iface, dpIfidx)

		if e.NetdevResolve != nil {
			if nd, ok := e.NetdevResolve.Resolve(p.Name); ok {
				iface.Netdev = nd
			}
		}
	}
}

// pruneIfaces implements §4.1 step 5.
func (e *Engine) pruneIfaces(bridge *model.Bridge) {
	for pi := len(bridge.Ports) - 1; pi >= 0; pi-- {
		port := bridge.Ports[pi]
		for ii := len(port.Ifaces) - 1; ii >= 0; ii-- {
			iface := port.Ifaces[ii]
			if iface.Netdev == nil || iface.DpIfidx == model.DpIfidxUnresolved {
				klog.V(2).Infof("reconfigure: pruning iface %q on bridge %q (no netdev or unresolved dp_ifidx)", iface.Name, bridge.Name)
				_ = port.RemoveIface(ii)
			}
		}
		if len(port.Ifaces) == 0 {
			klog.V(2).Infof("reconfigure: pruning empty port %q on bridge %q", port.Name, bridge.Name)
			_ = bridge.RemovePort(pi)
		}
	}
}

func bridgeIfaces(bridge *model.Bridge) []*model.Iface {
	var out []*model.Iface
	for _, p := range bridge.Ports {
		out = append(out, p.Ifaces...)
	}
	return out
}

// pushEngineConfig implements §4.1 step 7.
func (e *Engine) pushEngineConfig(bridge *model.Bridge, cfg config.BridgeConfig) {
	if bridge.OFProto == nil {
		return
	}
	if cfg.NetFlow != nil {
		if err := bridge.OFProto.SetNetFlow(model.NetFlowConfig{
			Enabled:        cfg.NetFlow.Enabled,
			CollectorsIDs:  cfg.NetFlow.Collectors,
			ActiveTimeoutS: cfg.NetFlow.ActiveTimeoutS,
			AddIDToIface:   cfg.NetFlow.AddIDToIface,
		}); err != nil {
			klog.Errorf("reconfigure: failed to set NetFlow config on bridge %q: %v", bridge.Name, err)
		}
	}
	if err := bridge.OFProto.SetInBand(cfg.InBand); err != nil {
		klog.Errorf("reconfigure: failed to set in-band config on bridge %q: %v", bridge.Name, err)
	}
	if cfg.FailureMode != "" {
		if err := bridge.OFProto.SetFailureMode(cfg.FailureMode); err != nil {
			klog.Errorf("reconfigure: failed to set failure mode on bridge %q: %v", bridge.Name, err)
		}
	}
	target := ""
	if cfg.Controller != nil {
		target = cfg.Controller.Target
	}
	if err := bridge.OFProto.SetController(target); err != nil {
		klog.Errorf("reconfigure: failed to set controller on bridge %q: %v", bridge.Name, err)
	}
}

// programIface implements §4.1 step 9.
func (e *Engine) programIface(bridge *model.Bridge, iface *model.Iface, cfg config.BridgeConfig) {
	if e.Netdevs == nil {
		return
	}
	_, ifaceCfg, ok := findIfaceConfig(cfg, iface.Name)
	if !ok {
		return
	}
	if rate := ifaceCfg.IngressPolicingRateKbps; rate != 0 || ifaceCfg.IngressPolicingBurstKb != 0 {
		if err := e.Netdevs.SetIngressPolicing(iface, rate, ifaceCfg.IngressPolicingBurstKb); err != nil {
			klog.Errorf("reconfigure: failed to set ingress policing on %q: %v", iface.Name, err)
		}
	}
	if ifaceCfg.MAC != "" && !iface.IsLocal() {
		mac, err := net.ParseMAC(ifaceCfg.MAC)
		if err != nil {
			klog.Errorf("reconfigure: invalid MAC %q for iface %q: %v", ifaceCfg.MAC, iface.Name, err)
			return
		}
		if err := e.Netdevs.SetMAC(iface, mac); err != nil {
			klog.Errorf("reconfigure: failed to set MAC on %q: %v", iface.Name, err)
		}
	}
}

func findIfaceConfig(cfg config.BridgeConfig, ifaceName string) (config.PortConfig, config.IfaceConfig, bool) {
	for _, p := range cfg.Ports {
		if ic, ok := p.Ifaces[ifaceName]; ok {
			return p, ic, true
		}
	}
	return config.PortConfig{}, config.IfaceConfig{}, false
}
