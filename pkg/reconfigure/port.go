package reconfigure

import (
	"sort"

	"k8s.io/klog/v2"

	"github.com/kubeovn/ovsbridge/pkg/config"
	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/tag"
)

// reconfigureBridge implements §4.2: port diff, then per-port VLAN
// mode/trunks/delays/iface list.
func (e *Engine) reconfigureBridge(bridge *model.Bridge, cfg config.BridgeConfig) {
	e.diffPorts(bridge, cfg)

	claimedIfaces := make(map[string]string) // iface name -> owning port name, first-wins
	for _, port := range bridge.Ports {
		portCfg, ok := cfg.Ports[port.Name]
		if !ok {
			continue
		}
		applyPortConfig(port, portCfg)
		e.diffIfaces(bridge, port, portCfg, claimedIfaces)
	}

	for pi := len(bridge.Ports) - 1; pi >= 0; pi-- {
		if len(bridge.Ports[pi].Ifaces) == 0 {
			_ = bridge.RemovePort(pi)
		}
	}
}

func (e *Engine) diffPorts(bridge *model.Bridge, cfg config.BridgeConfig) {
	for i := len(bridge.Ports) - 1; i >= 0; i-- {
		name := bridge.Ports[i].Name
		if _, keep := cfg.Ports[name]; !keep {
			_ = bridge.RemovePort(i)
		}
	}
	existing := make(map[string]struct{}, len(bridge.Ports))
	for _, p := range bridge.Ports {
		existing[p.Name] = struct{}{}
	}
	for name, portCfg := range cfg.Ports {
		if _, ok := existing[name]; ok {
			continue
		}
		var p *model.Port
		if portCfg.VlanMode == "trunk" {
			bm := &model.TrunkBitmap{}
			for _, v := range portCfg.Trunks {
				bm.Set(v)
			}
			p = model.NewTrunkPort(name, bm)
		} else {
			p = model.NewAccessPort(name, portCfg.Vlan)
		}
		bridge.AddPort(p)
	}
}

func applyPortConfig(port *model.Port, cfg config.PortConfig) {
	if cfg.VlanMode == "trunk" {
		port.VlanMode = model.VlanModeTrunk
		port.Vlan = -1
		bm := &model.TrunkBitmap{}
		for _, v := range cfg.Trunks {
			bm.Set(v)
		}
		port.Trunks = bm
	} else {
		port.VlanMode = model.VlanModeAccess
		port.Vlan = cfg.Vlan
		port.Trunks = nil
	}
	port.Bond.UpdelayMS = cfg.UpdelayMS
	port.Bond.DowndelayMS = cfg.DowndelayMS
}

// diffIfaces creates/destroys ifaces on port per cfg, enforcing that a
// duplicate interface name across ports within one bridge is resolved
// by keeping the first one seen in configuration order.
func (e *Engine) diffIfaces(bridge *model.Bridge, port *model.Port, cfg config.PortConfig, claimed map[string]string) {
	names := make([]string, 0, len(cfg.Ifaces))
	for name := range cfg.Ifaces {
		names = append(names, name)
	}
	sort.Strings(names)

	desired := make(map[string]struct{})
	for _, name := range names {
		if owner, dup := claimed[name]; dup {
			klog.Warningf("reconfigure: iface %q claimed by both port %q and %q, keeping %q", name, owner, port.Name, owner)
			continue
		}
		claimed[name] = port.Name
		desired[name] = struct{}{}
		if port.FindIface(name) == nil {
			port.AddIface(model.NewIface(name, e.TagAlloc))
		}
	}

	for i := len(port.Ifaces) - 1; i >= 0; i-- {
		if _, keep := desired[port.Ifaces[i].Name]; !keep {
			if iface := port.Ifaces[i]; iface.DpIfidx >= 0 {
				bridge.UnresolveIface(iface)
			}
			_ = port.RemoveIface(i)
		}
	}
}

// updateVlanCompat implements the per-port "update VLAN-compat shim"
// step of §4.1 step 8: nothing in this core owns a compatibility flag
// of its own, so this recomputes the derived bond_compat_is_stale-style
// dirtiness that downstream OVSDB/compat layers would otherwise have
// to poll for.
func (e *Engine) updateVlanCompat(port *model.Port) {
	port.Bond.CompatIsStale = true
}

// updateBondCompat re-derives is_mirror_output_port-independent bond
// bookkeeping after a reconfigure pass: mints no_ifaces_tag once, and
// ensures active_iface still points at an enabled iface, switching to
// the first enabled iface when it does not (e.g. the previously active
// iface was just pruned), or to -1 when none is enabled. Unlike
// bond.ChooseIface, it never forces a pending iface enabled.
func (e *Engine) updateBondCompat(port *model.Port) {
	if !port.IsBond() {
		return
	}
	if port.Bond.NoIfacesTag == tag.Zero {
		port.Bond.NoIfacesTag = e.TagAlloc.Fresh()
	}
	if idx := port.Bond.ActiveIface; idx >= 0 && idx < len(port.Ifaces) && port.Ifaces[idx].Enabled {
		return
	}
	for i, iface := range port.Ifaces {
		if iface.Enabled {
			port.Bond.ActiveIface = i
			return
		}
	}
	port.Bond.ActiveIface = -1
}
