package reconfigure

import (
	"crypto/sha1"
	"encoding/binary"
	"net"
	"sort"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/kubeovn/ovsbridge/pkg/config"
	"github.com/kubeovn/ovsbridge/pkg/model"
)

// pickBridgeMAC implements §4.2.1.
func (e *Engine) pickBridgeMAC(bridge *model.Bridge, cfg config.BridgeConfig) {
	if hwaddr, ok := cfg.OtherConfig["hwaddr"]; ok {
		if mac, err := net.ParseMAC(hwaddr); err == nil && !model.IsMulticastMAC(mac) && !model.IsZeroMAC(mac) {
			bridge.SelectedMAC = mac
			bridge.HwAddrIface = nil
			return
		}
	}

	var bestMAC net.HardwareAddr
	var bestIface *model.Iface

	names := make([]string, 0, len(bridge.Ports))
	for _, p := range bridge.Ports {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	byName := make(map[string]*model.Port, len(bridge.Ports))
	for _, p := range bridge.Ports {
		byName[p.Name] = p
	}

	for _, name := range names {
		port := byName[name]
		if port.IsMirrorOutputPort {
			continue
		}
		mac, iface := candidateMAC(e, bridge, port, portConfigFor(bridge, name, cfg.Ports))
		if mac == nil || !model.QualifiesAsBridgeMAC(mac) {
			continue
		}
		if bestMAC == nil || model.CompareMAC(mac, bestMAC) < 0 {
			bestMAC = mac
			bestIface = iface
		}
	}

	if bestMAC == nil {
		bridge.SelectedMAC = bridge.DefaultMAC
		bridge.HwAddrIface = nil
		return
	}
	bridge.SelectedMAC = bestMAC
	bridge.HwAddrIface = bestIface
}

func portConfigFor(bridge *model.Bridge, name string, ports map[string]config.PortConfig) config.PortConfig {
	return ports[name]
}

// candidateMAC resolves the per-port candidate MAC of §4.2.1 step 2:
// a pinned port MAC, or the current MAC of the iface whose name sorts
// first (skipping the bridge's own local iface).
func candidateMAC(e *Engine, bridge *model.Bridge, port *model.Port, cfg config.PortConfig) (net.HardwareAddr, *model.Iface) {
	if cfg.HwAddr != "" {
		if mac, err := net.ParseMAC(cfg.HwAddr); err == nil {
			return mac, findIfaceHoldingMAC(e, port, mac)
		}
		klog.Warningf("reconfigure: port %q has unparsable hwaddr %q", port.Name, cfg.HwAddr)
	}

	ifaces := append([]*model.Iface(nil), port.Ifaces...)
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Name < ifaces[j].Name })
	if len(ifaces) == 0 {
		return nil, nil
	}
	first := ifaces[0]
	if first.IsLocal() {
		return nil, nil
	}
	if e.Netdevs == nil {
		return nil, nil
	}
	mac, ok := e.Netdevs.CurrentMAC(first)
	if !ok {
		return nil, nil
	}
	return mac, first
}

func findIfaceHoldingMAC(e *Engine, port *model.Port, mac net.HardwareAddr) *model.Iface {
	if e.Netdevs == nil {
		return nil
	}
	for _, iface := range port.Ifaces {
		if cur, ok := e.Netdevs.CurrentMAC(iface); ok && model.CompareMAC(cur, mac) == 0 {
			return iface
		}
	}
	return nil
}

// pickDatapathID implements §4.2.2.
func (e *Engine) pickDatapathID(bridge *model.Bridge, cfg config.BridgeConfig) {
	if raw, ok := cfg.OtherConfig["datapath-id"]; ok {
		if id, err := parseDatapathID(raw); err == nil {
			bridge.DatapathID = id
			return
		}
	}

	if bridge.HwAddrIface != nil {
		if vlan, ok := ifaceVlan(bridge.HwAddrIface); ok {
			bridge.DatapathID = hashDatapathID(bridge.SelectedMAC, vlan)
			return
		}
	}

	if e.HostID != nil {
		if uuid, ok := e.HostID.HostUUID(); ok {
			sum := sha1.Sum([]byte(uuid + "," + bridge.Name))
			id := binary.BigEndian.Uint64(append([]byte{0, 0}, sum[:6]...))
			bridge.DatapathID = id
			return
		}
	}

	bridge.DatapathID = macToDatapathID(bridge.SelectedMAC)
}

func parseDatapathID(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}

func ifaceVlan(iface *model.Iface) (uint16, bool) {
	port := iface.Port
	if port == nil || port.VlanMode != model.VlanModeAccess {
		return 0, false
	}
	return uint16(port.Vlan), true
}

func hashDatapathID(mac net.HardwareAddr, vlan uint16) uint64 {
	buf := make([]byte, 0, 8)
	buf = append(buf, mac...)
	var vlanBE [2]byte
	binary.BigEndian.PutUint16(vlanBE[:], vlan)
	buf = append(buf, vlanBE[:]...)
	sum := sha1.Sum(buf)
	sum[0] |= 0x02 // locally-administered
	id := uint64(0)
	for i := 0; i < 6; i++ {
		id = id<<8 | uint64(sum[i])
	}
	return id
}

func macToDatapathID(mac net.HardwareAddr) uint64 {
	id := uint64(0)
	for _, b := range mac {
		id = id<<8 | uint64(b)
	}
	return id
}
