// Package dpiface adapts the reconfigure/bond/model collaborator
// interfaces to a real Linux host: netlink for netdev state, ovs-vsctl
// for the datapath's port table, and a raw socket for bond failover
// frames. The control core itself never imports these packages
// (vishvananda/netlink, the ovs exec wrapper, mdlayher/packet); it only
// ever sees the narrow interfaces reconfigure/bond/model declare.
package dpiface

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"k8s.io/klog/v2"

	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/ovs"
	"github.com/kubeovn/ovsbridge/pkg/util"
)

// NetdevResolver opens the kernel netlink.Link backing a resolved
// datapath port name, implementing reconfigure.NetdevResolver.
type NetdevResolver struct{}

// Resolve looks up name's netlink link, matching
// pkg/daemon/ovs.go's configureHostNic pattern of resolving a device by
// name before operating on it.
func (NetdevResolver) Resolve(name string) (model.Netdev, bool) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		klog.V(4).Infof("dpiface: no netdev for %q: %v", name, err)
		return nil, false
	}
	return link, true
}

// NetdevConfigurator reads and programs an Iface's MAC and ingress rate
// limit, implementing reconfigure.NetdevConfigurator. MAC reads/writes
// go through netlink (the netdev is a local kernel link); ingress
// policing is an OVS interface-table column, so it goes through
// ovs-vsctl instead.
type NetdevConfigurator struct{}

func (NetdevConfigurator) asLink(iface *model.Iface) (netlink.Link, bool) {
	link, ok := iface.Netdev.(netlink.Link)
	return link, ok
}

// CurrentMAC returns iface's live hardware address, for bridge-MAC
// candidate selection (§4.2.1).
func (c NetdevConfigurator) CurrentMAC(iface *model.Iface) (net.HardwareAddr, bool) {
	link, ok := c.asLink(iface)
	if !ok {
		return nil, false
	}
	mac := link.Attrs().HardwareAddr
	if len(mac) == 0 {
		return nil, false
	}
	return mac, true
}

// SetMAC programs iface's hardware address and brings the link up,
// mirroring configureHostNic's up-after-set ordering.
func (c NetdevConfigurator) SetMAC(iface *model.Iface, mac net.HardwareAddr) error {
	link, ok := c.asLink(iface)
	if !ok {
		return fmt.Errorf("dpiface: %s has no resolved netdev", iface.Name)
	}
	if err := netlink.LinkSetHardwareAddr(link, mac); err != nil {
		return fmt.Errorf("dpiface: failed to set %s hwaddr to %s: %w", iface.Name, mac, err)
	}
	if link.Attrs().OperState != netlink.OperUp {
		if err := util.SetLinkUp(iface.Name); err != nil {
			return fmt.Errorf("dpiface: %w", err)
		}
	}
	return nil
}

// SetIngressPolicing sets iface's ingress rate limit via the OVS
// interface table (§4.1 step 9) through ovs.SetIngressPolicing, which
// writes the ingress_policing_rate/burst columns.
func (NetdevConfigurator) SetIngressPolicing(iface *model.Iface, rateKbps, burstKb int64) error {
	return ovs.SetIngressPolicing(iface.Name, rateKbps, burstKb)
}

// CarrierUp reports whether iface's resolved netdev currently has an
// up operational state, the bond link-monitor's carrier signal.
func CarrierUp(iface *model.Iface) bool {
	link, ok := iface.Netdev.(netlink.Link)
	if !ok {
		return false
	}
	return link.Attrs().OperState == netlink.OperUp
}
