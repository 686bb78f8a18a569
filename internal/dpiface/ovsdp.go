package dpiface

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/ovs"
	"github.com/kubeovn/ovsbridge/pkg/tag"
)

// Factory creates and destroys the per-bridge ovs-vsctl/ovs-ofctl
// handles, implementing reconfigure.DatapathFactory.
type Factory struct{}

// CreateBridge ensures bridge exists in the real switch and returns its
// datapath-port and OpenFlow-engine adapters.
func (Factory) CreateBridge(name string) (model.Datapath, model.OFProtoEngine, error) {
	if err := ovs.AddBridge(name); err != nil {
		return nil, nil, fmt.Errorf("dpiface: failed to create bridge %q: %w", name, err)
	}
	return OVSDatapath{bridge: name}, OVSOFProto{bridge: name}, nil
}

// DestroyBridge removes bridge from the real switch.
func (Factory) DestroyBridge(name string) error {
	return ovs.DeleteBridge(name)
}

// OVSDatapath implements model.Datapath against a single real OVS
// bridge's port table via ovs-vsctl.
type OVSDatapath struct {
	bridge string
}

// ListPorts returns every port ovs-vsctl has attached to this bridge,
// together with the OpenFlow port number ovs-vswitchd assigned each
// one. A port whose number is not yet assigned is left out of the
// result.
func (d OVSDatapath) ListPorts() ([]model.DatapathPort, error) {
	names, err := ovs.ListPorts(d.bridge)
	if err != nil {
		return nil, fmt.Errorf("dpiface: failed to list ports on %q: %w", d.bridge, err)
	}
	out := make([]model.DatapathPort, 0, len(names))
	for _, name := range names {
		no, ok := ovs.OFPort(name)
		if !ok {
			continue
		}
		out = append(out, model.DatapathPort{Name: name, PortNo: no})
	}
	return out, nil
}

// AddPort attaches a new port, translating ovs-vsctl's "too many
// ports" failure into model.ErrTooManyPorts so reconfigure can detect
// it without matching error text (§4.1 step 3).
func (d OVSDatapath) AddPort(name string, internal bool) error {
	if err := ovs.AddPort(d.bridge, name, internal); err != nil {
		if isPortTableFull(err) {
			return model.ErrTooManyPorts
		}
		return fmt.Errorf("dpiface: failed to add port %q to %q: %w", name, d.bridge, err)
	}
	return nil
}

// DeletePort detaches a port from the bridge.
func (d OVSDatapath) DeletePort(name string) error {
	if err := ovs.DeletePort(d.bridge, name); err != nil {
		return fmt.Errorf("dpiface: failed to delete port %q from %q: %w", name, d.bridge, err)
	}
	return nil
}

// ReconfigurePort re-applies a port's OVS-level type/options; ovs-vsctl
// set is idempotent, so reconfiguring is just re-adding.
func (d OVSDatapath) ReconfigurePort(name string) error {
	_, err := ovs.Exec("--may-exist", "add-port", d.bridge, name)
	return err
}

func isPortTableFull(err error) bool {
	// ovsdb-server reports EFBIG in the error text when a table's
	// maxRows constraint is exceeded; there is no structured error code
	// over the ovs-vsctl CLI boundary to check instead.
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "efbig")
}

// OVSOFProto implements model.OFProtoEngine against a single real OVS
// bridge's controller/netflow/fail-mode settings and flow table.
type OVSOFProto struct {
	bridge string
}

// Revalidate purges every installed flow tagged with t's cookie so the
// next packet that would have hit it re-enters ProcessFlow instead.
// This assumes that whatever installs flows gives each one a cookie
// equal to one of its dependency tags; the core itself installs no
// flows. Deleting by cookie is how OVS's own revalidator expires
// facets tied to stale state.
func (o OVSOFProto) Revalidate(t tag.Tag) {
	if t == tag.Zero {
		return
	}
	if err := ovs.DelFlowsByCookie(o.bridge, uint64(t)); err != nil {
		klog.V(4).Infof("dpiface: revalidate tag %d on %s: %v", t, o.bridge, err)
	}
}

// SetNetFlow pushes the bridge's NetFlow exporter configuration.
func (o OVSOFProto) SetNetFlow(cfg model.NetFlowConfig) error {
	if !cfg.Enabled {
		return ovs.SetNetFlowTargets(o.bridge, nil, 0, false)
	}
	return ovs.SetNetFlowTargets(o.bridge, cfg.CollectorsIDs, cfg.ActiveTimeoutS, cfg.AddIDToIface)
}

// SetInBand toggles the bridge's in-band control connectivity.
func (o OVSOFProto) SetInBand(enabled bool) error {
	disable := "true"
	if enabled {
		disable = "false"
	}
	return ovs.Set("bridge", o.bridge, "other_config:disable-in-band="+disable)
}

// SetFailureMode sets the bridge's controller failure mode.
func (o OVSOFProto) SetFailureMode(mode string) error {
	return ovs.SetFailMode(o.bridge, mode)
}

// SetController points the bridge's OpenFlow controller at target, or
// clears it when target is empty.
func (o OVSOFProto) SetController(target string) error {
	return ovs.SetControllerTarget(o.bridge, target)
}

// DumpFlows returns ovs-ofctl's raw "dump-flows" text for the admin
// bridge/dump-flows command.
func (o OVSOFProto) DumpFlows(bridge string) (string, error) {
	return ovs.DumpFlows(bridge)
}
