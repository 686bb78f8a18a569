package forwarding

import (
	"time"

	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/tag"
)

// dropLogLimiter rate-limits the noisy "dropped for VLAN mismatch"
// path so a misconfigured trunk flooding the core with rejected
// frames cannot also flood the log.
var dropLogLimiter = rate.NewLimiter(rate.Every(5*time.Second), 5)

// Result carries process_flow's outputs.
type Result struct {
	Actions           []Action
	Deps              tag.Set
	NotableOutputIface *model.Iface
	Applicable        bool
}

// ProcessFlow is the forwarding decision of §4.3. isPacket is false for
// a revalidation pass (no real packet attached).
func ProcessFlow(bridge *model.Bridge, flow Flow, isPacket bool, nowMS int64, sink tag.Sink) Result {
	deps := tag.NewSet()
	noop := Result{Deps: deps, Applicable: true}

	inIface, ok := bridge.IfaceByPortNo(flow.InDpIfidx)
	if !ok {
		return noop
	}
	inPort := inIface.Port

	vlan, drop := classifyVlan(inPort, flow.DlVlan)
	if drop {
		return noop
	}

	if model.IsReservedMAC(flow.DlDst) || inPort.IsMirrorOutputPort {
		return noop
	}

	if inPort.IsBond() {
		if model.IsMulticastMAC(flow.DlDst) {
			deps.Add(inPort.Bond.ActiveIfaceTag)
			if inPort.Bond.ActiveIface < 0 || inPort.Ifaces[inPort.Bond.ActiveIface] != inIface {
				return noop
			}
		}
		if learnedPort, found := bridge.MacTable.Lookup(flow.DlSrc, vlan); found && learnedPort != inPort.PortIdx && !flow.IsBroadcastARPReply {
			return noop
		}
	}

	if isPacket {
		if oldTag, moved := bridge.MacTable.Learn(flow.DlSrc, vlan, inPort.PortIdx); moved {
			tag.RevalidateAll(sink, oldTag)
		}
	}

	outPortIdx, found := bridge.MacTable.LookupTag(flow.DlDst, vlan, deps)
	flood := !found
	if !isPacket && flood && !model.IsMulticastMAC(flow.DlDst) {
		return Result{Deps: deps, Applicable: false}
	}

	var outPort *model.Port
	if !flood {
		if outPortIdx < 0 || outPortIdx >= len(bridge.Ports) {
			flood = true
		} else {
			outPort = bridge.Ports[outPortIdx]
		}
	}

	if outPort != nil && outPort == inPort {
		return noop
	}

	actions, notable := composeActions(bridge, inPort, outPort, flood, vlan, flow, nowMS, deps)
	return Result{Actions: actions, Deps: deps, NotableOutputIface: notable, Applicable: true}
}

// classifyVlan implements flow_get_vlan (§4.3 step 2).
func classifyVlan(inPort *model.Port, dlVlan uint16) (vlan uint16, drop bool) {
	vlan = dlVlan
	if vlan == VlanNoneTag {
		vlan = 0
	}

	if inPort.VlanMode == model.VlanModeAccess {
		if dlVlan != VlanNoneTag && dlVlan != 0 {
			if dropLogLimiter.Allow() {
				klog.Warningf("forwarding: dropping tagged frame on access port %q", inPort.Name)
			}
			return 0, true
		}
		return uint16(inPort.Vlan), false
	}

	if !inPort.Trunks.Test(int(vlan)) {
		if dropLogLimiter.Allow() {
			klog.Warningf("forwarding: dropping frame for VLAN %d not trunked on port %q", vlan, inPort.Name)
		}
		return 0, true
	}
	return vlan, false
}
