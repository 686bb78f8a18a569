// Package ovs wraps the ovs-vsctl and ovs-ofctl command-line tools: the
// boundary through which the control core drives a real Open vSwitch
// installation's datapath-port table and flow table. The core itself
// never shells out; only internal/dpiface's adapters import this
// package.
package ovs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

// OvsVsCtl is the ovs-vsctl binary name, resolved via PATH.
const OvsVsCtl = "ovs-vsctl"

// limiter bounds the rate of ovs-vsctl/ovs-ofctl invocations to 20 per
// second (burst 20); ovsdb-server serializes transactions anyway, so
// an unbounded rate just queues processes instead of speeding anything
// up.
var limiter = rate.NewLimiter(rate.Limit(20), 20)

// UpdateVsctlLimiter resets the limiter's rate (per second) and burst
// to n.
func UpdateVsctlLimiter(n int) {
	if n > 0 {
		limiter.SetLimit(rate.Limit(n))
		limiter.SetBurst(n)
	}
}

// Exec runs ovs-vsctl with the given arguments and returns its trimmed
// stdout+stderr.
func Exec(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("ovs-vsctl: concurrency limiter: %w", err)
	}

	start := time.Now()
	args = append([]string{"--timeout=30"}, args...)
	output, err := exec.Command(OvsVsCtl, args...).CombinedOutput()
	elapsed := time.Since(start)
	if err != nil {
		return "", fmt.Errorf("failed to run '%s %s': %w\n  %q", OvsVsCtl, strings.Join(args, " "), err, output)
	}
	if elapsed > 500*time.Millisecond {
		klog.Warningf("ovs-vsctl %s took %v", strings.Join(args, " "), elapsed)
	}
	return strings.TrimSpace(string(output)), nil
}

// Set runs "ovs-vsctl set TABLE RECORD COLUMN=VALUE ...".
func Set(table, record string, values ...string) error {
	args := append([]string{"set", table, record}, values...)
	_, err := Exec(args...)
	return err
}

// Get runs "ovs-vsctl get TABLE RECORD COLUMN[:KEY]".
func Get(table, record, column, key string) (string, error) {
	col := column
	if key != "" {
		col = column + ":" + key
	}
	return Exec("--if-exists", "get", table, record, col)
}

// Clear runs "ovs-vsctl clear TABLE RECORD COLUMN ...".
func Clear(table, record string, columns ...string) error {
	args := append([]string{"--if-exists", "clear", table, record}, columns...)
	_, err := Exec(args...)
	return err
}

// ListBridges returns every bridge ovs-vsctl knows about.
func ListBridges() ([]string, error) {
	out, err := Exec("list-br")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// BridgeExists reports whether name is a configured bridge.
func BridgeExists(name string) (bool, error) {
	_, err := Exec("br-exists", name)
	if err == nil {
		return true, nil
	}
	// ovs-vsctl br-exists exits 2 (not an error text we can match
	// reliably across versions) when the bridge is absent; any other
	// failure is a real error.
	if exitErr, ok := asExitError(err); ok && exitErr == 2 {
		return false, nil
	}
	return false, err
}

// AddBridge creates bridge if it does not already exist.
func AddBridge(name string) error {
	_, err := Exec("--may-exist", "add-br", name)
	return err
}

// DeleteBridge destroys bridge if present.
func DeleteBridge(name string) error {
	_, err := Exec("--if-exists", "del-br", name)
	return err
}

// AddPort attaches port to bridge. When internal is true the port is
// created as an OVS internal (virtual) interface rather than bound to
// an existing Linux netdev.
func AddPort(bridge, port string, internal bool) error {
	args := []string{"--may-exist", "add-port", bridge, port}
	if internal {
		args = append(args, "--", "set", "interface", port, "type=internal")
	}
	_, err := Exec(args...)
	return err
}

// DeletePort detaches port from bridge.
func DeletePort(bridge, port string) error {
	_, err := Exec("--if-exists", "del-port", bridge, port)
	return err
}

// ListPorts returns every port name ovs-vsctl has attached to bridge.
func ListPorts(bridge string) ([]string, error) {
	out, err := Exec("list-ports", bridge)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// OFPort returns the OpenFlow port number ovs-vswitchd assigned to an
// interface, or false while it is still being resolved (column reads
// back the literal string "[]" until the datapath attaches it).
func OFPort(iface string) (int32, bool) {
	out, err := Get("interface", iface, "ofport", "")
	if err != nil || out == "" || out == "[]" {
		return 0, false
	}
	n, err := strconv.ParseInt(out, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

// SetIngressPolicing sets an interface's ingress rate limit, in Kbps,
// and burst size, in Kb; 0 clears the limit.
func SetIngressPolicing(iface string, rateKbps, burstKb int64) error {
	return Set("interface", iface,
		fmt.Sprintf("ingress_policing_rate=%d", rateKbps),
		fmt.Sprintf("ingress_policing_burst=%d", burstKb))
}

// SetControllerTarget points bridge's controller at target (e.g.
// "tcp:10.0.0.1:6633"), or clears it when target is empty.
func SetControllerTarget(bridge, target string) error {
	if target == "" {
		_, err := Exec("--if-exists", "del-controller", bridge)
		return err
	}
	_, err := Exec("set-controller", bridge, target)
	return err
}

// SetFailMode sets bridge's controller failure mode ("standalone" or
// "secure").
func SetFailMode(bridge, mode string) error {
	_, err := Exec("set-fail-mode", bridge, mode)
	return err
}

// SetNetFlowTargets points bridge's NetFlow exporter at the given
// collector targets, clearing it when targets is empty.
func SetNetFlowTargets(bridge string, targets []string, activeTimeoutS int, addIDToIface bool) error {
	if len(targets) == 0 {
		_, err := Exec("--if-exists", "destroy", "netflow", bridge)
		return err
	}
	quoted := make([]string, len(targets))
	for i, t := range targets {
		quoted[i] = fmt.Sprintf("targets=%q", t)
	}
	args := append([]string{"--", "--id=@nf", "create", "netflow"}, quoted...)
	args = append(args,
		fmt.Sprintf("active_timeout=%d", activeTimeoutS),
		fmt.Sprintf("add_id_to_interface=%t", addIDToIface),
		"--", "set", "bridge", bridge, "netflow=@nf")
	_, err := Exec(args...)
	return err
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func asExitError(err error) (int, bool) {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}
