package ovs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// OvsOfCtl is the ovs-ofctl binary name, resolved via PATH.
const OvsOfCtl = "ovs-ofctl"

// OfctlExec runs ovs-ofctl with the given arguments and returns its
// trimmed stdout+stderr. It shares ovs-vsctl's Exec rate limiter
// since both ultimately serialize against the same ovs-vswitchd.
func OfctlExec(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("ovs-ofctl: concurrency limiter: %w", err)
	}
	output, err := exec.Command(OvsOfCtl, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to run '%s %s': %w\n  %q", OvsOfCtl, strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output)), nil
}

// DumpFlows returns bridge's installed flow table in ovs-ofctl's text
// format, for the admin bridge/dump-flows command.
func DumpFlows(bridge string) (string, error) {
	return OfctlExec("dump-flows", bridge)
}

// DelFlowsByCookie removes every flow on bridge whose cookie matches
// cookie exactly, implementing tag-based revalidation (§4.6): when each
// installed flow's cookie is one of its dependency tags, deleting by
// cookie expires exactly the facets that depended on the invalidated
// state.
func DelFlowsByCookie(bridge string, cookie uint64) error {
	_, err := OfctlExec("del-flows", bridge, fmt.Sprintf("cookie=%d/-1", cookie))
	return err
}
