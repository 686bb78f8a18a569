package ovs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// ovs-vsctl is not installed in the test sandbox; every call is
// expected to fail, exactly as the teacher's own command-wrapper tests
// assert (see _examples/kubeovn-kube-ovn/pkg/ovs/ovs-vsctl_test.go).

func TestExecFailsWithoutBinary(t *testing.T) {
	out, err := Exec("show")
	require.Error(t, err)
	require.Empty(t, out)
}

func TestListBridgesFailsWithoutBinary(t *testing.T) {
	out, err := ListBridges()
	require.Error(t, err)
	require.Empty(t, out)
}

func TestAddBridgeFailsWithoutBinary(t *testing.T) {
	require.Error(t, AddBridge("br0"))
}

func TestAddPortFailsWithoutBinary(t *testing.T) {
	require.Error(t, AddPort("br0", "eth0", false))
}

func TestOFPortNotFoundWithoutBinary(t *testing.T) {
	_, ok := OFPort("eth0")
	require.False(t, ok)
}

func TestSplitLinesIgnoresBlankLines(t *testing.T) {
	got := splitLines("br0\n\nbr1\n")
	require.Equal(t, []string{"br0", "br1"}, got)
}

func TestSplitLinesEmptyInput(t *testing.T) {
	require.Nil(t, splitLines(""))
}
