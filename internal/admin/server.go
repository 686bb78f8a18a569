// Package admin implements the text-protocol administrative command
// server (§6.2): a line-oriented protocol over a local Unix socket,
// each command answered with a 3-digit status code followed by its
// body, in the style of ovs-appctl's own wire format.
package admin

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"github.com/kubeovn/ovsbridge/pkg/bond"
	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/util"
)

const (
	statusOK    = 200
	statusError = 501
)

// BridgeLookup resolves a bridge by name and lists every bridge;
// cmd/vswitchd adapts the running daemon's reconfigure Engine to it.
type BridgeLookup interface {
	Bridge(name string) (*model.Bridge, bool)
	Bridges() map[string]*model.Bridge
}

// Server accepts connections on a Unix socket and answers the §6.2
// administrative commands.
//
// The control core's model (§5) is defined to be mutated from a single
// cooperative loop; connections are accepted and read concurrently,
// but every command is dispatched while holding Mutex, the same lock
// the main loop takes around its reconfigure/run sweep, so the model
// never sees two goroutines inside it at once.
type Server struct {
	SocketPath string
	Bridges    BridgeLookup
	NowMS      func() int64
	Mutex      *sync.Mutex
	// Sender transmits the failover learning packets bond/set-active-slave
	// triggers (§4.4.1); nil is tolerated (SendFailoverLearningPackets is
	// itself a no-op without one).
	Sender bond.FrameSender

	listener net.Listener
}

// Listen creates the Unix socket, removing any stale file left behind
// by a previous instance first.
func (s *Server) Listen() error {
	if err := os.RemoveAll(s.SocketPath); err != nil {
		return fmt.Errorf("admin: failed to clear stale socket %q: %w", s.SocketPath, err)
	}
	l, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("admin: failed to listen on %q: %w", s.SocketPath, err)
	}
	s.listener = l
	return nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			klog.Infof("admin: listener closed: %v", err)
			return
		}
		go s.handleConn(conn)
	}
}

// Close shuts down the listener.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.Mutex.Lock()
		status, body := s.dispatch(line)
		s.Mutex.Unlock()
		fmt.Fprintf(conn, "%03d %s\n", status, body)
	}
}

func (s *Server) dispatch(line string) (int, string) {
	fields := util.DoubleQuotedFields(line)
	if len(fields) == 0 {
		return statusError, "empty command"
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "fdb/show":
		return s.fdbShow(args)
	case "bridge/dump-flows":
		return s.dumpFlows(args)
	case "bond/list":
		return s.bondList(args)
	case "bond/show":
		return s.bondShow(args)
	case "bond/migrate":
		return s.bondMigrate(args)
	case "bond/set-active-slave":
		return s.bondSetActiveSlave(args)
	case "bond/enable-slave":
		return s.bondSetSlaveEnabled(args, true)
	case "bond/disable-slave":
		return s.bondSetSlaveEnabled(args, false)
	case "bond/hash":
		return s.bondHash(args)
	default:
		return statusError, fmt.Sprintf("unknown command %q", cmd)
	}
}

func (s *Server) fdbShow(args []string) (int, string) {
	if len(args) != 1 {
		return statusError, "usage: fdb/show BRIDGE"
	}
	br, ok := s.Bridges.Bridge(args[0])
	if !ok {
		return statusError, fmt.Sprintf("no such bridge %q", args[0])
	}
	var sb strings.Builder
	now := s.now()
	for _, ent := range br.MacTable.Dump(now) {
		if ent.PortIdx < 0 || ent.PortIdx >= len(br.Ports) {
			continue
		}
		fmt.Fprintf(&sb, "%s %d %s %d\n", br.Ports[ent.PortIdx].Name, ent.Vlan, ent.MAC, ent.AgeMS)
	}
	return statusOK, sb.String()
}

func (s *Server) dumpFlows(args []string) (int, string) {
	if len(args) != 1 {
		return statusError, "usage: bridge/dump-flows BRIDGE"
	}
	br, ok := s.Bridges.Bridge(args[0])
	if !ok || br.OFProto == nil {
		return statusError, fmt.Sprintf("no such bridge %q", args[0])
	}
	out, err := br.OFProto.DumpFlows(args[0])
	if err != nil {
		return statusError, err.Error()
	}
	return statusOK, out
}

func (s *Server) bondList(_ []string) (int, string) {
	var sb strings.Builder
	for brName, br := range s.Bridges.Bridges() {
		for _, p := range br.Ports {
			if !p.IsBond() {
				continue
			}
			names := make([]string, 0, len(p.Ifaces))
			for _, i := range p.Ifaces {
				names = append(names, i.Name)
			}
			fmt.Fprintf(&sb, "%s\t%s\t%s\n", brName, p.Name, strings.Join(names, ","))
		}
	}
	return statusOK, sb.String()
}

func (s *Server) findBond(name string) (*model.Bridge, *model.Port, bool) {
	for _, br := range s.Bridges.Bridges() {
		if p := br.FindPort(name); p != nil && p.IsBond() {
			return br, p, true
		}
	}
	return nil, nil, false
}

func (s *Server) bondShow(args []string) (int, string) {
	if len(args) != 1 {
		return statusError, "usage: bond/show BOND"
	}
	br, p, ok := s.findBond(args[0])
	if !ok {
		return statusError, fmt.Sprintf("no such bond %q", args[0])
	}
	now := s.now()

	var sb strings.Builder
	fmt.Fprintf(&sb, "updelay: %dms\n", p.Bond.UpdelayMS)
	fmt.Fprintf(&sb, "downdelay: %dms\n", p.Bond.DowndelayMS)
	fmt.Fprintf(&sb, "next rebalance: %dms\n", br.NextRebalanceMS-now)

	bucketsByIface := make(map[int][]int, len(p.Ifaces))
	for bucket, slot := range p.Bond.Hash {
		if slot.IfaceIdx >= 0 {
			bucketsByIface[slot.IfaceIdx] = append(bucketsByIface[slot.IfaceIdx], bucket)
		}
	}
	macsByBucket := make(map[int][]string)
	if br.MacTable != nil {
		for _, ent := range br.MacTable.Dump(now) {
			if ent.PortIdx == p.PortIdx {
				continue
			}
			bucket := int(bond.HashBytes(ent.MAC) & model.BondMask)
			macsByBucket[bucket] = append(macsByBucket[bucket], ent.MAC.String())
		}
	}

	for i, iface := range p.Ifaces {
		status := "disabled"
		if iface.Enabled {
			status = "enabled"
		}
		fmt.Fprintf(&sb, "slave %s: %s\n", iface.Name, status)
		if p.Bond.ActiveIface == i {
			fmt.Fprintf(&sb, "\tactive slave\n")
		}
		if iface.PendingTransition() {
			what := "updelay"
			if iface.Enabled {
				what = "downdelay"
			}
			fmt.Fprintf(&sb, "\t%s expires in %dms\n", what, iface.DelayExpiresMS-now)
		}
		for _, bucket := range bucketsByIface[i] {
			fmt.Fprintf(&sb, "\thash %d: %d bytes load\n", bucket, p.Bond.Hash[bucket].TxBytes)
			for _, mac := range macsByBucket[bucket] {
				fmt.Fprintf(&sb, "\t\t%s\n", mac)
			}
		}
	}
	return statusOK, sb.String()
}

func (s *Server) bondMigrate(args []string) (int, string) {
	if len(args) != 3 {
		return statusError, "usage: bond/migrate BOND (HASH|MAC) SLAVE"
	}
	br, p, ok := s.findBond(args[0])
	if !ok {
		return statusError, fmt.Sprintf("no such bond %q", args[0])
	}
	bucket, err := resolveBucket(args[1])
	if err != nil {
		return statusError, err.Error()
	}
	iface := p.FindIface(args[2])
	if iface == nil {
		return statusError, fmt.Sprintf("no such slave %q", args[2])
	}
	if err := bond.Migrate(p, bucket, iface, br.OFProto); err != nil {
		return statusError, err.Error()
	}
	return statusOK, "migrated"
}

func resolveBucket(s string) (int, error) {
	if mac, err := net.ParseMAC(s); err == nil {
		return int(bond.HashBytes(mac) & model.BondMask), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("argument must be a decimal hash or a MAC: %w", err)
	}
	return n & model.BondMask, nil
}

func (s *Server) bondSetActiveSlave(args []string) (int, string) {
	if len(args) != 2 {
		return statusError, "usage: bond/set-active-slave BOND SLAVE"
	}
	br, p, ok := s.findBond(args[0])
	if !ok {
		return statusError, fmt.Sprintf("no such bond %q", args[0])
	}
	iface := p.FindIface(args[1])
	if iface == nil {
		return statusError, fmt.Sprintf("no such slave %q", args[1])
	}
	changed, err := bond.SetActiveSlave(p, iface, s.now(), br.OFProto, s.Sender, br.MacTable)
	if err != nil {
		return statusError, err.Error()
	}
	if !changed {
		return statusOK, "no change"
	}
	return statusOK, "done"
}

func (s *Server) bondSetSlaveEnabled(args []string, enabled bool) (int, string) {
	if len(args) != 2 {
		return statusError, "usage: bond/enable-slave|disable-slave BOND SLAVE"
	}
	br, p, ok := s.findBond(args[0])
	if !ok {
		return statusError, fmt.Sprintf("no such bond %q", args[0])
	}
	iface := p.FindIface(args[1])
	if iface == nil {
		return statusError, fmt.Sprintf("no such slave %q", args[1])
	}
	bond.SetSlaveEnabled(p, iface, enabled, s.now(), br.OFProto, s.Sender, br.MacTable)
	status := "disabled"
	if enabled {
		status = "enabled"
	}
	return statusOK, status
}

func (s *Server) bondHash(args []string) (int, string) {
	if len(args) != 1 {
		return statusError, "usage: bond/hash MAC"
	}
	mac, err := net.ParseMAC(args[0])
	if err != nil {
		return statusError, err.Error()
	}
	return statusOK, strconv.Itoa(int(bond.HashBytes(mac) & model.BondMask))
}

func (s *Server) now() int64 {
	if s.NowMS == nil {
		return 0
	}
	return s.NowMS()
}
