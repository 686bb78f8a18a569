package dpiface

import (
	"fmt"
	"net"
	"sync"

	"github.com/mdlayher/packet"

	"github.com/kubeovn/ovsbridge/pkg/bond"
	"github.com/kubeovn/ovsbridge/pkg/model"
)

// RawSender implements bond.FrameSender by transmitting a pre-built
// Ethernet frame out a raw packet socket bound to the iface's netdev,
// the same packet.Listen/WriteTo pattern pkg/util/ndp.go uses for NDP
// frames.
type RawSender struct {
	mu    sync.Mutex
	conns map[string]*packet.Conn
}

// NewRawSender returns a sender with no sockets open yet; one is
// opened lazily per interface name on first use and kept for reuse.
func NewRawSender() *RawSender {
	return &RawSender{conns: make(map[string]*packet.Conn)}
}

// SendFrame transmits frame out iface, opening (and caching) a raw
// socket on its netdev the first time it is used.
func (s *RawSender) SendFrame(iface *model.Iface, frame []byte) error {
	conn, err := s.connFor(iface.Name)
	if err != nil {
		return err
	}
	_, err = conn.WriteTo(frame, &packet.Addr{HardwareAddr: broadcastMAC})
	return err
}

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (s *RawSender) connFor(name string) (*packet.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.conns[name]; ok {
		return conn, nil
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("dpiface: failed to look up interface %q: %w", name, err)
	}
	conn, err := packet.Listen(ifi, packet.Raw, int(bond.LearningEthertype), nil)
	if err != nil {
		return nil, fmt.Errorf("dpiface: failed to open raw socket on %q: %w", name, err)
	}
	s.conns[name] = conn
	return conn, nil
}

// Close releases every open socket.
func (s *RawSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = make(map[string]*packet.Conn)
}
