package model

import (
	"crypto/rand"
	"net"

	"k8s.io/klog/v2"
)

// GenerateRandomMAC returns a random locally-administered, unicast MAC
// address, suitable as a Bridge's default MAC. Adapted from the
// teacher's pod-networking MAC generator: set the locally-administered
// bit and clear the multicast bit.
func GenerateRandomMAC() net.HardwareAddr {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		klog.Errorf("model: failed to read random bytes for MAC generation: %v", err)
	}
	buf[0] = (buf[0] | 0x02) & 0xfe
	return net.HardwareAddr(buf)
}

// IsMulticastMAC reports whether mac is a multicast (or broadcast)
// address: the low bit of the first octet is set.
func IsMulticastMAC(mac net.HardwareAddr) bool {
	return len(mac) > 0 && mac[0]&0x01 != 0
}

// IsLocallyAdministeredMAC reports whether the locally-administered bit
// is set.
func IsLocallyAdministeredMAC(mac net.HardwareAddr) bool {
	return len(mac) > 0 && mac[0]&0x02 != 0
}

// IsZeroMAC reports whether mac is all-zero.
func IsZeroMAC(mac net.HardwareAddr) bool {
	for _, b := range mac {
		if b != 0 {
			return false
		}
	}
	return len(mac) > 0
}

// IsReservedMAC reports whether mac falls in the IEEE 802.1D reserved
// range 01:80:c2:00:00:0X, used for STP and other link-local L2
// protocols that must never be bridged.
func IsReservedMAC(mac net.HardwareAddr) bool {
	return len(mac) == 6 &&
		mac[0] == 0x01 && mac[1] == 0x80 && mac[2] == 0xc2 &&
		mac[3] == 0x00 && mac[4] == 0x00 && mac[5]&0xf0 == 0x00
}

// QualifiesAsBridgeMAC reports whether mac is eligible to be used as a
// bridge's MAC address per §4.2.1: non-multicast, non-local-administered,
// non-reserved, non-zero.
func QualifiesAsBridgeMAC(mac net.HardwareAddr) bool {
	if len(mac) != 6 {
		return false
	}
	return !IsMulticastMAC(mac) && !IsLocallyAdministeredMAC(mac) && !IsReservedMAC(mac) && !IsZeroMAC(mac)
}

// CompareMAC orders two MACs numerically, lowest first. Used to pick
// the "numerically smallest" candidate bridge MAC.
func CompareMAC(a, b net.HardwareAddr) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
