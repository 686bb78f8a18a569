package bond

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// LearningEthertype is the ethertype failover learning packets carry;
// it identifies the frame to nothing but an upstream switch's MAC
// learning, and is never dispatched to any real protocol stack.
const LearningEthertype = 0xF177

// learningPayload is copied verbatim into every learning frame's
// payload so a packet capture immediately explains what sent it.
var learningPayload = []byte("Open vSwitch Bond Failover")

// frameLength is the minimum Ethernet frame size learning packets are
// padded to.
const frameLength = 128

// ComposeLearningFrame builds a §4.4.1 failover learning frame: an
// Ethernet II frame sourced from mac, destined to the broadcast
// address, carrying LearningEthertype, 802.1Q-tagged with vlan unless
// vlan is 0 (untagged).
func ComposeLearningFrame(mac net.HardwareAddr, vlan uint16) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       mac,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: LearningEthertype,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}

	var layersToSerialize []gopacket.SerializableLayer
	if vlan != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
		dot1q := &layers.Dot1Q{
			VLANIdentifier: vlan,
			Type:           layers.EthernetType(LearningEthertype),
		}
		layersToSerialize = append(layersToSerialize, eth, dot1q, gopacket.Payload(learningPayload))
	} else {
		layersToSerialize = append(layersToSerialize, eth, gopacket.Payload(learningPayload))
	}

	if err := gopacket.SerializeLayers(buf, opts, layersToSerialize...); err != nil {
		// Fall back to a hand-assembled minimal frame; this only
		// happens if gopacket rejects a malformed MAC, which callers
		// have already validated, but the forwarding path must never
		// panic on a best-effort announcement.
		return fallbackFrame(mac, vlan)
	}

	out := buf.Bytes()
	if len(out) < frameLength {
		padded := make([]byte, frameLength)
		copy(padded, out)
		return padded
	}
	return out
}

func fallbackFrame(mac net.HardwareAddr, vlan uint16) []byte {
	frame := make([]byte, frameLength)
	copy(frame[0:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	copy(frame[6:12], mac)
	binary.BigEndian.PutUint16(frame[12:14], LearningEthertype)
	_ = vlan
	copy(frame[14:], learningPayload)
	return frame
}
