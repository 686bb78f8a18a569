// Package config defines the configuration snapshot DTOs the
// reconfigure engine diffs against running state. These are plain
// data: nothing here mutates a Bridge directly.
package config

// Snapshot is the whole-system configuration the Reconfigurator
// consumes in one pass (§4.1).
type Snapshot struct {
	Bridges map[string]BridgeConfig
}

// BridgeConfig is one bridge's desired configuration.
type BridgeConfig struct {
	Name string

	// OtherConfig mirrors OVSDB's free-form other_config column; the
	// core only ever reads the "hwaddr" and "datapath-id" keys from it.
	OtherConfig map[string]string

	Ports   map[string]PortConfig
	Mirrors map[string]MirrorConfig

	Controller *ControllerConfig
	SSL        *SSLConfig
	NetFlow    *NetFlowConfig

	InBand      bool
	FailureMode string
}

// PortConfig is one port's desired configuration.
type PortConfig struct {
	Name string

	// VlanMode is "access" or "trunk"; Vlan is the access VLAN id (any
	// value is ignored in trunk mode), Trunks the trunked VLAN id list.
	VlanMode string
	Vlan     int
	Trunks   []int

	// HwAddr pins this port's candidate MAC for bridge MAC selection
	// (§4.2.1 step 2), empty string meaning "not pinned".
	HwAddr string

	UpdelayMS   int64
	DowndelayMS int64

	Ifaces map[string]IfaceConfig
}

// IfaceConfig is one interface's desired configuration.
type IfaceConfig struct {
	Name string
	// Type is "" (normal), "internal", or another datapath-specific
	// type string passed through unexamined.
	Type string

	// IngressPolicingRateKbps/BurstKb mirror OVSDB's ingress_policing
	// columns; zero means "no policing".
	IngressPolicingRateKbps int64
	IngressPolicingBurstKb  int64

	// MAC pins this iface's hardware address; empty means "leave as
	// assigned by the kernel/datapath".
	MAC string
}

// MirrorConfig is one mirror rule's desired configuration.
type MirrorConfig struct {
	Name string

	SrcPorts []string
	DstPorts []string
	Vlans    []int

	OutPort string
	// OutVlan is only meaningful when OutVlanSet is true; OutPort and
	// OutVlanSet are mutually exclusive (§4.5: "both set or neither
	// destroys the mirror").
	OutVlan    int
	OutVlanSet bool
}

// ControllerConfig is the OpenFlow controller connection the core
// passes through to the OFProtoEngine untouched.
type ControllerConfig struct {
	Target         string
	MaxBackoffMS   int64
	ProbeIntervalS int
}

// SSLConfig is a per-bridge TLS material set (§13: per-bridge rather
// than process-global). It is carried in the snapshot as data only:
// the reconfigure engine neither installs nor clears TLS material from
// it, so setting or clearing it changes nothing on the switch.
type SSLConfig struct {
	PrivateKeyPath  string
	CertificatePath string
	CACertPath      string
}

// NetFlowConfig mirrors model.NetFlowConfig at the configuration-DTO
// level; Reconfigurator translates one into the other.
type NetFlowConfig struct {
	Enabled        bool
	Collectors     []string
	ActiveTimeoutS int
	AddIDToIface   bool
}
