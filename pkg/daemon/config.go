// Package daemon holds the vswitchd process configuration: flag
// parsing and the defaults the reconfigure loop and admin server run
// with.
package daemon

import (
	"flag"
	"fmt"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

const (
	defaultConfigFile      = "/etc/ovsbridge/vswitchd.yaml"
	defaultAdminSocket     = "/var/run/ovsbridge/vswitchd.ctl"
	defaultReconfigureMS   = 1000
	defaultRebalanceMS     = 10_000
	defaultBondUpdelayMS   = 0
	defaultBondDowndelayMS = 0
)

// Configuration is the vswitchd process configuration: where to read
// the desired-state snapshot from, where to listen for administrative
// commands, and the timing the bond/reconfigure loops run on.
type Configuration struct {
	// ConfigFile is the path to the YAML configuration snapshot the
	// reconfigure loop polls (§4.1); a missing file is not an error,
	// it just means "no bridges configured yet".
	ConfigFile string

	// AdminSocket is the Unix socket path the administrative command
	// server listens on.
	AdminSocket string

	// ReconfigureIntervalMS is how often ConfigFile is re-read and
	// diffed against running state.
	ReconfigureIntervalMS int64

	// RebalanceIntervalMS is the bond hash-table rebalance debounce;
	// the default matches the 10s the rebalance algorithm was tuned for.
	RebalanceIntervalMS int64

	// DefaultBondUpdelayMS/DowndelayMS are parsed and logged only;
	// nothing else reads them, so a port config that omits a delay
	// gets 0.
	DefaultBondUpdelayMS   int64
	DefaultBondDowndelayMS int64
}

// ParseFlags parses the process's command-line flags into a
// Configuration, syncing klog's flags into the same pflag.CommandLine
// this codebase's other entry points use.
func ParseFlags() (*Configuration, error) {
	var (
		argConfigFile  = pflag.String("config-file", defaultConfigFile, "Path to the bridge configuration snapshot this daemon reconciles against.")
		argAdminSocket = pflag.String("admin-socket", defaultAdminSocket, "Unix socket path for the administrative command server.")
		argReconfigMS  = pflag.Int64("reconfigure-interval-ms", defaultReconfigureMS, "How often, in milliseconds, to re-read the configuration file.")
		argRebalanceMS = pflag.Int64("rebalance-interval-ms", defaultRebalanceMS, "Bond hash-table rebalance debounce, in milliseconds.")
		argUpdelayMS   = pflag.Int64("default-bond-updelay-ms", defaultBondUpdelayMS, "Default bond link-up debounce, in milliseconds; recorded in the configuration only, a port that omits one uses 0.")
		argDowndelayMS = pflag.Int64("default-bond-downdelay-ms", defaultBondDowndelayMS, "Default bond link-down debounce, in milliseconds; recorded in the configuration only, a port that omits one uses 0.")
	)

	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	pflag.CommandLine.AddGoFlagSet(klogFlags)
	pflag.Parse()

	// Sync the glog and klog flags.
	pflag.CommandLine.VisitAll(func(f1 *pflag.Flag) {
		f2 := klogFlags.Lookup(f1.Name)
		if f2 != nil {
			if err := f2.Value.Set(f1.Value.String()); err != nil {
				klog.Fatalf("failed to set flag, %v", err)
			}
		}
	})

	if *argReconfigMS <= 0 {
		return nil, fmt.Errorf("reconfigure-interval-ms must be positive, got %d", *argReconfigMS)
	}
	if *argRebalanceMS <= 0 {
		return nil, fmt.Errorf("rebalance-interval-ms must be positive, got %d", *argRebalanceMS)
	}

	cfg := &Configuration{
		ConfigFile:             *argConfigFile,
		AdminSocket:            *argAdminSocket,
		ReconfigureIntervalMS:  *argReconfigMS,
		RebalanceIntervalMS:    *argRebalanceMS,
		DefaultBondUpdelayMS:   *argUpdelayMS,
		DefaultBondDowndelayMS: *argDowndelayMS,
	}
	klog.Infof("daemon config: %+v", cfg)
	return cfg, nil
}
