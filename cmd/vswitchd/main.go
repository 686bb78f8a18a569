// Command vswitchd runs the bridge control core against a real OVS
// installation: a single cooperative loop that reconfigures from a
// YAML snapshot, advances the MAC table and bond timers, and answers
// administrative commands over a Unix socket (§5, §6).
package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/kubeovn/ovsbridge/internal/admin"
	"github.com/kubeovn/ovsbridge/internal/dpiface"
	"github.com/kubeovn/ovsbridge/pkg/bond"
	"github.com/kubeovn/ovsbridge/pkg/config"
	"github.com/kubeovn/ovsbridge/pkg/daemon"
	"github.com/kubeovn/ovsbridge/pkg/model"
	"github.com/kubeovn/ovsbridge/pkg/reconfigure"
	"github.com/kubeovn/ovsbridge/pkg/tag"
	"github.com/kubeovn/ovsbridge/pkg/util"
)

// bridgeLookup adapts *reconfigure.Engine to admin.BridgeLookup:
// Engine.Bridges is already a field of that name, and a type cannot
// carry both a field and a method called Bridges, so the map accessor
// lives on this small wrapper instead of on Engine itself.
type bridgeLookup struct {
	eng *reconfigure.Engine
}

func (b *bridgeLookup) Bridge(name string) (*model.Bridge, bool) { return b.eng.Bridge(name) }
func (b *bridgeLookup) Bridges() map[string]*model.Bridge        { return b.eng.Bridges }

func main() {
	defer klog.Flush()

	cfg, err := daemon.ParseFlags()
	if err != nil {
		util.LogFatalAndExit(err, "failed to parse flags")
	}
	if err := util.InitLogFilePerm("vswitchd"); err != nil {
		util.LogFatalAndExit(err, "failed to initialize log file")
	}

	start := time.Now()
	nowMS := func() int64 { return time.Since(start).Milliseconds() }

	sender := dpiface.NewRawSender()
	defer sender.Close()

	engine := reconfigure.NewEngine(
		dpiface.Factory{},
		dpiface.NetdevConfigurator{},
		dpiface.NetdevResolver{},
		dpiface.HostID{},
		tag.NewAllocator(),
		nowMS,
	)

	var mu sync.Mutex
	adminSrv := &admin.Server{
		SocketPath: cfg.AdminSocket,
		Bridges:    &bridgeLookup{eng: engine},
		NowMS:      nowMS,
		Mutex:      &mu,
		Sender:     sender,
	}
	if err := adminSrv.Listen(); err != nil {
		util.LogFatalAndExit(err, "failed to start administrative command server")
	}
	defer adminSrv.Close()
	go adminSrv.Serve()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runLoop(ctx, cfg, engine, sender, nowMS, &mu)
}

// runLoop is the single cooperative sweep §5 describes: reconfigure on
// a timer, then run() to advance the MAC table and bond timers, then
// wait for the next tick or a carrier poll. Only the top of this loop
// blocks; every sweep runs to completion. Mutex is held for the whole
// sweep so the administrative command server, which dispatches
// concurrently with accepted connections, never observes a bridge
// mid-mutation.
func runLoop(ctx context.Context, cfg *daemon.Configuration, engine *reconfigure.Engine, sender bond.FrameSender, nowMS func() int64, mu *sync.Mutex) {
	reconfigureEvery := time.Duration(cfg.ReconfigureIntervalMS) * time.Millisecond
	reconfigureTicker := time.NewTicker(reconfigureEvery)
	defer reconfigureTicker.Stop()

	// account-checkpoint (§6.1.4) fires at least once per second.
	runTicker := time.NewTicker(time.Second)
	defer runTicker.Stop()

	carrier := make(map[*model.Iface]bool)
	var lastConfigHash string

	doReconfigure := func() {
		snapshot, hash, changed, err := config.LoadIfChanged(cfg.ConfigFile, lastConfigHash)
		if err != nil {
			klog.Errorf("vswitchd: failed to load %q, keeping running configuration: %v", cfg.ConfigFile, err)
			return
		}
		lastConfigHash = hash
		if !changed {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		engine.Reconfigure(snapshot)
	}

	doRun := func() {
		mu.Lock()
		defer mu.Unlock()
		now := nowMS()
		for _, br := range engine.Bridges {
			pollCarrier(br, now, carrier, sender)
			if br.MacTable != nil {
				br.MacTable.Run(now, br.OFProto)
			}
			for _, port := range br.Ports {
				if !port.IsBond() {
					continue
				}
				bond.Run(port, now, br.OFProto, sender, br.MacTable)
			}
			if now >= br.NextRebalanceMS {
				for _, port := range br.Ports {
					if port.IsBond() {
						bond.Rebalance(port, br.OFProto)
					}
				}
				br.NextRebalanceMS = now + cfg.RebalanceIntervalMS
			}
		}
	}

	doReconfigure()
	doRun()

	for {
		select {
		case <-ctx.Done():
			klog.Info("vswitchd: shutting down")
			return
		case <-reconfigureTicker.C:
			doReconfigure()
		case <-runTicker.C:
			doRun()
		}
	}
}

// pollCarrier detects netdev operational-state transitions since the
// last sweep and feeds them through bond_link_status_update, standing
// in for the OpenFlow engine's port-changed/MODIFY callback (§6.1.1)
// since this build has no OVSDB monitor connection of its own.
func pollCarrier(br *model.Bridge, now int64, last map[*model.Iface]bool, sender bond.FrameSender) {
	for _, port := range br.Ports {
		if !port.IsBond() {
			continue
		}
		for _, iface := range port.Ifaces {
			up := dpiface.CarrierUp(iface)
			if prev, ok := last[iface]; ok && prev == up {
				continue
			}
			last[iface] = up
			bond.LinkStatusUpdate(port, iface, up, now, br.OFProto, sender, br.MacTable)
		}
	}
}
