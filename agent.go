package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/bluetooth"
	"github.com/dotside-studios/seatlink-agent/config"
	"github.com/dotside-studios/seatlink-agent/hci"
	"github.com/dotside-studios/seatlink-agent/nfc"
	"github.com/dotside-studios/seatlink-agent/permission"
	"github.com/dotside-studios/seatlink-agent/remote"
	"github.com/dotside-studios/seatlink-agent/resolve"
	"github.com/dotside-studios/seatlink-agent/scan"
	"github.com/dotside-studios/seatlink-agent/server"
	"github.com/dotside-studios/seatlink-agent/store"
	"github.com/dotside-studios/seatlink-agent/tls"
)

const pruneInterval = time.Hour

// Agent owns every long-lived component and starts them in dependency order.
type Agent struct {
	Logger  *log.Logger
	Config  *config.Config
	DataDir string

	Store       *store.Store
	Devices     *remote.Manager
	Coordinator *resolve.Coordinator
	Server      *server.Server

	nfc     *nfc.Driver
	closers []io.Closer
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewAgent returns an agent that has not been started.
func NewAgent(cfg *config.Config, dataDir string) *Agent {
	return &Agent{
		Logger:  log.New(os.Stderr, "[agent] ", log.LstdFlags),
		Config:  cfg,
		DataDir: dataDir,
	}
}

// Start opens the store, builds the drivers and serves HTTP until Stop.
func (a *Agent) Start() error {
	if a.Server != nil {
		return errors.New("agent is already running")
	}
	cfg := a.Config

	if err := os.MkdirAll(a.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := cfg.DBPath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(a.DataDir, dbPath)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.Store = st

	if err := a.syncAllowList(); err != nil {
		a.Stop()
		return err
	}

	gate, err := a.gate()
	if err != nil {
		a.Stop()
		return err
	}
	opts, err := a.resolveOptions(gate)
	if err != nil {
		a.Stop()
		return err
	}
	if cfg.RemoteEnabled {
		a.Devices = remote.NewManager(cfg.RemoteInactivity.Std())
	}
	a.Coordinator = resolve.New(a.drivers(gate), opts...)

	srvOpts := []server.Option{server.WithRegistry(a.Store)}
	if a.Devices != nil {
		srvOpts = append(srvOpts, server.WithDevices(a.Devices))
	}
	srvConfig := server.Config{
		Port:       cfg.Port,
		APISecret:  cfg.APISecret,
		MDNS:       cfg.MDNS,
		Concurrent: cfg.Concurrent,
	}
	if cfg.TLS {
		certs := tls.NewManager(a.DataDir)
		certFile, keyFile, err := certs.Ensure()
		if err != nil {
			a.Logger.Printf("TLS unavailable, serving plain HTTP: %v", err)
		} else {
			srvConfig.CertFile, srvConfig.KeyFile = certFile, keyFile
			srvOpts = append(srvOpts, server.WithCA(certs))
		}
	}

	a.Server = server.New(srvConfig, a.Coordinator, srvOpts...)
	if err := a.Server.Start(); err != nil {
		a.Stop()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.pruneLoop(ctx)

	a.Logger.Printf("Serving modalities %v", a.Coordinator.Modalities())
	return nil
}

// syncAllowList copies configured beacons into the registry. Beacons added
// through the database are left alone.
func (a *Agent) syncAllowList() error {
	list, err := a.Config.BuildAllowList()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return nil
	}
	if err := a.Store.SyncAllowList(context.Background(), list); err != nil {
		return fmt.Errorf("failed to sync allow-list: %w", err)
	}
	a.Logger.Printf("Registered %d configured beacons", len(list))
	return nil
}

func (a *Agent) resolveOptions(gate *permission.Gate) ([]resolve.Option, error) {
	cfg := a.Config
	modalities, err := cfg.ModalityList()
	if err != nil {
		return nil, err
	}
	decoder, err := cfg.BuildDecoder()
	if err != nil {
		return nil, err
	}
	matcherOpts := []beacon.MatcherOption{beacon.WithTagText(cfg.AcceptTagText)}
	if cfg.TableIDExpr != "" {
		d, err := beacon.NewExprDeriver(cfg.TableIDExpr)
		if err != nil {
			return nil, err
		}
		matcherOpts = append(matcherOpts, beacon.WithDeriver(d))
	}

	return []resolve.Option{
		resolve.WithGate(gate),
		resolve.WithDecoder(decoder),
		resolve.WithMatcherOptions(matcherOpts...),
		resolve.WithDefaults(modalities, cfg.TimeoutPerModality.Std()),
		resolve.WithPollInterval(cfg.PollInterval.Std()),
		resolve.WithRecorder(a.Store),
	}, nil
}

// gate combines configured overrides with the rfkill state of the host.
func (a *Agent) gate() (*permission.Gate, error) {
	states, err := a.Config.PermissionStates()
	if err != nil {
		return nil, err
	}
	q := permission.Multi{permission.Static{States: states, Default: permission.Granted}}
	if a.Config.UseRfkill {
		q = append(q, permission.NewRfkill())
	}
	return permission.NewGate(q), nil
}

// drivers builds one driver per modality: the local hardware when enabled,
// wrapped so a guest's own phone scans for their requests when remote
// sensing is on.
func (a *Agent) drivers(gate *permission.Gate) []scan.Driver {
	cfg := a.Config
	local := make(map[beacon.Modality]scan.Driver)

	if cfg.NFCEnabled {
		a.nfc = nfc.NewDriver(nfc.LibNFC{}, cfg.NFCDevice)
		local[beacon.ModalityNFC] = a.nfc
	}

	if cfg.BLEEnabled {
		var hub *bluetooth.Hub
		var connector bluetooth.Connector
		if cfg.HCIPort != "" {
			ctrl := hci.NewController(cfg.HCIPort, cfg.HCIBaud)
			a.closers = append(a.closers, ctrl)
			hub = bluetooth.NewHub(ctrl)
		} else {
			radio := bluetooth.NewGoBLE(cfg.BLEDeviceID)
			a.closers = append(a.closers, radio)
			hub = bluetooth.NewHub(radio)
			connector = radio
		}
		local[beacon.ModalityIBeacon] = bluetooth.NewIBeaconDriver(hub)
		local[beacon.ModalityEddystone] = bluetooth.NewEddystoneDriver(hub)
		local[beacon.ModalityGATT] = bluetooth.NewGATTDriver(hub, connector)
	}

	var out []scan.Driver
	for _, m := range beacon.Modalities {
		d := local[m]
		if a.Devices != nil {
			rd := remote.NewDriver(a.Devices, m, d, deviceCapability(m))
			rd.Gate = gate
			d = rd
		}
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

// deviceCapability is the permission a phone must hold to sense m.
func deviceCapability(m beacon.Modality) permission.Capability {
	if m == beacon.ModalityNFC {
		return permission.NFC
	}
	return permission.Bluetooth
}

func (a *Agent) pruneLoop(ctx context.Context) {
	defer close(a.done)
	retention := a.Config.Retention.Std()
	if retention <= 0 {
		return
	}

	prune := func() {
		n, err := a.Store.PruneResolutions(ctx, time.Now().Add(-retention))
		if err != nil {
			a.Logger.Printf("Pruning resolutions failed: %v", err)
		} else if n > 0 {
			a.Logger.Printf("Pruned %d resolutions older than %s", n, retention)
		}
	}
	prune()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// Stop shuts the server down and closes the hardware.
func (a *Agent) Stop() {
	a.Logger.Println("Stopping agent...")

	if a.cancel != nil {
		a.cancel()
		<-a.done
		a.cancel = nil
	}
	if a.Server != nil {
		a.Server.Stop()
		a.Server = nil
	}
	if a.Devices != nil {
		a.Devices.Close()
		a.Devices = nil
	}
	if a.nfc != nil {
		a.nfc.Manager().Close()
		a.nfc = nil
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.Logger.Printf("Closing radio: %v", err)
		}
	}
	a.closers = nil
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Printf("Closing database: %v", err)
		}
		a.Store = nil
	}

	a.Logger.Println("Agent stopped")
}
