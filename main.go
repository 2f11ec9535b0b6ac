// Package main runs the seatlink agent: it resolves which restaurant table a
// diner is sitting at from NFC tags and Bluetooth beacons near the table, and
// serves the answer to the ordering page over HTTP.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dotside-studios/seatlink-agent/buildinfo"
	"github.com/dotside-studios/seatlink-agent/config"
)

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "." + buildinfo.Name
	}
	return filepath.Join(dir, buildinfo.Name)
}

// loadConfig layers the config file, the environment and explicitly set
// flags, in that order.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, string, error) {
	var (
		configPath = fs.String("config", "", "Path to a JSON config file (optional)")
		dataDir    = fs.String("data-dir", defaultDataDir(), "Directory for the database and certificates")
		port       = fs.Int("port", config.DefaultPort, "Port to listen on")
		device     = fs.String("device", "", "libnfc connection string of the NFC reader (optional)")
		hciPort    = fs.String("hci", "", "Serial port of a UART Bluetooth controller (optional)")
		bleDevice  = fs.Int("ble-device", 0, "HCI device index for the system Bluetooth adapter")
		dbPath     = fs.String("db", config.DefaultDBPath, "SQLite database path, relative to -data-dir")
		apiSecret  = fs.String("api-secret", "", "Secret required on /api and /ws (optional)")
		useTLS     = fs.Bool("tls", false, "Serve HTTPS with a locally trusted certificate")
		noMDNS     = fs.Bool("no-mdns", false, "Do not advertise the agent over mDNS")
		noRemote   = fs.Bool("no-remote", false, "Do not accept phones as remote sensors")
	)
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, "", err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "device":
			cfg.NFCDevice = *device
		case "hci":
			cfg.HCIPort = *hciPort
		case "ble-device":
			cfg.BLEDeviceID = *bleDevice
		case "db":
			cfg.DBPath = *dbPath
		case "api-secret":
			cfg.APISecret = *apiSecret
		case "tls":
			cfg.TLS = *useTLS
		case "no-mdns":
			cfg.MDNS = !*noMDNS
		case "no-remote":
			cfg.RemoteEnabled = !*noRemote
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, *dataDir, nil
}

func main() {
	fs := flag.NewFlagSet(buildinfo.Name, flag.ExitOnError)
	version := fs.Bool("version", false, "Print version information and exit")

	cfg, dataDir, err := loadConfig(fs, os.Args[1:])
	if *version {
		fmt.Println(buildinfo.BuildInfo())
		return
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("%s %s", buildinfo.Name, buildinfo.FullVersion())
	agent := NewAgent(cfg, dataDir)
	if err := agent.Start(); err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}
	defer agent.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, stopping...")
}
