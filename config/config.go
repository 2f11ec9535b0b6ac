// Package config loads the agent configuration from a JSON file and the
// environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotside-studios/seatlink-agent/beacon"
	"github.com/dotside-studios/seatlink-agent/permission"
)

const (
	DefaultPort               = 18080
	DefaultDBPath             = "seatlink.db"
	DefaultTimeoutPerModality = 10 * time.Second
	DefaultPollInterval       = 250 * time.Millisecond
	DefaultRemoteInactivity   = 60 * time.Second
	DefaultRetention          = 30 * 24 * time.Hour

	maxFileSize = 1 * 1024 * 1024 // 1MB
)

// Duration is a time.Duration written as "10s" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// AllowEntry is one configured beacon.
type AllowEntry struct {
	Identity string `json:"identity"`
	TableID  string `json:"table_id,omitempty"`
	Label    string `json:"label,omitempty"`
}

// PresenceToken maps a GATT advertised name or service to a beacon identity.
type PresenceToken struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
}

// Config is the agent configuration.
type Config struct {
	Port   int    `json:"port"`
	DBPath string `json:"db_path"`

	// Resolution defaults
	Modalities         []string        `json:"modalities"`
	TimeoutPerModality Duration        `json:"timeout_per_modality"`
	PollInterval       Duration        `json:"poll_interval"`
	Concurrent         bool            `json:"concurrent"`
	AllowList          []AllowEntry    `json:"allow_list,omitempty"`
	PresenceTokens     []PresenceToken `json:"presence_tokens,omitempty"`
	TableIDExpr        string          `json:"table_id_expr,omitempty"`
	AcceptTagText      bool            `json:"accept_tag_text"`

	// Permissions overrides capability states ("bluetooth": "denied").
	Permissions map[string]string `json:"permissions,omitempty"`
	UseRfkill   bool              `json:"use_rfkill"`

	// Hardware
	NFCEnabled  bool   `json:"nfc_enabled"`
	NFCDevice   string `json:"nfc_device,omitempty"`
	BLEEnabled  bool   `json:"ble_enabled"`
	BLEDeviceID int    `json:"ble_device_id"`
	HCIPort     string `json:"hci_port,omitempty"`
	HCIBaud     int    `json:"hci_baud,omitempty"`

	// Remote sensors
	RemoteEnabled    bool     `json:"remote_enabled"`
	RemoteInactivity Duration `json:"remote_inactivity"`

	// Server
	MDNS      bool     `json:"mdns"`
	TLS       bool     `json:"tls"`
	APISecret string   `json:"api_secret,omitempty"`
	Retention Duration `json:"resolution_retention"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	modalities := make([]string, len(beacon.Modalities))
	for i, m := range beacon.Modalities {
		modalities[i] = string(m)
	}
	return &Config{
		Port:               DefaultPort,
		DBPath:             DefaultDBPath,
		Modalities:         modalities,
		TimeoutPerModality: Duration(DefaultTimeoutPerModality),
		PollInterval:       Duration(DefaultPollInterval),
		AcceptTagText:      true,
		UseRfkill:          true,
		NFCEnabled:         true,
		BLEEnabled:         true,
		RemoteEnabled:      true,
		RemoteInactivity:   Duration(DefaultRemoteInactivity),
		MDNS:               true,
		Retention:          Duration(DefaultRetention),
	}
}

// Load reads a JSON config file. Fields omitted from the file keep their
// defaults. An empty path returns Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if _, err := c.ModalityList(); err != nil {
		return err
	}
	if c.TimeoutPerModality <= 0 {
		return fmt.Errorf("timeout_per_modality must be positive, got %s", c.TimeoutPerModality.Std())
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval.Std())
	}
	if c.RemoteInactivity <= 0 {
		return fmt.Errorf("remote_inactivity must be positive, got %s", c.RemoteInactivity.Std())
	}
	if c.Retention < 0 {
		return fmt.Errorf("resolution_retention must not be negative, got %s", c.Retention.Std())
	}
	if c.HCIBaud < 0 {
		return fmt.Errorf("hci_baud must not be negative, got %d", c.HCIBaud)
	}
	if _, err := c.BuildAllowList(); err != nil {
		return err
	}
	if _, err := c.BuildDecoder(); err != nil {
		return err
	}
	if _, err := c.PermissionStates(); err != nil {
		return err
	}
	if strings.TrimSpace(c.TableIDExpr) != "" {
		if _, err := beacon.NewExprDeriver(c.TableIDExpr); err != nil {
			return err
		}
	}
	return nil
}

// ModalityList parses the configured modality order.
func (c *Config) ModalityList() ([]beacon.Modality, error) {
	if len(c.Modalities) == 0 {
		return nil, fmt.Errorf("modalities must not be empty")
	}
	return ParseModalities(c.Modalities)
}

// ParseModalities parses modality names, rejecting unknown ones.
func ParseModalities(names []string) ([]beacon.Modality, error) {
	out := make([]beacon.Modality, 0, len(names))
	for _, s := range names {
		m, err := beacon.ParseModality(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// BuildAllowList parses the configured allow-list.
func (c *Config) BuildAllowList() (beacon.AllowList, error) {
	list := make(beacon.AllowList, 0, len(c.AllowList))
	for i, e := range c.AllowList {
		id, err := beacon.ParseIdentity(e.Identity)
		if err != nil {
			return nil, fmt.Errorf("allow_list[%d]: %w", i, err)
		}
		list = append(list, beacon.AllowEntry{Identity: id, TableID: e.TableID, Label: e.Label})
	}
	return list, nil
}

// BuildDecoder returns a decoder carrying the configured presence tokens.
func (c *Config) BuildDecoder() (*beacon.Decoder, error) {
	d := &beacon.Decoder{}
	for i, t := range c.PresenceTokens {
		if strings.TrimSpace(t.Token) == "" {
			return nil, fmt.Errorf("presence_tokens[%d]: token must not be empty", i)
		}
		id, err := beacon.ParseIdentity(t.Identity)
		if err != nil {
			return nil, fmt.Errorf("presence_tokens[%d]: %w", i, err)
		}
		d.Tokens = append(d.Tokens, beacon.PresenceToken{Token: t.Token, Identity: id})
	}
	return d, nil
}

// PermissionStates parses the permission overrides.
func (c *Config) PermissionStates() (map[permission.Capability]permission.State, error) {
	out := make(map[permission.Capability]permission.State, len(c.Permissions))
	for name, value := range c.Permissions {
		capability := permission.Capability(name)
		switch capability {
		case permission.Bluetooth, permission.Geolocation, permission.NFC:
		default:
			return nil, fmt.Errorf("permissions: unknown capability %q", name)
		}
		state, err := permission.ParseState(value)
		if err != nil {
			return nil, fmt.Errorf("permissions.%s: %w", name, err)
		}
		out[capability] = state
	}
	return out, nil
}
