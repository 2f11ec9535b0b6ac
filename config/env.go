package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SEATLINK_"

// ApplyEnv overrides fields from SEATLINK_* variables. Unset or blank
// variables leave the field alone; malformed values are errors.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	var errs []string
	setInt := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	setString := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	setDuration := func(name string, dst *Duration) {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = Duration(d)
		}
	}

	setInt("PORT", &c.Port)
	setString("DB_PATH", &c.DBPath)
	if v, ok := get("MODALITIES"); ok {
		c.Modalities = splitCSV(v)
	}
	setDuration("TIMEOUT_PER_MODALITY", &c.TimeoutPerModality)
	setDuration("POLL_INTERVAL", &c.PollInterval)
	setBool("CONCURRENT", &c.Concurrent)
	setString("TABLE_ID_EXPR", &c.TableIDExpr)
	setBool("ACCEPT_TAG_TEXT", &c.AcceptTagText)
	setBool("USE_RFKILL", &c.UseRfkill)
	setBool("NFC_ENABLED", &c.NFCEnabled)
	setString("NFC_DEVICE", &c.NFCDevice)
	setBool("BLE_ENABLED", &c.BLEEnabled)
	setInt("BLE_DEVICE_ID", &c.BLEDeviceID)
	setString("HCI_PORT", &c.HCIPort)
	setInt("HCI_BAUD", &c.HCIBaud)
	setBool("REMOTE_ENABLED", &c.RemoteEnabled)
	setDuration("REMOTE_INACTIVITY", &c.RemoteInactivity)
	setBool("MDNS", &c.MDNS)
	setBool("TLS", &c.TLS)
	setString("API_SECRET", &c.APISecret)
	setDuration("RESOLUTION_RETENTION", &c.Retention)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
