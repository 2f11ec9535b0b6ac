package protocol

import "time"

// RegisterRequest is the first message a sensing device sends.
type RegisterRequest struct {
	DeviceName string `json:"deviceName"` // e.g., "Counter tablet"
	Platform   string `json:"platform"`   // "ios", "android" or "web"
	AppVersion string `json:"appVersion,omitempty"`
	// Modalities the device can scan: "nfc", "gatt", "ble-ibeacon", "ble-eddystone".
	Modalities []string `json:"modalities"`
	// Permissions maps a capability ("bluetooth", "geolocation", "nfc") to
	// "granted", "prompt" or "denied".
	Permissions map[string]string `json:"permissions,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// RegisterResponse is sent once the device is registered.
type RegisterResponse struct {
	DeviceID   string     `json:"deviceID"`
	ServerInfo ServerInfo `json:"serverInfo"`
}

// ServerInfo describes the agent to a device.
type ServerInfo struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Modalities []string `json:"modalities"`
}

// StartScanPayload asks a device to start streaming frames for a modality.
type StartScanPayload struct {
	SessionID string `json:"sessionID"`
	Modality  string `json:"modality"`
}

// StopScanPayload ends a scan started with StartScanPayload.
type StopScanPayload struct {
	SessionID string `json:"sessionID"`
}

// FramePayload carries one sighting. Exactly one of Advertisement,
// Characteristic and NDEF is set.
type FramePayload struct {
	SessionID      string                 `json:"sessionID"`
	Modality       string                 `json:"modality"`
	ReceivedAt     *time.Time             `json:"receivedAt,omitempty"`
	Advertisement  *AdvertisementPayload  `json:"advertisement,omitempty"`
	Characteristic *CharacteristicPayload `json:"characteristic,omitempty"`
	NDEF           *NDEFPayload           `json:"ndef,omitempty"`
}

// AdvertisementPayload is a BLE advertisement as browsers and mobile stacks
// report it: manufacturer data split by company.
type AdvertisementPayload struct {
	Address          string                    `json:"address,omitempty"`
	LocalName        string                    `json:"localName,omitempty"`
	Services         []string                  `json:"services,omitempty"`
	ManufacturerData []ManufacturerDataPayload `json:"manufacturerData,omitempty"`
	ServiceData      []ServiceDataPayload      `json:"serviceData,omitempty"`
	RSSI             *int                      `json:"rssi,omitempty"`
}

// ManufacturerDataPayload is the data of one company, identifier excluded.
type ManufacturerDataPayload struct {
	CompanyID uint16 `json:"companyID"`
	Data      []byte `json:"data"` // base64 in JSON
}

// ServiceDataPayload is the data advertised for one service UUID.
type ServiceDataPayload struct {
	UUID string `json:"uuid"`
	Data []byte `json:"data"`
}

// CharacteristicPayload is a value read from a GATT characteristic.
type CharacteristicPayload struct {
	Address     string   `json:"address,omitempty"`
	LocalName   string   `json:"localName,omitempty"`
	Services    []string `json:"services,omitempty"`
	ServiceUUID string   `json:"serviceUUID"`
	Value       []byte   `json:"value"`
	RSSI        *int     `json:"rssi,omitempty"`
}

// NDEFPayload is a tag read. Message holds the raw NDEF bytes; when it is
// empty the records are encoded from Records.
type NDEFPayload struct {
	UID     string            `json:"uid"`
	Message []byte            `json:"message,omitempty"`
	Records []NDEFRecordInput `json:"records,omitempty"`
}

// ScanErrorPayload reports that a device could not run or continue a scan.
type ScanErrorPayload struct {
	SessionID string `json:"sessionID"`
	Code      string `json:"code"` // one of the ScanErr constants
	Message   string `json:"message,omitempty"`
}

// PermissionsPayload updates the permission states reported at registration.
type PermissionsPayload struct {
	Permissions map[string]string `json:"permissions"`
}

// HeartbeatPayload is sent periodically to keep the device registered.
type HeartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}
