package protocol

// NDEFRecordInput represents a single NDEF record reported by a device.
// Supports both high-level (type+content) and low-level (TNF+payload) formats.
type NDEFRecordInput struct {
	// High-level format, used by WebNFC and most mobile SDKs
	RecordType string `json:"recordType,omitempty"` // "text", "url", "uri", "mime"
	Content    string `json:"content,omitempty"`
	Language   string `json:"language,omitempty"` // default "en"
	MimeType   string `json:"mimeType,omitempty"`

	// Low-level format
	TNF     *uint8 `json:"tnf,omitempty"`
	Type    []byte `json:"type,omitempty"`
	ID      []byte `json:"id,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}
