// Package beacon decodes proximity beacon frames and matches them against the
// configured table beacons.
package beacon

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies the beacon format an Identity belongs to.
type Kind int

const (
	KindUnknown Kind = iota
	KindIBeacon
	KindEddystone
	KindNFCTag
)

// String returns the lowercase kind name, also the prefix of Identity.String.
func (k Kind) String() string {
	switch k {
	case KindIBeacon:
		return "ibeacon"
	case KindEddystone:
		return "eddystone"
	case KindNFCTag:
		return "nfc"
	default:
		return "unknown"
	}
}

// Identity is an immutable beacon identity. Two identities are equal (==) only
// when kind and every identifier byte are equal.
//
// For iBeacon the primary part is the 16-byte proximity UUID and the secondary
// part is major+minor (4 bytes, big-endian). For Eddystone they are the 10-byte
// namespace and the 6-byte instance. NFC tags carry their UID as primary.
type Identity struct {
	kind      Kind
	primary   string
	secondary string
}

// NewIBeacon builds an iBeacon identity.
func NewIBeacon(id uuid.UUID, major, minor uint16) Identity {
	var mm [4]byte
	binary.BigEndian.PutUint16(mm[0:2], major)
	binary.BigEndian.PutUint16(mm[2:4], minor)
	return Identity{kind: KindIBeacon, primary: string(id[:]), secondary: string(mm[:])}
}

// NewEddystone builds an Eddystone-UID identity.
func NewEddystone(namespace [10]byte, instance [6]byte) Identity {
	return Identity{kind: KindEddystone, primary: string(namespace[:]), secondary: string(instance[:])}
}

// NewNFCTag builds an identity from a tag UID.
func NewNFCTag(uid []byte) Identity {
	return Identity{kind: KindNFCTag, primary: string(uid)}
}

// Kind reports which beacon family the identity belongs to.
func (id Identity) Kind() Kind { return id.kind }

// IsZero reports whether id is the zero Identity.
func (id Identity) IsZero() bool { return id.kind == KindUnknown }

// Primary returns a copy of the UUID, namespace or tag UID bytes.
func (id Identity) Primary() []byte { return []byte(id.primary) }

// Secondary returns a copy of the major+minor or instance bytes.
func (id Identity) Secondary() []byte { return []byte(id.secondary) }

// UUID returns the iBeacon proximity UUID.
func (id Identity) UUID() uuid.UUID {
	var u uuid.UUID
	if id.kind == KindIBeacon {
		copy(u[:], id.primary)
	}
	return u
}

// Major returns the iBeacon major number, zero for other kinds.
func (id Identity) Major() uint16 {
	if id.kind != KindIBeacon {
		return 0
	}
	return binary.BigEndian.Uint16([]byte(id.secondary[0:2]))
}

// Minor returns the iBeacon minor number, zero for other kinds.
func (id Identity) Minor() uint16 {
	if id.kind != KindIBeacon {
		return 0
	}
	return binary.BigEndian.Uint16([]byte(id.secondary[2:4]))
}

// String renders the identity in the form accepted by ParseIdentity.
func (id Identity) String() string {
	switch id.kind {
	case KindIBeacon:
		return fmt.Sprintf("ibeacon:%s:%d:%d", id.UUID(), id.Major(), id.Minor())
	case KindEddystone:
		return "eddystone:" + hex.EncodeToString([]byte(id.primary)) + ":" + hex.EncodeToString([]byte(id.secondary))
	case KindNFCTag:
		return "nfc:" + hex.EncodeToString([]byte(id.primary))
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseIdentity parses the text form produced by Identity.String:
//
//	ibeacon:<uuid>:<major>:<minor>
//	eddystone:<20 hex namespace>:<12 hex instance>
//	nfc:<uid hex>
//
// Hex digits are accepted in either case. Colons inside an NFC UID
// ("04:A2:2B:...") are tolerated.
func ParseIdentity(s string) (Identity, error) {
	kind, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Identity{}, fmt.Errorf("invalid beacon identity %q: missing kind prefix", s)
	}

	switch strings.ToLower(kind) {
	case "ibeacon":
		parts := strings.Split(rest, ":")
		if len(parts) != 3 {
			return Identity{}, fmt.Errorf("invalid iBeacon identity %q: want ibeacon:<uuid>:<major>:<minor>", s)
		}
		u, err := uuid.Parse(parts[0])
		if err != nil {
			return Identity{}, fmt.Errorf("invalid iBeacon uuid %q: %w", parts[0], err)
		}
		major, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil {
			return Identity{}, fmt.Errorf("invalid iBeacon major %q: %w", parts[1], err)
		}
		minor, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil {
			return Identity{}, fmt.Errorf("invalid iBeacon minor %q: %w", parts[2], err)
		}
		return NewIBeacon(u, uint16(major), uint16(minor)), nil

	case "eddystone":
		parts := strings.Split(rest, ":")
		if len(parts) != 2 {
			return Identity{}, fmt.Errorf("invalid Eddystone identity %q: want eddystone:<namespace>:<instance>", s)
		}
		ns, err := hex.DecodeString(parts[0])
		if err != nil || len(ns) != 10 {
			return Identity{}, fmt.Errorf("invalid Eddystone namespace %q: want 20 hex digits", parts[0])
		}
		inst, err := hex.DecodeString(parts[1])
		if err != nil || len(inst) != 6 {
			return Identity{}, fmt.Errorf("invalid Eddystone instance %q: want 12 hex digits", parts[1])
		}
		var namespace [10]byte
		var instance [6]byte
		copy(namespace[:], ns)
		copy(instance[:], inst)
		return NewEddystone(namespace, instance), nil

	case "nfc":
		uid, err := ParseUID(rest)
		if err != nil {
			return Identity{}, err
		}
		return NewNFCTag(uid), nil

	default:
		return Identity{}, fmt.Errorf("invalid beacon identity %q: unknown kind %q", s, kind)
	}
}

// ParseUID decodes a tag UID written as hex, with or without ':', '-' or
// space separators.
func ParseUID(s string) ([]byte, error) {
	clean := strings.NewReplacer(":", "", "-", "", " ", "").Replace(s)
	uid, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid tag uid %q: %w", s, err)
	}
	if len(uid) == 0 || len(uid) > 16 {
		return nil, fmt.Errorf("invalid tag uid %q: %d bytes", s, len(uid))
	}
	return uid, nil
}
