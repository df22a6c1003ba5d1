package powerpool

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// IDKind tags the payload carried by a WorkID.
type IDKind uint8

const (
	// IDNumeric IDs come from a per-pool increment.
	IDNumeric IDKind = iota + 1

	// IDGUID IDs are random 128-bit values.
	IDGUID

	// IDCustom IDs are supplied by the caller.
	IDCustom
)

// WorkIDType selects how a pool generates IDs for work without a CustomID.
type WorkIDType int

const (
	// NumericIDs generates 1, 2, 3, ... per pool.
	NumericIDs WorkIDType = iota

	// GUIDs generates random globally unique IDs.
	GUIDs
)

// WorkID identifies a work item. It is comparable and usable as a map key;
// two IDs are equal only when both kind and payload match.
type WorkID struct {
	kind IDKind
	num  int64
	guid [16]byte
	str  string
}

// NumericID returns a numeric WorkID.
func NumericID(n int64) WorkID {
	return WorkID{kind: IDNumeric, num: n}
}

// CustomID returns a caller-defined WorkID.
func CustomID(s string) WorkID {
	return WorkID{kind: IDCustom, str: s}
}

// NewGUID returns a random WorkID.
func NewGUID() WorkID {
	id := WorkID{kind: IDGUID}
	if _, err := rand.Read(id.guid[:]); err != nil {
		panic(fmt.Sprintf("powerpool: reading random bytes: %v", err))
	}
	id.guid[6] = (id.guid[6] & 0x0f) | 0x40
	id.guid[8] = (id.guid[8] & 0x3f) | 0x80
	return id
}

// Kind returns the ID kind. The zero WorkID has kind 0.
func (id WorkID) Kind() IDKind {
	return id.kind
}

// IsZero reports whether id is the zero WorkID.
func (id WorkID) IsZero() bool {
	return id.kind == 0
}

// String renders the payload: digits, a canonical GUID, or the custom string.
func (id WorkID) String() string {
	switch id.kind {
	case IDNumeric:
		return strconv.FormatInt(id.num, 10)
	case IDGUID:
		var buf [36]byte
		hex.Encode(buf[0:8], id.guid[0:4])
		buf[8] = '-'
		hex.Encode(buf[9:13], id.guid[4:6])
		buf[13] = '-'
		hex.Encode(buf[14:18], id.guid[6:8])
		buf[18] = '-'
		hex.Encode(buf[19:23], id.guid[8:10])
		buf[23] = '-'
		hex.Encode(buf[24:], id.guid[10:])
		return string(buf[:])
	case IDCustom:
		return id.str
	default:
		return ""
	}
}

// MarshalText encodes the ID with a kind prefix so that it round-trips.
func (id WorkID) MarshalText() ([]byte, error) {
	switch id.kind {
	case IDNumeric:
		return []byte("n:" + id.String()), nil
	case IDGUID:
		return []byte("g:" + id.String()), nil
	case IDCustom:
		return []byte("c:" + id.str), nil
	default:
		return []byte{}, nil
	}
}

// UnmarshalText decodes the output of MarshalText.
func (id *WorkID) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		*id = WorkID{}
		return nil
	}
	prefix, payload, ok := strings.Cut(s, ":")
	if !ok {
		return fmt.Errorf("powerpool: malformed work id %q", s)
	}
	switch prefix {
	case "n":
		n, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return fmt.Errorf("powerpool: malformed numeric work id %q: %w", s, err)
		}
		*id = NumericID(n)
	case "g":
		raw, err := hex.DecodeString(strings.ReplaceAll(payload, "-", ""))
		if err != nil || len(raw) != 16 {
			return fmt.Errorf("powerpool: malformed guid work id %q", s)
		}
		next := WorkID{kind: IDGUID}
		copy(next.guid[:], raw)
		*id = next
	case "c":
		*id = CustomID(payload)
	default:
		return fmt.Errorf("powerpool: unknown work id kind %q", prefix)
	}
	return nil
}
