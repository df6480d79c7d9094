package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/gowebpki/jcs"
)

// Fingerprint is the SHA-256 digest of the canonical serialization of an EventContext.
type Fingerprint [sha256.Size]byte

var (
	_ fmt.Stringer     = (*Fingerprint)(nil)
	_ json.Marshaler   = (*Fingerprint)(nil)
	_ json.Unmarshaler = (*Fingerprint)(nil)
)

// CanonicalBytes serializes the context as the JSON array [address, timestamp, path, data], canonicalized with
// RFC 8785. The array pins the order of the fixed fields, and JCS sorts the keys of data (at every depth) and
// normalises number formatting, so the output does not depend on map iteration order.
func (c EventContext) CanonicalBytes() ([]byte, error) {
	data := c.Data
	if data == nil {
		data = map[string]any{}
	}

	marshalled, err := json.Marshal([]any{c.Address, c.Timestamp, c.Path, data})
	if err != nil {
		return nil, err
	}

	return jcs.Transform(marshalled)
}

func NewFingerprint(c EventContext) (Fingerprint, error) {
	canonical, err := c.CanonicalBytes()
	if err != nil {
		return Fingerprint{}, err
	}

	return sha256.Sum256(canonical), nil
}

func ParseFingerprint(s string) (Fingerprint, error) {
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, err
	}

	if len(decoded) != sha256.Size {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint length %d", len(decoded))
	}

	var f Fingerprint
	copy(f[:], decoded)
	return f, nil
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

func (f Fingerprint) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

func (f *Fingerprint) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		return errors.New("invalid Fingerprint - length less than 2")
	}

	parsed, err := ParseFingerprint(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}

	*f = parsed
	return nil
}
