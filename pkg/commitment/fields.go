package commitment

import (
	"encoding/json"
	"github.com/RyanW02/eventstamp/pkg/events"
	"github.com/gowebpki/jcs"
)

// FormatVersion is written into every payload. Decoders accept any version up to this one.
const FormatVersion = 1

// Fields is the exact payload embedded in a commitment output.
type Fields struct {
	Version     int            `json:"version" bson:"version"`
	Address     string         `json:"address" bson:"address"`
	Timestamp   string         `json:"timestamp" bson:"timestamp"`
	Path        string         `json:"path" bson:"path"`
	Data        map[string]any `json:"data" bson:"data"`
	Fingerprint string         `json:"fingerprint" bson:"fingerprint"`
}

func NewFields(ctx events.EventContext, fingerprint events.Fingerprint) Fields {
	return Fields{
		Version:     FormatVersion,
		Address:     ctx.Address,
		Timestamp:   ctx.Timestamp,
		Path:        ctx.Path,
		Data:        ctx.Data,
		Fingerprint: fingerprint.String(),
	}
}

// Context recovers the event context the fields were built from.
func (f Fields) Context() events.EventContext {
	return events.EventContext{
		Address:   f.Address,
		Timestamp: f.Timestamp,
		Path:      f.Path,
		Data:      f.Data,
	}
}

// Verify recomputes the fingerprint of the embedded context and checks it matches the embedded one.
func (f Fields) Verify() (bool, error) {
	fingerprint, err := events.NewFingerprint(f.Context())
	if err != nil {
		return false, err
	}

	return fingerprint.String() == f.Fingerprint, nil
}

func (f Fields) canonicalPayload() ([]byte, error) {
	marshalled, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}

	return jcs.Transform(marshalled)
}
