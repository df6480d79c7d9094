package events

import (
	"fmt"
	"time"
)

// EventContext is the request metadata that gets committed to the ledger. It is captured once per request and
// must not be modified afterwards.
type EventContext struct {
	Address   string         `json:"address" bson:"address"`
	Timestamp string         `json:"timestamp" bson:"timestamp"`
	Path      string         `json:"path" bson:"path"`
	Data      map[string]any `json:"data" bson:"data"`
}

type ValidationError struct {
	Field string
}

var _ error = (*ValidationError)(nil)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event context: %s is required", e.Field)
}

func NewEventContext(address string, receivedAt time.Time, path string, data map[string]any) EventContext {
	return EventContext{
		Address:   address,
		Timestamp: receivedAt.UTC().Format(time.RFC3339Nano),
		Path:      path,
		Data:      data,
	}
}

// Validate checks all four fields are present. Data may be empty, but not nil.
func (c EventContext) Validate() error {
	switch {
	case c.Address == "":
		return &ValidationError{Field: "address"}
	case c.Timestamp == "":
		return &ValidationError{Field: "timestamp"}
	case c.Path == "":
		return &ValidationError{Field: "path"}
	case c.Data == nil:
		return &ValidationError{Field: "data"}
	}

	return nil
}
