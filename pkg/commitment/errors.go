package commitment

import "fmt"

type EncodingError struct {
	Reason string
	Size   int
	Limit  int
}

type DecodingError struct {
	Reason string
	Err    error
}

var (
	_ error = (*EncodingError)(nil)
	_ error = (*DecodingError)(nil)
)

func (e *EncodingError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("failed to encode commitment: %s (%d bytes, limit %d)", e.Reason, e.Size, e.Limit)
	}

	return fmt.Sprintf("failed to encode commitment: %s", e.Reason)
}

func (e *DecodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to decode commitment: %s: %v", e.Reason, e.Err)
	}

	return fmt.Sprintf("failed to decode commitment: %s", e.Reason)
}

func (e *DecodingError) Unwrap() error {
	return e.Err
}

func decodingError(reason string, err error) *DecodingError {
	return &DecodingError{Reason: reason, Err: err}
}
