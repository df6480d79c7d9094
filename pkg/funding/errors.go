package funding

import (
	"fmt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// IntegrityError means a funding candidate's raw transaction does not match what the backend claimed about it.
// Expected and Actual are only set when the identifier itself does not match.
type IntegrityError struct {
	Expected chainhash.Hash
	Actual   chainhash.Hash
	Source   string
	Reason   string
}

type MissingDataError struct {
	Source string
}

var (
	_ error = (*IntegrityError)(nil)
	_ error = (*MissingDataError)(nil)
)

func (e *IntegrityError) Error() string {
	if e.Expected != e.Actual {
		return fmt.Sprintf("funding output %s failed integrity check: raw transaction hashes to %s", e.Source, e.Actual)
	}

	return fmt.Sprintf("funding output %s failed integrity check: %s", e.Source, e.Reason)
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("funding output %s has no raw transaction", e.Source)
}
