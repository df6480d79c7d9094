package funding

import "fmt"

// Validate checks every candidate and returns them with their locking scripts attached. The first bad candidate
// fails the whole call: a forged identifier means the backend is corrupt or tampered with, so none of its other
// outputs can be trusted either.
func Validate(candidates []FundingOutput) ([]ValidatedOutput, error) {
	validated := make([]ValidatedOutput, 0, len(candidates))
	for _, candidate := range candidates {
		output, err := ValidateOne(candidate)
		if err != nil {
			return nil, err
		}

		validated = append(validated, output)
	}

	return validated, nil
}

func ValidateOne(candidate FundingOutput) (ValidatedOutput, error) {
	source := candidate.String()

	if len(candidate.RawTx) == 0 {
		return ValidatedOutput{}, &MissingDataError{Source: source}
	}

	tx, err := decodeTx(candidate.RawTx)
	if err != nil {
		return ValidatedOutput{}, integrityFailure(candidate, fmt.Sprintf("undecodable transaction: %v", err))
	}

	// The identifier commits to the transaction without its witness data
	actual := tx.TxHash()
	if actual != candidate.TxID {
		return ValidatedOutput{}, &IntegrityError{
			Expected: candidate.TxID,
			Actual:   actual,
			Source:   source,
			Reason:   "identifier mismatch",
		}
	}

	if int(candidate.Index) >= len(tx.TxOut) {
		return ValidatedOutput{}, integrityFailure(candidate, "output index out of range")
	}

	out := tx.TxOut[candidate.Index]
	if out.Value != candidate.Amount {
		return ValidatedOutput{}, integrityFailure(
			candidate,
			fmt.Sprintf("claimed amount %d does not match output value %d", candidate.Amount, out.Value),
		)
	}

	// Copy everything handed onwards, so later stages never alias the caller's slices
	pkScript := make([]byte, len(out.PkScript))
	copy(pkScript, out.PkScript)

	rawTx := make([]byte, len(candidate.RawTx))
	copy(rawTx, candidate.RawTx)
	candidate.RawTx = rawTx

	return ValidatedOutput{
		FundingOutput: candidate,
		PkScript:      pkScript,
	}, nil
}

func integrityFailure(candidate FundingOutput, reason string) *IntegrityError {
	return &IntegrityError{
		Expected: candidate.TxID,
		Actual:   candidate.TxID,
		Source:   candidate.String(),
		Reason:   reason,
	}
}
