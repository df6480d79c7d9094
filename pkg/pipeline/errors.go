package pipeline

import (
	"errors"
	"fmt"
	"github.com/RyanW02/eventstamp/pkg/commitment"
	"github.com/RyanW02/eventstamp/pkg/events"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/RyanW02/eventstamp/pkg/network"
	"github.com/RyanW02/eventstamp/pkg/signer"
	"github.com/RyanW02/eventstamp/pkg/txbuilder"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// FundingError wraps a failure of the funding or commitment source itself, e.g. an unreachable wallet database.
type FundingError struct {
	Err error
}

// BroadcastError is returned when a signed transaction was not confirmed as accepted by the network. Unless
// Recorded reports true, nothing has been committed.
type BroadcastError struct {
	TxID   chainhash.Hash
	Inputs []wire.OutPoint
	Err    error
}

var (
	_ error = (*FundingError)(nil)
	_ error = (*BroadcastError)(nil)
)

func (e *FundingError) Error() string {
	return fmt.Sprintf("funding source failed: %v", e.Err)
}

func (e *FundingError) Unwrap() error {
	return e.Err
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("failed to broadcast transaction %s: %v", e.TxID, e.Err)
}

func (e *BroadcastError) Unwrap() error {
	return e.Err
}

// Recorded reports whether the wallet kept the effects of the transaction despite the error: either a node may
// have accepted it, or its inputs turned out to be spent already. Its inputs must not be released either way.
func (e *BroadcastError) Recorded() bool {
	return errors.Is(e.Err, network.ErrBroadcastUnknown) || errors.Is(e.Err, network.ErrInputsSpent)
}

type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindIntegrity         ErrorKind = "integrity"
	KindMissingData       ErrorKind = "missing_data"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindEncoding          ErrorKind = "encoding"
	KindDecoding          ErrorKind = "decoding"
	KindSigning           ErrorKind = "signing"
	KindBroadcast         ErrorKind = "broadcast"
	KindFunding           ErrorKind = "funding"
	KindUnknown           ErrorKind = "unknown"
)

// KindOf classifies an error returned by Commit or Retrieve.
func KindOf(err error) ErrorKind {
	var (
		validationErr   *events.ValidationError
		integrityErr    *funding.IntegrityError
		missingDataErr  *funding.MissingDataError
		insufficientErr *txbuilder.InsufficientFundsError
		encodingErr     *commitment.EncodingError
		decodingErr     *commitment.DecodingError
		signingErr      *signer.SigningError
		broadcastErr    *BroadcastError
		fundingErr      *FundingError
	)

	switch {
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &integrityErr):
		return KindIntegrity
	case errors.As(err, &missingDataErr):
		return KindMissingData
	case errors.As(err, &insufficientErr):
		return KindInsufficientFunds
	case errors.As(err, &encodingErr):
		return KindEncoding
	case errors.As(err, &decodingErr):
		return KindDecoding
	case errors.As(err, &signingErr):
		return KindSigning
	case errors.As(err, &broadcastErr):
		return KindBroadcast
	case errors.As(err, &fundingErr):
		return KindFunding
	default:
		return KindUnknown
	}
}
