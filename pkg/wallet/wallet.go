package wallet

import (
	"context"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/RyanW02/eventstamp/pkg/network"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"time"
)

// Wallet is a funding source backed by a store of the server's own outputs. Every implementation reserves
// outputs atomically as it lists them, and records the effects of each transaction it broadcasts.
type Wallet interface {
	funding.FundingSource
	funding.Releaser
	funding.CommitmentSource

	Import(ctx context.Context, outputs ...funding.FundingOutput) error
	ReleaseExpired(ctx context.Context, olderThan time.Duration) (int, error)
	Balance(ctx context.Context) (int64, error)
	TestConnection(ctx context.Context) error
}

type Status string

const (
	StatusSpendable Status = "spendable"
	StatusReserved  Status = "reserved"
	StatusSpent     Status = "spent"
)

var (
	ErrOutputExists     = errors.New("output already imported")
	ErrNoRawTransaction = errors.New("output has no raw transaction")
)

// Effects is the change to wallet state caused by broadcasting a transaction.
type Effects struct {
	Spent      []wire.OutPoint
	Change     *funding.FundingOutput
	Commitment *funding.CommitmentOutput
}

func EffectsOf(tx funding.Transaction) Effects {
	effects := Effects{
		Spent: tx.SpentOutPoints(),
	}

	msgTx := tx.MsgTx()

	if idx, ok := tx.ChangeOutput(); ok && int(idx) < len(msgTx.TxOut) {
		effects.Change = &funding.FundingOutput{
			TxID:   tx.TxID(),
			Index:  idx,
			Amount: msgTx.TxOut[idx].Value,
			RawTx:  tx.SerializedBytes(),
		}
	}

	if idx, ok := tx.CommitmentOutput(); ok && int(idx) < len(msgTx.TxOut) {
		effects.Commitment = &funding.CommitmentOutput{
			TxID:   tx.TxID(),
			Index:  idx,
			Amount: msgTx.TxOut[idx].Value,
			Script: msgTx.TxOut[idx].PkScript,
		}
	}

	return effects
}

// EffectsOfFailure returns what must still be recorded after a failed broadcast, and false when nothing changed.
// A transaction with an unknown outcome is recorded as broadcast, since a node may have accepted it. Inputs a
// node reported as already spent are retired.
func EffectsOfFailure(tx funding.Transaction, err error) (Effects, bool) {
	switch {
	case errors.Is(err, network.ErrBroadcastUnknown):
		return EffectsOf(tx), true
	case errors.Is(err, network.ErrInputsSpent):
		return Effects{Spent: tx.SpentOutPoints()}, true
	default:
		return Effects{}, false
	}
}

func ValidateImport(outputs []funding.FundingOutput) error {
	for _, output := range outputs {
		if len(output.RawTx) == 0 {
			return errors.Wrap(ErrNoRawTransaction, output.String())
		}
	}

	return nil
}
