package funding

import (
	"context"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Transaction is what a funding source needs to know about a signed transaction to broadcast it and record its
// effects.
type Transaction interface {
	TxID() chainhash.Hash
	MsgTx() *wire.MsgTx
	SerializedBytes() []byte
	SpentOutPoints() []wire.OutPoint
	CommitmentOutput() (uint32, bool)
	ChangeOutput() (uint32, bool)
}

// FundingSource hands out spendable outputs and broadcasts transactions that spend them. Outputs returned by
// ListSpendableOutputs must be reserved for the caller, so two concurrent requests never receive the same one.
type FundingSource interface {
	ListSpendableOutputs(ctx context.Context, limit int) ([]FundingOutput, error)
	Broadcast(ctx context.Context, tx Transaction) error
}

// Releaser is implemented by funding sources that can return reserved outputs to the spendable set, when the
// transaction that would have spent them is abandoned.
type Releaser interface {
	Release(ctx context.Context, outPoints []wire.OutPoint) error
}

// CommitmentOutput is a previously broadcast commitment output.
type CommitmentOutput struct {
	TxID   chainhash.Hash
	Index  uint32
	Amount int64
	Script []byte
}

type CommitmentSource interface {
	ListCommitmentOutputs(ctx context.Context, limit int) ([]CommitmentOutput, error)
}
