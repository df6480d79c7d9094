package txbuilder

import (
	"fmt"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/wire"
)

const (
	// DefaultCommitmentAmount is the value locked in every commitment output.
	DefaultCommitmentAmount int64 = 546

	// DefaultDustThreshold is the smallest change output worth creating. Anything below is left to the fee.
	DefaultDustThreshold int64 = 546

	// DefaultFeeRate is in satoshis per 1000 bytes.
	DefaultFeeRate = int64(mempool.DefaultMinRelayTxFee)
)

// Serialized size estimates for a legacy transaction.
const (
	txOverheadSize = 4 + 1 + 1 + 4 // version, input count, output count, lock time

	// Outpoint, script length, signature script (max DER signature + sighash type + compressed public key
	// pushes), sequence
	p2pkhInputSize = 32 + 4 + 1 + (1 + 73) + (1 + 33) + 4

	// Value, script length, 25 byte script
	p2pkhOutputSize = 8 + 1 + 25
)

type FeePolicy struct {
	CommitmentAmount int64 `json:"commitment_amount"`
	FeeRate          int64 `json:"fee_rate"`
	DustThreshold    int64 `json:"dust_threshold"`
}

func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		CommitmentAmount: DefaultCommitmentAmount,
		FeeRate:          DefaultFeeRate,
		DustThreshold:    DefaultDustThreshold,
	}
}

func (p FeePolicy) Validate() error {
	if p.CommitmentAmount <= 0 {
		return fmt.Errorf("commitment amount must be positive, got %d", p.CommitmentAmount)
	}

	if p.FeeRate < 0 {
		return fmt.Errorf("fee rate must not be negative, got %d", p.FeeRate)
	}

	if p.DustThreshold < 0 {
		return fmt.Errorf("dust threshold must not be negative, got %d", p.DustThreshold)
	}

	if p.CommitmentAmount < p.DustThreshold {
		return fmt.Errorf("commitment amount %d is below the dust threshold %d", p.CommitmentAmount, p.DustThreshold)
	}

	return nil
}

// EstimateSize returns the serialized size of a transaction spending inputCount P2PKH inputs into a commitment
// output with the given script and a P2PKH change output.
func EstimateSize(inputCount int, commitmentScriptLen int) int {
	commitmentOutputSize := 8 + wire.VarIntSerializeSize(uint64(commitmentScriptLen)) + commitmentScriptLen
	inputCountSize := wire.VarIntSerializeSize(uint64(inputCount)) - 1

	return txOverheadSize + inputCountSize + inputCount*p2pkhInputSize + commitmentOutputSize + p2pkhOutputSize
}

// Fee is the fee for a transaction of the given size, rounded up.
func (p FeePolicy) Fee(size int) int64 {
	return (int64(size)*p.FeeRate + 999) / 1000
}
