package txbuilder

import (
	"errors"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/btcsuite/btcd/wire"
)

// UnsignedTransaction is a fully formed transaction with empty signature scripts. Inputs are in the same order
// as Tx.TxIn, and carry the locking scripts the signer needs.
type UnsignedTransaction struct {
	Tx              *wire.MsgTx
	Inputs          []funding.ValidatedOutput
	CommitmentIndex int
	ChangeIndex     int // -1 when the remainder was absorbed into the fee
	Fee             int64
}

var (
	ErrEmptyScript       = errors.New("commitment script is empty")
	ErrEmptyChangeScript = errors.New("change script is empty")
)

// Assemble selects inputs in the order given until they cover the commitment output and the fee, then builds
// the transaction. changeScript is the locking script for the change output.
func Assemble(
	inputs []funding.ValidatedOutput,
	commitmentScript []byte,
	policy FeePolicy,
	changeScript []byte,
) (*UnsignedTransaction, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	if len(commitmentScript) == 0 {
		return nil, ErrEmptyScript
	}

	if len(changeScript) == 0 {
		return nil, ErrEmptyChangeScript
	}

	var (
		selected []funding.ValidatedOutput
		total    int64
		fee      int64
	)

	for _, input := range inputs {
		selected = append(selected, input)
		total += input.Amount

		fee = policy.Fee(EstimateSize(len(selected), len(commitmentScript)))
		if total >= policy.CommitmentAmount+fee {
			break
		}
	}

	required := policy.CommitmentAmount + fee
	if len(selected) == 0 {
		required = policy.CommitmentAmount + policy.Fee(EstimateSize(1, len(commitmentScript)))
	}

	if total < required {
		return nil, &InsufficientFundsError{Required: required, Available: total}
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, input := range selected {
		outPoint := input.OutPoint()
		tx.AddTxIn(wire.NewTxIn(&outPoint, nil, nil))
	}

	tx.AddTxOut(wire.NewTxOut(policy.CommitmentAmount, commitmentScript))

	unsigned := &UnsignedTransaction{
		Tx:              tx,
		Inputs:          selected,
		CommitmentIndex: 0,
		ChangeIndex:     -1,
		Fee:             total - policy.CommitmentAmount,
	}

	change := total - policy.CommitmentAmount - fee
	if change > 0 && change >= policy.DustThreshold {
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
		unsigned.ChangeIndex = 1
		unsigned.Fee = fee
	}

	return unsigned, nil
}

// OutputTotal is the sum of all output values.
func (u *UnsignedTransaction) OutputTotal() int64 {
	var total int64
	for _, out := range u.Tx.TxOut {
		total += out.Value
	}

	return total
}

func (u *UnsignedTransaction) InputTotal() int64 {
	var total int64
	for _, input := range u.Inputs {
		total += input.Amount
	}

	return total
}
