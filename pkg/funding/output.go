package funding

import (
	"bytes"
	"fmt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// FundingOutput is an unspent output offered by a wallet backend, together with the full transaction that
// created it.
type FundingOutput struct {
	TxID   chainhash.Hash
	Index  uint32
	Amount int64
	RawTx  []byte
}

// ValidatedOutput is a FundingOutput whose raw transaction has been checked against its identifier. PkScript is
// the locking script of the output, which the signer needs to produce the unlocking proof.
type ValidatedOutput struct {
	FundingOutput
	PkScript []byte
}

func (o FundingOutput) OutPoint() wire.OutPoint {
	return wire.OutPoint{Hash: o.TxID, Index: o.Index}
}

func (o FundingOutput) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Index)
}

// NewFundingOutput builds a funding output from a raw transaction, taking the identifier and amount from the
// transaction itself. The raw bytes may carry witness data.
func NewFundingOutput(rawTx []byte, index uint32) (FundingOutput, error) {
	tx, err := decodeTx(rawTx)
	if err != nil {
		return FundingOutput{}, err
	}

	if int(index) >= len(tx.TxOut) {
		return FundingOutput{}, fmt.Errorf("output index %d out of range, transaction has %d outputs", index, len(tx.TxOut))
	}

	return FundingOutput{
		TxID:   tx.TxHash(),
		Index:  index,
		Amount: tx.TxOut[index].Value,
		RawTx:  rawTx,
	}, nil
}

// decodeTx accepts both the legacy and the witness encoding, and rejects anything after the transaction.
func decodeTx(rawTx []byte) (*wire.MsgTx, error) {
	var tx wire.MsgTx

	reader := bytes.NewReader(rawTx)
	if err := tx.Deserialize(reader); err != nil {
		return nil, err
	}

	if reader.Len() > 0 {
		return nil, fmt.Errorf("%d trailing bytes after transaction", reader.Len())
	}

	return &tx, nil
}

func TotalAmount(outputs []FundingOutput) int64 {
	var total int64
	for _, output := range outputs {
		total += output.Amount
	}

	return total
}
