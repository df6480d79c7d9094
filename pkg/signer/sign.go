package signer

import (
	"bytes"
	"context"
	"fmt"
	"github.com/RyanW02/eventstamp/pkg/commitment"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/RyanW02/eventstamp/pkg/txbuilder"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

type SignedTransaction struct {
	ID     chainhash.Hash
	Raw    []byte
	Proofs [][]byte

	Tx              *wire.MsgTx
	Inputs          []wire.OutPoint
	CommitmentIndex int
	ChangeIndex     int
	Fee             int64
}

var _ funding.Transaction = (*SignedTransaction)(nil)

type SigningError struct {
	Input    int
	OutPoint wire.OutPoint
	Err      error
}

var _ error = (*SigningError)(nil)

var (
	ErrUnsupportedScript = errors.New("unsupported locking script")
	ErrInputMismatch     = errors.New("input metadata does not match transaction inputs")
)

func (e *SigningError) Error() string {
	return fmt.Sprintf("failed to sign input %d (%s): %v", e.Input, e.OutPoint, e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// Sign produces the unlocking proof for every input and serializes the result. Signatures use SIGHASH_ALL over
// the legacy signature hash, which blanks every signature script, so signing one input never invalidates
// another. The unsigned transaction is not modified.
func Sign(ctx context.Context, unsigned *txbuilder.UnsignedTransaction, keys KeyProvider) (*SignedTransaction, error) {
	if len(unsigned.Inputs) != len(unsigned.Tx.TxIn) {
		return nil, &SigningError{Input: -1, Err: ErrInputMismatch}
	}

	tx := unsigned.Tx.Copy()
	proofs := make([][]byte, len(tx.TxIn))
	outPoints := make([]wire.OutPoint, len(tx.TxIn))

	for i, input := range unsigned.Inputs {
		outPoint := input.OutPoint()
		if tx.TxIn[i].PreviousOutPoint != outPoint {
			return nil, &SigningError{Input: i, OutPoint: outPoint, Err: ErrInputMismatch}
		}

		key, err := keys.KeyFor(ctx, input.PkScript)
		if err != nil {
			return nil, &SigningError{Input: i, OutPoint: outPoint, Err: err}
		}

		proof, err := unlockingScript(tx, i, input.PkScript, key)
		if err != nil {
			return nil, &SigningError{Input: i, OutPoint: outPoint, Err: err}
		}

		proofs[i] = proof
		outPoints[i] = outPoint
	}

	for i, proof := range proofs {
		tx.TxIn[i].SignatureScript = proof
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}

	raw := buf.Bytes()

	return &SignedTransaction{
		ID:              chainhash.DoubleHashH(raw),
		Raw:             raw,
		Proofs:          proofs,
		Tx:              tx,
		Inputs:          outPoints,
		CommitmentIndex: unsigned.CommitmentIndex,
		ChangeIndex:     unsigned.ChangeIndex,
		Fee:             unsigned.Fee,
	}, nil
}

func unlockingScript(tx *wire.MsgTx, idx int, pkScript []byte, key *btcec.PrivateKey) ([]byte, error) {
	if commitment.IsCommitmentScript(pkScript) {
		return signatureOnly(tx, idx, pkScript, key)
	}

	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy:
		return txscript.SignatureScript(tx, idx, pkScript, txscript.SigHashAll, key, true)
	case txscript.PubKeyTy:
		return signatureOnly(tx, idx, pkScript, key)
	default:
		return nil, ErrUnsupportedScript
	}
}

func signatureOnly(tx *wire.MsgTx, idx int, pkScript []byte, key *btcec.PrivateKey) ([]byte, error) {
	sig, err := txscript.RawTxInSignature(tx, idx, pkScript, txscript.SigHashAll, key)
	if err != nil {
		return nil, err
	}

	return txscript.NewScriptBuilder().AddData(sig).Script()
}

func (s *SignedTransaction) TxID() chainhash.Hash {
	return s.ID
}

func (s *SignedTransaction) MsgTx() *wire.MsgTx {
	return s.Tx
}

func (s *SignedTransaction) SerializedBytes() []byte {
	return s.Raw
}

func (s *SignedTransaction) SpentOutPoints() []wire.OutPoint {
	return s.Inputs
}

func (s *SignedTransaction) CommitmentOutput() (uint32, bool) {
	if s.CommitmentIndex < 0 {
		return 0, false
	}

	return uint32(s.CommitmentIndex), true
}

func (s *SignedTransaction) ChangeOutput() (uint32, bool) {
	if s.ChangeIndex < 0 {
		return 0, false
	}

	return uint32(s.ChangeIndex), true
}
