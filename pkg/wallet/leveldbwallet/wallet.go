package leveldbwallet

import (
	"context"
	"errors"
	"fmt"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/RyanW02/eventstamp/pkg/network"
	"github.com/RyanW02/eventstamp/pkg/wallet"
	"github.com/btcsuite/btcd/wire"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"
	"time"
)

type Wallet struct {
	logger      *zap.Logger
	db          *leveldb.DB
	broadcaster network.Broadcaster
	now         func() time.Time
}

const (
	keyOutputsIdCounter     = "id_counter_outputs"
	keyPrefixOutputs        = "outputs_"
	keyPrefixOutputsIndex   = "index_outputs_"
	keyCommitmentsIdCounter = "id_counter_commitments"
	keyPrefixCommitments    = "commitments_"
)

// Enforce interface constraints at compile time
var _ wallet.Wallet = (*Wallet)(nil)

func Open(logger *zap.Logger, path string, broadcaster network.Broadcaster) (*Wallet, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}

	return NewWallet(logger, db, broadcaster), nil
}

func NewWallet(logger *zap.Logger, db *leveldb.DB, broadcaster network.Broadcaster) *Wallet {
	return &Wallet{
		logger:      logger,
		db:          db,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

func (w *Wallet) Close() error {
	return w.db.Close()
}

func (w *Wallet) TestConnection(_ context.Context) error {
	_, err := w.db.GetProperty("leveldb.stats")
	return err
}

func (w *Wallet) Import(_ context.Context, outputs ...funding.FundingOutput) error {
	if err := wallet.ValidateImport(outputs); err != nil {
		return err
	}

	return w.withTransaction(func(tx *leveldb.Transaction) error {
		seen := make(map[wire.OutPoint]struct{})
		for _, output := range outputs {
			exists, err := tx.Has(indexKey(output.OutPoint()), nil)
			if err != nil {
				return err
			}

			if _, duplicate := seen[output.OutPoint()]; exists || duplicate {
				return fmt.Errorf("%s: %w", output, wallet.ErrOutputExists)
			}

			seen[output.OutPoint()] = struct{}{}
		}

		return addOutputs(tx, outputs)
	})
}

func (w *Wallet) ListSpendableOutputs(_ context.Context, limit int) ([]funding.FundingOutput, error) {
	var outputs []funding.FundingOutput
	if err := w.withTransaction(func(tx *leveldb.Transaction) error {
		it := tx.NewIterator(util.BytesPrefix(bz(keyPrefixOutputs)), nil)
		defer it.Release()

		batch := new(leveldb.Batch)
		reservedAt := w.now()
		for it.Next() {
			if limit > 0 && len(outputs) >= limit {
				break
			}

			record, err := unmarshalOutput(it.Value())
			if err != nil {
				return err
			}

			if record.Status != wallet.StatusSpendable {
				continue
			}

			record.Status = wallet.StatusReserved
			record.ReservedAt = reservedAt

			encoded, err := marshalOutput(record)
			if err != nil {
				return err
			}

			batch.Put(copyBytes(it.Key()), encoded)
			outputs = append(outputs, record.Output)
		}

		if err := it.Error(); err != nil {
			return err
		}

		return tx.Write(batch, nil)
	}); err != nil {
		return nil, err
	}

	return outputs, nil
}

func (w *Wallet) Release(_ context.Context, outPoints []wire.OutPoint) error {
	return w.withTransaction(func(tx *leveldb.Transaction) error {
		for _, outPoint := range outPoints {
			if err := updateOutput(tx, outPoint, func(record *outputRecord) bool {
				if record.Status != wallet.StatusReserved {
					return false
				}

				record.Status = wallet.StatusSpendable
				record.ReservedAt = time.Time{}
				return true
			}); err != nil {
				return err
			}
		}

		return nil
	})
}

func (w *Wallet) ReleaseExpired(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := w.now().Add(-olderThan)

	var released int
	if err := w.withTransaction(func(tx *leveldb.Transaction) error {
		it := tx.NewIterator(util.BytesPrefix(bz(keyPrefixOutputs)), nil)
		defer it.Release()

		batch := new(leveldb.Batch)
		for it.Next() {
			record, err := unmarshalOutput(it.Value())
			if err != nil {
				return err
			}

			if record.Status != wallet.StatusReserved || !record.ReservedAt.Before(cutoff) {
				continue
			}

			record.Status = wallet.StatusSpendable
			record.ReservedAt = time.Time{}

			encoded, err := marshalOutput(record)
			if err != nil {
				return err
			}

			batch.Put(copyBytes(it.Key()), encoded)
			released++
		}

		if err := it.Error(); err != nil {
			return err
		}

		return tx.Write(batch, nil)
	}); err != nil {
		return 0, err
	}

	return released, nil
}

func (w *Wallet) Broadcast(ctx context.Context, tx funding.Transaction) error {
	if _, err := w.broadcaster.SendRawTransaction(ctx, tx.MsgTx()); err != nil {
		if effects, ok := wallet.EffectsOfFailure(tx, err); ok {
			w.record(tx, effects)
		}

		return err
	}

	// The transaction is already on the network at this point, so a failure to record it must not be reported
	// as a failure to commit.
	w.record(tx, wallet.EffectsOf(tx))
	return nil
}

func (w *Wallet) record(tx funding.Transaction, effects wallet.Effects) {
	if err := w.withTransaction(func(dbTx *leveldb.Transaction) error {
		for _, outPoint := range effects.Spent {
			if err := updateOutput(dbTx, outPoint, func(record *outputRecord) bool {
				record.Status = wallet.StatusSpent
				return true
			}); err != nil {
				return err
			}
		}

		if effects.Change != nil {
			if err := addOutputs(dbTx, []funding.FundingOutput{*effects.Change}); err != nil {
				return err
			}
		}

		if effects.Commitment != nil {
			return addCommitment(dbTx, *effects.Commitment)
		}

		return nil
	}); err != nil {
		w.logger.Error(
			"Failed to record broadcast transaction",
			zap.Stringer("tx_id", tx.TxID()),
			zap.Error(err),
		)
	}
}

func (w *Wallet) ListCommitmentOutputs(_ context.Context, limit int) ([]funding.CommitmentOutput, error) {
	it := w.db.NewIterator(util.BytesPrefix(bz(keyPrefixCommitments)), nil)
	defer it.Release()

	var outputs []funding.CommitmentOutput
	for ok := it.Last(); ok; ok = it.Prev() {
		if limit > 0 && len(outputs) >= limit {
			break
		}

		output, err := unmarshalCommitment(it.Value())
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, output)
	}

	if err := it.Error(); err != nil {
		return nil, err
	}

	return outputs, nil
}

func (w *Wallet) Balance(_ context.Context) (int64, error) {
	it := w.db.NewIterator(util.BytesPrefix(bz(keyPrefixOutputs)), nil)
	defer it.Release()

	var balance int64
	for it.Next() {
		record, err := unmarshalOutput(it.Value())
		if err != nil {
			return 0, err
		}

		if record.Status == wallet.StatusSpendable {
			balance += record.Output.Amount
		}
	}

	return balance, it.Error()
}

func addOutputs(tx *leveldb.Transaction, outputs []funding.FundingOutput) error {
	var i int
	return withIncrementingIdBatch(tx, keyOutputsIdCounter, len(outputs), func(batch *leveldb.Batch, id [16]byte) error {
		output := outputs[i]
		i++

		encoded, err := marshalOutput(outputRecord{
			Output: output,
			Status: wallet.StatusSpendable,
		})
		if err != nil {
			return err
		}

		batch.Put(append(bz(keyPrefixOutputs), id[:]...), encoded)
		batch.Put(indexKey(output.OutPoint()), id[:])
		return nil
	})
}

func addCommitment(tx *leveldb.Transaction, output funding.CommitmentOutput) error {
	return withIncrementingIdBatch(tx, keyCommitmentsIdCounter, 1, func(batch *leveldb.Batch, id [16]byte) error {
		batch.Put(append(bz(keyPrefixCommitments), id[:]...), marshalCommitment(output))
		return nil
	})
}

// updateOutput applies f to the stored output, writing it back if f returns true. Unknown outputs are ignored.
func updateOutput(tx *leveldb.Transaction, outPoint wire.OutPoint, f func(record *outputRecord) bool) error {
	id, err := tx.Get(indexKey(outPoint), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil
		}

		return err
	}

	key := append(bz(keyPrefixOutputs), id...)
	value, err := tx.Get(key, nil)
	if err != nil {
		return err
	}

	record, err := unmarshalOutput(value)
	if err != nil {
		return err
	}

	if !f(&record) {
		return nil
	}

	encoded, err := marshalOutput(record)
	if err != nil {
		return err
	}

	return tx.Put(key, encoded, nil)
}

func withIncrementingIdBatch(
	tx *leveldb.Transaction,
	counterKey string,
	n int,
	f func(batch *leveldb.Batch, id [16]byte) error,
) error {
	var id [16]byte
	counterBytes, err := tx.Get(bz(counterKey), nil)
	if err == nil {
		if len(counterBytes) != 16 {
			return fmt.Errorf("invalid counter length: %d", len(counterBytes))
		}

		id = [16]byte(counterBytes)
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return err
	}

	batch := new(leveldb.Batch)
	for i := 0; i < n; i++ {
		id = getNextKey(id)
		if err := f(batch, id); err != nil {
			return err
		}
	}

	batch.Put(bz(counterKey), id[:])
	return tx.Write(batch, nil)
}

func (w *Wallet) withTransaction(f func(tx *leveldb.Transaction) error) error {
	tx, err := w.db.OpenTransaction()
	if err != nil {
		return err
	}

	defer tx.Discard()

	if err := f(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func indexKey(outPoint wire.OutPoint) []byte {
	return join(bz(keyPrefixOutputsIndex), outPoint.Hash[:], uint32ToBytes(outPoint.Index))
}

func getNextKey(currentKey [16]byte) [16]byte {
	var nextKey [16]byte
	copy(nextKey[:], currentKey[:])

	// Increment the last byte that is not 255, zeroing every place after it
	for i := len(nextKey) - 1; i >= 0; i-- {
		if nextKey[i] == 255 {
			nextKey[i] = 0
			continue
		}

		nextKey[i]++
		return nextKey
	}

	return [16]byte{}
}
