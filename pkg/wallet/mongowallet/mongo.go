package mongowallet

import (
	"context"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/RyanW02/eventstamp/pkg/network"
	"github.com/RyanW02/eventstamp/pkg/wallet"
	"github.com/btcsuite/btcd/wire"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"time"
)

type Wallet struct {
	logger      *zap.Logger
	database    *mongo.Database
	broadcaster network.Broadcaster

	outputs     *outputCollection
	commitments *commitmentCollection
}

var _ wallet.Wallet = (*Wallet)(nil)

type mongoCollection interface {
	InitSchema(ctx context.Context) error
}

func NewWallet(logger *zap.Logger, db *mongo.Database, broadcaster network.Broadcaster) *Wallet {
	return &Wallet{
		logger:      logger,
		database:    db,
		broadcaster: broadcaster,
		outputs:     newOutputCollection(db),
		commitments: newCommitmentCollection(db),
	}
}

func (w *Wallet) InitSchema(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	cols := []mongoCollection{w.outputs, w.commitments}
	for _, col := range cols {
		col := col
		group.Go(func() error {
			return col.InitSchema(ctx)
		})
	}

	return group.Wait()
}

func (w *Wallet) TestConnection(ctx context.Context) error {
	ctx, cancelFunc := context.WithTimeout(ctx, time.Second*10)
	defer cancelFunc()

	return w.database.Client().Ping(ctx, nil)
}

func (w *Wallet) Import(ctx context.Context, outputs ...funding.FundingOutput) error {
	if err := wallet.ValidateImport(outputs); err != nil {
		return err
	}

	return w.outputs.insert(ctx, outputs)
}

func (w *Wallet) ListSpendableOutputs(ctx context.Context, limit int) ([]funding.FundingOutput, error) {
	return w.outputs.reserve(ctx, limit)
}

func (w *Wallet) Release(ctx context.Context, outPoints []wire.OutPoint) error {
	if len(outPoints) == 0 {
		return nil
	}

	_, err := w.outputs.release(ctx, filterReserved(outPoints))
	return err
}

func (w *Wallet) ReleaseExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	count, err := w.outputs.release(ctx, filterReservedBefore(time.Now().Add(-olderThan)))
	return int(count), err
}

func (w *Wallet) Broadcast(ctx context.Context, tx funding.Transaction) error {
	if _, err := w.broadcaster.SendRawTransaction(ctx, tx.MsgTx()); err != nil {
		if effects, ok := wallet.EffectsOfFailure(tx, err); ok {
			// The request context has often expired by now
			recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second*10)
			defer cancel()

			if recordErr := w.record(recordCtx, effects); recordErr != nil {
				w.logger.Error(
					"Failed to record transaction after failed broadcast",
					zap.Stringer("tx_id", tx.TxID()),
					zap.Error(recordErr),
				)
			}
		}

		return err
	}

	effects := wallet.EffectsOf(tx)

	// Log as error, but don't report it: the transaction is already on the network
	if err := w.record(ctx, effects); err != nil {
		w.logger.Error(
			"Failed to record broadcast transaction",
			zap.Stringer("tx_id", tx.TxID()),
			zap.Error(err),
		)
	}

	return nil
}

func (w *Wallet) record(ctx context.Context, effects wallet.Effects) error {
	if err := w.outputs.markSpent(ctx, effects.Spent); err != nil {
		return err
	}

	if effects.Change != nil {
		if err := w.outputs.insert(ctx, []funding.FundingOutput{*effects.Change}); err != nil {
			return err
		}
	}

	if effects.Commitment != nil {
		return w.commitments.insert(ctx, *effects.Commitment)
	}

	return nil
}

func (w *Wallet) ListCommitmentOutputs(ctx context.Context, limit int) ([]funding.CommitmentOutput, error) {
	return w.commitments.latest(ctx, limit)
}

func (w *Wallet) Balance(ctx context.Context) (int64, error) {
	return w.outputs.spendableTotal(ctx)
}
