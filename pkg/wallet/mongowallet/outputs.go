package mongowallet

import (
	"context"
	"errors"
	"fmt"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/RyanW02/eventstamp/pkg/wallet"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"time"
)

const OutputCollectionName = "outputs"

const (
	keyOutPoint      = "outpoint"
	keyStatus        = "status"
	keyReservedAt    = "reserved_at"
	keyReservationId = "reservation_id"
	keyAmount        = "amount"
)

type outputCollection struct {
	collection *mongo.Collection
}

var _ mongoCollection = (*outputCollection)(nil)

type outputDocument struct {
	OutPoint      string        `bson:"outpoint"`
	TxID          string        `bson:"tx_id"`
	Index         int64         `bson:"index"`
	Amount        int64         `bson:"amount"`
	RawTx         []byte        `bson:"raw_tx"`
	Status        wallet.Status `bson:"status"`
	ReservedAt    *time.Time    `bson:"reserved_at,omitempty"`
	ReservationId string        `bson:"reservation_id,omitempty"`
}

func newOutputCollection(db *mongo.Database) *outputCollection {
	return &outputCollection{
		collection: db.Collection(OutputCollectionName),
	}
}

func (c *outputCollection) InitSchema(ctx context.Context) error {
	_, err := c.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: keyOutPoint, Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: keyStatus, Value: 1}, {Key: "_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: keyStatus, Value: 1}, {Key: keyReservedAt, Value: 1}},
		},
	})

	return err
}

func (c *outputCollection) insert(ctx context.Context, outputs []funding.FundingOutput) error {
	seen := make(map[string]struct{})
	outPoints := make([]string, len(outputs))
	documents := make([]any, len(outputs))
	for i, output := range outputs {
		if _, ok := seen[output.String()]; ok {
			return fmt.Errorf("%s: %w", output, wallet.ErrOutputExists)
		}

		seen[output.String()] = struct{}{}
		outPoints[i] = output.String()
		documents[i] = outputDocument{
			OutPoint: output.String(),
			TxID:     output.TxID.String(),
			Index:    int64(output.Index),
			Amount:   output.Amount,
			RawTx:    output.RawTx,
			Status:   wallet.StatusSpendable,
		}
	}

	var existing outputDocument
	err := c.collection.FindOne(ctx, bson.M{keyOutPoint: bson.M{"$in": outPoints}}).Decode(&existing)
	if err == nil {
		return fmt.Errorf("%s: %w", existing.OutPoint, wallet.ErrOutputExists)
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}

	if _, err := c.collection.InsertMany(ctx, documents); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return wallet.ErrOutputExists
		}

		return err
	}

	return nil
}

// reserve claims up to limit spendable outputs, oldest first. Each claim is a single atomic update, so
// concurrent callers never receive the same output.
func (c *outputCollection) reserve(ctx context.Context, limit int) ([]funding.FundingOutput, error) {
	reservationId := uuid.NewString()
	reservedAt := time.Now()

	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetReturnDocument(options.After)

	update := bson.M{
		"$set": bson.M{
			keyStatus:        wallet.StatusReserved,
			keyReservedAt:    reservedAt,
			keyReservationId: reservationId,
		},
	}

	var outputs []funding.FundingOutput
	for limit <= 0 || len(outputs) < limit {
		var document outputDocument
		if err := c.collection.FindOneAndUpdate(ctx, bson.M{keyStatus: wallet.StatusSpendable}, update, opts).Decode(&document); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				break
			}

			return nil, err
		}

		output, err := document.toOutput()
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, output)
	}

	return outputs, nil
}

func (c *outputCollection) release(ctx context.Context, filter bson.M) (int64, error) {
	update := bson.M{
		"$set":   bson.M{keyStatus: wallet.StatusSpendable},
		"$unset": bson.M{keyReservedAt: "", keyReservationId: ""},
	}

	res, err := c.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}

	return res.ModifiedCount, nil
}

func (c *outputCollection) markSpent(ctx context.Context, outPoints []wire.OutPoint) error {
	if len(outPoints) == 0 {
		return nil
	}

	update := bson.M{
		"$set":   bson.M{keyStatus: wallet.StatusSpent},
		"$unset": bson.M{keyReservedAt: "", keyReservationId: ""},
	}

	_, err := c.collection.UpdateMany(ctx, bson.M{keyOutPoint: bson.M{"$in": outPointStrings(outPoints)}}, update)
	return err
}

type totalResult struct {
	Total int64 `bson:"total"`
}

func (c *outputCollection) spendableTotal(ctx context.Context) (int64, error) {
	cursor, err := c.collection.Aggregate(ctx, bson.A{
		bson.M{"$match": bson.M{keyStatus: wallet.StatusSpendable}},
		bson.M{"$group": bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$" + keyAmount},
		}},
	})
	if err != nil {
		return 0, err
	}

	var results []totalResult
	if err := cursor.All(ctx, &results); err != nil {
		return 0, err
	}

	// No spendable outputs gives no results, not a zero total
	if len(results) == 0 {
		return 0, nil
	}

	return results[0].Total, nil
}

func filterReserved(outPoints []wire.OutPoint) bson.M {
	return bson.M{
		keyOutPoint: bson.M{"$in": outPointStrings(outPoints)},
		keyStatus:   wallet.StatusReserved,
	}
}

func filterReservedBefore(cutoff time.Time) bson.M {
	return bson.M{
		keyStatus:     wallet.StatusReserved,
		keyReservedAt: bson.M{"$lt": cutoff},
	}
}

func outPointStrings(outPoints []wire.OutPoint) []string {
	res := make([]string, len(outPoints))
	for i, outPoint := range outPoints {
		res[i] = outPoint.String()
	}

	return res
}

func (d outputDocument) toOutput() (funding.FundingOutput, error) {
	txId, err := chainhash.NewHashFromStr(d.TxID)
	if err != nil {
		return funding.FundingOutput{}, err
	}

	return funding.FundingOutput{
		TxID:   *txId,
		Index:  uint32(d.Index),
		Amount: d.Amount,
		RawTx:  d.RawTx,
	}, nil
}
