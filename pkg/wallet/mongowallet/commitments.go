package mongowallet

import (
	"context"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"time"
)

const CommitmentCollectionName = "commitments"

type commitmentCollection struct {
	collection *mongo.Collection
}

var _ mongoCollection = (*commitmentCollection)(nil)

type commitmentDocument struct {
	TxID      string    `bson:"tx_id"`
	Index     int64     `bson:"index"`
	Amount    int64     `bson:"amount"`
	Script    []byte    `bson:"script"`
	CreatedAt time.Time `bson:"created_at"`
}

func newCommitmentCollection(db *mongo.Database) *commitmentCollection {
	return &commitmentCollection{
		collection: db.Collection(CommitmentCollectionName),
	}
}

func (c *commitmentCollection) InitSchema(ctx context.Context) error {
	_, err := c.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tx_id", Value: 1}, {Key: "index", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.M{"created_at": -1},
		},
	})

	return err
}

func (c *commitmentCollection) insert(ctx context.Context, output funding.CommitmentOutput) error {
	_, err := c.collection.InsertOne(ctx, commitmentDocument{
		TxID:      output.TxID.String(),
		Index:     int64(output.Index),
		Amount:    output.Amount,
		Script:    output.Script,
		CreatedAt: time.Now(),
	})

	return err
}

// latest returns the most recent commitments first. A limit of zero or less returns every commitment.
func (c *commitmentCollection) latest(ctx context.Context, limit int) ([]funding.CommitmentOutput, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := c.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}

	var documents []commitmentDocument
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, err
	}

	outputs := make([]funding.CommitmentOutput, 0, len(documents))
	for _, document := range documents {
		txId, err := chainhash.NewHashFromStr(document.TxID)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, funding.CommitmentOutput{
			TxID:   *txId,
			Index:  uint32(document.Index),
			Amount: document.Amount,
			Script: document.Script,
		})
	}

	return outputs, nil
}
