package network

import (
	"context"
	"errors"
	"fmt"
	"github.com/RyanW02/eventstamp/pkg/pool"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"
	"time"
)

// RoundRobinClient spreads broadcasts over a set of node RPC connections, skipping nodes that stop responding.
type RoundRobinClient struct {
	logger *zap.Logger
	pool   *pool.Pool[*rpcclient.Client]
}

var _ Broadcaster = (*RoundRobinClient)(nil)

func NewRoundRobinClient(logger *zap.Logger, clients []*rpcclient.Client) *RoundRobinClient {
	return &RoundRobinClient{
		logger: logger,
		pool: pool.NewPool[*rpcclient.Client](clients, pool.Config[*rpcclient.Client]{
			LivenessValidThreshold: 10 * time.Second,
			DeadConnCheckInterval:  15 * time.Second,
			TestFunc: func(c *rpcclient.Client) bool {
				_, err := c.GetBlockCount()
				return err == nil
			},
			DestructorFunc: func(c *rpcclient.Client) error {
				c.Shutdown()
				return nil
			},
		}),
	}
}

func (c *RoundRobinClient) Close() error {
	return c.pool.Close()
}

// Nodes returns the number of nodes currently considered online.
func (c *RoundRobinClient) Nodes() int {
	alive, _ := c.pool.Size()
	return alive
}

type sendResult struct {
	hash *chainhash.Hash
	err  error
}

func (c *RoundRobinClient) SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	conn, err := c.pool.Get()
	if err != nil {
		return nil, err
	}

	future := conn.SendRawTransactionAsync(tx, false)

	ch := make(chan sendResult, 1)
	go func() {
		hash, err := future.Receive()
		ch <- sendResult{hash: hash, err: err}
	}()

	select {
	case <-ctx.Done():
		// The request has been handed to the node, it may still accept it
		return nil, fmt.Errorf("%w: %w", ErrBroadcastUnknown, ctx.Err())
	case res := <-ch:
		if res.err == nil {
			return res.hash, nil
		}

		err := classify(res.err)
		if err == nil {
			c.logger.Debug("Node already has transaction", zap.Stringer("tx_id", tx.TxHash()))

			hash := tx.TxHash()
			return &hash, nil
		}

		c.logger.Warn("Node rejected transaction", zap.Stringer("tx_id", tx.TxHash()), zap.Error(err))
		return nil, err
	}
}

// classify maps a sendrawtransaction failure onto the outcomes callers act on. It returns nil when the node
// already holds the transaction.
func classify(err error) error {
	var rpcErr *btcjson.RPCError
	if !errors.As(err, &rpcErr) {
		// No reply from the node, the request may have been processed
		return fmt.Errorf("%w: %w", ErrBroadcastUnknown, err)
	}

	mapped := rpcclient.MapRPCErr(rpcErr)
	switch {
	case rpcErr.Code == btcjson.ErrRPCVerifyAlreadyInChain,
		errors.Is(mapped, rpcclient.ErrTxAlreadyKnown),
		errors.Is(mapped, rpcclient.ErrTxAlreadyInMempool),
		errors.Is(mapped, rpcclient.ErrTxAlreadyConfirmed):
		return nil
	case errors.Is(mapped, rpcclient.ErrMissingInputsOrSpent),
		errors.Is(mapped, rpcclient.ErrMissingInputs),
		errors.Is(mapped, rpcclient.ErrMempoolConflict),
		errors.Is(mapped, rpcclient.ErrConflictingTx):
		return fmt.Errorf("%w: %w", ErrInputsSpent, rpcErr)
	default:
		return rpcErr
	}
}
