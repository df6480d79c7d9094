package network

import (
	"context"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// NoopBroadcaster accepts every transaction without sending it anywhere. It is used for local development when
// no node addresses are configured, and in tests.
type NoopBroadcaster struct{}

var _ Broadcaster = (*NoopBroadcaster)(nil)

func NewNoopBroadcaster() *NoopBroadcaster {
	return &NoopBroadcaster{}
}

func (b *NoopBroadcaster) SendRawTransaction(_ context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	hash := tx.TxHash()
	return &hash, nil
}
