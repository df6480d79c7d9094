package network

import (
	"context"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestClassifyAlreadyKnown(t *testing.T) {
	require.NoError(t, classify(btcjson.NewRPCError(btcjson.ErrRPCVerifyAlreadyInChain, "Transaction outputs already in utxo set")))
	require.NoError(t, classify(btcjson.NewRPCError(btcjson.ErrRPCVerifyRejected, "txn-already-in-mempool")))
}

func TestClassifyInputsSpent(t *testing.T) {
	for _, message := range []string{
		"txn-mempool-conflict",
		"bad-txns-inputs-missingorspent",
		"missing inputs",
	} {
		err := classify(btcjson.NewRPCError(btcjson.ErrRPCVerifyRejected, message))
		require.ErrorIs(t, err, ErrInputsSpent, message)
		require.NotErrorIs(t, err, ErrBroadcastUnknown, message)
	}
}

func TestClassifyDefiniteReject(t *testing.T) {
	rejection := btcjson.NewRPCError(btcjson.ErrRPCVerifyRejected, "min relay fee not met")

	err := classify(rejection)
	require.Equal(t, rejection, err)
	require.NotErrorIs(t, err, ErrInputsSpent)
	require.NotErrorIs(t, err, ErrBroadcastUnknown)
}

func TestClassifyTransportFailure(t *testing.T) {
	err := classify(errors.New("connection reset by peer"))
	require.ErrorIs(t, err, ErrBroadcastUnknown)

	err = classify(context.DeadlineExceeded)
	require.ErrorIs(t, err, ErrBroadcastUnknown)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
