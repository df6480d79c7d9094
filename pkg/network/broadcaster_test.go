package network

import (
	"context"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestParamsForChain(t *testing.T) {
	params, err := ParamsForChain("RegTest")
	require.NoError(t, err)
	require.Equal(t, chaincfg.RegressionNetParams.Name, params.Name)

	params, err = ParamsForChain("mainnet")
	require.NoError(t, err)
	require.Equal(t, chaincfg.MainNetParams.Name, params.Name)

	_, err = ParamsForChain("dogecoin")
	require.Error(t, err)
}

func TestNoopBroadcasterReturnsTxHash(t *testing.T) {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(100, []byte{0x51}))

	hash, err := NewNoopBroadcaster().SendRawTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), *hash)
}
