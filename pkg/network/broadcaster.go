package network

import (
	"context"
	"errors"
	"fmt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"strings"
)

// Broadcaster relays signed transactions to the ledger network. A transaction the network already holds counts
// as accepted. Failures wrap ErrBroadcastUnknown when the transaction may have reached a node anyway, and
// ErrInputsSpent when a node rejected it because its inputs are gone. Any other error is a definite rejection.
type Broadcaster interface {
	SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
}

var (
	ErrBroadcastUnknown = errors.New("broadcast outcome unknown")
	ErrInputsSpent      = errors.New("transaction inputs missing or already spent")
)

func ParamsForChain(chain string) (*chaincfg.Params, error) {
	switch strings.ToLower(chain) {
	case "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown chain %q", chain)
	}
}
