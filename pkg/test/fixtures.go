package test

import (
	"bytes"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Params is the network every fixture is built for.
var Params = &chaincfg.RegressionNetParams

// PrivateKey returns a fixed key, so fixtures are reproducible between runs.
func PrivateKey(seed byte) *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	return priv
}

// P2PKHScript returns the pay-to-pubkey-hash locking script for the given key.
func P2PKHScript(pub *btcec.PublicKey) []byte {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), Params)
	if err != nil {
		panic(err)
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		panic(err)
	}

	return script
}

// FundingTx builds a transaction paying each amount to the P2PKH address of pub, and returns it serialized. The
// nonce is written into the input so distinct calls produce distinct transactions.
func FundingTx(pub *btcec.PublicKey, nonce uint32, amounts ...int64) []byte {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: nonce}, []byte{0x51}, nil))

	return serialize(tx, pub, amounts)
}

// WitnessFundingTx is FundingTx for a transaction spending a segwit output, so its serialization carries witness
// data and hashes to the wtxid rather than the txid.
func WitnessFundingTx(pub *btcec.PublicKey, nonce uint32, amounts ...int64) []byte {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: nonce},
		nil,
		wire.TxWitness{bytes.Repeat([]byte{0x30}, 71), pub.SerializeCompressed()},
	))

	return serialize(tx, pub, amounts)
}

func serialize(tx *wire.MsgTx, pub *btcec.PublicKey, amounts []int64) []byte {
	for _, amount := range amounts {
		tx.AddTxOut(wire.NewTxOut(amount, P2PKHScript(pub)))
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		panic(err)
	}

	return buf.Bytes()
}
