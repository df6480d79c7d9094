package signer

import (
	"bytes"
	"context"
	"github.com/RyanW02/eventstamp/pkg/commitment"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/pkg/errors"
)

// KeyProvider supplies the server's signing keys. KeyFor returns the private key able to unlock the given
// locking script.
type KeyProvider interface {
	KeyFor(ctx context.Context, pkScript []byte) (*btcec.PrivateKey, error)
	PublicKey(ctx context.Context) (*btcec.PublicKey, error)
}

var ErrKeyNotFound = errors.New("no key available for script")

// StaticKeyProvider holds a single key, and can unlock P2PKH, P2PK and commitment outputs locked to it.
type StaticKeyProvider struct {
	key    *btcec.PrivateKey
	params *chaincfg.Params
}

var _ KeyProvider = (*StaticKeyProvider)(nil)

func NewStaticKeyProvider(key *btcec.PrivateKey, params *chaincfg.Params) *StaticKeyProvider {
	return &StaticKeyProvider{
		key:    key,
		params: params,
	}
}

func NewStaticKeyProviderFromWIF(encoded string, params *chaincfg.Params) (*StaticKeyProvider, error) {
	wif, err := btcutil.DecodeWIF(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode WIF private key")
	}

	if !wif.IsForNet(params) {
		return nil, errors.Errorf("WIF private key is not for network %s", params.Name)
	}

	return NewStaticKeyProvider(wif.PrivKey, params), nil
}

func (p *StaticKeyProvider) PublicKey(_ context.Context) (*btcec.PublicKey, error) {
	return p.key.PubKey(), nil
}

func (p *StaticKeyProvider) KeyFor(_ context.Context, pkScript []byte) (*btcec.PrivateKey, error) {
	pub := p.key.PubKey().SerializeCompressed()

	if owner, ok := commitment.OwnerKey(pkScript); ok {
		if bytes.Equal(owner, pub) {
			return p.key, nil
		}

		return nil, ErrKeyNotFound
	}

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, p.params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse script")
	}

	pubKeyHash := btcutil.Hash160(pub)
	for _, addr := range addrs {
		switch addr := addr.(type) {
		case *btcutil.AddressPubKeyHash:
			if bytes.Equal(addr.ScriptAddress(), pubKeyHash) {
				return p.key, nil
			}
		case *btcutil.AddressPubKey:
			if addr.PubKey().IsEqual(p.key.PubKey()) {
				return p.key, nil
			}
		}
	}

	return nil, ErrKeyNotFound
}

// ChangeScript returns the P2PKH locking script paying to the provider's public key.
func ChangeScript(ctx context.Context, keys KeyProvider, params *chaincfg.Params) ([]byte, error) {
	pub, err := keys.PublicKey(ctx)
	if err != nil {
		return nil, err
	}

	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(addr)
}
