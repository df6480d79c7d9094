package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"github.com/RyanW02/eventstamp/internal/bootstrap"
	"github.com/RyanW02/eventstamp/internal/config"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/RyanW02/eventstamp/pkg/network"
	"github.com/RyanW02/eventstamp/pkg/signer"
	"go.uber.org/zap"
	"os"
	"time"
)

var (
	rawTxHex = flag.String("tx", "", "Funding transaction (hex encoded)")
	index    = flag.Uint("index", 0, "Output index within the funding transaction")
)

func main() {
	flag.Parse()

	if *rawTxHex == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	if cfg.Wallet.Backend == config.WalletBackendMemory {
		fmt.Println("Wallet backend is memory, the imported output will not be persisted")
	}

	rawTx, err := hex.DecodeString(*rawTxHex)
	if err != nil {
		panic(err)
	}

	output, err := funding.NewFundingOutput(rawTx, uint32(*index))
	if err != nil {
		panic(err)
	}

	validated, err := funding.ValidateOne(output)
	if err != nil {
		panic(err)
	}

	params, err := network.ParamsForChain(cfg.Network.Chain)
	if err != nil {
		panic(err)
	}

	keys, err := signer.NewStaticKeyProviderFromWIF(cfg.Signing.PrivateKeyWIF, params)
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	// Outputs the server cannot sign for would fail every commit they are selected for
	if _, err := keys.KeyFor(ctx, validated.PkScript); err != nil {
		panic(fmt.Errorf("output %s is not spendable by the configured key: %w", output, err))
	}

	w, closeWallet, err := bootstrap.BuildWallet(ctx, cfg, zap.NewNop(), network.NewNoopBroadcaster())
	if err != nil {
		panic(err)
	}
	defer closeWallet()

	if err := w.Import(ctx, output); err != nil {
		panic(err)
	}

	fmt.Printf("Imported %s (%d satoshis)\n", output, output.Amount)
}
