// Package bootstrap builds the long-lived collaborators shared by the server and the command line tools.
package bootstrap

import (
	"context"
	"fmt"
	"github.com/RyanW02/eventstamp/internal/config"
	"github.com/RyanW02/eventstamp/pkg/network"
	"github.com/RyanW02/eventstamp/pkg/wallet"
	"github.com/RyanW02/eventstamp/pkg/wallet/leveldbwallet"
	"github.com/RyanW02/eventstamp/pkg/wallet/mongowallet"
	"github.com/btcsuite/btcd/rpcclient"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"time"
)

type CloseFunc func() error

func noopClose() error {
	return nil
}

// BuildBroadcaster connects to every configured node. With no nodes configured, transactions are signed and
// recorded but never leave the process.
func BuildBroadcaster(cfg config.Config, logger *zap.Logger) (network.Broadcaster, CloseFunc, error) {
	if len(cfg.Network.NodeAddresses) == 0 {
		logger.Warn("No node addresses specified, using no-op broadcaster")
		return network.NewNoopBroadcaster(), noopClose, nil
	}

	var clients []*rpcclient.Client
	for _, nodeAddress := range cfg.Network.NodeAddresses {
		client, err := rpcclient.New(&rpcclient.ConnConfig{
			Host:         nodeAddress,
			User:         cfg.Network.RPCUser,
			Pass:         cfg.Network.RPCPassword,
			HTTPPostMode: true,
			DisableTLS:   cfg.Network.DisableTLS,
		}, nil)
		if err != nil {
			logger.Error("Failed to create node client", zap.Error(err), zap.String("nodeAddress", nodeAddress))
			continue
		}

		clients = append(clients, client)
	}

	// The pool tests every node as it is added, so Nodes only counts those that answered
	client := network.NewRoundRobinClient(logger, clients)
	if online := client.Nodes(); online < cfg.Network.MinimumNodes {
		_ = client.Close()

		return nil, nil, fmt.Errorf(
			"minimum online node count not met: %d required, %d online",
			cfg.Network.MinimumNodes, online,
		)
	}

	return client, client.Close, nil
}

func BuildWallet(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
	broadcaster network.Broadcaster,
) (wallet.Wallet, CloseFunc, error) {
	switch cfg.Wallet.Backend {
	case config.WalletBackendMemory:
		logger.Warn("Using in-memory wallet, all funding outputs will be lost on restart")
		return wallet.NewMemoryWallet(broadcaster), noopClose, nil
	case config.WalletBackendLevelDB:
		w, err := leveldbwallet.Open(logger, cfg.LevelDB.Path, broadcaster)
		if err != nil {
			return nil, nil, err
		}

		return w, w.Close, nil
	case config.WalletBackendMongoDB:
		db, err := connectMongo(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}

		closeFunc := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
			defer cancel()

			return db.Client().Disconnect(ctx)
		}

		w := mongowallet.NewWallet(logger, db, broadcaster)
		if err := w.InitSchema(ctx); err != nil {
			_ = closeFunc()
			return nil, nil, err
		}

		return w, closeFunc, nil
	default:
		return nil, nil, fmt.Errorf("unknown wallet backend %q", cfg.Wallet.Backend)
	}
}

func connectMongo(ctx context.Context, cfg config.Config) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(cfg.MongoDB.URI).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	// Ping server
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return client.Database(cfg.MongoDB.DatabaseName), nil
}
