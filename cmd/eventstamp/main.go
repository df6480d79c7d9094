package main

import (
	"context"
	"github.com/RyanW02/eventstamp/internal/bootstrap"
	"github.com/RyanW02/eventstamp/internal/config"
	"github.com/RyanW02/eventstamp/internal/server"
	"github.com/RyanW02/eventstamp/pkg/network"
	"github.com/RyanW02/eventstamp/pkg/pipeline"
	"github.com/RyanW02/eventstamp/pkg/shutdown"
	"github.com/RyanW02/eventstamp/pkg/signer"
	"github.com/RyanW02/eventstamp/pkg/sweeper"
	"github.com/RyanW02/eventstamp/pkg/txbuilder"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := buildLogger(cfg)
	defer logger.Sync()

	shutdownOrchestrator := shutdown.NewOrchestrator()

	params, err := network.ParamsForChain(cfg.Network.Chain)
	if err != nil {
		logger.Fatal("Unknown chain", zap.Error(err), zap.String("chain", cfg.Network.Chain))
	}

	keys, err := signer.NewStaticKeyProviderFromWIF(cfg.Signing.PrivateKeyWIF, params)
	if err != nil {
		logger.Fatal("Failed to load signing key", zap.Error(err))
	}

	broadcaster, closeBroadcaster, err := bootstrap.BuildBroadcaster(cfg, logger.With(zap.String("module", "network")))
	if err != nil {
		logger.Fatal("Failed to connect to nodes", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	w, closeWallet, err := bootstrap.BuildWallet(ctx, cfg, logger.With(zap.String("module", "wallet")), broadcaster)
	cancel()
	if err != nil {
		logger.Fatal("Failed to open wallet", zap.Error(err), zap.String("backend", cfg.Wallet.Backend.String()))
	}

	commitPipeline, err := pipeline.New(logger.With(zap.String("module", "pipeline")), pipeline.Config{
		Keys:        keys,
		Funding:     w,
		Commitments: w,
		Params:      params,
		FeePolicy: txbuilder.FeePolicy{
			CommitmentAmount: cfg.Fees.CommitmentAmount,
			FeeRate:          cfg.Fees.FeeRate,
			DustThreshold:    cfg.Fees.DustThreshold,
		},
		FetchLimit:    cfg.Wallet.FetchLimit,
		ReserveBatch:  cfg.Wallet.ReserveBatch,
		RetrieveLimit: cfg.Retrieval.Limit,
	})
	if err != nil {
		logger.Fatal("Failed to build commit pipeline", zap.Error(err))
	}

	sweeperAgent := sweeper.NewAgent(cfg, logger.With(zap.String("module", "sweeper")), w)
	go sweeperAgent.StartLoop(shutdownOrchestrator.Subscribe())

	httpServer := server.NewServer(cfg, logger.With(zap.String("module", "server")), commitPipeline, w)

	go func() {
		if err := httpServer.Run(); err != nil {
			logger.Fatal("Failed to run HTTP server", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	<-stop

	// Shutdown gracefully
	logger.Info("Received shutdown signal!")

	if err := shutdownOrchestrator.Await(time.Second * 5); err != nil {
		logger.Error("Failed to shutdown sweeper", zap.Error(err))
	} else {
		logger.Info("Sweeper shutdown successfully")
	}

	if err := closeWallet(); err != nil {
		logger.Error("Failed to close wallet", zap.Error(err))
	} else {
		logger.Info("Wallet closed successfully")
	}

	if err := closeBroadcaster(); err != nil {
		logger.Error("Failed to close node clients", zap.Error(err))
	}
}

func buildLogger(cfg config.Config) *zap.Logger {
	var logCfg zap.Config
	if cfg.Production {
		logCfg = zap.NewProductionConfig()

		if cfg.PrettyLogs {
			logCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			logCfg.Encoding = "console"
		}
	} else {
		logCfg = zap.NewDevelopmentConfig()
		logCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "error":
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	case "warn":
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "debug":
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	default:
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := logCfg.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
