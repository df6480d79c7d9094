package sweeper

import (
	"context"
	"github.com/RyanW02/eventstamp/internal/config"
	"github.com/RyanW02/eventstamp/internal/metrics"
	"go.uber.org/zap"
	"time"
)

// Wallet is the part of a wallet the sweeper needs.
type Wallet interface {
	ReleaseExpired(ctx context.Context, olderThan time.Duration) (int, error)
	Balance(ctx context.Context) (int64, error)
}

// Agent periodically releases output reservations left behind by requests that never finished, e.g. because
// the process crashed between listing outputs and broadcasting.
type Agent struct {
	config config.Config
	logger *zap.Logger
	wallet Wallet
}

func NewAgent(config config.Config, logger *zap.Logger, wallet Wallet) *Agent {
	return &Agent{
		config: config,
		logger: logger,
		wallet: wallet,
	}
}

func (a *Agent) StartLoop(shutdownCh chan chan error) {
	ticker := time.NewTicker(a.config.Wallet.SweepInterval.Duration())
	defer ticker.Stop()

	if a.config.Wallet.SweepAtStartup {
		if err := a.Sweep(); err != nil {
			a.logger.Error("Failed to sweep expired reservations at startup", zap.Error(err))
		}
	}

	for {
		select {
		case ch := <-shutdownCh:
			ch <- nil
			return
		case <-ticker.C:
			if err := a.Sweep(); err != nil {
				a.logger.Error("Failed to sweep expired reservations", zap.Error(err))
			}
		}
	}
}

func (a *Agent) Sweep() error {
	ctx, cancelFunc := context.WithTimeout(context.Background(), a.config.Wallet.SweepTimeout.Duration())
	defer cancelFunc()

	released, err := a.wallet.ReleaseExpired(ctx, a.config.Wallet.ReservationTimeout.Duration())
	if err != nil {
		return err
	}

	metrics.ReservationsReleased.Add(float64(released))

	if released > 0 {
		a.logger.Warn("Released expired output reservations", zap.Int("count", released))
	} else {
		a.logger.Debug("No expired output reservations")
	}

	balance, err := a.wallet.Balance(ctx)
	if err != nil {
		return err
	}

	metrics.WalletBalance.Set(float64(balance))
	return nil
}
