package sweeper

import (
	"context"
	"github.com/RyanW02/eventstamp/internal/config"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/RyanW02/eventstamp/pkg/network"
	"github.com/RyanW02/eventstamp/pkg/test"
	"github.com/RyanW02/eventstamp/pkg/wallet"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() config.Config {
	return config.Config{
		Wallet: config.Wallet{
			ReservationTimeout: config.MarshalledDuration(time.Millisecond * 10),
			SweepInterval:      config.MarshalledDuration(time.Millisecond * 20),
			SweepTimeout:       config.MarshalledDuration(time.Second),
		},
	}
}

func TestSweepReleasesExpired(t *testing.T) {
	ctx := context.Background()
	w := wallet.NewMemoryWallet(network.NewNoopBroadcaster())

	output, err := funding.NewFundingOutput(test.FundingTx(test.PrivateKey(0x41).PubKey(), 1, 5000), 0)
	require.NoError(t, err)
	require.NoError(t, w.Import(ctx, output))

	listed, err := w.ListSpendableOutputs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	time.Sleep(time.Millisecond * 30)

	agent := NewAgent(testConfig(), zap.NewNop(), w)
	require.NoError(t, agent.Sweep())

	status, ok := w.Status(output.OutPoint())
	require.True(t, ok)
	require.Equal(t, wallet.StatusSpendable, status)
}

func TestSweepKeepsFreshReservations(t *testing.T) {
	ctx := context.Background()
	w := wallet.NewMemoryWallet(network.NewNoopBroadcaster())

	output, err := funding.NewFundingOutput(test.FundingTx(test.PrivateKey(0x41).PubKey(), 1, 5000), 0)
	require.NoError(t, err)
	require.NoError(t, w.Import(ctx, output))

	_, err = w.ListSpendableOutputs(ctx, 10)
	require.NoError(t, err)

	conf := testConfig()
	conf.Wallet.ReservationTimeout = config.MarshalledDuration(time.Hour)

	require.NoError(t, NewAgent(conf, zap.NewNop(), w).Sweep())

	status, _ := w.Status(output.OutPoint())
	require.Equal(t, wallet.StatusReserved, status)
}

type countingWallet struct {
	sweeps atomic.Int32
	err    error
}

func (w *countingWallet) ReleaseExpired(_ context.Context, _ time.Duration) (int, error) {
	w.sweeps.Add(1)
	return 0, w.err
}

func (w *countingWallet) Balance(_ context.Context) (int64, error) {
	return 0, nil
}

func TestLoopRunsUntilShutdown(t *testing.T) {
	w := &countingWallet{err: errors.New("database unavailable")}

	conf := testConfig()
	conf.Wallet.SweepAtStartup = true

	shutdownCh := make(chan chan error)
	go NewAgent(conf, zap.NewNop(), w).StartLoop(shutdownCh)

	require.Eventually(t, func() bool {
		return w.sweeps.Load() >= 3
	}, time.Second, time.Millisecond*10)

	ch := make(chan error)
	shutdownCh <- ch
	require.NoError(t, <-ch)
}
