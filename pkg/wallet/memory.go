package wallet

import (
	"context"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/RyanW02/eventstamp/pkg/network"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"sync"
	"time"
)

// MemoryWallet keeps all state in process memory. It is used for local development and in tests.
type MemoryWallet struct {
	mu          sync.Mutex
	broadcaster network.Broadcaster
	now         func() time.Time

	outputs     map[wire.OutPoint]*memoryOutput
	order       []wire.OutPoint
	commitments []funding.CommitmentOutput
}

type memoryOutput struct {
	output     funding.FundingOutput
	status     Status
	reservedAt time.Time
}

var _ Wallet = (*MemoryWallet)(nil)

func NewMemoryWallet(broadcaster network.Broadcaster) *MemoryWallet {
	return &MemoryWallet{
		broadcaster: broadcaster,
		now:         time.Now,
		outputs:     make(map[wire.OutPoint]*memoryOutput),
	}
}

func (w *MemoryWallet) Import(_ context.Context, outputs ...funding.FundingOutput) error {
	if err := ValidateImport(outputs); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[wire.OutPoint]struct{})
	for _, output := range outputs {
		_, exists := w.outputs[output.OutPoint()]
		if _, duplicate := seen[output.OutPoint()]; exists || duplicate {
			return errors.Wrap(ErrOutputExists, output.String())
		}

		seen[output.OutPoint()] = struct{}{}
	}

	for _, output := range outputs {
		w.add(output)
	}

	return nil
}

func (w *MemoryWallet) ListSpendableOutputs(_ context.Context, limit int) ([]funding.FundingOutput, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var outputs []funding.FundingOutput
	for _, outPoint := range w.order {
		if limit > 0 && len(outputs) >= limit {
			break
		}

		stored := w.outputs[outPoint]
		if stored.status != StatusSpendable {
			continue
		}

		stored.status = StatusReserved
		stored.reservedAt = w.now()
		outputs = append(outputs, stored.output)
	}

	return outputs, nil
}

func (w *MemoryWallet) Release(_ context.Context, outPoints []wire.OutPoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, outPoint := range outPoints {
		if stored, ok := w.outputs[outPoint]; ok && stored.status == StatusReserved {
			stored.status = StatusSpendable
			stored.reservedAt = time.Time{}
		}
	}

	return nil
}

func (w *MemoryWallet) ReleaseExpired(_ context.Context, olderThan time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-olderThan)

	var released int
	for _, stored := range w.outputs {
		if stored.status == StatusReserved && stored.reservedAt.Before(cutoff) {
			stored.status = StatusSpendable
			stored.reservedAt = time.Time{}
			released++
		}
	}

	return released, nil
}

func (w *MemoryWallet) Broadcast(ctx context.Context, tx funding.Transaction) error {
	if _, err := w.broadcaster.SendRawTransaction(ctx, tx.MsgTx()); err != nil {
		if effects, ok := EffectsOfFailure(tx, err); ok {
			w.record(effects)
		}

		return err
	}

	w.record(EffectsOf(tx))
	return nil
}

func (w *MemoryWallet) record(effects Effects) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, outPoint := range effects.Spent {
		if stored, ok := w.outputs[outPoint]; ok {
			stored.status = StatusSpent
		}
	}

	if effects.Change != nil {
		if _, exists := w.outputs[effects.Change.OutPoint()]; !exists {
			w.add(*effects.Change)
		}
	}

	if effects.Commitment != nil {
		w.commitments = append(w.commitments, *effects.Commitment)
	}
}

// ListCommitmentOutputs returns the most recent commitments first.
func (w *MemoryWallet) ListCommitmentOutputs(_ context.Context, limit int) ([]funding.CommitmentOutput, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var outputs []funding.CommitmentOutput
	for i := len(w.commitments) - 1; i >= 0; i-- {
		if limit > 0 && len(outputs) >= limit {
			break
		}

		outputs = append(outputs, w.commitments[i])
	}

	return outputs, nil
}

func (w *MemoryWallet) Balance(_ context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var balance int64
	for _, stored := range w.outputs {
		if stored.status == StatusSpendable {
			balance += stored.output.Amount
		}
	}

	return balance, nil
}

func (w *MemoryWallet) TestConnection(_ context.Context) error {
	return nil
}

// Status returns the status of an output, and false if the wallet does not know it.
func (w *MemoryWallet) Status(outPoint wire.OutPoint) (Status, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	stored, ok := w.outputs[outPoint]
	if !ok {
		return "", false
	}

	return stored.status, true
}

// add must be called with the lock held.
func (w *MemoryWallet) add(output funding.FundingOutput) {
	w.outputs[output.OutPoint()] = &memoryOutput{
		output: output,
		status: StatusSpendable,
	}
	w.order = append(w.order, output.OutPoint())
}
