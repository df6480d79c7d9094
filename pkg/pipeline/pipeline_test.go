package pipeline

import (
	"context"
	"fmt"
	"github.com/RyanW02/eventstamp/pkg/commitment"
	"github.com/RyanW02/eventstamp/pkg/events"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/RyanW02/eventstamp/pkg/network"
	"github.com/RyanW02/eventstamp/pkg/signer"
	"github.com/RyanW02/eventstamp/pkg/test"
	"github.com/RyanW02/eventstamp/pkg/txbuilder"
	"github.com/RyanW02/eventstamp/pkg/wallet"
	"github.com/RyanW02/eventstamp/pkg/wallet/wallettest"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"testing"
)

var testPolicy = txbuilder.FeePolicy{
	CommitmentAmount: 100,
	FeeRate:          500,
	DustThreshold:    50,
}

type harness struct {
	pipeline    *Pipeline
	wallet      *wallet.MemoryWallet
	broadcaster *wallettest.RecordingBroadcaster
	keys        *signer.StaticKeyProvider
}

func newHarness(t *testing.T) *harness {
	broadcaster := &wallettest.RecordingBroadcaster{}
	w := wallet.NewMemoryWallet(broadcaster)
	keys := signer.NewStaticKeyProvider(test.PrivateKey(0x31), test.Params)

	p, err := New(zap.NewNop(), Config{
		Keys:        keys,
		Funding:     w,
		Commitments: w,
		Params:      test.Params,
		FeePolicy:   testPolicy,
	})
	require.NoError(t, err)

	return &harness{
		pipeline:    p,
		wallet:      w,
		broadcaster: broadcaster,
		keys:        keys,
	}
}

func (h *harness) fund(t *testing.T, nonce uint32, amount int64) funding.FundingOutput {
	output, err := funding.NewFundingOutput(test.FundingTx(test.PrivateKey(0x31).PubKey(), nonce, amount), 0)
	require.NoError(t, err)
	require.NoError(t, h.wallet.Import(context.Background(), output))
	return output
}

func scenarioContext() events.EventContext {
	return events.EventContext{
		Address:   "1.2.3.4",
		Timestamp: "2024-01-01T00:00:00Z",
		Path:      "/log-event",
		Data:      map[string]any{"description": "test"},
	}
}

func TestCommitEndToEnd(t *testing.T) {
	h := newHarness(t)
	input := h.fund(t, 1, 1000)

	receipt, err := h.pipeline.Commit(context.Background(), scenarioContext())
	require.NoError(t, err)
	require.Equal(t, "ca63f7bd6b795dd4e9665a6279f89933b5779f1c9221b5de5a11990d4c564b31", receipt.Fingerprint.String())

	sent := h.broadcaster.Sent()
	require.Len(t, sent, 1)

	tx := sent[0]
	require.Equal(t, receipt.TxID, tx.TxHash())
	require.Len(t, tx.TxIn, 1)
	require.Equal(t, input.OutPoint(), tx.TxIn[0].PreviousOutPoint)
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, int64(100), tx.TxOut[0].Value)
	require.Equal(t, 1000-100-receipt.Fee, tx.TxOut[1].Value)

	// The input's proof satisfies its locking script
	vm, err := txscript.NewEngine(
		test.P2PKHScript(test.PrivateKey(0x31).PubKey()),
		tx, 0, txscript.StandardVerifyFlags, nil, nil, input.Amount, nil,
	)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())

	fields, err := commitment.Decode(tx.TxOut[0].PkScript)
	require.NoError(t, err)
	require.Equal(t, "1.2.3.4", fields.Address)
	require.Equal(t, "2024-01-01T00:00:00Z", fields.Timestamp)
	require.Equal(t, "/log-event", fields.Path)
	require.Equal(t, map[string]any{"description": "test"}, fields.Data)
	require.Equal(t, receipt.Fingerprint.String(), fields.Fingerprint)

	ok, err := fields.Verify()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCommitThenRetrieve(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 1, 100_000)

	first := scenarioContext()
	second := scenarioContext()
	second.Data = map[string]any{"description": "second"}

	_, err := h.pipeline.Commit(context.Background(), first)
	require.NoError(t, err)

	_, err = h.pipeline.Commit(context.Background(), second)
	require.NoError(t, err)

	logs, err := h.pipeline.Retrieve(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, "second", logs[0].Data["description"])
	require.Equal(t, "test", logs[1].Data["description"])

	limited, err := h.pipeline.Retrieve(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestCommitTamperedOutput(t *testing.T) {
	broadcaster := &wallettest.RecordingBroadcaster{}
	keys := signer.NewStaticKeyProvider(test.PrivateKey(0x31), test.Params)

	output, err := funding.NewFundingOutput(test.FundingTx(test.PrivateKey(0x31).PubKey(), 1, 1000), 0)
	require.NoError(t, err)

	// Flip a byte of the raw transaction, so it no longer hashes to the claimed identifier
	output.RawTx[len(output.RawTx)-5] ^= 0xff

	source := &staticSource{outputs: []funding.FundingOutput{output}, broadcaster: broadcaster}

	p, err := New(zap.NewNop(), Config{
		Keys:        keys,
		Funding:     source,
		Commitments: wallet.NewMemoryWallet(broadcaster),
		Params:      test.Params,
		FeePolicy:   testPolicy,
	})
	require.NoError(t, err)

	_, err = p.Commit(context.Background(), scenarioContext())

	var integrityErr *funding.IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	require.Equal(t, output.TxID, integrityErr.Expected)
	require.Equal(t, KindIntegrity, KindOf(err))

	require.Empty(t, broadcaster.Sent())
	require.Equal(t, []wire.OutPoint{output.OutPoint()}, source.released)
}

func TestCommitInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	input := h.fund(t, 1, 120)

	_, err := h.pipeline.Commit(context.Background(), scenarioContext())

	var insufficientErr *txbuilder.InsufficientFundsError
	require.ErrorAs(t, err, &insufficientErr)
	require.Equal(t, int64(120), insufficientErr.Available)
	require.Equal(t, KindInsufficientFunds, KindOf(err))
	require.Empty(t, h.broadcaster.Sent())

	status, ok := h.wallet.Status(input.OutPoint())
	require.True(t, ok)
	require.Equal(t, wallet.StatusSpendable, status)
}

func TestCommitEmptyWallet(t *testing.T) {
	h := newHarness(t)

	_, err := h.pipeline.Commit(context.Background(), scenarioContext())
	require.Equal(t, KindInsufficientFunds, KindOf(err))
}

func TestCommitBroadcastRejected(t *testing.T) {
	h := newHarness(t)
	input := h.fund(t, 1, 1000)

	h.broadcaster.Err = errors.New("min relay fee not met")

	_, err := h.pipeline.Commit(context.Background(), scenarioContext())

	var broadcastErr *BroadcastError
	require.ErrorAs(t, err, &broadcastErr)
	require.Equal(t, KindBroadcast, KindOf(err))

	status, ok := h.wallet.Status(input.OutPoint())
	require.True(t, ok)
	require.Equal(t, wallet.StatusSpendable, status)

	logs, err := h.pipeline.Retrieve(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestCommitBroadcastOutcomeUnknown(t *testing.T) {
	h := newHarness(t)
	input := h.fund(t, 1, 100_000)

	// The node takes the transaction, but the reply never arrives
	h.broadcaster.Err = fmt.Errorf("%w: %w", network.ErrBroadcastUnknown, context.DeadlineExceeded)
	h.broadcaster.Deliver = true

	_, err := h.pipeline.Commit(context.Background(), scenarioContext())

	var broadcastErr *BroadcastError
	require.ErrorAs(t, err, &broadcastErr)
	require.True(t, broadcastErr.Recorded())
	require.Equal(t, KindBroadcast, KindOf(err))

	status, ok := h.wallet.Status(input.OutPoint())
	require.True(t, ok)
	require.Equal(t, wallet.StatusSpent, status)

	// The next commit spends the change of the first transaction, not the input it already spent
	h.broadcaster.Err = nil
	h.broadcaster.Deliver = false

	receipt, err := h.pipeline.Commit(context.Background(), scenarioContext())
	require.NoError(t, err)
	require.Len(t, receipt.Transaction.Inputs, 1)
	require.Equal(t, broadcastErr.TxID, receipt.Transaction.Inputs[0].Hash)
	require.NotEqual(t, input.OutPoint(), receipt.Transaction.Inputs[0])
}

func TestCommitInputsAlreadySpent(t *testing.T) {
	h := newHarness(t)
	input := h.fund(t, 1, 100_000)
	spare := h.fund(t, 2, 100_000)

	h.broadcaster.Err = fmt.Errorf("%w: txn-mempool-conflict", network.ErrInputsSpent)

	_, err := h.pipeline.Commit(context.Background(), scenarioContext())

	var broadcastErr *BroadcastError
	require.ErrorAs(t, err, &broadcastErr)
	require.True(t, broadcastErr.Recorded())

	status, _ := h.wallet.Status(input.OutPoint())
	require.Equal(t, wallet.StatusSpent, status)

	status, _ = h.wallet.Status(spare.OutPoint())
	require.Equal(t, wallet.StatusSpendable, status)

	logs, err := h.pipeline.Retrieve(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestCommitReservesInBatches(t *testing.T) {
	broadcaster := &wallettest.RecordingBroadcaster{}
	source := &limitRecorder{MemoryWallet: wallet.NewMemoryWallet(broadcaster)}

	p, err := New(zap.NewNop(), Config{
		Keys:        signer.NewStaticKeyProvider(test.PrivateKey(0x31), test.Params),
		Funding:     source,
		Commitments: source,
		Params:      test.Params,
		FeePolicy:   testPolicy,
	})
	require.NoError(t, err)

	var dust []funding.FundingOutput
	for nonce := uint32(1); nonce <= 3; nonce++ {
		output, err := funding.NewFundingOutput(test.FundingTx(test.PrivateKey(0x31).PubKey(), nonce, 10), 0)
		require.NoError(t, err)
		dust = append(dust, output)
	}
	require.NoError(t, source.Import(context.Background(), dust...))

	// Three outputs of 10 never cover the commitment, so every batch is taken before giving up
	_, err = p.Commit(context.Background(), scenarioContext())
	require.Equal(t, KindInsufficientFunds, KindOf(err))
	require.Equal(t, []int{DefaultReserveBatch, DefaultReserveBatch}, source.limits)

	for _, output := range dust {
		status, _ := source.Status(output.OutPoint())
		require.Equal(t, wallet.StatusSpendable, status)
	}

	large, err := funding.NewFundingOutput(test.FundingTx(test.PrivateKey(0x31).PubKey(), 4, 100_000), 0)
	require.NoError(t, err)
	require.NoError(t, source.Import(context.Background(), large))

	source.limits = nil
	_, err = p.Commit(context.Background(), scenarioContext())
	require.NoError(t, err)
	require.Equal(t, []int{DefaultReserveBatch, DefaultReserveBatch}, source.limits)
}

func TestCommitReleasesUnusedOutputs(t *testing.T) {
	h := newHarness(t)
	used := h.fund(t, 1, 100_000)
	spare := h.fund(t, 2, 100_000)

	_, err := h.pipeline.Commit(context.Background(), scenarioContext())
	require.NoError(t, err)

	status, _ := h.wallet.Status(used.OutPoint())
	require.Equal(t, wallet.StatusSpent, status)

	status, _ = h.wallet.Status(spare.OutPoint())
	require.Equal(t, wallet.StatusSpendable, status)
}

func TestCommitValidation(t *testing.T) {
	h := newHarness(t)

	ctx := scenarioContext()
	ctx.Data = nil

	_, err := h.pipeline.Commit(context.Background(), ctx)

	var validationErr *events.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "data", validationErr.Field)
	require.Equal(t, KindValidation, KindOf(err))
}

func TestRetrieveUndecodable(t *testing.T) {
	broadcaster := &wallettest.RecordingBroadcaster{}
	p, err := New(zap.NewNop(), Config{
		Keys:    signer.NewStaticKeyProvider(test.PrivateKey(0x31), test.Params),
		Funding: wallet.NewMemoryWallet(broadcaster),
		Commitments: &staticSource{commitments: []funding.CommitmentOutput{
			{Script: []byte{txscript.OP_RETURN}},
		}},
		Params:    test.Params,
		FeePolicy: testPolicy,
	})
	require.NoError(t, err)

	_, err = p.Retrieve(context.Background(), 0)
	require.Error(t, err)
	require.Equal(t, KindDecoding, KindOf(err))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(zap.NewNop(), Config{FeePolicy: testPolicy})
	require.ErrorIs(t, err, ErrMissingCollaborator)
}

// staticSource serves a fixed list of outputs without any wallet bookkeeping.
type staticSource struct {
	outputs     []funding.FundingOutput
	commitments []funding.CommitmentOutput
	broadcaster *wallettest.RecordingBroadcaster
	released    []wire.OutPoint
}

func (s *staticSource) ListSpendableOutputs(_ context.Context, _ int) ([]funding.FundingOutput, error) {
	return s.outputs, nil
}

func (s *staticSource) Broadcast(ctx context.Context, tx funding.Transaction) error {
	_, err := s.broadcaster.SendRawTransaction(ctx, tx.MsgTx())
	return err
}

func (s *staticSource) Release(_ context.Context, outPoints []wire.OutPoint) error {
	s.released = append(s.released, outPoints...)
	return nil
}

func (s *staticSource) ListCommitmentOutputs(_ context.Context, _ int) ([]funding.CommitmentOutput, error) {
	return s.commitments, nil
}

// limitRecorder keeps the limit of every listing request.
type limitRecorder struct {
	*wallet.MemoryWallet
	limits []int
}

func (r *limitRecorder) ListSpendableOutputs(ctx context.Context, limit int) ([]funding.FundingOutput, error) {
	r.limits = append(r.limits, limit)
	return r.MemoryWallet.ListSpendableOutputs(ctx, limit)
}
