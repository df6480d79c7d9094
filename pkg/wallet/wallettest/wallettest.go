// Package wallettest holds the behaviour every wallet backend must share, as a suite each backend runs
// against its own store.
package wallettest

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
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
	"sync"
	"time"
)

// RecordingBroadcaster keeps every transaction it is given. When Err is set, it fails all of them instead,
// unless Deliver is also set: then the transaction is kept and Err returned anyway, like a node whose reply
// was lost after it accepted the transaction.
type RecordingBroadcaster struct {
	mu      sync.Mutex
	sent    []*wire.MsgTx
	Err     error
	Deliver bool
}

var _ network.Broadcaster = (*RecordingBroadcaster)(nil)

func (b *RecordingBroadcaster) SendRawTransaction(_ context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Err != nil && !b.Deliver {
		return nil, b.Err
	}

	b.sent = append(b.sent, tx.Copy())
	if b.Err != nil {
		return nil, b.Err
	}

	hash := tx.TxHash()
	return &hash, nil
}

func (b *RecordingBroadcaster) Sent() []*wire.MsgTx {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]*wire.MsgTx(nil), b.sent...)
}

type Factory func(broadcaster network.Broadcaster) wallet.Wallet

type Suite struct {
	suite.Suite
	NewWallet Factory

	ctx         context.Context
	broadcaster *RecordingBroadcaster
	wallet      wallet.Wallet
	keys        *signer.StaticKeyProvider
	nonce       uint32
}

var errRejected = errors.New("transaction rejected")

var testPolicy = txbuilder.FeePolicy{
	CommitmentAmount: 100,
	FeeRate:          1000,
	DustThreshold:    50,
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.broadcaster = &RecordingBroadcaster{}
	s.wallet = s.NewWallet(s.broadcaster)
	s.keys = signer.NewStaticKeyProvider(test.PrivateKey(0x21), test.Params)
}

func (s *Suite) output(amount int64) funding.FundingOutput {
	s.nonce++

	output, err := funding.NewFundingOutput(test.FundingTx(test.PrivateKey(0x21).PubKey(), s.nonce, amount), 0)
	s.Require().NoError(err)
	return output
}

func (s *Suite) spend(outputs []funding.FundingOutput, eventId int) *signer.SignedTransaction {
	validated, err := funding.Validate(outputs)
	s.Require().NoError(err)

	ctx := events.NewEventContext("10.0.0.1", time.Unix(1700000000, 0), "/log-event", map[string]any{"id": eventId})
	fingerprint, err := events.NewFingerprint(ctx)
	s.Require().NoError(err)

	pub, err := s.keys.PublicKey(s.ctx)
	s.Require().NoError(err)

	script, err := commitment.BuildScript(commitment.NewFields(ctx, fingerprint), pub)
	s.Require().NoError(err)

	changeScript, err := signer.ChangeScript(s.ctx, s.keys, test.Params)
	s.Require().NoError(err)

	unsigned, err := txbuilder.Assemble(validated, script, testPolicy, changeScript)
	s.Require().NoError(err)

	signed, err := signer.Sign(s.ctx, unsigned, s.keys)
	s.Require().NoError(err)

	return signed
}

func outPoints(outputs []funding.FundingOutput) []wire.OutPoint {
	res := make([]wire.OutPoint, len(outputs))
	for i, output := range outputs {
		res[i] = output.OutPoint()
	}

	return res
}

func (s *Suite) TestListReservesInImportOrder() {
	a, b := s.output(10_000), s.output(20_000)
	s.Require().NoError(s.wallet.Import(s.ctx, a, b))

	listed, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(listed, 2)
	s.Require().Equal(a.OutPoint(), listed[0].OutPoint())
	s.Require().Equal(b.OutPoint(), listed[1].OutPoint())
	s.Require().Equal(a.RawTx, listed[0].RawTx)
	s.Require().Equal(int64(20_000), listed[1].Amount)

	again, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Empty(again)
}

func (s *Suite) TestListLimit() {
	s.Require().NoError(s.wallet.Import(s.ctx, s.output(1000), s.output(2000), s.output(3000)))

	first, err := s.wallet.ListSpendableOutputs(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(first, 2)

	rest, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(rest, 1)
	s.Require().Equal(int64(3000), rest[0].Amount)
}

func (s *Suite) TestImportDuplicate() {
	output := s.output(1000)
	s.Require().NoError(s.wallet.Import(s.ctx, output))
	s.Require().ErrorIs(s.wallet.Import(s.ctx, output), wallet.ErrOutputExists)
}

func (s *Suite) TestImportRequiresRawTransaction() {
	output := s.output(1000)
	output.RawTx = nil
	s.Require().ErrorIs(s.wallet.Import(s.ctx, output), wallet.ErrNoRawTransaction)
}

func (s *Suite) TestRelease() {
	s.Require().NoError(s.wallet.Import(s.ctx, s.output(1000), s.output(2000)))

	listed, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(listed, 2)

	s.Require().NoError(s.wallet.Release(s.ctx, outPoints(listed[:1])))

	again, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(again, 1)
	s.Require().Equal(listed[0].OutPoint(), again[0].OutPoint())
}

func (s *Suite) TestReleaseExpired() {
	s.Require().NoError(s.wallet.Import(s.ctx, s.output(1000), s.output(2000)))

	listed, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(listed, 2)

	released, err := s.wallet.ReleaseExpired(s.ctx, time.Hour)
	s.Require().NoError(err)
	s.Require().Zero(released)

	time.Sleep(time.Millisecond * 50)

	released, err = s.wallet.ReleaseExpired(s.ctx, time.Millisecond*10)
	s.Require().NoError(err)
	s.Require().Equal(2, released)

	again, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(again, 2)
}

func (s *Suite) TestBalance() {
	s.Require().NoError(s.wallet.Import(s.ctx, s.output(1000), s.output(500)))

	balance, err := s.wallet.Balance(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(int64(1500), balance)

	_, err = s.wallet.ListSpendableOutputs(s.ctx, 1)
	s.Require().NoError(err)

	balance, err = s.wallet.Balance(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(int64(500), balance)
}

func (s *Suite) TestBroadcastRecordsEffects() {
	s.Require().NoError(s.wallet.Import(s.ctx, s.output(100_000)))

	listed, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)

	tx := s.spend(listed, 1)
	s.Require().NoError(s.wallet.Broadcast(s.ctx, tx))

	sent := s.broadcaster.Sent()
	s.Require().Len(sent, 1)
	s.Require().Equal(tx.ID, sent[0].TxHash())

	// Spent inputs are never returned again, even after a release
	s.Require().NoError(s.wallet.Release(s.ctx, outPoints(listed)))

	change, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(change, 1)
	s.Require().Equal(tx.ID, change[0].TxID)
	s.Require().Equal(uint32(tx.ChangeIndex), change[0].Index)
	s.Require().Equal(100_000-testPolicy.CommitmentAmount-tx.Fee, change[0].Amount)

	// Change can fund the next transaction
	_, err = funding.Validate(change)
	s.Require().NoError(err)

	commitments, err := s.wallet.ListCommitmentOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(commitments, 1)
	s.Require().Equal(tx.ID, commitments[0].TxID)
	s.Require().Equal(testPolicy.CommitmentAmount, commitments[0].Amount)

	fields, err := commitment.Decode(commitments[0].Script)
	s.Require().NoError(err)
	s.Require().Equal(float64(1), fields.Data["id"])
}

func (s *Suite) TestBroadcastFailureRecordsNothing() {
	s.Require().NoError(s.wallet.Import(s.ctx, s.output(100_000)))

	listed, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
	s.Require().NoError(err)

	s.broadcaster.Err = errRejected
	s.Require().ErrorIs(s.wallet.Broadcast(s.ctx, s.spend(listed, 1)), errRejected)

	commitments, err := s.wallet.ListCommitmentOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Empty(commitments)

	s.Require().NoError(s.wallet.Release(s.ctx, outPoints(listed)))

	again, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(again, 1)
	s.Require().Equal(listed[0].OutPoint(), again[0].OutPoint())
}

func (s *Suite) TestBroadcastUnknownOutcomeRecordsEffects() {
	s.Require().NoError(s.wallet.Import(s.ctx, s.output(100_000)))

	listed, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
	s.Require().NoError(err)

	s.broadcaster.Err = fmt.Errorf("%w: %w", network.ErrBroadcastUnknown, context.DeadlineExceeded)
	s.broadcaster.Deliver = true

	tx := s.spend(listed, 1)
	s.Require().ErrorIs(s.wallet.Broadcast(s.ctx, tx), context.DeadlineExceeded)

	// The input must not come back, even when the caller releases it after the failure
	s.Require().NoError(s.wallet.Release(s.ctx, outPoints(listed)))

	next, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(next, 1)
	s.Require().Equal(tx.ID, next[0].TxID)
	s.Require().NotEqual(listed[0].OutPoint(), next[0].OutPoint())

	commitments, err := s.wallet.ListCommitmentOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(commitments, 1)
	s.Require().Equal(tx.ID, commitments[0].TxID)
}

func (s *Suite) TestBroadcastInputsSpentRetiresInputs() {
	s.Require().NoError(s.wallet.Import(s.ctx, s.output(100_000), s.output(50_000)))

	listed, err := s.wallet.ListSpendableOutputs(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)

	s.broadcaster.Err = fmt.Errorf("%w: txn-mempool-conflict", network.ErrInputsSpent)
	s.Require().ErrorIs(s.wallet.Broadcast(s.ctx, s.spend(listed, 1)), network.ErrInputsSpent)

	s.Require().NoError(s.wallet.Release(s.ctx, outPoints(listed)))

	next, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(next, 1)
	s.Require().Equal(int64(50_000), next[0].Amount)

	commitments, err := s.wallet.ListCommitmentOutputs(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Empty(commitments)
}

func (s *Suite) TestCommitmentsNewestFirst() {
	s.Require().NoError(s.wallet.Import(s.ctx, s.output(100_000)))

	var ids []chainhash.Hash
	for i := 0; i < 3; i++ {
		listed, err := s.wallet.ListSpendableOutputs(s.ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(listed, 1)

		tx := s.spend(listed, i)
		s.Require().NoError(s.wallet.Broadcast(s.ctx, tx))
		ids = append(ids, tx.ID)
	}

	commitments, err := s.wallet.ListCommitmentOutputs(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(commitments, 2)
	s.Require().Equal(ids[2], commitments[0].TxID)
	s.Require().Equal(ids[1], commitments[1].TxID)

	all, err := s.wallet.ListCommitmentOutputs(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
}
