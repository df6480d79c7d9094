package pipeline

import (
	"context"
	"github.com/RyanW02/eventstamp/pkg/commitment"
	"github.com/RyanW02/eventstamp/pkg/events"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/RyanW02/eventstamp/pkg/signer"
	"github.com/RyanW02/eventstamp/pkg/txbuilder"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"time"
)

const (
	DefaultFetchLimit    = 25
	DefaultReserveBatch  = 2
	DefaultRetrieveLimit = 100
)

type Config struct {
	Keys        signer.KeyProvider
	Funding     funding.FundingSource
	Commitments funding.CommitmentSource
	Params      *chaincfg.Params
	FeePolicy   txbuilder.FeePolicy

	// FetchLimit caps how many spendable outputs are reserved per request
	FetchLimit int
	// ReserveBatch is how many outputs are reserved at a time. More are only reserved while the ones held do not
	// cover the commitment and fee, so concurrent requests do not hold outputs they will never spend.
	ReserveBatch int
	// RetrieveLimit is used when a retrieval does not ask for a specific number of commitments
	RetrieveLimit int
}

// Pipeline turns an event context into a broadcast commitment transaction, and reads commitments back. It holds
// no mutable state, so a single instance serves concurrent requests.
type Pipeline struct {
	logger *zap.Logger
	config Config
}

type Receipt struct {
	TxID        chainhash.Hash
	Fingerprint events.Fingerprint
	Fields      commitment.Fields
	Fee         int64
	Transaction *signer.SignedTransaction
}

var ErrMissingCollaborator = errors.New("pipeline is missing a collaborator")

func New(logger *zap.Logger, config Config) (*Pipeline, error) {
	if config.Keys == nil || config.Funding == nil || config.Commitments == nil || config.Params == nil {
		return nil, ErrMissingCollaborator
	}

	if err := config.FeePolicy.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid fee policy")
	}

	if config.FetchLimit <= 0 {
		config.FetchLimit = DefaultFetchLimit
	}

	if config.ReserveBatch <= 0 {
		config.ReserveBatch = DefaultReserveBatch
	}

	if config.ReserveBatch > config.FetchLimit {
		config.ReserveBatch = config.FetchLimit
	}

	if config.RetrieveLimit <= 0 {
		config.RetrieveLimit = DefaultRetrieveLimit
	}

	return &Pipeline{
		logger: logger,
		config: config,
	}, nil
}

// Commit fingerprints the event, locks it into a commitment output funded by the wallet, signs and broadcasts the
// transaction. Outputs reserved for this request are released again unless the broadcast spent them.
func (p *Pipeline) Commit(ctx context.Context, event events.EventContext) (*Receipt, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	fingerprint, err := events.NewFingerprint(event)
	if err != nil {
		return nil, &commitment.EncodingError{Reason: err.Error()}
	}

	fields := commitment.NewFields(event, fingerprint)

	owner, err := p.config.Keys.PublicKey(ctx)
	if err != nil {
		return nil, &signer.SigningError{Input: -1, Err: err}
	}

	script, err := commitment.BuildScript(fields, owner)
	if err != nil {
		return nil, err
	}

	changeScript, err := signer.ChangeScript(ctx, p.config.Keys, p.config.Params)
	if err != nil {
		return nil, &signer.SigningError{Input: -1, Err: err}
	}

	candidates, unsigned, err := p.reserve(ctx, script, changeScript)
	if err != nil {
		p.release(ctx, outPoints(candidates))
		return nil, err
	}

	signed, err := p.broadcast(ctx, unsigned)
	if err != nil {
		var broadcastErr *BroadcastError
		if errors.As(err, &broadcastErr) && broadcastErr.Recorded() {
			// The wallet has retired the inputs, only the outputs the transaction did not use go back
			p.release(ctx, unused(candidates, broadcastErr.Inputs))
		} else {
			p.release(ctx, outPoints(candidates))
		}

		return nil, err
	}

	p.release(ctx, unused(candidates, signed.Inputs))

	p.logger.Debug(
		"Committed event",
		zap.Stringer("tx_id", signed.ID),
		zap.Stringer("fingerprint", fingerprint),
		zap.Int("inputs", len(signed.Inputs)),
		zap.Int64("fee", signed.Fee),
	)

	return &Receipt{
		TxID:        signed.ID,
		Fingerprint: fingerprint,
		Fields:      fields,
		Fee:         signed.Fee,
		Transaction: signed,
	}, nil
}

// reserve takes outputs from the funding source a batch at a time, until they fund the commitment or the fetch
// limit is reached. Every output returned is reserved, even when err is set.
func (p *Pipeline) reserve(
	ctx context.Context,
	script commitment.Script,
	changeScript []byte,
) ([]funding.FundingOutput, *txbuilder.UnsignedTransaction, error) {
	var (
		candidates []funding.FundingOutput
		validated  []funding.ValidatedOutput
	)

	for {
		batch := min(p.config.ReserveBatch, p.config.FetchLimit-len(candidates))

		listed, err := p.config.Funding.ListSpendableOutputs(ctx, batch)
		if err != nil {
			return candidates, nil, &FundingError{Err: err}
		}

		candidates = append(candidates, listed...)

		checked, err := funding.Validate(listed)
		if err != nil {
			return candidates, nil, err
		}

		validated = append(validated, checked...)

		unsigned, err := txbuilder.Assemble(validated, script, p.config.FeePolicy, changeScript)
		if err == nil {
			return candidates, unsigned, nil
		}

		var insufficientErr *txbuilder.InsufficientFundsError
		exhausted := len(listed) < batch || len(candidates) >= p.config.FetchLimit
		if !errors.As(err, &insufficientErr) || exhausted {
			return candidates, nil, err
		}
	}
}

func (p *Pipeline) broadcast(ctx context.Context, unsigned *txbuilder.UnsignedTransaction) (*signer.SignedTransaction, error) {
	signed, err := signer.Sign(ctx, unsigned, p.config.Keys)
	if err != nil {
		return nil, err
	}

	if err := p.config.Funding.Broadcast(ctx, signed); err != nil {
		return nil, &BroadcastError{TxID: signed.ID, Inputs: signed.Inputs, Err: err}
	}

	return signed, nil
}

// Retrieve decodes the most recent commitments, newest first. A limit of zero or less uses the configured
// default.
func (p *Pipeline) Retrieve(ctx context.Context, limit int) ([]commitment.Fields, error) {
	if limit <= 0 {
		limit = p.config.RetrieveLimit
	}

	outputs, err := p.config.Commitments.ListCommitmentOutputs(ctx, limit)
	if err != nil {
		return nil, &FundingError{Err: err}
	}

	logs := make([]commitment.Fields, 0, len(outputs))
	for _, output := range outputs {
		fields, err := commitment.Decode(output.Script)
		if err != nil {
			return nil, errors.Wrapf(err, "commitment %s:%d", output.TxID, output.Index)
		}

		logs = append(logs, fields)
	}

	return logs, nil
}

func (p *Pipeline) release(ctx context.Context, reserved []wire.OutPoint) {
	releaser, ok := p.config.Funding.(funding.Releaser)
	if !ok || len(reserved) == 0 {
		return
	}

	// The request context may already be cancelled, which is often why we are releasing
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second*10)
	defer cancel()

	if err := releaser.Release(ctx, reserved); err != nil {
		p.logger.Warn("Failed to release reserved outputs", zap.Int("count", len(reserved)), zap.Error(err))
	}
}

func outPoints(outputs []funding.FundingOutput) []wire.OutPoint {
	res := make([]wire.OutPoint, len(outputs))
	for i, output := range outputs {
		res[i] = output.OutPoint()
	}

	return res
}

func unused(candidates []funding.FundingOutput, spent []wire.OutPoint) []wire.OutPoint {
	spentSet := make(map[wire.OutPoint]struct{}, len(spent))
	for _, outPoint := range spent {
		spentSet[outPoint] = struct{}{}
	}

	var res []wire.OutPoint
	for _, candidate := range candidates {
		if _, ok := spentSet[candidate.OutPoint()]; !ok {
			res = append(res, candidate.OutPoint())
		}
	}

	return res
}
