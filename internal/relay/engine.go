package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/inkbound/scribe/internal/keyval"
	"github.com/inkbound/scribe/internal/retry"
	"github.com/inkbound/scribe/internal/upload"
)

// ErrBatchFailed marks a total batch failure: every operation in a batch was
// rejected. That signals a systemic problem (exhausted sponsor funds, dead
// backend) where retrying or continuing would burn sponsor fees without
// fixing the cause, so the engine aborts remaining batches immediately.
var ErrBatchFailed = errors.New("entire batch failed")

// EngineConfig tunes the relay submission engine.
type EngineConfig struct {
	MaxBatchOps   int           // count cap per batch
	MaxBatchBytes int           // encoded-size cap per batch; both caps hold at once
	FundAmount    *big.Int      // amount requested when the sponsor runs low
	SessionTTL    time.Duration // session expiresIn
	Retry         retry.Config

	Confirmations     int           // final confirmation count
	InterBatchTimeout time.Duration // short, non-fatal wait between batches
	FinalTimeout      time.Duration // fatal wait for final metadata confirmation
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxBatchOps:       8,
		MaxBatchBytes:     128 * 1024,
		FundAmount:        big.NewInt(1_000_000),
		SessionTTL:        time.Hour,
		Retry:             retry.DefaultConfig(),
		Confirmations:     1,
		InterBatchTimeout: 30 * time.Second,
		FinalTimeout:      2 * time.Minute,
	}
}

// Result is the caller contract for relay-mode submission.
type Result struct {
	Success                 bool
	TopLevelHash            keyval.Hash // declared content hash of the whole upload
	ChunksSent              int
	ChunksSkipped           int
	MetadataSubmitted       bool
	ChunkTransactionHashes  []keyval.Hash
	MetadataTransactionHash keyval.Hash
	Errors                  []string
}

// Engine submits chunk writes through the sponsoring relay and the final
// metadata write directly under the caller's own credentials.
type Engine struct {
	client    *Client
	checker   *upload.Checker
	submitter keyval.Submitter
	signer    keyval.Signer
	cfg       EngineConfig
	log       *slog.Logger
}

// NewEngine creates a relay submission engine.
func NewEngine(client *Client, checker *upload.Checker, submitter keyval.Submitter, signer keyval.Signer, cfg EngineConfig, log *slog.Logger) *Engine {
	def := DefaultEngineConfig()
	if cfg.MaxBatchOps == 0 {
		cfg.MaxBatchOps = def.MaxBatchOps
	}
	if cfg.MaxBatchBytes == 0 {
		cfg.MaxBatchBytes = def.MaxBatchBytes
	}
	if cfg.FundAmount == nil {
		cfg.FundAmount = def.FundAmount
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = def.Confirmations
	}
	if cfg.InterBatchTimeout == 0 {
		cfg.InterBatchTimeout = def.InterBatchTimeout
	}
	if cfg.FinalTimeout == 0 {
		cfg.FinalTimeout = def.FinalTimeout
	}
	return &Engine{
		client:    client,
		checker:   checker,
		submitter: submitter,
		signer:    signer,
		cfg:       cfg,
		log:       log,
	}
}

// Upload drives the full relay protocol for one filtered plan: fund the
// sponsor if short, open a session, submit chunk batches strictly in
// sequence, retry partial failures, then submit metadata directly once its
// chunk dependencies are confirmed.
//
// A previous batch that already passed its own confirmation wait is not
// re-confirmed when a later batch fails totally; the engine aborts at once
// and reports the hashes it holds.
func (e *Engine) Upload(ctx context.Context, operator keyval.Address, outcome *upload.FilterOutcome, contentHash keyval.Hash) (*Result, error) {
	res := &Result{TopLevelHash: contentHash}
	for _, op := range outcome.Skipped {
		if op.Kind == upload.KindChunk {
			res.ChunksSkipped++
		}
	}

	chunkOps := upload.ChunkOps(outcome.ToSend)
	metaOp := upload.MetadataOp(outcome.ToSend)
	if len(chunkOps) == 0 && metaOp == nil {
		res.Success = true
		return res, nil
	}

	if len(chunkOps) > 0 {
		if err := e.ensureFunded(ctx, operator); err != nil {
			return res, err
		}
		session, err := e.client.CreateSession(ctx, e.signer, e.cfg.SessionTTL)
		if err != nil {
			return res, fmt.Errorf("create relay session: %w", err)
		}
		e.log.Info("relay session created", "sponsor", session.Sponsor.String(), "expires", session.ExpiresAt)

		if err := e.submitChunks(ctx, operator, session, chunkOps, res); err != nil {
			res.Success = false
			return res, err
		}

		// Holistic re-check at the end regardless of inter-batch waits.
		if len(res.ChunkTransactionHashes) > 0 {
			if err := e.submitter.WaitForConfirmation(ctx, res.ChunkTransactionHashes, e.cfg.Confirmations, e.cfg.FinalTimeout); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("final chunk confirmation: %v", err))
				return res, nil
			}
		}
	}

	if metaOp != nil {
		if err := e.submitMetadata(ctx, operator, metaOp, res); err != nil {
			return res, err
		}
	}

	res.Success = len(res.Errors) == 0
	return res, nil
}

// ensureFunded checks sponsor balance and funds it when short. A failing
// balance endpoint is treated as "insufficient" and funding is attempted
// anyway; a failing fund attempt is fatal, nothing can proceed unpaid.
func (e *Engine) ensureFunded(ctx context.Context, operator keyval.Address) error {
	sufficient := false
	info, err := e.client.Balance(ctx, operator)
	if err != nil {
		e.log.Warn("sponsor balance check failed, attempting funding", "error", err)
	} else {
		sufficient = info.Sufficient
	}
	if sufficient {
		return nil
	}
	receipt, err := e.client.Fund(ctx, operator, e.cfg.FundAmount)
	if err != nil {
		return fmt.Errorf("fund sponsor: %w", err)
	}
	sponsor, err := e.client.FundVerify(ctx, receipt)
	if err != nil {
		return fmt.Errorf("verify sponsor funding: %w", err)
	}
	e.log.Info("sponsor funded", "sponsor", sponsor.String(), "amount", e.cfg.FundAmount)
	return nil
}

// submitChunks sends batches strictly sequentially. The sponsor's nonce and
// balance are shared external state; concurrent batches would race them.
func (e *Engine) submitChunks(ctx context.Context, operator keyval.Address, session *Session, ops []*upload.WriteOp, res *Result) error {
	batches := batchOps(ops, e.cfg.MaxBatchOps, e.cfg.MaxBatchBytes)
	e.log.Info("submitting chunk batches", "chunks", len(ops), "batches", len(batches))

	refreshed := false
	for i, batch := range batches {
		if session.ExpiresWithin(2*time.Minute) && !refreshed {
			fresh, err := e.client.CreateSession(ctx, e.signer, e.cfg.SessionTTL)
			if err != nil {
				return fmt.Errorf("refresh relay session: %w", err)
			}
			*session = *fresh
			refreshed = true
		}

		br, err := e.client.SubmitBatch(ctx, session, calls(batch))
		if err != nil {
			// The whole request failed; same systemic signal as an
			// all-failed response.
			res.Errors = append(res.Errors, fmt.Sprintf("batch %d: %v", i+1, err))
			return fmt.Errorf("batch %d: %w: %v", i+1, ErrBatchFailed, err)
		}
		if br.AllFailed() {
			res.Errors = append(res.Errors, br.Errors...)
			return fmt.Errorf("batch %d: %w", i+1, ErrBatchFailed)
		}

		res.ChunkTransactionHashes = append(res.ChunkTransactionHashes, br.TransactionHashes...)
		res.ChunksSent += len(br.SuccessfulIndexes)

		if len(br.FailedIndexes) > 0 {
			failed := make([]*upload.WriteOp, len(br.FailedIndexes))
			for j, idx := range br.FailedIndexes {
				failed[j] = batch[idx]
			}
			e.retryFailed(ctx, operator, session, failed, br.Errors, res)
		}

		// Short, tolerated wait between batches; the final holistic wait
		// re-checks everything.
		if i < len(batches)-1 && len(br.TransactionHashes) > 0 {
			if err := e.submitter.WaitForConfirmation(ctx, br.TransactionHashes, 1, e.cfg.InterBatchTimeout); err != nil {
				e.log.Warn("inter-batch confirmation timed out", "batch", i+1, "error", err)
			}
		}
	}
	return nil
}

// retryFailed retries the failed subset of one batch with backoff. Chunk
// writes are content-addressed, so a failed submission that actually landed
// asynchronously is detected by recheck and excluded. Exhaustion lands in
// res.Errors, never as a returned error.
func (e *Engine) retryFailed(ctx context.Context, operator keyval.Address, session *Session, failed []*upload.WriteOp, firstErrors []string, res *Result) {
	runner := &retry.Runner[*upload.WriteOp]{
		Config: e.cfg.Retry,
		Recheck: func(ctx context.Context, op *upload.WriteOp) (bool, error) {
			args, ok := op.Args.(upload.ChunkArgs)
			if !ok {
				return false, nil
			}
			return e.checker.CheckChunk(ctx, args.Hash, operator)
		},
		Submit: func(ctx context.Context, ops []*upload.WriteOp) ([]*upload.WriteOp, []error) {
			br, err := e.client.SubmitBatch(ctx, session, calls(ops))
			if err != nil {
				return ops, []error{err}
			}
			res.ChunkTransactionHashes = append(res.ChunkTransactionHashes, br.TransactionHashes...)
			res.ChunksSent += len(br.SuccessfulIndexes)
			still := make([]*upload.WriteOp, len(br.FailedIndexes))
			for j, idx := range br.FailedIndexes {
				still[j] = ops[idx]
			}
			errs := make([]error, len(br.Errors))
			for j, msg := range br.Errors {
				errs[j] = errors.New(msg)
			}
			return still, errs
		},
		Log: e.log,
	}
	out := runner.Run(ctx, failed)
	res.ChunksSkipped += out.Satisfied
	if len(out.Remaining) > 0 {
		res.Errors = append(res.Errors, firstErrors...)
		for _, err := range out.Errors {
			res.Errors = append(res.Errors, err.Error())
		}
	}
}

// submitMetadata sends the metadata write directly under the caller's own
// credentials, only when existence-checking shows it is still needed and
// every chunk it references is durably present. Its confirmation wait is
// fatal on failure.
func (e *Engine) submitMetadata(ctx context.Context, operator keyval.Address, op *upload.WriteOp, res *Result) error {
	satisfied, err := e.checker.CheckOp(ctx, op, operator)
	if err != nil {
		return fmt.Errorf("re-check metadata: %w", err)
	}
	if satisfied {
		e.log.Info("metadata already stored, skipping")
		return nil
	}

	args, ok := op.Args.(upload.MetadataArgs)
	if ok && len(args.RequiresChunks) > 0 {
		existing, err := e.checker.CheckChunkSet(ctx, args.RequiresChunks, operator)
		if err != nil {
			return fmt.Errorf("check metadata dependencies: %w", err)
		}
		var missing int
		for _, h := range args.RequiresChunks {
			if !existing[h] {
				missing++
			}
		}
		if missing > 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("metadata withheld: %d of %d chunks missing", missing, len(args.RequiresChunks)))
			return nil
		}
	}

	hash, err := e.submitter.Submit(ctx, op.Call)
	if err != nil {
		return fmt.Errorf("submit metadata: %w", err)
	}
	if err := e.submitter.WaitForConfirmation(ctx, []keyval.Hash{hash}, e.cfg.Confirmations, e.cfg.FinalTimeout); err != nil {
		return fmt.Errorf("confirm metadata %s: %w", hash.Hex(), err)
	}
	res.MetadataSubmitted = true
	res.MetadataTransactionHash = hash
	e.log.Info("metadata submitted", "tx", hash.Hex())
	return nil
}

// batchOps splits ops into batches bounded by count and encoded bytes, both
// holding simultaneously. An op larger than the byte cap still gets its own
// batch; the transport may reject it, which reports as a normal failure.
func batchOps(ops []*upload.WriteOp, maxOps, maxBytes int) [][]*upload.WriteOp {
	var batches [][]*upload.WriteOp
	var cur []*upload.WriteOp
	bytes := 0
	for _, op := range ops {
		size := op.Call.Size()
		if len(cur) > 0 && (len(cur)+1 > maxOps || bytes+size > maxBytes) {
			batches = append(batches, cur)
			cur = nil
			bytes = 0
		}
		cur = append(cur, op)
		bytes += size
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

func calls(ops []*upload.WriteOp) []keyval.Call {
	out := make([]keyval.Call, len(ops))
	for i, op := range ops {
		out[i] = op.Call
	}
	return out
}
