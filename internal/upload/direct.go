package upload

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/inkbound/scribe/internal/keyval"
	"github.com/inkbound/scribe/internal/retry"
)

// ConfirmConfig bounds confirmation waits.
type ConfirmConfig struct {
	Count   int
	Timeout time.Duration
}

// DirectResult is the caller contract for direct-mode submission.
type DirectResult struct {
	Success             bool
	Skipped             bool // the whole upload was a no-op
	TransactionsSent    int
	TransactionsSkipped int
	TransactionsFailed  int
	FinalHash           keyval.Hash
	Error               string
}

// DirectSubmitter sends filtered operations sequentially under the caller's
// own credentials.
type DirectSubmitter struct {
	checker   *Checker
	submitter keyval.Submitter
	confirm   ConfirmConfig
	retryCfg  retry.Config
	log       *slog.Logger
}

// NewDirectSubmitter creates a direct submitter.
func NewDirectSubmitter(checker *Checker, submitter keyval.Submitter, confirm ConfirmConfig, retryCfg retry.Config, log *slog.Logger) *DirectSubmitter {
	if confirm.Count == 0 {
		confirm.Count = 1
	}
	if confirm.Timeout == 0 {
		confirm.Timeout = 2 * time.Minute
	}
	return &DirectSubmitter{
		checker:   checker,
		submitter: submitter,
		confirm:   confirm,
		retryCfg:  retryCfg,
		log:       log,
	}
}

// Submit sends each op in outcome order, re-checking existence immediately
// before each send so a partial prior run is never repeated. One op's
// failure does not abort the loop; whatever succeeds stays durable and the
// result carries aggregate counts. Failed ops get one shared-strategy retry
// pass at the end.
func (d *DirectSubmitter) Submit(ctx context.Context, operator keyval.Address, outcome *FilterOutcome) (*DirectResult, error) {
	res := &DirectResult{TransactionsSkipped: len(outcome.Skipped)}
	if len(outcome.ToSend) == 0 {
		res.Success = true
		res.Skipped = true
		return res, nil
	}

	var (
		failed []*WriteOp
		errs   []string
	)
	for _, op := range outcome.ToSend {
		satisfied, err := d.checker.CheckOp(ctx, op, operator)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s %s: re-check: %v", op.Kind, op.ID, err))
			failed = append(failed, op)
			continue
		}
		if satisfied {
			res.TransactionsSkipped++
			continue
		}
		hash, err := d.sendAndConfirm(ctx, op)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s %s: %v", op.Kind, op.ID, err))
			failed = append(failed, op)
			continue
		}
		res.TransactionsSent++
		if op.Kind != KindChunk {
			res.FinalHash = hash
		}
	}

	if len(failed) > 0 {
		runner := &retry.Runner[*WriteOp]{
			Config: d.retryCfg,
			Recheck: func(ctx context.Context, op *WriteOp) (bool, error) {
				if op.Kind != KindChunk {
					return false, nil // only content-addressed ops verify this way
				}
				return d.checker.CheckOp(ctx, op, operator)
			},
			Submit: func(ctx context.Context, ops []*WriteOp) ([]*WriteOp, []error) {
				var still []*WriteOp
				var rerrs []error
				for _, op := range ops {
					hash, err := d.sendAndConfirm(ctx, op)
					if err != nil {
						still = append(still, op)
						rerrs = append(rerrs, fmt.Errorf("%s %s: %w", op.Kind, op.ID, err))
						continue
					}
					res.TransactionsSent++
					if op.Kind != KindChunk {
						res.FinalHash = hash
					}
				}
				return still, rerrs
			},
			Log: d.log,
		}
		out := runner.Run(ctx, failed)
		res.TransactionsSkipped += out.Satisfied
		res.TransactionsFailed = len(out.Remaining)
		if res.TransactionsFailed > 0 {
			for _, err := range out.Errors {
				errs = append(errs, err.Error())
			}
			res.Error = strings.Join(errs, "; ")
		}
	}

	res.Success = res.TransactionsFailed == 0
	return res, nil
}

func (d *DirectSubmitter) sendAndConfirm(ctx context.Context, op *WriteOp) (keyval.Hash, error) {
	hash, err := d.submitter.Submit(ctx, op.Call)
	if err != nil {
		return keyval.Hash{}, err
	}
	d.log.Info("submitted", "kind", op.Kind.String(), "id", op.ID, "tx", hash.Hex())
	if err := d.submitter.WaitForConfirmation(ctx, []keyval.Hash{hash}, d.confirm.Count, d.confirm.Timeout); err != nil {
		return keyval.Hash{}, fmt.Errorf("confirm %s: %w", hash.Hex(), err)
	}
	return hash, nil
}
