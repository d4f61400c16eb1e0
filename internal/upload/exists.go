package upload

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/inkbound/scribe/internal/keyval"
)

// Result reports prior durable state for one candidate write. Matches is
// only meaningful for normal/metadata records, where stored content can be
// compared; for chunks, existence alone is definitive because the id is
// content-derived.
type Result struct {
	Exists  bool
	Matches bool
}

// Checker answers existence questions against the remote store. A not-found
// response is never an error; it maps to Exists=false. Anything else
// propagates.
type Checker struct {
	store keyval.Store
}

// NewChecker creates a Checker over a store.
func NewChecker(store keyval.Store) *Checker {
	return &Checker{store: store}
}

// CheckNormal reports whether (key, operator) holds expected, comparing the
// stored value byte-for-byte.
func (c *Checker) CheckNormal(ctx context.Context, key keyval.Key, operator keyval.Address, expected []byte) (Result, error) {
	rec, err := c.store.Get(ctx, key, operator)
	if errors.Is(err, keyval.ErrNotFound) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Exists: true, Matches: bytes.Equal(rec.Value, expected)}, nil
}

// CheckMetadata reports whether the stored manifest at (key, operator)
// matches expected. Identical semantics to CheckNormal; kept separate so the
// call sites read as what they mean.
func (c *Checker) CheckMetadata(ctx context.Context, key keyval.Key, operator keyval.Address, expected []byte) (Result, error) {
	return c.CheckNormal(ctx, key, operator, expected)
}

// CheckChunk reports whether a chunk record exists for hash. A record with
// zero segments is a torn write and counts as absent.
func (c *Checker) CheckChunk(ctx context.Context, hash keyval.Hash, operator keyval.Address) (bool, error) {
	meta, err := c.store.GetChunkedMetadata(ctx, hash, operator)
	if err != nil {
		return false, err
	}
	return meta != nil && meta.SegmentCount > 0, nil
}

// CheckChunkSet checks every hash concurrently and returns the set that
// exists. All checks are issued at once; the wall time is bounded by the
// slowest single check, not the sum, which downstream batching depends on.
func (c *Checker) CheckChunkSet(ctx context.Context, hashes []keyval.Hash, operator keyval.Address) (map[keyval.Hash]bool, error) {
	existing := make(map[keyval.Hash]bool, len(hashes))
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	for _, h := range hashes {
		wg.Add(1)
		go func(h keyval.Hash) {
			defer wg.Done()
			ok, err := c.CheckChunk(ctx, h, operator)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			if ok {
				existing[h] = true
			}
		}(h)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return existing, nil
}

// CheckOp re-checks a single prepared op against current chain state.
// Returns true when the op is already satisfied and need not be sent.
func (c *Checker) CheckOp(ctx context.Context, op *WriteOp, operator keyval.Address) (bool, error) {
	switch args := op.Args.(type) {
	case ChunkArgs:
		return c.CheckChunk(ctx, args.Hash, operator)
	case NormalArgs:
		res, err := c.CheckNormal(ctx, args.Key, operator, args.Value)
		return res.Exists && res.Matches, err
	case MetadataArgs:
		res, err := c.CheckMetadata(ctx, args.Key, operator, args.Value)
		if err != nil || !res.Exists || !res.Matches {
			return false, err
		}
		existing, err := c.CheckChunkSet(ctx, args.RequiresChunks, operator)
		if err != nil {
			return false, err
		}
		for _, h := range args.RequiresChunks {
			if !existing[h] {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, nil
	}
}
