package upload

import (
	"context"
	"log/slog"

	"github.com/inkbound/scribe/internal/keyval"
)

// FilterOutcome partitions a plan into ops that must be sent and ops already
// durable. An empty ToSend means the upload is a fully-idempotent no-op.
type FilterOutcome struct {
	ToSend  []*WriteOp
	Skipped []*WriteOp

	// MetadataNeedsStorage is derived for reporting only.
	MetadataNeedsStorage bool
}

// Filter compares a plan against current chain state:
//
//   - normal/metadata ops are skipped only when the stored value exists and
//     matches byte-for-byte; a stored-but-mismatched value must be sent, and
//     the ledger's last-writer-wins overwrite resolves it
//   - chunk ops are skipped on existence alone, being content-addressed
//   - metadata is skipped only when every referenced chunk hash is present
//     as well; metadata pointing at incomplete chunks would be a dangling
//     reference, so a missing chunk force-includes metadata even when its
//     own stored body matches
//
// When metadata must be sent it is moved to the front of ToSend so its
// failure surfaces before chunk cost is spent on a retry sequence. Actual
// submission gating on confirmed chunks is the submitter's job, driven by
// MetadataArgs.RequiresChunks.
func Filter(ctx context.Context, plan *Plan, checker *Checker, log *slog.Logger) (*FilterOutcome, error) {
	out := &FilterOutcome{}

	// One concurrent fan-out covers every chunk op and every metadata
	// dependency; they reference the same hashes.
	var chunkHashes []keyval.Hash
	seen := make(map[keyval.Hash]bool)
	for _, op := range plan.Ops {
		if args, ok := op.Args.(ChunkArgs); ok && !seen[args.Hash] {
			seen[args.Hash] = true
			chunkHashes = append(chunkHashes, args.Hash)
		}
	}
	existing := make(map[keyval.Hash]bool)
	if len(chunkHashes) > 0 {
		var err error
		existing, err = checker.CheckChunkSet(ctx, chunkHashes, plan.Operator)
		if err != nil {
			return nil, err
		}
	}

	var metadata *WriteOp
	for _, op := range plan.Ops {
		switch args := op.Args.(type) {
		case NormalArgs:
			res, err := checker.CheckNormal(ctx, args.Key, plan.Operator, args.Value)
			if err != nil {
				return nil, err
			}
			if res.Exists && res.Matches {
				out.Skipped = append(out.Skipped, op)
			} else {
				out.ToSend = append(out.ToSend, op)
			}
		case ChunkArgs:
			if existing[args.Hash] {
				out.Skipped = append(out.Skipped, op)
			} else {
				out.ToSend = append(out.ToSend, op)
			}
		case MetadataArgs:
			res, err := checker.CheckMetadata(ctx, args.Key, plan.Operator, args.Value)
			if err != nil {
				return nil, err
			}
			allChunksPresent := true
			for _, h := range args.RequiresChunks {
				if !existing[h] {
					allChunksPresent = false
					break
				}
			}
			if res.Exists && res.Matches && allChunksPresent {
				out.Skipped = append(out.Skipped, op)
			} else {
				out.MetadataNeedsStorage = true
				metadata = op
			}
		}
	}

	if metadata != nil {
		out.ToSend = append([]*WriteOp{metadata}, out.ToSend...)
	}

	log.Debug("filtered upload plan",
		"key", plan.Key.Hex(),
		"to_send", len(out.ToSend),
		"skipped", len(out.Skipped),
		"metadata_needed", out.MetadataNeedsStorage)
	return out, nil
}
