// Package upload turns classified content into an ordered plan of write
// operations, checks what already exists on chain, filters out satisfied
// writes, and submits the rest.
package upload

import (
	"fmt"

	"github.com/inkbound/scribe/internal/content"
	"github.com/inkbound/scribe/internal/keyval"
)

// Kind discriminates write operation shapes.
type Kind int

const (
	KindNormal Kind = iota
	KindChunk
	KindMetadata
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindMetadata:
		return "metadata"
	default:
		return "normal"
	}
}

// TypedArgs is the tagged union of per-kind call arguments. Later stages
// (idempotency comparison, retry recheck) need typed access to key, hash and
// value without re-parsing the encoded call.
type TypedArgs interface {
	isTypedArgs()
}

// NormalArgs are the arguments of a single-record write.
type NormalArgs struct {
	Key   keyval.Key
	Label string
	Value []byte
}

// ChunkArgs are the arguments of a content-addressed chunk write.
type ChunkArgs struct {
	Hash     keyval.Hash
	Label    string
	Segments [][]byte
}

// MetadataArgs are the arguments of a chunk-manifest write. RequiresChunks
// carries the explicit dependency on confirmed chunk presence; submitters
// consult it rather than relying on list position.
type MetadataArgs struct {
	Key            keyval.Key
	Label          string
	Value          []byte
	RequiresChunks []keyval.Hash
}

func (NormalArgs) isTypedArgs()   {}
func (ChunkArgs) isTypedArgs()    {}
func (MetadataArgs) isTypedArgs() {}

// WriteOp is the atomic unit submitted to the ledger. ID is the storage key
// for normal/metadata ops and the content hash for chunk ops, so that for
// chunks id existence implies content identity.
type WriteOp struct {
	ID   string
	Kind Kind
	Args TypedArgs
	Call keyval.Call
}

// Plan is the ordered operation list for one logical upload.
type Plan struct {
	Key      keyval.Key
	Operator keyval.Address
	Ops      []*WriteOp
}

// Prepare builds the upload plan for one classified content. Normal strategy
// yields a single op; chunked yields the metadata op first as authored plus
// one op per chunk. Final send ordering is the filter's responsibility.
func Prepare(cls *content.Classification, key keyval.Key, label string, operator keyval.Address, enc keyval.Encoder) (*Plan, error) {
	plan := &Plan{Key: key, Operator: operator}

	if cls.Strategy == content.StrategyNormal {
		if len(cls.Encoded) > content.MaxNormalValueSize {
			return nil, fmt.Errorf("value %d bytes exceeds %d byte cap", len(cls.Encoded), content.MaxNormalValueSize)
		}
		call, err := enc.EncodePut(key, label, cls.Encoded)
		if err != nil {
			return nil, err
		}
		plan.Ops = append(plan.Ops, &WriteOp{
			ID:   key.Hex(),
			Kind: KindNormal,
			Args: NormalArgs{Key: key, Label: label, Value: cls.Encoded},
			Call: call,
		})
		return plan, nil
	}

	required := make([]keyval.Hash, len(cls.Chunks))
	for i, ch := range cls.Chunks {
		required[i] = ch.Hash
	}
	metaCall, err := enc.EncodePut(key, label, cls.Manifest)
	if err != nil {
		return nil, err
	}
	plan.Ops = append(plan.Ops, &WriteOp{
		ID:   key.Hex(),
		Kind: KindMetadata,
		Args: MetadataArgs{Key: key, Label: label, Value: cls.Manifest, RequiresChunks: required},
		Call: metaCall,
	})
	for _, ch := range cls.Chunks {
		call, err := enc.EncodePutChunks(ch.Hash, label, [][]byte{ch.Data})
		if err != nil {
			return nil, err
		}
		plan.Ops = append(plan.Ops, &WriteOp{
			ID:   ch.Hash.Hex(),
			Kind: KindChunk,
			Args: ChunkArgs{Hash: ch.Hash, Label: label, Segments: [][]byte{ch.Data}},
			Call: call,
		})
	}
	return plan, nil
}

// ChunkOps returns the chunk-kind subset of ops, in order.
func ChunkOps(ops []*WriteOp) []*WriteOp {
	var out []*WriteOp
	for _, op := range ops {
		if op.Kind == KindChunk {
			out = append(out, op)
		}
	}
	return out
}

// MetadataOp returns the metadata op, if present.
func MetadataOp(ops []*WriteOp) *WriteOp {
	for _, op := range ops {
		if op.Kind == KindMetadata {
			return op
		}
	}
	return nil
}
