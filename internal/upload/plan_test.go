package upload

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkbound/scribe/internal/content"
	"github.com/inkbound/scribe/internal/keyval"
)

func classify(t *testing.T, raw []byte, opts content.Options) *content.Classification {
	t.Helper()
	cls, err := content.Classify(raw, opts)
	require.NoError(t, err)
	return cls
}

func TestPrepare_NormalStrategy(t *testing.T) {
	cls := classify(t, []byte("small document"), content.Options{})
	key := keyval.NormalizeKey("doc1")

	plan, err := Prepare(cls, key, "doc.txt", keyval.Address{}, mockEncoder{})
	require.NoError(t, err)
	require.Len(t, plan.Ops, 1)

	op := plan.Ops[0]
	assert.Equal(t, KindNormal, op.Kind)
	assert.Equal(t, key.Hex(), op.ID)
	args, ok := op.Args.(NormalArgs)
	require.True(t, ok)
	assert.Equal(t, []byte("small document"), args.Value)
	assert.NotEmpty(t, op.Call.Data)
}

func TestPrepare_ChunkedStrategy(t *testing.T) {
	cls := classify(t, bytes.Repeat([]byte("x"), 100*1024), content.Options{})
	key := keyval.NormalizeKey("doc1")

	plan, err := Prepare(cls, key, "doc.txt", keyval.Address{}, mockEncoder{})
	require.NoError(t, err)
	require.Len(t, plan.Ops, 1+len(cls.Chunks))

	meta := plan.Ops[0]
	assert.Equal(t, KindMetadata, meta.Kind)
	args, ok := meta.Args.(MetadataArgs)
	require.True(t, ok)
	require.Len(t, args.RequiresChunks, len(cls.Chunks))

	for i, op := range plan.Ops[1:] {
		assert.Equal(t, KindChunk, op.Kind)
		chunkArgs, ok := op.Args.(ChunkArgs)
		require.True(t, ok)
		assert.Equal(t, cls.Chunks[i].Hash, chunkArgs.Hash)
		assert.Equal(t, chunkArgs.Hash.Hex(), op.ID, "chunk id is the content hash")
		assert.Equal(t, args.RequiresChunks[i], chunkArgs.Hash)
	}
}

func TestPrepare_EnforcesValueCap(t *testing.T) {
	// Threshold raised past the hard cap so the normal path sees an
	// oversized value.
	cls := classify(t, bytes.Repeat([]byte("x"), 61*1024), content.Options{Threshold: 64 * 1024})
	require.Equal(t, content.StrategyNormal, cls.Strategy)

	_, err := Prepare(cls, keyval.NormalizeKey("doc1"), "doc.txt", keyval.Address{}, mockEncoder{})
	assert.ErrorContains(t, err, "cap")
}

func TestChunkOpsAndMetadataOp(t *testing.T) {
	cls := classify(t, bytes.Repeat([]byte("x"), 40*1024), content.Options{})
	plan, err := Prepare(cls, keyval.NormalizeKey("doc1"), "doc.txt", keyval.Address{}, mockEncoder{})
	require.NoError(t, err)

	assert.Len(t, ChunkOps(plan.Ops), len(cls.Chunks))
	require.NotNil(t, MetadataOp(plan.Ops))
	assert.Equal(t, KindMetadata, MetadataOp(plan.Ops).Kind)
}
