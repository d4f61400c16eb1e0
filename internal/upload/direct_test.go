package upload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkbound/scribe/internal/content"
	"github.com/inkbound/scribe/internal/keyval"
	"github.com/inkbound/scribe/internal/logging"
	"github.com/inkbound/scribe/internal/retry"
)

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
}

func directFixture(t *testing.T, raw []byte) (*Plan, *mockStore, *mockSubmitter, *DirectSubmitter) {
	t.Helper()
	store := newMockStore()
	sub := newMockSubmitter(store)
	checker := NewChecker(store)
	d := NewDirectSubmitter(checker, sub, ConfirmConfig{Count: 1, Timeout: time.Second}, fastRetry(), logging.Discard())

	cls := classify(t, raw, content.Options{})
	plan, err := Prepare(cls, keyval.NormalizeKey("doc1"), "doc.txt", keyval.Address{}, mockEncoder{})
	require.NoError(t, err)
	return plan, store, sub, d
}

func TestDirectSubmit_NoOpUpload(t *testing.T) {
	plan, _, sub, d := directFixture(t, []byte("small"))
	out := &FilterOutcome{Skipped: plan.Ops}

	res, err := d.Submit(context.Background(), keyval.Address{}, out)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Skipped)
	assert.Equal(t, len(plan.Ops), res.TransactionsSkipped)
	assert.Zero(t, sub.submitCount())
}

func TestDirectSubmit_SendsAll(t *testing.T) {
	plan, _, sub, d := directFixture(t, distinctText(40*1024))
	out := &FilterOutcome{ToSend: plan.Ops}

	res, err := d.Submit(context.Background(), keyval.Address{}, out)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, len(plan.Ops), res.TransactionsSent)
	assert.Zero(t, res.TransactionsFailed)
	assert.Equal(t, len(plan.Ops), sub.submitCount())
	assert.False(t, res.FinalHash.IsZero(), "metadata tx hash is the final hash")
}

func TestDirectSubmit_RecheckSkipsSatisfiedOps(t *testing.T) {
	plan, store, sub, d := directFixture(t, distinctText(40*1024))

	// Simulate a partial prior run: chunks already durable, metadata not.
	for _, op := range ChunkOps(plan.Ops) {
		store.putChunk(op.Args.(ChunkArgs).Hash, 1)
	}
	out := &FilterOutcome{ToSend: plan.Ops}

	res, err := d.Submit(context.Background(), keyval.Address{}, out)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.TransactionsSent, "only metadata still needed sending")
	assert.Equal(t, len(plan.Ops)-1, res.TransactionsSkipped)
	assert.Equal(t, 1, sub.submitCount())
}

func TestDirectSubmit_ContinuesPastFailures(t *testing.T) {
	plan, _, sub, d := directFixture(t, distinctText(40*1024))
	chunks := ChunkOps(plan.Ops)
	require.NotEmpty(t, chunks)

	// One chunk fails on every attempt, including retries.
	sub.failNext(chunks[0], 100)
	out := &FilterOutcome{ToSend: plan.Ops}

	res, err := d.Submit(context.Background(), keyval.Address{}, out)
	require.NoError(t, err, "per-op failures are aggregated, not returned")
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.TransactionsFailed)
	assert.Equal(t, len(plan.Ops)-1, res.TransactionsSent, "failure of one op does not abort the rest")
	assert.NotEmpty(t, res.Error)
}

func TestDirectSubmit_RetryRepairsTransientFailure(t *testing.T) {
	plan, _, sub, d := directFixture(t, distinctText(40*1024))
	chunks := ChunkOps(plan.Ops)

	sub.failNext(chunks[0], 1) // fails once, then succeeds on retry
	out := &FilterOutcome{ToSend: plan.Ops}

	res, err := d.Submit(context.Background(), keyval.Address{}, out)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, len(plan.Ops), res.TransactionsSent)
	assert.Zero(t, res.TransactionsFailed)
	assert.Empty(t, res.Error)
}
