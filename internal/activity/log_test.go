package activity

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *SqliteLog {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "nested", "activity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	for i, key := range []string{"alpha", "beta", "gamma"} {
		err := l.Record(ctx, Entry{
			Key:       key,
			Operator:  "0x00000000000000000000000000000000000000aa",
			Strategy:  "chunked",
			Mode:      "relay",
			Sent:      i + 1,
			FinalHash: "0xabc",
			Success:   true,
		})
		require.NoError(t, err)
	}

	entries, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "gamma", entries[0].Key, "newest first")
	assert.Equal(t, "alpha", entries[2].Key)
	assert.Equal(t, 3, entries[0].Sent)
	assert.True(t, entries[0].Success)
	assert.False(t, entries[0].RecordedAt.IsZero())
}

func TestRecentLimit(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(ctx, Entry{Key: "k", Operator: "op", Strategy: "normal", Mode: "direct"}))
	}

	entries, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Zero limit falls back to the default rather than returning nothing.
	entries, err = l.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestLast(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, Entry{Key: "doc", Operator: "op", Strategy: "normal", Mode: "direct", Success: false, Failed: 2}))
	require.NoError(t, l.Record(ctx, Entry{Key: "doc", Operator: "op", Strategy: "normal", Mode: "direct", Success: true, Sent: 1}))
	require.NoError(t, l.Record(ctx, Entry{Key: "other", Operator: "op", Strategy: "chunked", Mode: "relay"}))

	e, err := l.Last(ctx, "doc")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.True(t, e.Success, "latest attempt wins")
	assert.Equal(t, 1, e.Sent)

	e, err = l.Last(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, e)
}
