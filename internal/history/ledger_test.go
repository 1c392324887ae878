package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedger_RecordAndList(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Record(ctx, Entry{
			DocumentID:      fmt.Sprintf("doc-%d", i),
			Filename:        fmt.Sprintf("file-%d.txt", i),
			Language:        "en",
			ChunksProcessed: i,
			Message:         "Document ingested successfully",
			Persisted:       i != 1,
		}))
	}

	got, err := l.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "file-2.txt", got[0].Filename)
	assert.Equal(t, "file-1.txt", got[1].Filename)
	assert.False(t, got[1].Persisted)
	assert.True(t, got[0].Persisted)
	assert.Equal(t, 2, got[0].ChunksProcessed)
	assert.True(t, fixed.Equal(got[0].CreatedAt))

	all, err := l.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLedger_EmptyList(t *testing.T) {
	got, err := openLedger(t).List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
