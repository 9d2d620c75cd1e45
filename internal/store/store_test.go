package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleReport(id string, finished time.Time) Report {
	return Report{
		ID:           id,
		Account:      "0x64fa47c02430e5d69c0c5d340e23397bca308f7b",
		Target:       5,
		Submitted:    3,
		StartHeight:  100,
		SyncHeight:   102,
		BlockTxCount: 3,
		FirstNonce:   42,
		LastNonce:    44,
		StopReason:   "new_block",
		StartedAt:    finished.Add(-time.Second),
		FinishedAt:   finished,
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, rec)

	require.NoError(t, store.Save(ctx, sampleReport("abc", time.Now())))

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 3, got.Submitted)

	require.ErrorIs(t, store.Save(ctx, Report{}), ErrMissingID)
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	require.NoError(t, store.Save(ctx, sampleReport("old", base)))
	require.NoError(t, store.Save(ctx, sampleReport("new", base.Add(time.Minute))))
	require.NoError(t, store.Save(ctx, sampleReport("mid", base.Add(time.Second))))

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "new", all[0].ID)
	require.Equal(t, "mid", all[1].ID)
	require.Equal(t, "old", all[2].ID)

	limited, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "new", limited[0].ID)
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleReport("key", time.Unix(0, 0).UTC())))

	_, err = os.Stat(path)
	require.NoError(t, err, "expected file on disk")

	store2, err := NewFileStore(path)
	require.NoError(t, err)

	got, err := store2.Get(ctx, "key")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, uint64(42), got.FirstNonce)
	require.Equal(t, "new_block", got.StopReason)
}
