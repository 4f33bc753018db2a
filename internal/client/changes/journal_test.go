package changes

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hcsync/hcs/internal/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T, path string) *Journal {
	t.Helper()
	j := NewJournal(path)
	require.NoError(t, j.Open())
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_AddPendingCommit(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, ":memory:")

	id1, err := j.Add(ctx, proto.NewFileCreate("a.txt", 3))
	require.NoError(t, err)
	id2, err := j.Add(ctx, proto.NewDirectoryMove("x", "y"))
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, id1, pending[0].ID)
	assert.Equal(t, proto.NewFileCreate("a.txt", 3), pending[0].Event)
	assert.Equal(t, proto.NewDirectoryMove("x", "y"), pending[1].Event)
	assert.False(t, pending[0].Committed)
	assert.WithinDuration(t, time.Now(), pending[0].CreatedAt, time.Minute)

	require.NoError(t, j.Commit(ctx, id1))
	count, err := j.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	pending, err = j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id2, pending[0].ID)
}

func TestJournal_CommitIsIdempotentAndNeverReenqueues(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, ":memory:")

	id, err := j.Add(ctx, proto.NewFileDelete("a.txt"))
	require.NoError(t, err)
	require.NoError(t, j.Commit(ctx, id))
	require.NoError(t, j.Commit(ctx, id))

	rec, err := j.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.Committed)

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.ErrorIs(t, j.Commit(ctx, 9999), ErrUnknownChange)
}

func TestJournal_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "changes.db")

	j := NewJournal(path)
	require.NoError(t, j.Open())
	_, err := j.Add(ctx, proto.NewFileModify("a.txt", 1))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	reopened := openJournal(t, path)
	pending, err := reopened.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, proto.FileModify, pending[0].Event.Kind)
}

func TestJournal_RejectsInvalidEventsAndClosedUse(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, ":memory:")

	_, err := j.Add(ctx, proto.ChangeEvent{Kind: proto.FileMove, FromPath: "a"})
	require.ErrorIs(t, err, proto.ErrInvalidEvent)

	closed := NewJournal(":memory:")
	_, err = closed.Pending(ctx)
	require.ErrorIs(t, err, ErrJournalClosed)
}

func TestJournal_Prune(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, ":memory:")

	id, err := j.Add(ctx, proto.NewFileDelete("a"))
	require.NoError(t, err)
	_, err = j.Add(ctx, proto.NewFileDelete("b"))
	require.NoError(t, err)
	require.NoError(t, j.Commit(ctx, id))

	n, err := j.Prune(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = j.Get(ctx, id)
	require.ErrorIs(t, err, ErrUnknownChange)
	count, err := j.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
