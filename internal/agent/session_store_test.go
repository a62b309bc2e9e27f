package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overwatch-ai/reins/internal/testutil"
)

func newTestSessionStore(t *testing.T) *SessionStore {
	t.Helper()
	store, err := NewSessionStore(testutil.NewTestDB(t))
	require.NoError(t, err)
	return store
}

func TestSessionStoreSaveAndGet(t *testing.T) {
	store := newTestSessionStore(t)
	ctx := context.Background()

	session := NewSession("user-1", AutonomyAssisted)
	session.Append(Turn{Role: "user", Content: "hello"})
	require.NoError(t, store.Save(ctx, session))

	got, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ActorID)
	assert.Equal(t, AutonomyAssisted, got.Autonomy)
	assert.Equal(t, SessionPlanning, got.Status)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "hello", got.Turns[0].Content)
}

func TestSessionStoreGetMissing(t *testing.T) {
	store := newTestSessionStore(t)
	_, err := store.Get(context.Background(), "ses_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreUpsert(t *testing.T) {
	store := newTestSessionStore(t)
	ctx := context.Background()

	session := NewSession("user-1", AutonomySupervised)
	require.NoError(t, store.Save(ctx, session))

	session.Status = SessionCompleted
	session.Append(Turn{Role: "assistant", Content: "done"})
	require.NoError(t, store.Save(ctx, session))

	got, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, got.Status)
	assert.Len(t, got.Turns, 1)
}

func TestSessionStoreExists(t *testing.T) {
	store := newTestSessionStore(t)
	ctx := context.Background()

	session := NewSession("user-1", AutonomyReadOnly)
	require.NoError(t, store.Save(ctx, session))

	ok, err := store.Exists(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "ses_nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionStoreList(t *testing.T) {
	store := newTestSessionStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(ctx, NewSession("user-1", AutonomyAssisted)))
	}

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
