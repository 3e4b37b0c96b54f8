package authclient

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("no change delivered")
		return Change{}
	}
}

func assertQuiet(t *testing.T, ch <-chan Change) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected change: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

// exerciseSharedArea checks the storage-event contract between two handles.
func exerciseSharedArea(t *testing.T, a, b Storage) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aCh, err := a.Subscribe(ctx)
	require.NoError(t, err)
	bCh, err := b.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Set(ctx, KeyAccessToken, "t1"))
	assert.Equal(t, Change{Key: KeyAccessToken, Value: "t1"}, nextChange(t, bCh))
	assertQuiet(t, aCh)

	v, ok, err := b.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "t1", v)

	// Same value again is not a change.
	require.NoError(t, a.Set(ctx, KeyAccessToken, "t1"))
	assertQuiet(t, bCh)

	require.NoError(t, b.Remove(ctx, KeyAccessToken))
	assert.Equal(t, Change{Key: KeyAccessToken, Removed: true}, nextChange(t, aCh))

	// Removing an absent key is not a change either.
	require.NoError(t, b.Remove(ctx, KeyAccessToken))
	assertQuiet(t, aCh)

	_, ok, err = a.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.False(t, ok)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-aCh
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryArea_SharedAcrossTabs(t *testing.T) {
	area := NewMemoryArea()
	exerciseSharedArea(t, area.NewTab(), area.NewTab())
}

func TestRedisStorage_SharedAcrossHandles(t *testing.T) {
	mr := miniredis.RunT(t)
	newHandle := func() Storage {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		s, err := NewRedisStorage(rdb, "test")
		require.NoError(t, err)
		return s
	}
	exerciseSharedArea(t, newHandle(), newHandle())
}

func TestSQLiteStorage_PersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	s, err := OpenSQLiteStorage(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, KeyAccessToken, "a1"))
	require.NoError(t, s.Set(ctx, KeyAccessToken, "a2"))
	require.NoError(t, s.Set(ctx, KeyRefreshToken, "r1"))
	require.NoError(t, s.Remove(ctx, KeyRefreshToken))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStorage(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	v, ok, err := s.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a2", v)

	_, ok, err = s.Get(ctx, KeyRefreshToken)
	require.NoError(t, err)
	assert.False(t, ok)
}
