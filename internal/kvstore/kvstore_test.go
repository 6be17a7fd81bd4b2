package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/aem/internal/types"
)

// exerciseStore runs the behavior every Store must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, types.ErrNotFound), "Get(missing) error = %v", err)

	require.NoError(t, s.Put(ctx, "aem.invocations", []byte("first")))
	got, err := s.Get(ctx, "aem.invocations")
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	require.NoError(t, s.Put(ctx, "aem.invocations", []byte("second")))
	got, err = s.Get(ctx, "aem.invocations")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	require.NoError(t, s.Put(ctx, "empty", nil))
	got, err = s.Get(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	exerciseStore(t, s)
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	value := []byte("abc")
	require.NoError(t, s.Put(ctx, "k", value))
	value[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestSQLStore_SQLite(t *testing.T) {
	url := "sqlite://" + filepath.Join(t.TempDir(), "nested", "aem.db")
	s, err := Open(context.Background(), url)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)

	keys, err := s.(*SQLStore).Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"aem.invocations", "empty"}, keys)
}

func TestSQLStore_ReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	url := "sqlite://" + filepath.Join(t.TempDir(), "aem.db")

	s, err := OpenSQL(ctx, url)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "aem.schedule", []byte("state")))
	require.NoError(t, s.Close())

	s, err = OpenSQL(ctx, url)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "aem.schedule")
	require.NoError(t, err)
	assert.Equal(t, "state", string(got))
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := Open(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)

	raw, err := mr.Get("aem:aem.invocations")
	require.NoError(t, err)
	assert.Equal(t, "second", raw)
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), "ftp://example.com")
	assert.Error(t, err)
}
