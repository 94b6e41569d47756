package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the shared contract every backend must honour
func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	require.NoError(t, s.Save(map[string][]byte{
		EntryOperations: []byte(`{"batch:1/loc:2":[]}`),
		EntryTimestamps: []byte(`{"batch:1/loc:2":"2024-01-01T00:00:00Z"}`),
		EntryStatuses:   []byte(`{}`),
	}))

	loaded, err = s.Load()
	require.NoError(t, err)
	assert.JSONEq(t, `{"batch:1/loc:2":[]}`, string(loaded[EntryOperations]))
	assert.Len(t, loaded, 3)

	// partial save keeps the other entries
	require.NoError(t, s.Save(map[string][]byte{EntryStatuses: []byte(`{"batch:1/loc:2":{}}`)}))
	loaded, err = s.Load()
	require.NoError(t, err)
	assert.JSONEq(t, `{"batch:1/loc:2":{}}`, string(loaded[EntryStatuses]))
	assert.Contains(t, loaded, EntryOperations)

	require.NoError(t, s.Clear())
	loaded, err = s.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryFactoryReusesSession(t *testing.T) {
	factory := MemoryFactory()
	a, err := factory("picker-1")
	require.NoError(t, err)
	require.NoError(t, a.Save(map[string][]byte{EntryStatuses: []byte(`{}`)}))

	again, err := factory("picker-1")
	require.NoError(t, err)
	loaded, err := again.Load()
	require.NoError(t, err)
	assert.Contains(t, loaded, EntryStatuses)

	other, err := factory("picker-2")
	require.NoError(t, err)
	loaded, err = other.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestFileStore(t *testing.T) {
	factory, err := FileFactory(t.TempDir())
	require.NoError(t, err)
	s, err := factory("picker/../1")
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestFileStoreRejectsInvalidJSON(t *testing.T) {
	s := NewFileStore(t.TempDir(), "x")
	err := s.Save(map[string][]byte{EntryOperations: []byte("{not json")})
	assert.Error(t, err)
}

func TestBadgerStore(t *testing.T) {
	db, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	exerciseStore(t, NewBadgerStore(db, "picker-1"))
}

func TestBadgerStoreSessionsAreIsolated(t *testing.T) {
	db, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	factory := BadgerFactory(db)
	a, err := factory("a")
	require.NoError(t, err)
	b, err := factory("b")
	require.NoError(t, err)

	require.NoError(t, a.Save(map[string][]byte{EntryStatuses: []byte(`{"x":1}`)}))
	loaded, err := b.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	require.NoError(t, b.Clear())
	loaded, err = a.Load()
	require.NoError(t, err)
	assert.Contains(t, loaded, EntryStatuses)
}
