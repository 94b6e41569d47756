package picking

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/eckpick/internal/picking/store"
)

func newTestManager(t *testing.T, gw *fakeGateway) *Manager {
	t.Helper()
	factory, err := store.FileFactory(t.TempDir())
	require.NoError(t, err)
	m := NewManager(Deps{Gateway: gw, Zones: testZones(), Timing: testTiming(), Logger: zerolog.Nop()}, factory)
	t.Cleanup(m.Shutdown)
	return m
}

func TestManagerReusesSessions(t *testing.T) {
	m := newTestManager(t, newFakeGateway())

	a, err := m.Session("device-1")
	require.NoError(t, err)
	again, err := m.Session("device-1")
	require.NoError(t, err)
	assert.Same(t, a, again)

	b, err := m.Session("device-2")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, m.Len())

	_, err = m.Session("")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestManagerShutdownKeepsStoreAndEndClearsIt(t *testing.T) {
	m := newTestManager(t, newFakeGateway())

	s, err := m.Session("device-1")
	require.NoError(t, err)
	enterZone(t, s)
	require.Equal(t, 3, s.Cache().Len())

	m.Shutdown()
	assert.Equal(t, 0, m.Len())

	restored, err := m.Session("device-1")
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Cache().Len(), "restart keeps the warm cache")

	require.NoError(t, m.End("device-1"))
	_, ok := m.Lookup("device-1")
	assert.False(t, ok)

	fresh, err := m.Session("device-1")
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Cache().Len(), "logout wipes the store")
}

func TestManagerEndWithoutOpenSession(t *testing.T) {
	m := newTestManager(t, newFakeGateway())
	assert.NoError(t, m.End("never-opened"))
}
