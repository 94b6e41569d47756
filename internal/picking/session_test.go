package picking

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/eckpick/internal/models"
	"github.com/xelth-com/eckpick/internal/picking/store"
)

func TestScanLocationHighlights(t *testing.T) {
	s, events := newTestSession(t, newFakeGateway(), nil)
	enterZone(t, s)

	loc, err := s.ScanLocation("A03")
	require.NoError(t, err)
	assert.Equal(t, int64(3), loc.ID)
	assert.Equal(t, int64(3), highlighted(s.Snapshot()))
	assert.Equal(t, 1, events.count(EventLocationHighlighted))
	assert.Equal(t, ModeLocationList, s.Navigator().Mode(), "scanning never opens a location")
}

func TestScanNoMatchRaisesSelfClearingAlert(t *testing.T) {
	s, events := newTestSession(t, newFakeGateway(), nil)
	enterZone(t, s)

	_, err := s.ScanLocation("A0")
	assert.ErrorIs(t, err, ErrNoMatch)
	alert := s.Snapshot().ScanAlert
	require.NotNil(t, alert)
	assert.Equal(t, "A0", alert.Input)
	assert.Equal(t, 1, events.count(EventScanNoMatch))

	assert.Eventually(t, func() bool { return s.ScanAlert() == nil }, time.Second, 5*time.Millisecond)
}

func TestScanOperation(t *testing.T) {
	gw := newFakeGateway()
	gw.ops[1][0].ProductCode = "PEAR-1"
	s, _ := newTestSession(t, gw, nil)
	enterZone(t, s)

	_, err := s.ScanOperation("PEAR-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.OpenLocation(context.Background(), 1)
	require.NoError(t, err)
	op, err := s.ScanOperation("PEAR-1")
	require.NoError(t, err)
	assert.Equal(t, int64(101), op.ID)

	_, err = s.ScanOperation("pear-1")
	assert.ErrorIs(t, err, ErrNoMatch, "product codes compare exactly")

	_, err = s.ScanOperation("PEAR")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestSessionRestoresFromStore(t *testing.T) {
	gw := newFakeGateway()
	dir := t.TempDir()
	deps := Deps{Gateway: gw, Zones: testZones(), Timing: testTiming(), Logger: zerolog.Nop()}

	first, err := NewSession("device-1", deps, store.NewFileStore(dir, "device-1"))
	require.NoError(t, err)
	enterZone(t, first)
	require.Equal(t, 3, first.Cache().Len())

	// a second session over the same store starts warm
	second, err := NewSession("device-1", deps, store.NewFileStore(dir, "device-1"))
	require.NoError(t, err)
	t.Cleanup(func() { second.Close(false) })
	assert.Equal(t, 3, second.Cache().Len())
	require.NoError(t, first.Close(false))

	calls := gw.callCount("ListLocationOperations")
	require.NoError(t, second.SelectBatch(context.Background(), 10))
	require.NoError(t, second.SelectZone(context.Background(), "A"))
	require.NoError(t, second.Navigator().WaitPrefetch(context.Background()))
	assert.Equal(t, calls, gw.callCount("ListLocationOperations"))
	assert.True(t, second.Cache().Has(models.NewCacheKey(models.BatchContext(10), 1)))
}

func TestClosedSessionRejectsEdits(t *testing.T) {
	s, _ := newTestSession(t, newFakeGateway(), nil)
	enterZone(t, s)
	_, err := s.OpenLocation(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, s.Close(false))

	_, err = s.SetQuantity(context.Background(), 101, 1)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.NoError(t, s.Close(false), "closing twice is harmless")
}
