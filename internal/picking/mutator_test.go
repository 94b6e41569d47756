package picking

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/eckpick/internal/models"
)

func TestSetQuantityIsOptimistic(t *testing.T) {
	gw := newFakeGateway()
	s, events := newTestSession(t, gw, nil)
	enterZone(t, s)
	ctx := context.Background()
	_, err := s.OpenLocation(ctx, 1)
	require.NoError(t, err)

	res, err := s.SetQuantity(ctx, 101, 2)
	require.NoError(t, err)
	assert.True(t, res.OperationCompleted)
	assert.False(t, res.LocationCompleted)
	assert.Equal(t, 1, res.Status.FullyDoneOps)
	assert.NotEmpty(t, res.WriteID)

	ops, ok := s.Cache().Peek(models.NewCacheKey(models.BatchContext(10), 1))
	require.True(t, ok)
	assert.Equal(t, 2.0, ops[1].DoneQty, "cache updated before the backend answered")
	assert.Equal(t, 2.0, s.Snapshot().Operations[1].DoneQty)

	require.NoError(t, res.Write.Wait(ctx))
	assert.Equal(t, []recordedWrite{{OperationID: 101, DoneQty: 2}}, gw.recordedWrites())
	assert.Eventually(t, func() bool { return s.Cache().PendingEdits() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, events.count(EventOperationCompleted))

	// raising an already complete line is not a new completion
	res, err = s.SetQuantity(ctx, 101, 3)
	require.NoError(t, err)
	assert.False(t, res.OperationCompleted)
}

func TestSetQuantityRejectsUnloadedOperation(t *testing.T) {
	s, _ := newTestSession(t, newFakeGateway(), nil)
	enterZone(t, s)
	ctx := context.Background()

	_, err := s.SetQuantity(ctx, 101, 1)
	assert.ErrorIs(t, err, ErrOperationNotLoaded, "no location open")

	_, err = s.OpenLocation(ctx, 1)
	require.NoError(t, err)
	_, err = s.SetQuantity(ctx, 301, 1)
	assert.ErrorIs(t, err, ErrOperationNotLoaded, "operation of another location")
}

func TestSetQuantityRejectsInvalidValues(t *testing.T) {
	s, _ := newTestSession(t, newFakeGateway(), nil)
	enterZone(t, s)
	_, err := s.OpenLocation(context.Background(), 1)
	require.NoError(t, err)

	for _, qty := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := s.SetQuantity(context.Background(), 101, qty)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	}
}

func TestWriteFailureKeepsLocalValue(t *testing.T) {
	gw := newFakeGateway()
	gw.failWrite = errBackendDown
	s, events := newTestSession(t, gw, nil)
	enterZone(t, s)
	ctx := context.Background()
	_, err := s.OpenLocation(ctx, 1)
	require.NoError(t, err)

	res, err := s.SetQuantity(ctx, 101, 1)
	require.NoError(t, err, "the edit itself succeeds")
	err = res.Write.Wait(ctx)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)

	require.Eventually(t, func() bool { return len(s.WriteErrors()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(101), s.WriteErrors()[0].OperationID)
	assert.Equal(t, 1, events.count(EventWriteFailed))

	ops, _ := s.Cache().Peek(models.NewCacheKey(models.BatchContext(10), 1))
	assert.Equal(t, 1.0, ops[1].DoneQty)

	s.DismissWriteErrors()
	assert.Empty(t, s.Snapshot().WriteErrors)
}

func TestRejectedWriteIsReported(t *testing.T) {
	gw := newFakeGateway()
	gw.rejectWrite = true
	s, _ := newTestSession(t, gw, nil)
	enterZone(t, s)
	ctx := context.Background()
	_, err := s.OpenLocation(ctx, 1)
	require.NoError(t, err)

	res, err := s.SetQuantity(ctx, 102, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Write.Wait(ctx), ErrWriteRejected)
}

func TestAutoAdvanceHighlightsNextIncompleteLocation(t *testing.T) {
	gw := newFakeGateway()
	gw.setDone(2, -1)
	gw.setDone(4, -1)
	s, events := newTestSession(t, gw, func(tm *Timing) { tm.PrefetchCount = 4 })
	enterZone(t, s)
	ctx := context.Background()

	// location 2 is already complete: editing it triggers nothing
	_, err := s.OpenLocation(ctx, 2)
	require.NoError(t, err)
	res, err := s.SetQuantity(ctx, 201, 1)
	require.NoError(t, err)
	assert.False(t, res.LocationCompleted)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, ModeOperationList, s.Navigator().Mode())
	require.NoError(t, s.Back())

	// completing location 1 leaves 3 as the only incomplete one
	_, err = s.OpenLocation(ctx, 1)
	require.NoError(t, err)
	_, err = s.SetQuantity(ctx, 101, 2)
	require.NoError(t, err)
	res, err = s.SetQuantity(ctx, 102, 1)
	require.NoError(t, err)
	assert.True(t, res.LocationCompleted)

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Mode == ModeLocationList && highlighted(snap) == 3
	}, time.Second, time.Millisecond)
	assert.Zero(t, events.count(EventCelebrationStarted))
	assert.Equal(t, 1, events.count(EventLocationCompleted))
}

func TestAutoAdvanceNeverWrapsBackwards(t *testing.T) {
	gw := newFakeGateway()
	gw.setDone(2, -1)
	gw.setDone(3, -1)
	s, events := newTestSession(t, gw, func(tm *Timing) { tm.PrefetchCount = 4 })
	enterZone(t, s)
	ctx := context.Background()

	_, err := s.OpenLocation(ctx, 4)
	require.NoError(t, err)
	_, err = s.SetQuantity(ctx, 401, 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Navigator().Mode() == ModeLocationList }, time.Second, time.Millisecond)
	snap := s.Snapshot()
	assert.Equal(t, int64(4), highlighted(snap), "location 1 is behind and stays unhighlighted")
	assert.Zero(t, events.count(EventCelebrationStarted))
}

func TestCelebrationFiresOncePerZone(t *testing.T) {
	gw := newFakeGateway()
	gw.setDone(2, -1)
	gw.setDone(3, -1)
	gw.setDone(4, -1)
	s, events := newTestSession(t, gw, func(tm *Timing) { tm.PrefetchCount = 4 })
	enterZone(t, s)
	ctx := context.Background()

	_, err := s.OpenLocation(ctx, 1)
	require.NoError(t, err)
	_, err = s.SetQuantity(ctx, 101, 2)
	require.NoError(t, err)
	_, err = s.SetQuantity(ctx, 102, 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return events.count(EventCelebrationStarted) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return events.count(EventCelebrationEnded) == 1 && s.Navigator().Mode() == ModeLocationList
	}, time.Second, time.Millisecond)

	// further edits in the same zone visit do not celebrate again
	_, err = s.OpenLocation(ctx, 1)
	require.NoError(t, err)
	_, err = s.SetQuantity(ctx, 101, 0)
	require.NoError(t, err)
	res, err := s.SetQuantity(ctx, 101, 2)
	require.NoError(t, err)
	assert.True(t, res.LocationCompleted)
	require.Eventually(t, func() bool { return s.Navigator().Mode() == ModeLocationList }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, events.count(EventCelebrationStarted))
}

func TestBackBeforeAdvanceCancelsIt(t *testing.T) {
	gw := newFakeGateway()
	s, events := newTestSession(t, gw, func(tm *Timing) { tm.AdvanceDelay = 30 * time.Millisecond })
	enterZone(t, s)
	ctx := context.Background()

	_, err := s.OpenLocation(ctx, 2)
	require.NoError(t, err)
	_, err = s.SetQuantity(ctx, 201, 1)
	require.NoError(t, err)
	require.NoError(t, s.Back())
	require.NoError(t, s.Back())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, ModeZoneSelect, s.Navigator().Mode())
	assert.Zero(t, events.count(EventLocationHighlighted))
}
