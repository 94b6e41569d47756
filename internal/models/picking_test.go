package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func op(id int64, required, done float64) Operation {
	return Operation{ID: id, RequiredQty: required, DoneQty: done}
}

func TestComputeLocationStatus(t *testing.T) {
	tests := []struct {
		name          string
		ops           []Operation
		completed     int
		fullyDone     int
		fullyComplete bool
		badge         string
	}{
		{name: "empty list is not complete", ops: nil, badge: "none"},
		{name: "no progress", ops: []Operation{op(1, 2, 0), op(2, 1, 0)}, badge: "none"},
		{name: "partial counts as completed", ops: []Operation{op(1, 2, 1), op(2, 1, 0)}, completed: 1, badge: "partial"},
		{name: "mixed", ops: []Operation{op(1, 2, 2), op(2, 3, 1), op(3, 1, 0)}, completed: 2, fullyDone: 1, badge: "partial"},
		{name: "all done", ops: []Operation{op(1, 2, 2), op(2, 1, 1)}, completed: 2, fullyDone: 2, fullyComplete: true, badge: "complete"},
		{name: "over-pick counts as done", ops: []Operation{op(1, 2, 5)}, completed: 1, fullyDone: 1, fullyComplete: true, badge: "complete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := ComputeLocationStatus(tt.ops)
			assert.Equal(t, len(tt.ops), status.TotalOps)
			assert.Equal(t, tt.completed, status.CompletedOps)
			assert.Equal(t, tt.fullyDone, status.FullyDoneOps)
			assert.Equal(t, tt.fullyComplete, status.IsFullyCompleted)
			assert.Equal(t, tt.badge, status.Badge())
		})
	}
}

func TestCacheKeyNamespaces(t *testing.T) {
	batchKey := NewCacheKey(BatchContext(10), 5)
	orderKey := NewCacheKey(OrderContext(10), 5)

	assert.Equal(t, "batch:10/loc:5", batchKey.String())
	assert.Equal(t, "order:10/loc:5", orderKey.String())
	assert.NotEqual(t, batchKey, orderKey)

	parsed, err := ParseCacheKey(orderKey.String())
	require.NoError(t, err)
	assert.Equal(t, orderKey, parsed)

	_, err = ParseCacheKey("pallet:1/loc:2")
	assert.Error(t, err)
	_, err = ParseCacheKey("garbage")
	assert.Error(t, err)
}

func TestStockLocationShortName(t *testing.T) {
	assert.Equal(t, "A01", StockLocation{Name: "WH/Stock/A01"}.ShortName())
	assert.Equal(t, "A01", StockLocation{Name: "A01"}.ShortName())
	assert.Equal(t, "B2", StockLocation{Name: "WH/Cold/B2/"}.ShortName())
}
