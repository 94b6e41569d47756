package picking

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/xelth-com/eckpick/internal/models"
)

// A collator keeps internal buffers, so each sort builds its own.
func newCollator(tag language.Tag) *collate.Collator {
	return collate.New(tag, collate.IgnoreCase, collate.Numeric)
}

// SortOperations orders operations by product name, locale-aware.
// Equal names keep their backend order.
func SortOperations(ops []models.Operation, tag language.Tag) {
	c := newCollator(tag)
	sort.SliceStable(ops, func(i, j int) bool {
		return c.CompareString(ops[i].ProductName, ops[j].ProductName) < 0
	})
}

// SortLocations orders locations by path so that A2 comes before A10
func SortLocations(locs []models.StockLocation, tag language.Tag) {
	c := newCollator(tag)
	sort.SliceStable(locs, func(i, j int) bool {
		return c.CompareString(locs[i].Name, locs[j].Name) < 0
	})
}
