// Package scanner resolves codes typed or scanned on a handheld against the
// locations or operations currently on screen.
package scanner

import (
	"strings"

	"github.com/xelth-com/eckpick/internal/models"
)

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// MatchLocation resolves input against locs. Rules, first hit wins:
//
//  1. barcode equality
//  2. full path equality, case-insensitive
//  3. last path segment equality
//  4. input contains a segment (scanner padding); the longest segment wins,
//     a tie of equally long segments matches nothing
//  5. a segment contains the input, only when exactly one location does
func MatchLocation(input string, locs []models.StockLocation) (models.StockLocation, bool) {
	code := normalize(input)
	if code == "" {
		return models.StockLocation{}, false
	}

	for _, loc := range locs {
		if loc.Barcode != "" && normalize(loc.Barcode) == code {
			return loc, true
		}
	}
	for _, loc := range locs {
		if normalize(loc.Name) == code {
			return loc, true
		}
	}
	for _, loc := range locs {
		if normalize(loc.ShortName()) == code {
			return loc, true
		}
	}

	var (
		best    models.StockLocation
		bestLen int
		tie     bool
	)
	for _, loc := range locs {
		seg := normalize(loc.ShortName())
		if seg == "" || !strings.Contains(code, seg) {
			continue
		}
		switch {
		case len(seg) > bestLen:
			best, bestLen, tie = loc, len(seg), false
		case len(seg) == bestLen:
			tie = true
		}
	}
	if bestLen > 0 {
		return best, !tie
	}

	var (
		only  models.StockLocation
		count int
	)
	for _, loc := range locs {
		if strings.Contains(normalize(loc.ShortName()), code) {
			only = loc
			count++
		}
	}
	if count == 1 {
		return only, true
	}
	return models.StockLocation{}, false
}

// MatchOperation resolves a product barcode or code against ops. Codes must
// be equal as printed: "sku-1" and "SKU-1" can be different products.
// The first incomplete match wins; otherwise the first match.
func MatchOperation(input string, ops []models.Operation) (models.Operation, bool) {
	code := strings.TrimSpace(input)
	if code == "" {
		return models.Operation{}, false
	}
	var (
		first models.Operation
		found bool
	)
	for _, op := range ops {
		if strings.TrimSpace(op.ProductBarcode) != code && strings.TrimSpace(op.ProductCode) != code {
			continue
		}
		if !op.IsDone() {
			return op, true
		}
		if !found {
			first, found = op, true
		}
	}
	return first, found
}
