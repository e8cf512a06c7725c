package span

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/brunobiangulo/smartcatalog/document"
)

// ErrTableEnumeration wraps failures of the table source.
var ErrTableEnumeration = errors.New("span: table enumeration failed")

// TableRegion is a detected table attributed to a span.
type TableRegion struct {
	Page int           `json:"page_num"`
	BBox document.BBox `json:"bbox"`
	Span DocumentSpan  `json:"-"`
}

// Locator finds the tables that fall inside a span.
type Locator struct{}

// Locate enumerates tables on every page of s and keeps those that satisfy
// the boundary rule. Regions are ordered by page, then by top edge. An empty
// result is not an error.
func (Locator) Locate(ctx context.Context, src document.TableSource, s DocumentSpan) ([]TableRegion, error) {
	var regions []TableRegion
	for p := s.StartPage; p <= s.EndPage; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		boxes, err := src.Tables(ctx, p)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: page %d: %w", ErrTableEnumeration, p, err)
		}

		start := len(regions)
		for _, b := range boxes {
			if !s.Includes(p, b.Y0) {
				continue
			}
			regions = append(regions, TableRegion{Page: p, BBox: b, Span: s})
		}
		onPage := regions[start:]
		sort.SliceStable(onPage, func(i, j int) bool {
			return onPage[i].BBox.Y0 < onPage[j].BBox.Y0
		})
	}
	return regions, nil
}
