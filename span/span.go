// Package span turns a pair of consecutive product anchors into the document
// region owned by the first product, and locates the tables inside it.
package span

import (
	"errors"
	"fmt"

	"github.com/brunobiangulo/smartcatalog/anchor"
)

// ErrSpanUnresolvable is returned when anchors and page count are
// inconsistent with each other.
var ErrSpanUnresolvable = errors.New("span: unresolvable")

// DocumentSpan is the region [start, end) attributed to one product. A nil
// EndY means the span runs to the end of the document.
type DocumentSpan struct {
	StartPage int      `json:"start_page"`
	EndPage   int      `json:"end_page"`
	StartY    float64  `json:"start_y"`
	EndY      *float64 `json:"end_y"`
}

// OpenEnded reports whether the span extends to the end of the document.
func (s DocumentSpan) OpenEnded() bool { return s.EndY == nil }

// Includes applies the boundary rule to a table whose top edge is y0 on
// page. Equality with either bound is included.
func (s DocumentSpan) Includes(page int, y0 float64) bool {
	if page < s.StartPage || page > s.EndPage {
		return false
	}
	if page == s.StartPage && y0 < s.StartY {
		return false
	}
	if page == s.EndPage && s.EndY != nil && y0 > *s.EndY {
		return false
	}
	return true
}

func (s DocumentSpan) String() string {
	if s.EndY == nil {
		return fmt.Sprintf("p%d@%.2f..p%d@end", s.StartPage, s.StartY, s.EndPage)
	}
	return fmt.Sprintf("p%d@%.2f..p%d@%.2f", s.StartPage, s.StartY, s.EndPage, *s.EndY)
}

// Resolve computes the span of current given its successor (nil for the
// last anchor) and the document's page count. A successor that lies beyond
// the last page is treated as absent.
func Resolve(current anchor.ProductAnchor, next *anchor.ProductAnchor, pageCount int) (DocumentSpan, error) {
	if pageCount < 1 {
		return DocumentSpan{}, fmt.Errorf("%w: document has %d pages", ErrSpanUnresolvable, pageCount)
	}
	if current.PageNumber < 1 || current.PageNumber > pageCount {
		return DocumentSpan{}, fmt.Errorf("%w: anchor %d on page %d of %d",
			ErrSpanUnresolvable, current.ID, current.PageNumber, pageCount)
	}

	s := DocumentSpan{
		StartPage: current.PageNumber,
		StartY:    current.Y,
		EndPage:   pageCount,
	}
	if next == nil || next.PageNumber > pageCount {
		return s, nil
	}

	if next.Before(current) {
		return DocumentSpan{}, fmt.Errorf("%w: next anchor %d (p%d@%.2f) precedes %d (p%d@%.2f)",
			ErrSpanUnresolvable, next.ID, next.PageNumber, next.Y, current.ID, current.PageNumber, current.Y)
	}

	endY := next.Y
	s.EndPage = next.PageNumber
	s.EndY = &endY
	return s, nil
}
