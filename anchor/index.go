// Package anchor orders the product anchors of a catalog and answers
// successor queries over them.
package anchor

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNotFound is returned when an anchor is not a member of the index.
	ErrNotFound = errors.New("anchor: not found in index")

	// ErrDuplicateAnchor is returned when two anchors share the same ID.
	ErrDuplicateAnchor = errors.New("anchor: duplicate anchor id")
)

// ProductAnchor is a product's located occurrence in a catalog document.
// Y is measured top-down in PDF points from the top edge of the page.
type ProductAnchor struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Brand      string  `json:"brand"`
	Type       string  `json:"type"`
	PageNumber int     `json:"page_number"`
	Y          float64 `json:"y_coordinate"`
	Sequence   int     `json:"sequence_number"`
}

// Before reports whether a sorts before b. Anchors are ordered by page,
// then vertical offset, then upstream sequence number. Anchors equal on
// all three keep their input order (the index uses a stable sort).
func (a ProductAnchor) Before(b ProductAnchor) bool {
	if a.PageNumber != b.PageNumber {
		return a.PageNumber < b.PageNumber
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Sequence < b.Sequence
}

// Index is an immutable, ordered view over a catalog's anchors. It is safe
// for concurrent use once constructed.
type Index struct {
	sorted   []ProductAnchor
	position map[int64]int
}

// NewIndex sorts a copy of anchors and records each anchor's position.
func NewIndex(anchors []ProductAnchor) (*Index, error) {
	sorted := make([]ProductAnchor, len(anchors))
	copy(sorted, anchors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Before(sorted[j])
	})

	position := make(map[int64]int, len(sorted))
	for i, a := range sorted {
		if _, dup := position[a.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateAnchor, a.ID)
		}
		position[a.ID] = i
	}

	return &Index{sorted: sorted, position: position}, nil
}

// Len returns the number of anchors in the index.
func (x *Index) Len() int { return len(x.sorted) }

// Sorted returns the anchors in index order. The slice is a copy.
func (x *Index) Sorted() []ProductAnchor {
	out := make([]ProductAnchor, len(x.sorted))
	copy(out, x.sorted)
	return out
}

// Get returns the anchor with the given ID.
func (x *Index) Get(id int64) (ProductAnchor, error) {
	i, ok := x.position[id]
	if !ok {
		return ProductAnchor{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return x.sorted[i], nil
}

// Next returns the immediate successor of a. The boolean is false when a
// is the last anchor.
func (x *Index) Next(a ProductAnchor) (ProductAnchor, bool, error) {
	i, ok := x.position[a.ID]
	if !ok {
		return ProductAnchor{}, false, fmt.Errorf("%w: %d", ErrNotFound, a.ID)
	}
	if i+1 >= len(x.sorted) {
		return ProductAnchor{}, false, nil
	}
	return x.sorted[i+1], true, nil
}
