// Package document provides access to catalog documents: page count, table
// bounding boxes, region rendering and text lookup.
//
// All coordinates are PDF points measured top-down from the top-left corner
// of the page, matching the convention used by product anchors.
package document

import (
	"context"
	"errors"
	"fmt"
	"image"
)

var (
	// ErrInvalidReference is returned when a document reference escapes the
	// catalog directory or is otherwise unusable.
	ErrInvalidReference = errors.New("document: invalid reference")

	// ErrPageOutOfRange is returned for page numbers outside [1, PageCount].
	ErrPageOutOfRange = errors.New("document: page out of range")
)

// BBox is an axis-aligned rectangle in top-down page space.
type BBox struct {
	X0, Y0, X1, Y1 float64
}

// Width returns the horizontal extent of the box.
func (b BBox) Width() float64 { return b.X1 - b.X0 }

// Height returns the vertical extent of the box.
func (b BBox) Height() float64 { return b.Y1 - b.Y0 }

// Empty reports whether the box has no area.
func (b BBox) Empty() bool { return b.X1 <= b.X0 || b.Y1 <= b.Y0 }

// Pad grows the box by p on every side. The low edges are clamped at zero.
func (b BBox) Pad(p float64) BBox {
	out := BBox{X0: b.X0 - p, Y0: b.Y0 - p, X1: b.X1 + p, Y1: b.Y1 + p}
	if out.X0 < 0 {
		out.X0 = 0
	}
	if out.Y0 < 0 {
		out.Y0 = 0
	}
	return out
}

// Array returns the box as [x0, y0, x1, y1].
func (b BBox) Array() [4]float64 { return [4]float64{b.X0, b.Y0, b.X1, b.Y1} }

func (b BBox) String() string {
	return fmt.Sprintf("[%.2f %.2f %.2f %.2f]", b.X0, b.Y0, b.X1, b.Y1)
}

// TableSource enumerates the tables detected on a page.
type TableSource interface {
	Tables(ctx context.Context, page int) ([]BBox, error)
}

// Renderer renders a clipped page region into an image. Zoom is a scale
// factor relative to 72 DPI.
type Renderer interface {
	Render(ctx context.Context, page int, clip BBox, zoom float64) (image.Image, error)
}

// Document is an open catalog document. A handle is opened once per
// resolution and passed by reference to every stage.
type Document interface {
	TableSource
	Renderer
	PageCount() int
	Close() error
}

// Opener resolves a catalog reference (as stored with the products) into an
// open Document.
type Opener interface {
	Open(ctx context.Context, ref string) (Document, error)
}

func checkPage(page, count int) error {
	if page < 1 || page > count {
		return fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, count)
	}
	return nil
}
