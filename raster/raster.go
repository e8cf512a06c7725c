// Package raster renders table regions into opaque PNG artifacts for the
// vision extractor.
package raster

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/brunobiangulo/smartcatalog/document"
)

const (
	// DefaultPadding is added on every side of the table box, in points.
	DefaultPadding = 5.0
	// DefaultZoom renders at 4x (288 DPI).
	DefaultZoom = 4.0
)

// ErrEmptyRegion is returned when a region has no area to render.
var ErrEmptyRegion = errors.New("raster: empty region")

// Rasterizer turns table boxes into images. A negative Padding or a
// non-positive Zoom falls back to the defaults.
type Rasterizer struct {
	Padding float64
	Zoom    float64

	live atomic.Int64
}

// New returns a rasterizer with the given padding and zoom.
func New(padding, zoom float64) *Rasterizer {
	return &Rasterizer{Padding: padding, Zoom: zoom}
}

// Default returns a rasterizer with DefaultPadding and DefaultZoom.
func Default() *Rasterizer {
	return New(DefaultPadding, DefaultZoom)
}

func (r *Rasterizer) settings() (padding, zoom float64) {
	padding, zoom = r.Padding, r.Zoom
	if padding < 0 {
		padding = DefaultPadding
	}
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	return padding, zoom
}

// Live returns the number of artifacts that have been produced and not yet
// released.
func (r *Rasterizer) Live() int64 { return r.live.Load() }

// Rasterize pads bbox, renders it through src at the configured zoom, drops
// any alpha channel and encodes the result as PNG. The caller must Release
// the artifact once the extraction attempt is over.
func (r *Rasterizer) Rasterize(ctx context.Context, src document.Renderer, page int, bbox document.BBox) (*Artifact, error) {
	padding, zoom := r.settings()
	clip := bbox.Pad(padding)
	if clip.Empty() {
		return nil, fmt.Errorf("%w: page %d %s", ErrEmptyRegion, page, bbox)
	}

	img, err := src.Render(ctx, page, clip, zoom)
	if err != nil {
		return nil, fmt.Errorf("rendering page %d %s: %w", page, clip, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: page %d %s rendered to nothing", ErrEmptyRegion, page, clip)
	}

	flat := Flatten(img)
	var buf bytes.Buffer
	if err := png.Encode(&buf, flat); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}

	r.live.Add(1)
	return &Artifact{
		Page:      page,
		BBox:      bbox,
		Clip:      clip,
		Width:     flat.Bounds().Dx(),
		Height:    flat.Bounds().Dy(),
		MediaType: "image/png",
		data:      buf.Bytes(),
		owner:     r,
	}, nil
}

// Flatten composites img over an opaque white background. The returned
// image reports Opaque() == true, so the PNG encoder writes it without an
// alpha channel.
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Copy(dst, image.Point{}, img, b, draw.Over, nil)
	return dst
}

// Artifact is a rendered table image scoped to one extraction attempt.
type Artifact struct {
	Page      int
	BBox      document.BBox
	Clip      document.BBox
	Width     int
	Height    int
	MediaType string

	once  sync.Once
	mu    sync.RWMutex
	data  []byte
	owner *Rasterizer
}

// Bytes returns the encoded image, or nil once released.
func (a *Artifact) Bytes() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.data
}

// DataURL returns the image as a base64 data URL, or "" once released.
func (a *Artifact) DataURL() string {
	data := a.Bytes()
	if data == nil {
		return ""
	}
	return "data:" + a.MediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Release drops the image data. It is safe to call more than once.
func (a *Artifact) Release() {
	a.once.Do(func() {
		a.mu.Lock()
		a.data = nil
		a.mu.Unlock()
		if a.owner != nil {
			a.owner.live.Add(-1)
		}
	})
}
