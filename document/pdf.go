package document

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/tsawler/tabula/model"
	"github.com/tsawler/tabula/reader"
	"github.com/tsawler/tabula/tables"
)

// PDFOpener opens PDF catalogs stored under Dir.
type PDFOpener struct {
	// Dir is the catalog root. References are resolved relative to it.
	Dir string

	// Detection configures the geometric table detector. The zero value
	// means tables.DefaultConfig().
	Detection *tables.Config
}

// Resolve maps a catalog reference to a file path under Dir.
func (o *PDFOpener) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidReference)
	}
	if o.Dir == "" {
		return filepath.Clean(ref), nil
	}
	if filepath.IsAbs(ref) {
		return "", fmt.Errorf("%w: absolute path %q", ErrInvalidReference, ref)
	}
	clean := filepath.Clean(filepath.FromSlash(ref))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes catalog dir", ErrInvalidReference, ref)
	}
	return filepath.Join(o.Dir, clean), nil
}

// OpenText resolves ref and opens it for text search.
func (o *PDFOpener) OpenText(ref string) (*TextReader, error) {
	path, err := o.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return OpenText(path)
}

// Open opens the PDF once for both table detection and rendering.
func (o *PDFOpener) Open(ctx context.Context, ref string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := o.Resolve(ref)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening %s: %w", ref, err)
	}

	r, err := reader.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s for table detection: %w", ref, err)
	}
	count, err := r.PageCount()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("counting pages of %s: %w", ref, err)
	}

	f, err := fitz.New(path)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("opening %s for rendering: %w", ref, err)
	}

	cfg := tables.DefaultConfig()
	if o.Detection != nil {
		cfg = *o.Detection
	}
	det := tables.NewGeometricDetector()
	if err := det.Configure(cfg); err != nil {
		r.Close()
		f.Close()
		return nil, fmt.Errorf("configuring table detector: %w", err)
	}

	return &pdfDocument{
		ref:      ref,
		reader:   r,
		fitz:     f,
		detector: det,
		pages:    count,
	}, nil
}

// pdfDocument combines tabula (fragments and table detection) with MuPDF
// (rendering). Neither is safe for concurrent use, so calls are serialised.
type pdfDocument struct {
	mu       sync.Mutex
	ref      string
	reader   *reader.Reader
	fitz     *fitz.Document
	detector *tables.GeometricDetector
	pages    int
	closed   bool
}

func (d *pdfDocument) PageCount() int { return d.pages }

// Tables runs the geometric detector over the page's text fragments and
// returns the table boxes flipped into top-down space.
func (d *pdfDocument) Tables(ctx context.Context, page int) ([]BBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkPage(page, d.pages); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.reader.GetPage(page - 1)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	box, err := p.MediaBox()
	if err != nil {
		return nil, fmt.Errorf("page %d: reading media box: %w", page, err)
	}
	if len(box) < 4 {
		return nil, fmt.Errorf("page %d: malformed media box %v", page, box)
	}
	width, height := box[2]-box[0], box[3]-box[1]

	frags, err := d.reader.ExtractTextFragments(p)
	if err != nil {
		return nil, fmt.Errorf("page %d: extracting text: %w", page, err)
	}

	mp := model.NewPage(width, height)
	mp.Number = page
	for _, f := range frags {
		mp.RawText = append(mp.RawText, model.TextFragment{
			Text:     f.Text,
			BBox:     model.NewBBox(f.X-box[0], f.Y-box[1], f.Width, f.Height),
			FontSize: f.FontSize,
			FontName: f.FontName,
		})
	}

	found, err := d.detector.Detect(mp)
	if err != nil {
		return nil, fmt.Errorf("page %d: detecting tables: %w", page, err)
	}

	out := make([]BBox, 0, len(found))
	for _, t := range found {
		out = append(out, fromBottomUp(t.BBox, height))
	}
	return out, nil
}

// Render rasterises the page at 72*zoom DPI and crops it to clip.
func (d *pdfDocument) Render(ctx context.Context, page int, clip BBox, zoom float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkPage(page, d.pages); err != nil {
		return nil, err
	}
	if zoom <= 0 {
		zoom = 1
	}

	d.mu.Lock()
	img, err := d.fitz.ImageDPI(page-1, 72*zoom)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("rendering page %d: %w", page, err)
	}

	rect := image.Rect(
		int(math.Floor(clip.X0*zoom)),
		int(math.Floor(clip.Y0*zoom)),
		int(math.Ceil(clip.X1*zoom)),
		int(math.Ceil(clip.Y1*zoom)),
	).Add(img.Bounds().Min).Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("rendering page %d: clip %s outside page", page, clip)
	}
	return img.SubImage(rect), nil
}

func (d *pdfDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	ferr := d.fitz.Close()
	rerr := d.reader.Close()
	if ferr != nil {
		return ferr
	}
	return rerr
}

// fromBottomUp converts a tabula box (origin bottom-left) into top-down
// page space.
func fromBottomUp(b model.BBox, pageHeight float64) BBox {
	return BBox{
		X0: b.Left(),
		Y0: pageHeight - b.Top(),
		X1: b.Right(),
		Y1: pageHeight - b.Bottom(),
	}
}
