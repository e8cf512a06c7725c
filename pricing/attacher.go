// Package pricing attaches extracted price tables to catalog products.
//
// For a product it finds the next anchor in the same catalog, derives the
// document span the product owns, locates the tables inside that span,
// rasterizes them one at a time and hands each image to an Extractor. The
// merged result is persisted once through a Repository and never recomputed.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/brunobiangulo/smartcatalog/anchor"
	"github.com/brunobiangulo/smartcatalog/document"
	"github.com/brunobiangulo/smartcatalog/raster"
	"github.com/brunobiangulo/smartcatalog/span"
)

var (
	// ErrExtractionFailure marks a single table whose extraction failed. The
	// table is skipped.
	ErrExtractionFailure = errors.New("pricing: extraction failed")
	// ErrDocumentOpen is returned when the catalog document cannot be opened.
	ErrDocumentOpen = errors.New("pricing: cannot open document")
	// ErrProductNotFound is returned for an unknown product id.
	ErrProductNotFound = errors.New("pricing: product not found")
	// ErrRepository marks a failed repository read or write during a
	// resolution.
	ErrRepository = errors.New("pricing: repository failure")
)

// Product is the repository view of one anchored product.
type Product struct {
	Anchor      anchor.ProductAnchor
	CatalogID   int64
	DocumentRef string
	State       State
	Data        *PriceData
}

// Repository persists products and their price data. Product must return an
// error wrapping ErrProductNotFound for unknown ids. SavePriceData is
// write-once: if data is already stored it must leave it untouched and
// return the stored copy.
type Repository interface {
	Product(ctx context.Context, productID int64) (*Product, error)
	CatalogAnchors(ctx context.Context, catalogID int64) ([]anchor.ProductAnchor, error)
	SavePriceData(ctx context.Context, productID int64, data *PriceData) (*PriceData, error)
	MarkEmpty(ctx context.Context, productID int64) error
}

// Extractor turns one table image into rows.
type Extractor interface {
	ExtractTable(ctx context.Context, art *raster.Artifact) ([]Row, error)
}

// Config wires an Attacher. Rasterizer and Logger are optional.
type Config struct {
	Repository Repository
	Opener     document.Opener
	Extractor  Extractor
	Rasterizer *raster.Rasterizer
	Logger     *slog.Logger
}

// Attacher resolves and memoizes price data per product.
type Attacher struct {
	repo      Repository
	opener    document.Opener
	extractor Extractor
	raster    *raster.Rasterizer
	locator   span.Locator
	logger    *slog.Logger

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
	indexes sync.Map // catalog id → *anchor.Index
}

// New creates an Attacher.
func New(cfg Config) *Attacher {
	if cfg.Rasterizer == nil {
		cfg.Rasterizer = raster.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Attacher{
		repo:      cfg.Repository,
		opener:    cfg.Opener,
		extractor: cfg.Extractor,
		raster:    cfg.Rasterizer,
		logger:    cfg.Logger,
		flights:   make(map[string]*flight),
	}
}

// Rasterizer returns the rasterizer used for table images.
func (a *Attacher) Rasterizer() *raster.Rasterizer { return a.raster }

// State reports the memoization state of a product.
func (a *Attacher) State(ctx context.Context, productID int64) (State, error) {
	p, err := a.repo.Product(ctx, productID)
	if err != nil {
		return "", err
	}
	return p.State, nil
}

// Invalidate drops the cached anchor index of a catalog. Call it after the
// catalog's anchors change.
func (a *Attacher) Invalidate(catalogID int64) {
	a.indexes.Delete(catalogID)
}

// EnsurePriceData returns the product's price data, resolving it on first
// use. Resolved data is returned as stored, without touching the document.
//
// A nil result with a nil error means no price data could be attached: the
// span held no tables, every table failed extraction, or the attempt hit a
// contained failure (unopenable document, inconsistent anchors, repository
// failure). Those are logged with their class. Errors are returned only for
// unknown products and for cancellation of ctx.
//
// Concurrent calls for the same product share one resolution. Cancelling one
// caller returns that caller only; the shared attempt is cancelled once every
// caller waiting on it has gone, and then leaves the stored state as it was.
func (a *Attacher) EnsurePriceData(ctx context.Context, productID int64) (*PriceData, error) {
	key := strconv.FormatInt(productID, 10)
	for {
		f := a.join(ctx, key)
		ch := a.group.DoChan(key, func() (any, error) {
			return a.resolve(f.ctx, productID)
		})

		select {
		case <-ctx.Done():
			a.leave(key, f)
			return nil, ctx.Err()
		case res := <-ch:
			a.leave(key, f)
			if res.Err != nil {
				// Joined an attempt whose own callers all left.
				if isCancellation(res.Err) && ctx.Err() == nil {
					continue
				}
				return nil, res.Err
			}
			data, _ := res.Val.(*PriceData)
			return data, nil
		}
	}
}

// flight is the context shared by the callers of one resolution.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (a *Attacher) join(ctx context.Context, key string) *flight {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		a.flights[key] = f
	}
	f.waiters++
	return f
}

func (a *Attacher) leave(key string, f *flight) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f.waiters--
	if f.waiters == 0 {
		f.cancel()
		if a.flights[key] == f {
			delete(a.flights, key)
		}
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (a *Attacher) resolve(ctx context.Context, productID int64) (data *PriceData, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("pricing: resolution panicked",
				"product_id", productID, "class", "panic", "panic", fmt.Sprint(r))
			data, err = nil, nil
		}
	}()

	p, err := a.repo.Product(ctx, productID)
	if errors.Is(err, ErrProductNotFound) {
		return nil, err
	}
	if err != nil {
		return a.abandon(ctx, productID, fmt.Errorf("%w: loading product %d: %w", ErrRepository, productID, err))
	}
	if p.State == StateResolved && !p.Data.Empty() {
		return p.Data, nil
	}

	start := time.Now()
	tables, err := a.attempt(ctx, p)
	if err != nil {
		return a.abandon(ctx, productID, err)
	}

	if len(tables) == 0 {
		if err := a.repo.MarkEmpty(ctx, productID); err != nil {
			return a.abandon(ctx, productID, fmt.Errorf("%w: marking product %d empty: %w", ErrRepository, productID, err))
		}
		a.logger.Info("pricing: no price tables attached",
			"product_id", productID, "elapsed", time.Since(start).Round(time.Millisecond))
		return nil, nil
	}

	saved, err := a.repo.SavePriceData(ctx, productID, &PriceData{Tables: tables})
	if err != nil {
		return a.abandon(ctx, productID, fmt.Errorf("%w: saving price data for product %d: %w", ErrRepository, productID, err))
	}
	a.logger.Info("pricing: price data attached",
		"product_id", productID,
		"tables", len(saved.Tables),
		"rows", saved.RowCount(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return saved, nil
}

// abandon ends an attempt that failed with err. Cancellation is returned;
// every other failure is logged and becomes a nil result.
func (a *Attacher) abandon(ctx context.Context, productID int64, err error) (*PriceData, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	a.logger.Warn("pricing: resolution abandoned",
		"product_id", productID, "class", errorClass(err), "error", err)
	return nil, nil
}

// attempt runs one resolution for p and returns the tables it extracted.
func (a *Attacher) attempt(ctx context.Context, p *Product) ([]PriceTable, error) {
	idx, err := a.index(ctx, p.CatalogID)
	if err != nil {
		return nil, err
	}
	var next *anchor.ProductAnchor
	n, ok, err := idx.Next(p.Anchor)
	if errors.Is(err, anchor.ErrNotFound) {
		// Cached index predates the product; rebuild once.
		a.Invalidate(p.CatalogID)
		if idx, err = a.index(ctx, p.CatalogID); err != nil {
			return nil, err
		}
		n, ok, err = idx.Next(p.Anchor)
	}
	if err != nil {
		return nil, err
	}
	if ok {
		next = &n
	}

	doc, err := a.opener.Open(ctx, p.DocumentRef)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrDocumentOpen, p.DocumentRef, err)
	}
	defer doc.Close()

	pageCount := doc.PageCount()
	if next != nil && next.PageNumber > pageCount {
		a.logger.Warn("pricing: next anchor beyond document, span left open",
			"product_id", p.Anchor.ID, "next_id", next.ID,
			"next_page", next.PageNumber, "page_count", pageCount)
	}
	s, err := span.Resolve(p.Anchor, next, pageCount)
	if err != nil {
		return nil, err
	}

	regions, err := a.locator.Locate(ctx, doc, s)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("pricing: tables located",
		"product_id", p.Anchor.ID, "span", s.String(), "regions", len(regions))

	var tables []PriceTable
	for _, region := range regions {
		rows, err := a.extractRegion(ctx, doc, region)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			a.logger.Warn("pricing: skipping table",
				"product_id", p.Anchor.ID, "page", region.Page,
				"bbox", region.BBox.String(), "error", err)
			continue
		}
		if len(rows) == 0 {
			a.logger.Debug("pricing: table yielded no rows",
				"product_id", p.Anchor.ID, "page", region.Page)
			continue
		}
		tables = append(tables, PriceTable{Page: region.Page, BBox: region.BBox, Rows: rows})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tables, nil
}

// extractRegion renders one region and extracts it. The image is released
// before returning.
func (a *Attacher) extractRegion(ctx context.Context, doc document.Renderer, region span.TableRegion) ([]Row, error) {
	art, err := a.raster.Rasterize(ctx, doc, region.Page, region.BBox)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailure, err)
	}
	defer art.Release()

	rows, err := a.extractor.ExtractTable(ctx, art)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailure, err)
	}
	return rows, nil
}

func (a *Attacher) index(ctx context.Context, catalogID int64) (*anchor.Index, error) {
	if v, ok := a.indexes.Load(catalogID); ok {
		return v.(*anchor.Index), nil
	}
	anchors, err := a.repo.CatalogAnchors(ctx, catalogID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading anchors of catalog %d: %w", ErrRepository, catalogID, err)
	}
	idx, err := anchor.NewIndex(anchors)
	if err != nil {
		return nil, err
	}
	v, _ := a.indexes.LoadOrStore(catalogID, idx)
	return v.(*anchor.Index), nil
}

// errorClass names the failure class logged for an abandoned attempt.
func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrDocumentOpen):
		return "document_open"
	case errors.Is(err, span.ErrSpanUnresolvable):
		return "span"
	case errors.Is(err, span.ErrTableEnumeration):
		return "table_enumeration"
	case errors.Is(err, anchor.ErrNotFound), errors.Is(err, anchor.ErrDuplicateAnchor):
		return "index"
	case errors.Is(err, ErrRepository):
		return "storage"
	}
	return "unexpected"
}
