// Package smartcatalog attaches price tables from PDF furniture catalogs to
// the products imported from them, resolving them lazily on first use.
package smartcatalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tsawler/tabula/tables"

	"github.com/brunobiangulo/smartcatalog/boq"
	"github.com/brunobiangulo/smartcatalog/document"
	"github.com/brunobiangulo/smartcatalog/extract"
	"github.com/brunobiangulo/smartcatalog/ingest"
	"github.com/brunobiangulo/smartcatalog/llm"
	"github.com/brunobiangulo/smartcatalog/pricing"
	"github.com/brunobiangulo/smartcatalog/raster"
	"github.com/brunobiangulo/smartcatalog/report"
	"github.com/brunobiangulo/smartcatalog/store"
)

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	extractor pricing.Extractor
	logger    *slog.Logger
}

// WithExtractor replaces the vision extractor built from Config.Vision.
func WithExtractor(ext pricing.Extractor) Option {
	return func(o *engineOptions) { o.extractor = ext }
}

// WithLogger sets the logger used by all components.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// Engine ties the catalog store, the document layer and the price
// attacher together.
type Engine struct {
	cfg      Config
	store    *store.Store
	attacher *pricing.Attacher
	importer *ingest.Importer
	boq      *boq.Processor
	sem      chan struct{}
	logger   *slog.Logger
}

// New creates an Engine with the given configuration.
func New(cfg Config, opts ...Option) (*Engine, error) {
	options := &engineOptions{}
	for _, o := range opts {
		o(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentResolutions == 0 {
		cfg.MaxConcurrentResolutions = 4
	}

	ext := options.extractor
	if ext == nil {
		provider, err := llm.NewProvider(llm.Config{
			Provider: cfg.Vision.Provider,
			Model:    cfg.Vision.Model,
			BaseURL:  cfg.Vision.BaseURL,
			APIKey:   cfg.Vision.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: creating vision provider: %w", ErrInvalidConfig, err)
		}
		vx, err := extract.NewVisionExtractor(provider, extract.Config{
			Model:        cfg.Vision.Model,
			Temperature:  cfg.Extraction.Temperature,
			MaxTokens:    cfg.Extraction.MaxTokens,
			SystemPrompt: cfg.Extraction.SystemPrompt,
			FewShotDir:   cfg.Extraction.FewShotDir,
		})
		if err != nil {
			return nil, fmt.Errorf("creating extractor: %w", err)
		}
		ext = vx
	}

	s, err := store.New(cfg.resolveDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	opener := &document.PDFOpener{Dir: cfg.CatalogDir, Detection: cfg.Tables.detection()}
	attacher := pricing.New(pricing.Config{
		Repository: s,
		Opener:     opener,
		Extractor:  ext,
		Rasterizer: raster.New(cfg.Raster.Padding, cfg.Raster.Zoom),
		Logger:     options.logger,
	})

	e := &Engine{
		cfg:      cfg,
		store:    s,
		attacher: attacher,
		importer: ingest.NewImporter(ingest.PDFDocuments{Opener: opener}, s, options.logger),
		sem:      make(chan struct{}, cfg.MaxConcurrentResolutions),
		logger:   options.logger,
	}
	e.boq = boq.NewProcessor(s, e, options.logger)
	return e, nil
}

// detection returns the detector config, or nil for the defaults.
func (t TableConfig) detection() *tables.Config {
	if t == (TableConfig{}) {
		return nil
	}
	cfg := tables.DefaultConfig()
	if t.MinRows > 0 {
		cfg.MinRows = t.MinRows
	}
	if t.MinCols > 0 {
		cfg.MinCols = t.MinCols
	}
	if t.MinConfidence > 0 {
		cfg.MinConfidence = t.MinConfidence
	}
	return &cfg
}

// Import reads upstream product records from r and stores them as
// catalogs. Re-importing a catalog replaces its products.
func (e *Engine) Import(ctx context.Context, r io.Reader, opts ingest.Options) (*ingest.Result, error) {
	records, err := ingest.Decode(r)
	if err != nil {
		return nil, err
	}
	res, err := e.importer.Import(ctx, records, opts)
	if err != nil {
		return nil, err
	}
	for _, c := range res.Catalogs {
		e.attacher.Invalidate(c.ID)
	}
	return res, nil
}

// Catalogs lists the imported catalogs.
func (e *Engine) Catalogs(ctx context.Context) ([]store.Catalog, error) {
	return e.store.ListCatalogs(ctx)
}

// Products lists products matching filter.
func (e *Engine) Products(ctx context.Context, filter store.ProductFilter) ([]store.Product, error) {
	return e.store.ListProducts(ctx, filter)
}

// Product returns one product with its stored price data.
func (e *Engine) Product(ctx context.Context, id int64) (*store.Product, error) {
	p, err := e.store.GetProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	return p, err
}

// EnsurePriceData resolves the product's price data on first use. At most
// MaxConcurrentResolutions products resolve at once. A nil result with a
// nil error means no price tables could be attached.
func (e *Engine) EnsurePriceData(ctx context.Context, id int64) (*pricing.PriceData, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.sem }()

	data, err := e.attacher.EnsurePriceData(ctx, id)
	if errors.Is(err, pricing.ErrProductNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	return data, err
}

// ProcessBoQ matches BoQ lines to products and resolves their prices.
func (e *Engine) ProcessBoQ(ctx context.Context, lines []string, opts boq.Options) ([]boq.Result, error) {
	return e.boq.Process(ctx, lines, opts)
}

// Quote processes lines and writes the priced quote PDF to w. It returns
// ErrNoMatch when no line matched a product.
func (e *Engine) Quote(ctx context.Context, w io.Writer, title string, lines []string, opts boq.Options) ([]boq.Result, error) {
	results, err := e.ProcessBoQ(ctx, lines, opts)
	if err != nil {
		return nil, err
	}
	matched := false
	for _, r := range results {
		if r.Status == boq.StatusFound {
			matched = true
			break
		}
	}
	if !matched {
		return results, ErrNoMatch
	}
	if err := report.WriteQuote(w, title, results); err != nil {
		return results, err
	}
	return results, nil
}

// DeleteCatalog removes a catalog and its products.
func (e *Engine) DeleteCatalog(ctx context.Context, id int64) error {
	err := e.store.DeleteCatalog(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrCatalogNotFound, id)
	}
	if err != nil {
		return err
	}
	e.attacher.Invalidate(id)
	return nil
}

// Stats summarises the store.
func (e *Engine) Stats(ctx context.Context) (*store.Stats, error) {
	return e.store.Stats(ctx)
}

// Store returns the underlying store for diagnostic access.
func (e *Engine) Store() *store.Store { return e.store }

// Close cleanly shuts down the engine.
func (e *Engine) Close() error {
	return e.store.Close()
}
