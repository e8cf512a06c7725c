package boq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/smartcatalog/pricing"
	"github.com/brunobiangulo/smartcatalog/store"
)

// Status is the outcome of one BoQ line.
type Status string

const (
	StatusFound    Status = "found"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
)

// Catalog lists the products BoQ lines are matched against.
// *store.Store implements it.
type Catalog interface {
	ListProducts(ctx context.Context, filter store.ProductFilter) ([]store.Product, error)
}

// Prices resolves price data on demand. *pricing.Attacher implements it.
type Prices interface {
	EnsurePriceData(ctx context.Context, productID int64) (*pricing.PriceData, error)
}

// Result is the processed form of one BoQ line.
type Result struct {
	Line           string             `json:"line"`
	Status         Status             `json:"status"`
	Message        string             `json:"message,omitempty"`
	Product        *store.Product     `json:"product,omitempty"`
	Specifications map[string]string  `json:"specifications,omitempty"`
	PriceData      *pricing.PriceData `json:"price_data,omitempty"`
}

// Options narrows matching.
type Options struct {
	// CatalogID restricts matching to one catalog. Zero searches all.
	CatalogID int64
}

// Processor matches BoQ lines to products and attaches their prices.
type Processor struct {
	catalog Catalog
	prices  Prices
	logger  *slog.Logger
}

// NewProcessor creates a Processor. A nil logger means slog.Default().
func NewProcessor(catalog Catalog, prices Prices, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{catalog: catalog, prices: prices, logger: logger}
}

// Process handles each line in order. Per-line problems are reported in the
// line's Result; the returned error is reserved for listing failures and
// cancellation.
func (p *Processor) Process(ctx context.Context, lines []string, opts Options) ([]Result, error) {
	products, err := p.catalog.ListProducts(ctx, store.ProductFilter{CatalogID: opts.CatalogID})
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	idx := newMatcher(products)

	results := make([]Result, 0, len(lines))
	for _, raw := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, p.processLine(ctx, raw, idx))
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (p *Processor) processLine(ctx context.Context, raw string, m *matcher) Result {
	res := Result{Line: raw}
	line, err := ParseLine(raw)
	if err != nil {
		res.Status = StatusError
		res.Message = err.Error()
		return res
	}
	res.Specifications = line.Specifications

	product, ok := m.match(line)
	if !ok {
		res.Status = StatusNotFound
		res.Message = fmt.Sprintf("product %s by %s not found", line.Name, line.Brand)
		return res
	}

	data, err := p.prices.EnsurePriceData(ctx, product.ID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("boq: price resolution failed", "product_id", product.ID, "error", err)
		}
		res.Status = StatusError
		res.Message = err.Error()
		res.Product = &product
		return res
	}

	product.PriceData = nil
	if data != nil {
		product.PriceState = pricing.StateResolved
	}
	res.Status = StatusFound
	res.Product = &product
	res.PriceData = data
	return res
}

type matchKey struct{ name, brand string }

// matcher looks products up by normalised name and brand.
type matcher struct {
	byKey map[matchKey][]store.Product
}

func newMatcher(products []store.Product) *matcher {
	m := &matcher{byKey: make(map[matchKey][]store.Product)}
	for _, pr := range products {
		k := matchKey{Normalize(pr.Name), Normalize(pr.Brand)}
		m.byKey[k] = append(m.byKey[k], pr)
	}
	return m
}

// match returns the first product with the line's name and brand, preferring
// one whose type also matches.
func (m *matcher) match(l Line) (store.Product, bool) {
	candidates := m.byKey[matchKey{Normalize(l.Name), Normalize(l.Brand)}]
	if len(candidates) == 0 {
		return store.Product{}, false
	}
	want := Normalize(l.Type)
	for _, c := range candidates {
		if want != "" && Normalize(c.Type) == want {
			return c, true
		}
	}
	return candidates[0], true
}
