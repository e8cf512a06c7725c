package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/brunobiangulo/smartcatalog/store"
)

// ErrNoDocument is returned when a record names no catalog file and the
// import options give no default.
var ErrNoDocument = errors.New("ingest: record has no document reference")

// TextSearcher finds text positions in an open catalog document.
type TextSearcher interface {
	PageCount() int
	Find(page int, needle string) (float64, bool, error)
	Close() error
}

// Documents resolves catalog references for text search and hashing.
// *document.PDFOpener is adapted to it by PDFDocuments.
type Documents interface {
	OpenText(ref string) (TextSearcher, error)
	Resolve(ref string) (string, error)
}

// Sink persists an imported catalog. *store.Store implements it.
type Sink interface {
	ImportCatalog(ctx context.Context, cat store.Catalog, products []store.Product) (int64, error)
}

// Options controls one import.
type Options struct {
	// Catalog names the catalog. Empty means one catalog per document,
	// named after the document file.
	Catalog string
	// DocumentRef is used for records without page_reference.file_path.
	DocumentRef string
}

// Skipped describes a record that could not be anchored.
type Skipped struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// CatalogResult summarises one imported catalog.
type CatalogResult struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DocumentRef string `json:"document_ref"`
	Products    int    `json:"products"`
	Located     int    `json:"located"`
}

// Result summarises an import.
type Result struct {
	Catalogs []CatalogResult `json:"catalogs"`
	Skipped  []Skipped       `json:"skipped,omitempty"`
}

// Importer turns upstream records into anchored products.
type Importer struct {
	docs   Documents
	sink   Sink
	logger *slog.Logger
}

// NewImporter creates an Importer. A nil logger means slog.Default().
func NewImporter(docs Documents, sink Sink, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{docs: docs, sink: sink, logger: logger}
}

// Import anchors records and stores them, one catalog per referenced
// document. Records keep their input order as the anchor sequence. A record
// without y_coord is located by searching its name on its first page;
// records that cannot be anchored are skipped and reported.
func (im *Importer) Import(ctx context.Context, records []Record, opts Options) (*Result, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	groups := make(map[string][]int)
	var refs []string
	for i, r := range records {
		ref := strings.TrimSpace(r.PageReference.FilePath)
		if ref == "" {
			ref = opts.DocumentRef
		}
		if ref == "" {
			return nil, fmt.Errorf("%w: record %d (%q)", ErrNoDocument, i, r.Name)
		}
		if _, ok := groups[ref]; !ok {
			refs = append(refs, ref)
		}
		groups[ref] = append(groups[ref], i)
	}
	if opts.Catalog != "" && len(refs) > 1 {
		return nil, fmt.Errorf("%w: catalog %q would span %d documents", ErrInvalidRecords, opts.Catalog, len(refs))
	}
	sort.Strings(refs)

	res := &Result{}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := opts.Catalog
		if name == "" {
			name = catalogName(ref)
		}
		cr, skipped, err := im.importDocument(ctx, name, ref, records, groups[ref])
		if err != nil {
			return nil, err
		}
		res.Catalogs = append(res.Catalogs, *cr)
		res.Skipped = append(res.Skipped, skipped...)
	}
	return res, nil
}

func (im *Importer) importDocument(ctx context.Context, name, ref string, records []Record, indexes []int) (*CatalogResult, []Skipped, error) {
	text, err := im.docs.OpenText(ref)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", ref, err)
	}
	defer text.Close()
	pageCount := text.PageCount()

	hash, err := im.hash(ref)
	if err != nil {
		return nil, nil, err
	}

	var (
		products []store.Product
		skipped  []Skipped
		located  int
	)
	skip := func(i int, reason string) {
		im.logger.Warn("ingest: skipping product", "catalog", name, "index", i, "name", records[i].Name, "reason", reason)
		skipped = append(skipped, Skipped{Index: i, Name: records[i].Name, Reason: reason})
	}

	for _, i := range indexes {
		r := records[i]
		productName := strings.TrimSpace(r.Name)
		page := r.PageReference.FirstPage()
		switch {
		case productName == "":
			skip(i, "missing product name")
			continue
		case page < 1 || page > pageCount:
			skip(i, fmt.Sprintf("page %d outside document of %d pages", page, pageCount))
			continue
		}

		var y float64
		if r.PageReference.Y != nil {
			y = *r.PageReference.Y
		} else {
			found, ok, err := text.Find(page, productName)
			if err != nil {
				skip(i, fmt.Sprintf("text search failed: %v", err))
				continue
			}
			if !ok {
				skip(i, fmt.Sprintf("name not found on page %d", page))
				continue
			}
			y = found
			located++
		}

		products = append(products, store.Product{
			Name:       productName,
			Brand:      strings.TrimSpace(r.Brand),
			Type:       strings.TrimSpace(r.Type),
			Designer:   strings.TrimSpace(r.Designer),
			Year:       string(r.Year),
			Colors:     r.Colors,
			PageNumber: page,
			Y:          y,
			Sequence:   i,
		})
	}

	id, err := im.sink.ImportCatalog(ctx, store.Catalog{
		Name:        name,
		DocumentRef: ref,
		ContentHash: hash,
		PageCount:   pageCount,
	}, products)
	if err != nil {
		return nil, nil, fmt.Errorf("storing catalog %q: %w", name, err)
	}
	im.logger.Info("ingest: catalog imported",
		"catalog", name, "id", id, "products", len(products), "located", located, "skipped", len(skipped))
	return &CatalogResult{ID: id, Name: name, DocumentRef: ref, Products: len(products), Located: located}, skipped, nil
}

// hash returns the SHA-256 of the referenced document.
func (im *Importer) hash(ref string) (string, error) {
	p, err := im.docs.Resolve(ref)
	if err != nil {
		return "", err
	}
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", ref, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", ref, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// catalogName derives a catalog name from a document reference.
func catalogName(ref string) string {
	base := path.Base(strings.ReplaceAll(ref, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}
