//go:build cgo

package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/smartcatalog/anchor"
	"github.com/brunobiangulo/smartcatalog/document"
	"github.com/brunobiangulo/smartcatalog/pricing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleProducts() []Product {
	return []Product{
		{Name: "Bergère", Brand: "Poltrona Frau", Type: "armchair", PageNumber: 1, Y: 50, Sequence: 0,
			Colors: []string{"Nero", "Cuoio"}},
		{Name: "Archibald", Brand: "Poltrona Frau", Type: "armchair", PageNumber: 1, Y: 370, Sequence: 1},
		{Name: "Fred", Brand: "Poltrona Frau", Type: "table", PageNumber: 3, Y: 120, Sequence: 2},
	}
}

func importSample(t *testing.T, s *Store) (int64, []Product) {
	t.Helper()
	products := sampleProducts()
	id, err := s.ImportCatalog(context.Background(), Catalog{Name: "frau-2024", DocumentRef: "frau.pdf", PageCount: 4}, products)
	if err != nil {
		t.Fatalf("ImportCatalog: %v", err)
	}
	return id, products
}

func samplePriceData() *pricing.PriceData {
	return &pricing.PriceData{Tables: []pricing.PriceTable{{
		Page: 1,
		BBox: document.BBox{X0: 40, Y0: 60, X1: 500, Y1: 180},
		Rows: []pricing.Row{{
			Attributes: []pricing.Attribute{{Key: "Seduta", Value: "Pelle"}, {Key: "Telaio", Value: "frN"}},
			Price:      "818",
		}},
	}}}
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	s, err := New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	var version int
	if err := s.DB().QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}
}

// ---------------------------------------------------------------------------
// Catalogs
// ---------------------------------------------------------------------------

func TestImportCatalog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, products := importSample(t, s)

	for _, p := range products {
		if p.ID == 0 || p.CatalogID != id {
			t.Fatalf("product ids not written back: %+v", p)
		}
	}

	got, err := s.GetProduct(ctx, products[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Bergère" || got.PriceState != pricing.StateUnresolved || len(got.Colors) != 2 {
		t.Errorf("product = %+v", got)
	}

	cat, err := s.GetCatalogByName(ctx, "frau-2024")
	if err != nil {
		t.Fatal(err)
	}
	if cat.ID != id || cat.DocumentRef != "frau.pdf" || cat.PageCount != 4 {
		t.Errorf("catalog = %+v", cat)
	}
}

func TestReimportReplacesProducts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, products := importSample(t, s)
	if _, err := s.SavePriceData(ctx, products[0].ID, samplePriceData()); err != nil {
		t.Fatal(err)
	}

	again, err := s.ImportCatalog(ctx, Catalog{Name: "frau-2024", DocumentRef: "frau-v2.pdf"}, sampleProducts()[:1])
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("catalog id changed on re-import: %d → %d", id, again)
	}
	list, err := s.ListProducts(ctx, ProductFilter{CatalogID: id})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].PriceData != nil || list[0].PriceState != pricing.StateUnresolved {
		t.Errorf("products after re-import = %+v", list)
	}
	if _, err := s.GetProduct(ctx, products[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("old product still present: %v", err)
	}
}

func TestReimportNeverReusesIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, old := importSample(t, s)

	fresh := sampleProducts()[1:2]
	if _, err := s.ImportCatalog(ctx, Catalog{Name: "frau-2024", DocumentRef: "frau.pdf"}, fresh); err != nil {
		t.Fatal(err)
	}
	for _, p := range old {
		if fresh[0].ID == p.ID {
			t.Errorf("re-imported %q got the id %d of %q", fresh[0].Name, p.ID, p.Name)
		}
		if got, err := s.GetProduct(ctx, p.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("old id %d resolves to %+v, err = %v", p.ID, got, err)
		}
	}
}

func TestMigrateRebuildsLegacyIDs(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "legacy.db")

	legacy, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		strings.ReplaceAll(schemaSQL, " AUTOINCREMENT", ""),
		"ALTER TABLE products ADD COLUMN price_attempts INTEGER NOT NULL DEFAULT 0",
		"ALTER TABLE products ADD COLUMN last_attempt_at DATETIME",
		"CREATE TABLE schema_version (version INTEGER PRIMARY KEY, description TEXT, applied_at DATETIME DEFAULT CURRENT_TIMESTAMP)",
		"INSERT INTO schema_version (version) VALUES (1), (2)",
		"INSERT INTO catalogs (id, name, document_ref) VALUES (1, 'frau-2024', 'frau.pdf')",
		"INSERT INTO products (id, catalog_id, name, page_number, y_coord, sequence) VALUES (1, 1, 'Bergère', 1, 50, 0), (2, 1, 'Archibald', 1, 370, 1)",
	} {
		if _, err := legacy.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	legacy.Close()

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("opening legacy database: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"catalogs", "products"} {
		var ddl string
		if err := s.DB().QueryRowContext(ctx, "SELECT sql FROM sqlite_master WHERE name = ?", table).Scan(&ddl); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(ddl, "AUTOINCREMENT") {
			t.Errorf("%s not rebuilt: %s", table, ddl)
		}
	}

	p, err := s.GetProduct(ctx, 2)
	if err != nil || p.Name != "Archibald" || p.CatalogID != 1 {
		t.Fatalf("product 2 after migration = %+v, %v", p, err)
	}

	// Replacing the catalog must not hand out 1 or 2 again.
	fresh := []Product{{Name: "Fred", PageNumber: 3, Y: 120, Sequence: 0}}
	if _, err := s.ImportCatalog(ctx, Catalog{Name: "frau-2024", DocumentRef: "frau.pdf"}, fresh); err != nil {
		t.Fatal(err)
	}
	if fresh[0].ID <= 2 {
		t.Errorf("new product id = %d, want > 2", fresh[0].ID)
	}
}

func TestDeleteCatalogCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, products := importSample(t, s)

	if err := s.DeleteCatalog(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetProduct(ctx, products[1].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("product survived catalog delete: %v", err)
	}
	if err := s.DeleteCatalog(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// pricing.Repository
// ---------------------------------------------------------------------------

var _ pricing.Repository = (*Store)(nil)

func TestRepositoryProduct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, products := importSample(t, s)

	p, err := s.Product(ctx, products[2].ID)
	if err != nil {
		t.Fatal(err)
	}
	want := anchor.ProductAnchor{ID: products[2].ID, Name: "Fred", Brand: "Poltrona Frau", Type: "table", PageNumber: 3, Y: 120, Sequence: 2}
	if p.Anchor != want || p.CatalogID != id || p.DocumentRef != "frau.pdf" {
		t.Errorf("Product = %+v", p)
	}

	_, err = s.Product(ctx, 9999)
	if !errors.Is(err, pricing.ErrProductNotFound) || !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want both not-found sentinels", err)
	}

	anchors, err := s.CatalogAnchors(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(anchors) != 3 || anchors[0].Name != "Bergère" {
		t.Errorf("anchors = %+v", anchors)
	}
}

func TestSavePriceDataWriteOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, products := importSample(t, s)
	pid := products[0].ID

	first := samplePriceData()
	saved, err := s.SavePriceData(ctx, pid, first)
	if err != nil {
		t.Fatal(err)
	}
	if saved != first {
		t.Error("first save should return the given data")
	}

	second := samplePriceData()
	second.Tables[0].Rows[0].Price = "999"
	stored, err := s.SavePriceData(ctx, pid, second)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Tables[0].Rows[0].Price != "818" {
		t.Errorf("stored price = %q, want the first write", stored.Tables[0].Rows[0].Price)
	}
	if err := s.AttachPriceData(ctx, pid, second); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("AttachPriceData err = %v, want ErrAlreadyResolved", err)
	}

	// MarkEmpty never downgrades a resolved product.
	if err := s.MarkEmpty(ctx, pid); err != nil {
		t.Fatal(err)
	}
	p, err := s.GetProduct(ctx, pid)
	if err != nil {
		t.Fatal(err)
	}
	if p.PriceState != pricing.StateResolved || p.ResolvedAt == "" {
		t.Errorf("state = %s resolved_at = %q", p.PriceState, p.ResolvedAt)
	}
	attrs := p.PriceData.Tables[0].Rows[0].Attributes
	if len(attrs) != 2 || attrs[0].Key != "Seduta" || attrs[1].Key != "Telaio" {
		t.Errorf("attribute order lost: %+v", attrs)
	}
	if p.PriceData.Tables[0].BBox.Y1 != 180 {
		t.Errorf("bbox = %v", p.PriceData.Tables[0].BBox)
	}
}

func TestMarkEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, products := importSample(t, s)
	pid := products[1].ID

	for i := 0; i < 2; i++ {
		if err := s.MarkEmpty(ctx, pid); err != nil {
			t.Fatal(err)
		}
	}
	p, err := s.GetProduct(ctx, pid)
	if err != nil {
		t.Fatal(err)
	}
	if p.PriceState != pricing.StateEmpty || p.PriceAttempts != 2 {
		t.Errorf("state = %s attempts = %d", p.PriceState, p.PriceAttempts)
	}

	// empty → resolved is allowed.
	if _, err := s.SavePriceData(ctx, pid, samplePriceData()); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkEmpty(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkEmpty(unknown) err = %v", err)
	}
}

func TestListProductsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, products := importSample(t, s)
	if err := s.MarkEmpty(ctx, products[2].ID); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		filter ProductFilter
		want   int
	}{
		{"all", ProductFilter{}, 3},
		{"brand case-insensitive", ProductFilter{Brand: "poltrona frau"}, 3},
		{"unknown brand", ProductFilter{Brand: "Cassina"}, 0},
		{"by state", ProductFilter{State: pricing.StateEmpty}, 1},
		{"paged", ProductFilter{Limit: 2, Offset: 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListProducts(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d products, want %d", len(got), tt.want)
			}
		})
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Catalogs != 1 || stats.Products != 3 || stats.Empty != 1 || stats.Unresolved != 2 {
		t.Errorf("stats = %+v", stats)
	}
}
