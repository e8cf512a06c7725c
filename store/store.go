package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/smartcatalog/anchor"
	"github.com/brunobiangulo/smartcatalog/pricing"
)

var (
	// ErrNotFound is returned when a catalog or product does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyResolved is returned by AttachPriceData when the product
	// already carries price data.
	ErrAlreadyResolved = errors.New("store: price data already resolved")
)

// Catalog represents a row in the catalogs table.
type Catalog struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DocumentRef string `json:"document_ref"`
	ContentHash string `json:"content_hash"`
	PageCount   int    `json:"page_count"`
	Metadata    string `json:"metadata,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Product represents a row in the products table.
type Product struct {
	ID            int64              `json:"id"`
	CatalogID     int64              `json:"catalog_id"`
	Name          string             `json:"name"`
	Brand         string             `json:"brand"`
	Type          string             `json:"type"`
	Designer      string             `json:"designer,omitempty"`
	Year          string             `json:"year,omitempty"`
	Colors        []string           `json:"colors,omitempty"`
	PageNumber    int                `json:"page_number"`
	Y             float64            `json:"y_coord"`
	Sequence      int                `json:"sequence"`
	PriceState    pricing.State      `json:"price_state"`
	PriceData     *pricing.PriceData `json:"price_data,omitempty"`
	PriceAttempts int                `json:"price_attempts"`
	ResolvedAt    string             `json:"resolved_at,omitempty"`
}

// Anchor returns the positional anchor of p.
func (p Product) Anchor() anchor.ProductAnchor {
	return anchor.ProductAnchor{
		ID:         p.ID,
		Name:       p.Name,
		Brand:      p.Brand,
		Type:       p.Type,
		PageNumber: p.PageNumber,
		Y:          p.Y,
		Sequence:   p.Sequence,
	}
}

// ProductFilter narrows ListProducts. Zero values match everything.
type ProductFilter struct {
	CatalogID int64
	Brand     string
	State     pricing.State
	Limit     int
	Offset    int
}

// Store wraps the SQLite database for all smartcatalog persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Catalog operations ---

// ImportCatalog registers cat and replaces its products in one transaction.
// A catalog is identified by name; re-importing it drops the previous
// products together with their price data. Product IDs are assigned by the
// store and written back into products. Returns the catalog ID.
func (s *Store) ImportCatalog(ctx context.Context, cat Catalog, products []Product) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO catalogs (name, document_ref, content_hash, page_count, metadata)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				document_ref = excluded.document_ref,
				content_hash = excluded.content_hash,
				page_count = excluded.page_count,
				metadata = excluded.metadata,
				updated_at = CURRENT_TIMESTAMP
		`, cat.Name, cat.DocumentRef, cat.ContentHash, cat.PageCount, nullIfEmpty(cat.Metadata)); err != nil {
			return fmt.Errorf("upserting catalog: %w", err)
		}
		// LastInsertId is unreliable after the UPDATE branch of an upsert.
		if err := tx.QueryRowContext(ctx, "SELECT id FROM catalogs WHERE name = ?", cat.Name).Scan(&id); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM products WHERE catalog_id = ?", id); err != nil {
			return fmt.Errorf("clearing products: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO products (catalog_id, name, brand, product_type, designer, year, colors,
				page_number, y_coord, sequence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range products {
			p := &products[i]
			colors, err := encodeColors(p.Colors)
			if err != nil {
				return err
			}
			res, err := stmt.ExecContext(ctx, id, p.Name, p.Brand, p.Type, p.Designer, p.Year,
				colors, p.PageNumber, p.Y, p.Sequence)
			if err != nil {
				return fmt.Errorf("inserting product %q: %w", p.Name, err)
			}
			pid, err := res.LastInsertId()
			if err != nil {
				return err
			}
			p.ID, p.CatalogID = pid, id
			p.PriceState, p.PriceData = pricing.StateUnresolved, nil
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

const catalogColumns = `id, name, document_ref, content_hash, page_count, metadata, created_at, updated_at`

func scanCatalog(row interface{ Scan(...any) error }) (*Catalog, error) {
	c := &Catalog{}
	var metadata sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &c.DocumentRef, &c.ContentHash, &c.PageCount,
		&metadata, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Metadata = metadata.String
	return c, nil
}

// GetCatalog retrieves a catalog by ID.
func (s *Store) GetCatalog(ctx context.Context, id int64) (*Catalog, error) {
	c, err := scanCatalog(s.db.QueryRowContext(ctx,
		"SELECT "+catalogColumns+" FROM catalogs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog %d: %w", id, ErrNotFound)
	}
	return c, err
}

// GetCatalogByName retrieves a catalog by its unique name.
func (s *Store) GetCatalogByName(ctx context.Context, name string) (*Catalog, error) {
	c, err := scanCatalog(s.db.QueryRowContext(ctx,
		"SELECT "+catalogColumns+" FROM catalogs WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog %q: %w", name, ErrNotFound)
	}
	return c, err
}

// ListCatalogs returns all catalogs ordered by name.
func (s *Store) ListCatalogs(ctx context.Context) ([]Catalog, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+catalogColumns+" FROM catalogs ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Catalog
	for rows.Next() {
		c, err := scanCatalog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// DeleteCatalog removes a catalog and cascades to its products.
func (s *Store) DeleteCatalog(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM catalogs WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("catalog %d: %w", id, ErrNotFound)
	}
	return nil
}

// --- Product operations ---

const productColumns = `p.id, p.catalog_id, p.name, p.brand, p.product_type, p.designer, p.year,
	p.colors, p.page_number, p.y_coord, p.sequence, p.price_state, p.price_data,
	p.price_attempts, p.resolved_at`

// scanProduct scans productColumns followed by any extra destinations.
func scanProduct(row interface{ Scan(...any) error }, extra ...any) (*Product, error) {
	p := &Product{}
	var colors, priceData, resolvedAt sql.NullString
	var state string
	dest := []any{&p.ID, &p.CatalogID, &p.Name, &p.Brand, &p.Type, &p.Designer, &p.Year,
		&colors, &p.PageNumber, &p.Y, &p.Sequence, &state, &priceData,
		&p.PriceAttempts, &resolvedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p.PriceState = pricing.State(state)
	p.ResolvedAt = resolvedAt.String
	if colors.Valid && colors.String != "" {
		if err := json.Unmarshal([]byte(colors.String), &p.Colors); err != nil {
			return nil, fmt.Errorf("decoding colors of product %d: %w", p.ID, err)
		}
	}
	if priceData.Valid && priceData.String != "" {
		p.PriceData = &pricing.PriceData{}
		if err := json.Unmarshal([]byte(priceData.String), p.PriceData); err != nil {
			return nil, fmt.Errorf("decoding price data of product %d: %w", p.ID, err)
		}
	}
	return p, nil
}

// GetProduct retrieves a product by ID.
func (s *Store) GetProduct(ctx context.Context, id int64) (*Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products p WHERE p.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return p, err
}

// ListProducts returns products in document order: catalog, page, y.
func (s *Store) ListProducts(ctx context.Context, f ProductFilter) ([]Product, error) {
	query := "SELECT " + productColumns + " FROM products p WHERE 1=1"
	var args []any
	if f.CatalogID != 0 {
		query += " AND p.catalog_id = ?"
		args = append(args, f.CatalogID)
	}
	if f.Brand != "" {
		query += " AND p.brand = ? COLLATE NOCASE"
		args = append(args, f.Brand)
	}
	if f.State != "" {
		query += " AND p.price_state = ?"
		args = append(args, string(f.State))
	}
	query += " ORDER BY p.catalog_id, p.page_number, p.y_coord, p.sequence, p.id"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// AttachPriceData stores data for a product that has none yet. It returns
// ErrAlreadyResolved if the product is already resolved.
func (s *Store) AttachPriceData(ctx context.Context, productID int64, data *pricing.PriceData) error {
	if data.Empty() {
		return fmt.Errorf("store: refusing to attach empty price data to product %d", productID)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding price data: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var state string
		err := tx.QueryRowContext(ctx, "SELECT price_state FROM products WHERE id = ?", productID).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("product %d: %w", productID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if pricing.State(state) == pricing.StateResolved {
			return fmt.Errorf("product %d: %w", productID, ErrAlreadyResolved)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE products SET price_state = 'resolved', price_data = ?,
				resolved_at = CURRENT_TIMESTAMP, last_attempt_at = CURRENT_TIMESTAMP
			WHERE id = ? AND price_state != 'resolved'
		`, string(raw), productID)
		return err
	})
}

// --- pricing.Repository ---

// Product implements pricing.Repository. Unknown ids yield an error wrapping
// both ErrNotFound and pricing.ErrProductNotFound.
func (s *Store) Product(ctx context.Context, productID int64) (*pricing.Product, error) {
	var docRef string
	p, err := scanProduct(s.db.QueryRowContext(ctx,
		"SELECT "+productColumns+", c.document_ref FROM products p JOIN catalogs c ON c.id = p.catalog_id WHERE p.id = ?",
		productID), &docRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w: %w", productID, ErrNotFound, pricing.ErrProductNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &pricing.Product{
		Anchor:      p.Anchor(),
		CatalogID:   p.CatalogID,
		DocumentRef: docRef,
		State:       p.PriceState,
		Data:        p.PriceData,
	}, nil
}

// CatalogAnchors implements pricing.Repository.
func (s *Store) CatalogAnchors(ctx context.Context, catalogID int64) ([]anchor.ProductAnchor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, brand, product_type, page_number, y_coord, sequence
		FROM products WHERE catalog_id = ? ORDER BY sequence, id
	`, catalogID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []anchor.ProductAnchor
	for rows.Next() {
		var a anchor.ProductAnchor
		if err := rows.Scan(&a.ID, &a.Name, &a.Brand, &a.Type, &a.PageNumber, &a.Y, &a.Sequence); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SavePriceData implements pricing.Repository. If the product was resolved
// by another writer, the stored data is returned and data is discarded.
func (s *Store) SavePriceData(ctx context.Context, productID int64, data *pricing.PriceData) (*pricing.PriceData, error) {
	err := s.AttachPriceData(ctx, productID, data)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, ErrAlreadyResolved):
		p, err := s.GetProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		return p.PriceData, nil
	default:
		return nil, err
	}
}

// MarkEmpty implements pricing.Repository. Resolved products are left
// untouched.
func (s *Store) MarkEmpty(ctx context.Context, productID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET price_state = 'empty', price_attempts = price_attempts + 1,
			last_attempt_at = CURRENT_TIMESTAMP
		WHERE id = ? AND price_state != 'resolved'
	`, productID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM products WHERE id = ?", productID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("product %d: %w", productID, ErrNotFound)
		}
		return err
	}
	return nil
}

// --- Stats ---

// Stats holds row counts by table and price state.
type Stats struct {
	Catalogs   int `json:"catalogs"`
	Products   int `json:"products"`
	Resolved   int `json:"resolved"`
	Empty      int `json:"empty"`
	Unresolved int `json:"unresolved"`
}

// Stats returns counts of catalogs and products by price state.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM catalogs", &stats.Catalogs},
		{"SELECT COUNT(*) FROM products", &stats.Products},
		{"SELECT COUNT(*) FROM products WHERE price_state = 'resolved'", &stats.Resolved},
		{"SELECT COUNT(*) FROM products WHERE price_state = 'empty'", &stats.Empty},
		{"SELECT COUNT(*) FROM products WHERE price_state = 'unresolved'", &stats.Unresolved},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func encodeColors(colors []string) (any, error) {
	if len(colors) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(colors)
	if err != nil {
		return nil, fmt.Errorf("encoding colors: %w", err)
	}
	return string(b), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
