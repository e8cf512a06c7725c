package store

// schemaSQL is the DDL for all tables.
const schemaSQL = `
-- Catalog registry with hash-based change detection
CREATE TABLE IF NOT EXISTS catalogs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    document_ref TEXT NOT NULL,
    content_hash TEXT NOT NULL DEFAULT '',
    page_count INTEGER NOT NULL DEFAULT 0,
    metadata JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Anchored products. price_data holds the write-once extraction result.
-- AUTOINCREMENT keeps ids of replaced products from being handed out again.
CREATE TABLE IF NOT EXISTS products (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    catalog_id INTEGER NOT NULL REFERENCES catalogs(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    brand TEXT NOT NULL DEFAULT '',
    product_type TEXT NOT NULL DEFAULT '',
    designer TEXT NOT NULL DEFAULT '',
    year TEXT NOT NULL DEFAULT '',
    colors JSON,
    page_number INTEGER NOT NULL,
    y_coord REAL NOT NULL,
    sequence INTEGER NOT NULL,
    price_state TEXT NOT NULL DEFAULT 'unresolved'
        CHECK (price_state IN ('unresolved', 'empty', 'resolved')),
    price_data JSON,
    resolved_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_products_catalog ON products(catalog_id, page_number, y_coord);
CREATE INDEX IF NOT EXISTS idx_products_brand ON products(brand);
CREATE INDEX IF NOT EXISTS idx_products_state ON products(price_state);
`
