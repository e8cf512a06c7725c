package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// migration is one step of the schema history. Steps that rebuild a parent
// table set rebuild so they run with foreign keys disabled; otherwise
// dropping catalogs would cascade into products.
type migration struct {
	version     int
	description string
	rebuild     bool
	apply       func(ctx context.Context, tx *sql.Tx) error
}

// migrations is append-only.
var migrations = []migration{
	{
		version:     1,
		description: "catalogs and products",
		apply:       func(context.Context, *sql.Tx) error { return nil }, // schemaSQL
	},
	{
		version:     2,
		description: "track empty price resolution attempts",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			for _, stmt := range []string{
				"ALTER TABLE products ADD COLUMN price_attempts INTEGER NOT NULL DEFAULT 0",
				"ALTER TABLE products ADD COLUMN last_attempt_at DATETIME",
			} {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					// Column may already exist on databases created by hand.
					slog.Debug("store: migration column exists", "version", 2, "sql", stmt, "error", err)
				}
			}
			return nil
		},
	},
	{
		version:     3,
		description: "never reuse catalog and product ids",
		rebuild:     true,
		apply:       autoincrementIDs,
	},
}

// autoincrementIDs rebuilds catalogs and products with AUTOINCREMENT keys on
// databases created before the schema declared them. Existing ids are kept.
func autoincrementIDs(ctx context.Context, tx *sql.Tx) error {
	tables := []struct {
		name    string
		ddl     string
		columns string
		indexes []string
	}{
		{
			name: "catalogs",
			ddl: `CREATE TABLE catalogs_new (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE,
				document_ref TEXT NOT NULL,
				content_hash TEXT NOT NULL DEFAULT '',
				page_count INTEGER NOT NULL DEFAULT 0,
				metadata JSON,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			columns: "id, name, document_ref, content_hash, page_count, metadata, created_at, updated_at",
		},
		{
			name: "products",
			ddl: `CREATE TABLE products_new (
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
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				price_attempts INTEGER NOT NULL DEFAULT 0,
				last_attempt_at DATETIME
			)`,
			columns: "id, catalog_id, name, brand, product_type, designer, year, colors, page_number, " +
				"y_coord, sequence, price_state, price_data, resolved_at, created_at, price_attempts, last_attempt_at",
			indexes: []string{
				"CREATE INDEX IF NOT EXISTS idx_products_catalog ON products(catalog_id, page_number, y_coord)",
				"CREATE INDEX IF NOT EXISTS idx_products_brand ON products(brand)",
				"CREATE INDEX IF NOT EXISTS idx_products_state ON products(price_state)",
			},
		},
	}

	for _, t := range tables {
		var ddl string
		if err := tx.QueryRowContext(ctx,
			"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", t.name).Scan(&ddl); err != nil {
			return fmt.Errorf("reading %s schema: %w", t.name, err)
		}
		if strings.Contains(strings.ToUpper(ddl), "AUTOINCREMENT") {
			continue
		}

		stmts := []string{
			t.ddl,
			fmt.Sprintf("INSERT INTO %s_new (%s) SELECT %s FROM %s", t.name, t.columns, t.columns, t.name),
			"DROP TABLE " + t.name,
			fmt.Sprintf("ALTER TABLE %s_new RENAME TO %s", t.name, t.name),
		}
		for _, stmt := range append(stmts, t.indexes...) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("rebuilding %s: %w", t.name, err)
			}
		}
		slog.Info("store: table rebuilt with autoincrement ids", "table", t.name)
	}

	rows, err := tx.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("checking foreign keys: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		return fmt.Errorf("foreign key violation after rebuild")
	}
	return rows.Err()
}

// Migrate brings the schema up to the latest version recorded in
// schema_version.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
		slog.Info("store: schema migrated", "version", m.version, "description", m.description)
	}
	return nil
}

// applyMigration runs m in its own transaction on a dedicated connection.
// The foreign_keys pragma is ignored inside a transaction, so it is toggled
// on the connection around it.
func (s *Store) applyMigration(ctx context.Context, m migration) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration %d: acquiring connection: %w", m.version, err)
	}
	defer conn.Close()

	if m.rebuild {
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
			return fmt.Errorf("migration %d: disabling foreign keys: %w", m.version, err)
		}
		defer conn.ExecContext(context.Background(), "PRAGMA foreign_keys = ON")
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}
	if err := m.apply(ctx, tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %d failed: %w", m.version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description) VALUES (?, ?)",
		m.version, m.description); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording migration %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", m.version, err)
	}
	return nil
}
