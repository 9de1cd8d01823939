package stockdb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"order-concierge/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - products only
// 1 - stock_commits audit table and its slug index
const currentSchemaVersion = 1

// Store is the local stock database. It implements the checkout gateway for
// single-node deployments.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path. Write transactions are
// started with BEGIN IMMEDIATE so the write lock is taken before any row is
// read, which is what makes check-then-decrement safe across processes.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("stockdb: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("stockdb: connect: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("stockdb: %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("stockdb: schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("stockdb: get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_stock_commits_slug ON stock_commits(slug)`); err != nil {
			return fmt.Errorf("stockdb: migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("stockdb: set user_version: %w", err)
	}
	return nil
}

// Commit decrements every line inside one write transaction. Each tracked
// row is only updated while it still holds enough stock; the first line that
// does not is reported as *domain.InsufficientStockError and the whole
// transaction is rolled back. Untracked rows are left untouched.
func (s *Store) Commit(ctx context.Context, lines []domain.OrderLine) (map[string]int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("stockdb: Commit begin: %w", err)
	}
	defer tx.Rollback()

	out := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.Qty <= 0 {
			return nil, fmt.Errorf("stockdb: Commit: invalid quantity %d for %q", l.Qty, l.Slug)
		}
		var remaining int
		err := tx.QueryRowContext(ctx, `
			UPDATE products
			SET stock = CASE WHEN tracked THEN stock - ?1 ELSE stock END,
			    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
			WHERE slug = ?2 AND (NOT tracked OR stock >= ?1)
			RETURNING stock`, l.Qty, l.Slug).Scan(&remaining)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.missed(ctx, tx, l)
		}
		if err != nil {
			return nil, fmt.Errorf("stockdb: Commit %q: %w", l.Slug, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stock_commits (slug, qty, remaining) VALUES (?, ?, ?)`,
			l.Slug, l.Qty, remaining); err != nil {
			return nil, fmt.Errorf("stockdb: Commit audit %q: %w", l.Slug, err)
		}
		out[l.Slug] = remaining
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("stockdb: Commit: %w", err)
	}
	return out, nil
}

// missed explains why a guarded update touched no row.
func (s *Store) missed(ctx context.Context, tx *sql.Tx, l domain.OrderLine) error {
	var stock int
	err := tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE slug = ?`, l.Slug).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("stockdb: Commit %q: %w", l.Slug, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("stockdb: Commit %q: %w", l.Slug, err)
	}
	return &domain.InsufficientStockError{Slug: l.Slug, Requested: l.Qty, Available: stock}
}

// LoadStock returns every product row ordered by slug.
func (s *Store) LoadStock(ctx context.Context) ([]domain.MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug, name, price, stock, tracked FROM products ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("stockdb: LoadStock: %w", err)
	}
	defer rows.Close()

	var items []domain.MenuItem
	for rows.Next() {
		var it domain.MenuItem
		if err := rows.Scan(&it.Slug, &it.Name, &it.Price, &it.Stock, &it.Tracked); err != nil {
			return nil, fmt.Errorf("stockdb: LoadStock scan: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stockdb: LoadStock: %w", err)
	}
	return items, nil
}

// SetStock overwrites the stock of an existing product.
func (s *Store) SetStock(ctx context.Context, slug string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("stockdb: SetStock: negative quantity %d", qty)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET stock = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE slug = ?`, qty, slug)
	if err != nil {
		return fmt.Errorf("stockdb: SetStock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stockdb: SetStock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("stockdb: SetStock %q: %w", slug, domain.ErrNotFound)
	}
	return nil
}

// PutProduct inserts a product or replaces its name, price, stock and
// tracking flag.
func (s *Store) PutProduct(ctx context.Context, p domain.MenuItem) error {
	if p.Slug == "" {
		return errors.New("stockdb: PutProduct: slug is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (slug, name, price, stock, tracked) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			stock = excluded.stock,
			tracked = excluded.tracked,
			updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`,
		p.Slug, p.Name, p.Price, max(p.Stock, 0), p.Tracked)
	if err != nil {
		return fmt.Errorf("stockdb: PutProduct: %w", err)
	}
	return nil
}
