package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zombor/price-tracker/internal/catalog"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	name_key TEXT NOT NULL UNIQUE,
	normalized_name TEXT NOT NULL,
	best_price_per_unit TEXT NOT NULL,
	best_price_store TEXT NOT NULL,
	highest_price_per_unit TEXT NOT NULL,
	highest_price_store TEXT NOT NULL,
	unit TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	purchase_count INTEGER NOT NULL DEFAULT 0,
	last_updated TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS purchases (
	id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	shop_name TEXT NOT NULL,
	date TEXT NOT NULL,
	total_price TEXT NOT NULL,
	quantity TEXT NOT NULL,
	actual_product_name TEXT NOT NULL,
	unit TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_purchases_product ON purchases (product_id);
`

const (
	productColumns  = `id, normalized_name, best_price_per_unit, best_price_store, highest_price_per_unit, highest_price_store, unit, category, purchase_count, last_updated, created_at`
	purchaseColumns = `id, product_id, shop_name, date, total_price, quantity, actual_product_name, unit, created_at`
)

// SQLiteStore implements Store on a single SQLite file. Decimals and times
// are stored as text so values round-trip exactly.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?" + url.Values{
		"_pragma": []string{"foreign_keys(1)", "busy_timeout(5000)", "journal_mode(WAL)"},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One writer keeps transactions serialized the same way BoltDB does.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// View runs fn in a transaction that is rolled back on error.
func (s *SQLiteStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, fn)
}

// Update runs fn in a read-write transaction.
func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, fn)
}

func (s *SQLiteStore) run(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(&sqlTx{ctx: ctx, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*Product, error) {
	var (
		product              Product
		lastUpdated, created string
	)
	err := row.Scan(&product.ID, &product.NormalizedName,
		&product.BestPricePerUnit, &product.BestPriceStore,
		&product.HighestPricePerUnit, &product.HighestPriceStore,
		&product.Unit, &product.Category, &product.PurchaseCount,
		&lastUpdated, &created)
	if err != nil {
		return nil, err
	}
	if product.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return nil, err
	}
	if product.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &product, nil
}

func scanPurchase(row rowScanner) (*Purchase, error) {
	var (
		purchase      Purchase
		date, created string
	)
	err := row.Scan(&purchase.ID, &purchase.ProductID, &purchase.ShopName, &date,
		&purchase.TotalPrice, &purchase.Quantity, &purchase.ActualProductName,
		&purchase.Unit, &created)
	if err != nil {
		return nil, err
	}
	if purchase.Date, err = parseTime(date); err != nil {
		return nil, err
	}
	if purchase.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &purchase, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}

func (t *sqlTx) ProductByName(name string) (*Product, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT `+productColumns+` FROM products WHERE name_key = ?`, catalog.Key(name))
	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	return product, err
}

func (t *sqlTx) Product(id string) (*Product, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	return product, err
}

func (t *sqlTx) Products() ([]*Product, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT `+productColumns+` FROM products ORDER BY name_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]*Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

func (t *sqlTx) SaveProduct(product *Product) error {
	_, err := t.tx.ExecContext(t.ctx, `
INSERT INTO products (id, name_key, normalized_name, best_price_per_unit, best_price_store,
	highest_price_per_unit, highest_price_store, unit, category, purchase_count, last_updated, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	name_key = excluded.name_key,
	normalized_name = excluded.normalized_name,
	best_price_per_unit = excluded.best_price_per_unit,
	best_price_store = excluded.best_price_store,
	highest_price_per_unit = excluded.highest_price_per_unit,
	highest_price_store = excluded.highest_price_store,
	unit = excluded.unit,
	category = excluded.category,
	purchase_count = excluded.purchase_count,
	last_updated = excluded.last_updated`,
		product.ID, catalog.Key(product.NormalizedName), product.NormalizedName,
		product.BestPricePerUnit.String(), product.BestPriceStore,
		product.HighestPricePerUnit.String(), product.HighestPriceStore,
		product.Unit, product.Category, product.PurchaseCount,
		formatTime(product.LastUpdated), formatTime(product.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving product: %w", err)
	}
	return nil
}

func (t *sqlTx) DeleteProduct(id string) error {
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting product: %w", err)
	}
	return expectAffected(res, ErrProductNotFound)
}

func (t *sqlTx) Purchase(id string) (*Purchase, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = ?`, id)
	purchase, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPurchaseNotFound
	}
	return purchase, err
}

func (t *sqlTx) PurchasesOf(productID string) ([]*Purchase, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE product_id = ? ORDER BY date, id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]*Purchase, 0)
	for rows.Next() {
		purchase, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, purchase)
	}
	return purchases, rows.Err()
}

func (t *sqlTx) SavePurchase(purchase *Purchase) error {
	var exists int
	err := t.tx.QueryRowContext(t.ctx, `SELECT 1 FROM products WHERE id = ?`, purchase.ProductID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrProductNotFound
	}
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(t.ctx, `
INSERT OR REPLACE INTO purchases (`+purchaseColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		purchase.ID, purchase.ProductID, purchase.ShopName, formatTime(purchase.Date),
		purchase.TotalPrice.String(), purchase.Quantity.String(), purchase.ActualProductName,
		purchase.Unit, formatTime(purchase.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving purchase: %w", err)
	}
	return nil
}

func (t *sqlTx) DeletePurchase(id string) error {
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM purchases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting purchase: %w", err)
	}
	return expectAffected(res, ErrPurchaseNotFound)
}

func expectAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
