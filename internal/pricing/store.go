package pricing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Tx is the set of reads and writes the Engine performs inside one
// transaction. Implementations return ErrProductNotFound and
// ErrPurchaseNotFound for missing records.
type Tx interface {
	// ProductByName looks a product up by its normalized name, ignoring case.
	ProductByName(name string) (*Product, error)

	// Product returns a product by ID.
	Product(id string) (*Product, error)

	// Products returns every product.
	Products() ([]*Product, error)

	// SaveProduct inserts or replaces a product.
	SaveProduct(product *Product) error

	// DeleteProduct removes a product and all of its purchases.
	DeleteProduct(id string) error

	// Purchase returns a purchase by ID.
	Purchase(id string) (*Purchase, error)

	// PurchasesOf returns every purchase that belongs to a product.
	PurchasesOf(productID string) ([]*Purchase, error)

	// SavePurchase inserts or replaces a purchase.
	SavePurchase(purchase *Purchase) error

	// DeletePurchase removes a purchase.
	DeletePurchase(id string) error
}

// Store runs transactions. Everything fn does inside Update is committed
// together or not at all.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// StorageMode selects a Store backend.
type StorageMode string

const (
	ModeLocal  StorageMode = "local"
	ModeSQLite StorageMode = "sqlite"
)

// StorageConfig describes where purchase history lives.
type StorageConfig struct {
	Mode             StorageMode
	Path             string
	CloudSyncEnabled bool
	SyncDir          string
}

// ResolvedPath returns the database file to open. With cloud sync enabled
// the file is kept inside SyncDir so an external sync client picks it up.
func (c StorageConfig) ResolvedPath() (string, error) {
	if c.Path == "" {
		return "", fmt.Errorf("database path is required")
	}
	if !c.CloudSyncEnabled {
		return c.Path, nil
	}
	if c.SyncDir == "" {
		return "", fmt.Errorf("cloud sync enabled without a sync directory")
	}
	return filepath.Join(c.SyncDir, filepath.Base(c.Path)), nil
}

// Open opens the Store described by cfg, creating the database file and its
// parent directory when needed.
func Open(cfg StorageConfig) (Store, error) {
	path, err := cfg.ResolvedPath()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	switch cfg.Mode {
	case ModeLocal, "":
		return NewBoltStore(path)
	case ModeSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Mode)
	}
}
