package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/price-tracker/internal/catalog"
)

var (
	productsBucket         = []byte("products")
	productNamesBucket     = []byte("product_names")
	purchasesBucket        = []byte("purchases")
	productPurchasesBucket = []byte("product_purchases")
)

// BoltStore implements Store using BoltDB. Products and purchases are stored
// as JSON keyed by ID; product_names maps a folded name to a product ID and
// product_purchases holds one nested bucket of purchase IDs per product.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates a BoltDB file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{productsBucket, productNamesBucket, purchasesBucket, productPurchasesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// View runs fn in a read-only transaction.
func (b *BoltStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Update runs fn in a read-write transaction.
func (b *BoltStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Close closes the database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

type boltTx struct {
	tx *bbolt.Tx
}

func (t *boltTx) ProductByName(name string) (*Product, error) {
	id := t.tx.Bucket(productNamesBucket).Get([]byte(catalog.Key(name)))
	if id == nil {
		return nil, ErrProductNotFound
	}
	return t.product(id)
}

func (t *boltTx) Product(id string) (*Product, error) {
	return t.product([]byte(id))
}

func (t *boltTx) product(id []byte) (*Product, error) {
	data := t.tx.Bucket(productsBucket).Get(id)
	if data == nil {
		return nil, ErrProductNotFound
	}
	var product Product
	if err := json.Unmarshal(data, &product); err != nil {
		return nil, fmt.Errorf("unmarshaling product: %w", err)
	}
	return &product, nil
}

func (t *boltTx) Products() ([]*Product, error) {
	products := make([]*Product, 0)
	err := t.tx.Bucket(productsBucket).ForEach(func(k, v []byte) error {
		var product Product
		if err := json.Unmarshal(v, &product); err != nil {
			return fmt.Errorf("unmarshaling product: %w", err)
		}
		products = append(products, &product)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (t *boltTx) SaveProduct(product *Product) error {
	names := t.tx.Bucket(productNamesBucket)
	key := []byte(catalog.Key(product.NormalizedName))

	if owner := names.Get(key); owner != nil && string(owner) != product.ID {
		return fmt.Errorf("product name %q already used by %s", product.NormalizedName, owner)
	}
	if previous, err := t.product([]byte(product.ID)); err == nil {
		if oldKey := catalog.Key(previous.NormalizedName); oldKey != string(key) {
			if err := names.Delete([]byte(oldKey)); err != nil {
				return err
			}
		}
	}

	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("marshaling product: %w", err)
	}
	if err := t.tx.Bucket(productsBucket).Put([]byte(product.ID), data); err != nil {
		return err
	}
	return names.Put(key, []byte(product.ID))
}

func (t *boltTx) DeleteProduct(id string) error {
	product, err := t.product([]byte(id))
	if err != nil {
		return err
	}

	index := t.tx.Bucket(productPurchasesBucket)
	if owned := index.Bucket([]byte(id)); owned != nil {
		purchases := t.tx.Bucket(purchasesBucket)
		err := owned.ForEach(func(k, _ []byte) error {
			return purchases.Delete(k)
		})
		if err != nil {
			return err
		}
		if err := index.DeleteBucket([]byte(id)); err != nil {
			return err
		}
	}

	if err := t.tx.Bucket(productNamesBucket).Delete([]byte(catalog.Key(product.NormalizedName))); err != nil {
		return err
	}
	return t.tx.Bucket(productsBucket).Delete([]byte(id))
}

func (t *boltTx) Purchase(id string) (*Purchase, error) {
	data := t.tx.Bucket(purchasesBucket).Get([]byte(id))
	if data == nil {
		return nil, ErrPurchaseNotFound
	}
	var purchase Purchase
	if err := json.Unmarshal(data, &purchase); err != nil {
		return nil, fmt.Errorf("unmarshaling purchase: %w", err)
	}
	return &purchase, nil
}

func (t *boltTx) PurchasesOf(productID string) ([]*Purchase, error) {
	purchases := make([]*Purchase, 0)
	owned := t.tx.Bucket(productPurchasesBucket).Bucket([]byte(productID))
	if owned == nil {
		return purchases, nil
	}
	err := owned.ForEach(func(k, _ []byte) error {
		purchase, err := t.Purchase(string(k))
		if err != nil {
			return err
		}
		purchases = append(purchases, purchase)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

func (t *boltTx) SavePurchase(purchase *Purchase) error {
	if t.tx.Bucket(productsBucket).Get([]byte(purchase.ProductID)) == nil {
		return ErrProductNotFound
	}

	index := t.tx.Bucket(productPurchasesBucket)
	if previous, err := t.Purchase(purchase.ID); err == nil && previous.ProductID != purchase.ProductID {
		if owned := index.Bucket([]byte(previous.ProductID)); owned != nil {
			if err := owned.Delete([]byte(purchase.ID)); err != nil {
				return err
			}
		}
	}

	data, err := json.Marshal(purchase)
	if err != nil {
		return fmt.Errorf("marshaling purchase: %w", err)
	}
	if err := t.tx.Bucket(purchasesBucket).Put([]byte(purchase.ID), data); err != nil {
		return err
	}
	owned, err := index.CreateBucketIfNotExists([]byte(purchase.ProductID))
	if err != nil {
		return err
	}
	return owned.Put([]byte(purchase.ID), []byte{})
}

func (t *boltTx) DeletePurchase(id string) error {
	purchase, err := t.Purchase(id)
	if err != nil {
		return err
	}
	if owned := t.tx.Bucket(productPurchasesBucket).Bucket([]byte(purchase.ProductID)); owned != nil {
		if err := owned.Delete([]byte(id)); err != nil {
			return err
		}
	}
	return t.tx.Bucket(purchasesBucket).Delete([]byte(id))
}
