package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// IDGenerator generates unique IDs for products and purchases
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Engine keeps every product's best and highest unit price consistent with
// its purchases. New purchases are folded in incrementally; deletions, edits
// and imports trigger a full recompute. Each operation runs in one Store
// transaction so no reader sees a purchase without its product update.
type Engine struct {
	store  Store
	ids    IDGenerator
	clock  TimeSource
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(ids IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = ids }
}

// WithTimeSource replaces the system clock.
func WithTimeSource(clock TimeSource) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an Engine backed by store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		ids:    uuidGenerator{},
		clock:  systemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func validateLine(name string, quantity, price decimal.Decimal) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if !quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if !price.IsPositive() {
		return ErrInvalidPrice
	}
	return nil
}

// findOrCreate returns the product stored under name, creating an empty one
// when none exists yet.
func (e *Engine) findOrCreate(tx Tx, name, unit, category string, now time.Time) (*Product, bool, error) {
	product, err := tx.ProductByName(name)
	if err == nil {
		return product, false, nil
	}
	if !errors.Is(err, ErrProductNotFound) {
		return nil, false, err
	}

	product = &Product{
		ID:             e.ids.Generate(),
		NormalizedName: strings.TrimSpace(name),
		Unit:           unit,
		Category:       category,
		LastUpdated:    now,
		CreatedAt:      now,
	}
	if err := tx.SaveProduct(product); err != nil {
		return nil, false, err
	}
	return product, true, nil
}

// Commit records one purchase and updates its product incrementally.
// A zero date means the purchase happened now.
func (e *Engine) Commit(ctx context.Context, line Line, shop string, date time.Time) (*Purchase, error) {
	if err := validateLine(line.ProductName, line.Quantity, line.TotalPrice); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	if date.IsZero() {
		date = now
	}

	var purchase *Purchase
	err := e.store.Update(ctx, func(tx Tx) error {
		product, created, err := e.findOrCreate(tx, line.ProductName, line.Unit, line.Category, now)
		if err != nil {
			return err
		}

		purchase = &Purchase{
			ID:                e.ids.Generate(),
			ProductID:         product.ID,
			ShopName:          strings.TrimSpace(shop),
			Date:              date,
			TotalPrice:        line.TotalPrice,
			Quantity:          line.Quantity,
			ActualProductName: strings.TrimSpace(line.ActualProductName),
			Unit:              line.Unit,
			CreatedAt:         now,
		}
		if err := tx.SavePurchase(purchase); err != nil {
			return err
		}

		product.applyIncremental(purchase)
		product.LastUpdated = now
		if product.Category == "" {
			product.Category = line.Category
		}
		if err := tx.SaveProduct(product); err != nil {
			return err
		}

		e.logger.InfoContext(ctx, "pricing.commit.ok",
			"product", product.NormalizedName,
			"created", created,
			"shop", purchase.ShopName,
			"price_per_unit", purchase.PricePerUnit().StringFixed(4),
		)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("committing purchase: %w", err)
	}
	return purchase, nil
}

// refresh recomputes a product from its stored purchases and saves it.
func (e *Engine) refresh(tx Tx, product *Product, now time.Time) error {
	purchases, err := tx.PurchasesOf(product.ID)
	if err != nil {
		return err
	}
	product.recompute(purchases)
	product.LastUpdated = now
	return tx.SaveProduct(product)
}

// Recompute rebuilds one product's best and highest price from all of its
// purchases.
func (e *Engine) Recompute(ctx context.Context, name string) (*Product, error) {
	var product *Product
	err := e.store.Update(ctx, func(tx Tx) error {
		var err error
		if product, err = tx.ProductByName(name); err != nil {
			return err
		}
		return e.refresh(tx, product, e.clock.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("recomputing %q: %w", name, err)
	}
	return product, nil
}

// RecomputeAll rebuilds every product and returns how many were processed.
func (e *Engine) RecomputeAll(ctx context.Context) (int, error) {
	var count int
	err := e.store.Update(ctx, func(tx Tx) error {
		products, err := tx.Products()
		if err != nil {
			return err
		}
		now := e.clock.Now()
		for _, product := range products {
			if err := e.refresh(tx, product, now); err != nil {
				return err
			}
		}
		count = len(products)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recomputing products: %w", err)
	}
	e.logger.InfoContext(ctx, "pricing.recompute_all.ok", "products", count)
	return count, nil
}

// DeletePurchase removes a purchase and recomputes its product. The product
// is kept, with zeroed prices, when its last purchase goes away.
func (e *Engine) DeletePurchase(ctx context.Context, id string) (*Product, error) {
	var product *Product
	err := e.store.Update(ctx, func(tx Tx) error {
		purchase, err := tx.Purchase(id)
		if err != nil {
			return err
		}
		if err := tx.DeletePurchase(id); err != nil {
			return err
		}
		if product, err = tx.Product(purchase.ProductID); err != nil {
			return err
		}
		return e.refresh(tx, product, e.clock.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("deleting purchase %s: %w", id, err)
	}
	e.logger.InfoContext(ctx, "pricing.delete_purchase.ok", "purchase", id, "product", product.NormalizedName)
	return product, nil
}

// EditPurchase applies edit to a purchase and recomputes its product.
func (e *Engine) EditPurchase(ctx context.Context, id string, edit PurchaseEdit) (*Purchase, error) {
	var purchase *Purchase
	err := e.store.Update(ctx, func(tx Tx) error {
		var err error
		if purchase, err = tx.Purchase(id); err != nil {
			return err
		}

		if edit.ShopName != nil {
			purchase.ShopName = strings.TrimSpace(*edit.ShopName)
		}
		if edit.Date != nil {
			purchase.Date = *edit.Date
		}
		if edit.TotalPrice != nil {
			purchase.TotalPrice = *edit.TotalPrice
		}
		if edit.Quantity != nil {
			purchase.Quantity = *edit.Quantity
		}
		if edit.ActualProductName != nil {
			purchase.ActualProductName = strings.TrimSpace(*edit.ActualProductName)
		}
		if edit.Unit != nil {
			purchase.Unit = *edit.Unit
		}
		if !purchase.Quantity.IsPositive() {
			return ErrInvalidQuantity
		}
		if !purchase.TotalPrice.IsPositive() {
			return ErrInvalidPrice
		}

		if err := tx.SavePurchase(purchase); err != nil {
			return err
		}
		product, err := tx.Product(purchase.ProductID)
		if err != nil {
			return err
		}
		return e.refresh(tx, product, e.clock.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("editing purchase %s: %w", id, err)
	}
	return purchase, nil
}

// DeleteProduct removes a product together with all of its purchases.
func (e *Engine) DeleteProduct(ctx context.Context, name string) error {
	err := e.store.Update(ctx, func(tx Tx) error {
		product, err := tx.ProductByName(name)
		if err != nil {
			return err
		}
		return tx.DeleteProduct(product.ID)
	})
	if err != nil {
		return fmt.Errorf("deleting product %q: %w", name, err)
	}
	e.logger.InfoContext(ctx, "pricing.delete_product.ok", "product", name)
	return nil
}

// BulkImport stores many historical purchases at once. Invalid records are
// skipped, records whose ID is already stored count as duplicates, and each
// touched product is recomputed once at the end.
func (e *Engine) BulkImport(ctx context.Context, records []Record) (ImportSummary, error) {
	var summary ImportSummary
	err := e.store.Update(ctx, func(tx Tx) error {
		summary = ImportSummary{}
		now := e.clock.Now()
		touched := make(map[string]*Product)

		for i, record := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := validateLine(record.ProductName, record.Quantity, record.TotalPrice); err != nil {
				e.logger.WarnContext(ctx, "pricing.import.skipped", "index", i, "error", err)
				summary.Skipped++
				continue
			}
			if record.ID != "" {
				if _, err := tx.Purchase(record.ID); err == nil {
					summary.Duplicates++
					continue
				} else if !errors.Is(err, ErrPurchaseNotFound) {
					return err
				}
			}

			product, created, err := e.findOrCreate(tx, record.ProductName, record.Unit, record.Category, now)
			if err != nil {
				return err
			}
			if created {
				summary.ProductsCreated++
			}
			if cached, ok := touched[product.ID]; ok {
				product = cached
			}
			touched[product.ID] = product

			id := record.ID
			if id == "" {
				id = e.ids.Generate()
			}
			date := record.Date
			if date.IsZero() {
				date = now
			}
			purchase := &Purchase{
				ID:                id,
				ProductID:         product.ID,
				ShopName:          strings.TrimSpace(record.ShopName),
				Date:              date,
				TotalPrice:        record.TotalPrice,
				Quantity:          record.Quantity,
				ActualProductName: strings.TrimSpace(record.ActualProductName),
				Unit:              record.Unit,
				CreatedAt:         now,
			}
			if err := tx.SavePurchase(purchase); err != nil {
				return err
			}
			summary.PurchasesImported++
		}

		for _, product := range touched {
			if err := e.refresh(tx, product, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ImportSummary{}, fmt.Errorf("importing purchases: %w", err)
	}

	e.logger.InfoContext(ctx, "pricing.import.ok",
		"imported", summary.PurchasesImported,
		"products_created", summary.ProductsCreated,
		"duplicates", summary.Duplicates,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

// Product returns a product and its purchases, oldest first.
func (e *Engine) Product(ctx context.Context, name string) (*ProductHistory, error) {
	var history *ProductHistory
	err := e.store.View(ctx, func(tx Tx) error {
		product, err := tx.ProductByName(name)
		if err != nil {
			return err
		}
		purchases, err := tx.PurchasesOf(product.ID)
		if err != nil {
			return err
		}
		history = &ProductHistory{Product: product, Purchases: sortPurchases(purchases)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

// Products returns every product ordered by name.
func (e *Engine) Products(ctx context.Context) ([]*Product, error) {
	var products []*Product
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		products, err = tx.Products()
		return err
	})
	if err != nil {
		return nil, err
	}
	sortProducts(products)
	return products, nil
}

// ProductNames returns the canonical names of all known products. It lets
// the Engine act as the catalog source for normalization.
func (e *Engine) ProductNames(ctx context.Context) ([]string, error) {
	products, err := e.Products(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(products))
	for _, product := range products {
		names = append(names, product.NormalizedName)
	}
	return names, nil
}

// History returns every product with its purchases, ordered by name.
func (e *Engine) History(ctx context.Context) ([]ProductHistory, error) {
	var history []ProductHistory
	err := e.store.View(ctx, func(tx Tx) error {
		products, err := tx.Products()
		if err != nil {
			return err
		}
		sortProducts(products)
		history = make([]ProductHistory, 0, len(products))
		for _, product := range products {
			purchases, err := tx.PurchasesOf(product.ID)
			if err != nil {
				return err
			}
			history = append(history, ProductHistory{Product: product, Purchases: sortPurchases(purchases)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

// sortProducts orders products the way a German shopper reads a list,
// so umlauts sort next to their base letter.
func sortProducts(products []*Product) {
	collator := collate.New(language.German, collate.IgnoreCase)
	sort.SliceStable(products, func(i, j int) bool {
		return collator.CompareString(products[i].NormalizedName, products[j].NormalizedName) < 0
	})
}
