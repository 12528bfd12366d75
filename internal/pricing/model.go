package pricing

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrEmptyName        = errors.New("product name is required")
	ErrInvalidQuantity  = errors.New("quantity must be greater than zero")
	ErrInvalidPrice     = errors.New("price must be greater than zero")
)

// Product aggregates every purchase recorded under one canonical name.
// The best/highest fields are derived from its purchases and only ever
// written by the Engine.
type Product struct {
	ID                  string          `json:"id"`
	NormalizedName      string          `json:"normalized_name"`
	BestPricePerUnit    decimal.Decimal `json:"best_price_per_unit"`
	BestPriceStore      string          `json:"best_price_store"`
	HighestPricePerUnit decimal.Decimal `json:"highest_price_per_unit"`
	HighestPriceStore   string          `json:"highest_price_store"`
	Unit                string          `json:"unit"`
	Category            string          `json:"category,omitempty"`
	PurchaseCount       int             `json:"purchase_count"`
	LastUpdated         time.Time       `json:"last_updated"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Purchase is one recorded receipt line. It belongs to exactly one Product.
type Purchase struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"product_id"`
	ShopName          string          `json:"shop_name"`
	Date              time.Time       `json:"date"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	Quantity          decimal.Decimal `json:"quantity"`
	ActualProductName string          `json:"actual_product_name"`
	Unit              string          `json:"unit"`
	CreatedAt         time.Time       `json:"created_at"`
}

// PricePerUnit returns TotalPrice / Quantity, or zero when the quantity is
// not positive.
func (p *Purchase) PricePerUnit() decimal.Decimal {
	if !p.Quantity.IsPositive() {
		return decimal.Zero
	}
	return p.TotalPrice.Div(p.Quantity)
}

// Line is a confirmed receipt line ready to be committed.
type Line struct {
	ProductName       string          `json:"product_name"`
	ActualProductName string          `json:"actual_product_name"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	Quantity          decimal.Decimal `json:"quantity"`
	Unit              string          `json:"unit"`
	Category          string          `json:"category,omitempty"`
}

// Record is one purchase in an import or restore.
type Record struct {
	ID                string          `json:"id,omitempty"`
	ProductName       string          `json:"product_name"`
	ActualProductName string          `json:"actual_product_name"`
	ShopName          string          `json:"shop_name"`
	Date              time.Time       `json:"date"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	Quantity          decimal.Decimal `json:"quantity"`
	Unit              string          `json:"unit"`
	Category          string          `json:"category,omitempty"`
}

// PurchaseEdit lists the fields a user may change on a recorded purchase.
// Nil fields stay as they are.
type PurchaseEdit struct {
	ShopName          *string          `json:"shop_name,omitempty"`
	Date              *time.Time       `json:"date,omitempty"`
	TotalPrice        *decimal.Decimal `json:"total_price,omitempty"`
	Quantity          *decimal.Decimal `json:"quantity,omitempty"`
	ActualProductName *string          `json:"actual_product_name,omitempty"`
	Unit              *string          `json:"unit,omitempty"`
}

// ImportSummary reports what a bulk import changed.
type ImportSummary struct {
	ProductsCreated   int `json:"products_created"`
	PurchasesImported int `json:"purchases_imported"`
	Duplicates        int `json:"duplicates"`
	Skipped           int `json:"skipped"`
}

// ProductHistory is a product with all of its purchases.
type ProductHistory struct {
	Product   *Product    `json:"product"`
	Purchases []*Purchase `json:"purchases"`
}

// seed makes purchase the product's only known price point.
func (p *Product) seed(purchase *Purchase) {
	ppu := purchase.PricePerUnit()
	p.BestPricePerUnit = ppu
	p.BestPriceStore = purchase.ShopName
	p.HighestPricePerUnit = ppu
	p.HighestPriceStore = purchase.ShopName
	p.PurchaseCount = 1
}

// applyIncremental folds one new purchase into best/highest. Only a strictly
// lower or higher price moves a side.
func (p *Product) applyIncremental(purchase *Purchase) {
	if p.PurchaseCount == 0 {
		p.seed(purchase)
		return
	}
	ppu := purchase.PricePerUnit()
	if ppu.LessThan(p.BestPricePerUnit) {
		p.BestPricePerUnit = ppu
		p.BestPriceStore = purchase.ShopName
	}
	if ppu.GreaterThan(p.HighestPricePerUnit) {
		p.HighestPricePerUnit = ppu
		p.HighestPriceStore = purchase.ShopName
	}
	p.PurchaseCount++
}

// recompute derives best/highest from scratch. Purchases are visited oldest
// first (ties by id), so the earliest purchase holding an extreme wins and
// repeated calls give identical results.
func (p *Product) recompute(purchases []*Purchase) {
	p.BestPricePerUnit = decimal.Zero
	p.BestPriceStore = ""
	p.HighestPricePerUnit = decimal.Zero
	p.HighestPriceStore = ""
	p.PurchaseCount = 0

	for _, purchase := range sortPurchases(purchases) {
		p.applyIncremental(purchase)
	}
}

// sortPurchases returns purchases ordered by date, then id.
func sortPurchases(purchases []*Purchase) []*Purchase {
	sorted := make([]*Purchase, len(purchases))
	copy(sorted, purchases)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}
