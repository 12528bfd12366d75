// Package stats derives price statistics from a product's purchase history.
// Every function is pure and returns a zero value for an empty history.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/price-tracker/internal/pricing"
)

// DefaultBuckets is the distribution bucket count used when none is given.
const DefaultBuckets = 5

var two = decimal.NewFromInt(2)

// PriceStats summarizes unit prices.
type PriceStats struct {
	Min    decimal.Decimal `json:"min"`
	Max    decimal.Decimal `json:"max"`
	Avg    decimal.Decimal `json:"avg"`
	Median decimal.Decimal `json:"median"`
}

// ShopSummary aggregates unit prices paid at one shop.
type ShopSummary struct {
	Shop     string          `json:"shop"`
	Count    int             `json:"count"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	MinPrice decimal.Decimal `json:"min_price"`
	MaxPrice decimal.Decimal `json:"max_price"`
}

// Bucket is one range of a price distribution.
type Bucket struct {
	Label string          `json:"range_label"`
	Lower decimal.Decimal `json:"lower"`
	Upper decimal.Decimal `json:"upper"`
	Count int             `json:"count"`
}

// MonthSpend is the amount spent in one calendar month.
type MonthSpend struct {
	MonthStart time.Time       `json:"month_start"`
	TotalSpent decimal.Decimal `json:"total_spent"`
}

// Snapshot bundles every statistic for one purchase history.
type Snapshot struct {
	Count             int           `json:"count"`
	Prices            PriceStats    `json:"prices"`
	StandardDeviation float64       `json:"standard_deviation"`
	Shops             []ShopSummary `json:"shops"`
	Distribution      []Bucket      `json:"distribution"`
	Monthly           []MonthSpend  `json:"monthly"`
}

// unitPrices returns the price per unit of every purchase, sorted ascending.
func unitPrices(purchases []*pricing.Purchase) []decimal.Decimal {
	prices := make([]decimal.Decimal, 0, len(purchases))
	for _, p := range purchases {
		prices = append(prices, p.PricePerUnit())
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })
	return prices
}

func mean(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(decimal.Zero, prices...).Div(decimal.NewFromInt(int64(len(prices))))
}

// Prices returns min, max, mean and median unit price. The median of an
// even count is the mean of the two middle values.
func Prices(purchases []*pricing.Purchase) PriceStats {
	prices := unitPrices(purchases)
	n := len(prices)
	if n == 0 {
		return PriceStats{}
	}

	median := prices[n/2]
	if n%2 == 0 {
		median = prices[n/2-1].Add(prices[n/2]).Div(two)
	}
	return PriceStats{
		Min:    prices[0],
		Max:    prices[n-1],
		Avg:    mean(prices),
		Median: median,
	}
}

// StandardDeviation returns the population standard deviation of unit prices.
func StandardDeviation(purchases []*pricing.Purchase) float64 {
	prices := unitPrices(purchases)
	if len(prices) == 0 {
		return 0
	}
	avg := mean(prices)
	var sum decimal.Decimal
	for _, price := range prices {
		diff := price.Sub(avg)
		sum = sum.Add(diff.Mul(diff))
	}
	variance := sum.Div(decimal.NewFromInt(int64(len(prices))))
	return math.Sqrt(variance.InexactFloat64())
}

// Shops groups purchases by shop, cheapest average first. Shops with equal
// averages are ordered by name.
func Shops(purchases []*pricing.Purchase) []ShopSummary {
	grouped := make(map[string][]*pricing.Purchase)
	for _, p := range purchases {
		grouped[p.ShopName] = append(grouped[p.ShopName], p)
	}

	summaries := make([]ShopSummary, 0, len(grouped))
	for shop, group := range grouped {
		prices := unitPrices(group)
		summaries = append(summaries, ShopSummary{
			Shop:     shop,
			Count:    len(group),
			AvgPrice: mean(prices),
			MinPrice: prices[0],
			MaxPrice: prices[len(prices)-1],
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].AvgPrice.Equal(summaries[j].AvgPrice) {
			return summaries[i].AvgPrice.LessThan(summaries[j].AvgPrice)
		}
		return summaries[i].Shop < summaries[j].Shop
	})
	return summaries
}

// Distribution splits [min, max] unit price into equal-width buckets. Every
// bucket excludes its upper bound except the last, which includes the max.
// A history with a single distinct price yields one bucket.
func Distribution(purchases []*pricing.Purchase, buckets int) []Bucket {
	if buckets <= 0 {
		buckets = DefaultBuckets
	}
	prices := unitPrices(purchases)
	if len(prices) == 0 {
		return []Bucket{}
	}

	lowest, highest := prices[0], prices[len(prices)-1]
	span := highest.Sub(lowest)
	if span.IsZero() {
		return []Bucket{newBucket(lowest, highest, len(prices))}
	}

	n := decimal.NewFromInt(int64(buckets))
	width := span.Div(n)
	result := make([]Bucket, buckets)
	for i := range result {
		lower := lowest.Add(width.Mul(decimal.NewFromInt(int64(i))))
		upper := lower.Add(width)
		if i == buckets-1 {
			upper = highest
		}
		result[i] = newBucket(lower, upper, 0)
	}

	for _, price := range prices {
		// Multiplying before dividing keeps exact boundaries exact.
		index := int(price.Sub(lowest).Mul(n).Div(span).Floor().IntPart())
		if index >= buckets {
			index = buckets - 1
		}
		result[index].Count++
	}
	return result
}

func newBucket(lower, upper decimal.Decimal, count int) Bucket {
	return Bucket{
		Label: lower.StringFixed(2) + " - " + upper.StringFixed(2),
		Lower: lower,
		Upper: upper,
		Count: count,
	}
}

// Monthly totals the amount spent per calendar month, oldest first.
func Monthly(purchases []*pricing.Purchase) []MonthSpend {
	byMonth := make(map[string]*MonthSpend)
	for _, p := range purchases {
		key := p.Date.Format("2006-01")
		month, ok := byMonth[key]
		if !ok {
			month = &MonthSpend{MonthStart: time.Date(p.Date.Year(), p.Date.Month(), 1, 0, 0, 0, 0, p.Date.Location())}
			byMonth[key] = month
		}
		month.TotalSpent = month.TotalSpent.Add(p.TotalPrice)
	}

	months := make([]MonthSpend, 0, len(byMonth))
	for _, month := range byMonth {
		months = append(months, *month)
	}
	sort.Slice(months, func(i, j int) bool {
		return months[i].MonthStart.Before(months[j].MonthStart)
	})
	return months
}

// Compute builds a full Snapshot.
func Compute(purchases []*pricing.Purchase, buckets int) Snapshot {
	return Snapshot{
		Count:             len(purchases),
		Prices:            Prices(purchases),
		StandardDeviation: StandardDeviation(purchases),
		Shops:             Shops(purchases),
		Distribution:      Distribution(purchases, buckets),
		Monthly:           Monthly(purchases),
	}
}
