package pipeline

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExtractedLineItem is a purchase candidate waiting for user confirmation.
type ExtractedLineItem struct {
	RawName        string          `json:"raw_name"`
	NormalizedName string          `json:"normalized_name"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
	Price          decimal.Decimal `json:"price"` // line total
	Category       string          `json:"category,omitempty"`
	Shop           string          `json:"shop"`
	Date           time.Time       `json:"date"`
}

// PricePerUnit returns Price / Quantity, or zero for a non-positive quantity.
func (i ExtractedLineItem) PricePerUnit() decimal.Decimal {
	if !i.Quantity.IsPositive() {
		return decimal.Zero
	}
	return i.Price.Div(i.Quantity)
}

// RecognitionResult is the outcome of one scan.
type RecognitionResult struct {
	Items       []ExtractedLineItem `json:"items"`
	Confidence  float64             `json:"confidence"`
	Shop        string              `json:"shop"`
	Date        time.Time           `json:"date"`
	RawText     string              `json:"raw_text"`
	ProcessedAt time.Time           `json:"processed_at"`
}

var unitAliases = map[string]string{
	"":      "piece",
	"stk":   "piece",
	"st":    "piece",
	"stück": "piece",
	"pcs":   "piece",
	"pc":    "piece",
	"x":     "piece",
	"kilo":  "kg",
	"ltr":   "l",
	"liter": "l",
	"litre": "l",
}

// normalizeUnit maps printed unit spellings onto kg, l, piece and friends.
func normalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	if alias, ok := unitAliases[u]; ok {
		return alias
	}
	return u
}
