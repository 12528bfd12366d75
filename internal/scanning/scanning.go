package scanning

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMaxItems caps how many line items a single extraction may return.
const DefaultMaxItems = 50

// Accuracy selects the OCR speed/quality trade-off.
type Accuracy string

const (
	AccuracyFast     Accuracy = "fast"
	AccuracyAccurate Accuracy = "accurate"
)

// OCRConfig holds the recognition settings shared by all OCR adapters.
type OCRConfig struct {
	// Languages are ISO 639 codes in priority order, e.g. "de", "en".
	Languages []string
	Accuracy  Accuracy
}

// Recognizer turns a receipt image into its printed text lines, top to bottom.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, contentType string) ([]string, error)
	// Available reports whether the backing service can take requests right now.
	Available(ctx context.Context) bool
	Close() error
}

// ExtractRequest is one structured-extraction call.
type ExtractRequest struct {
	Text     string
	Catalog  []string // existing canonical names offered as context
	Locale   string
	MaxItems int
}

// Extractor turns recognized receipt text into a ParsedReceipt.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*ParsedReceipt, error)
	Available(ctx context.Context) bool
	Close() error
}

// ParsedReceipt is the structured form of one receipt as returned by the model.
type ParsedReceipt struct {
	SchemaVersion int                 `json:"schemaVersion"`
	ShopName      string              `json:"shopName"`
	RawDate       string              `json:"date,omitempty"`
	Date          time.Time           `json:"-"`
	Items         []ParsedItem        `json:"items"`
	Total         decimal.NullDecimal `json:"total"`
}

// ParsedItem is one receipt line as returned by the model.
type ParsedItem struct {
	Name           string              `json:"name"`
	NormalizedName string              `json:"normalizedName"`
	Price          decimal.Decimal     `json:"price"`
	Quantity       decimal.NullDecimal `json:"quantity"`
	Unit           string              `json:"unit,omitempty"`
	Category       string              `json:"category,omitempty"`
}
