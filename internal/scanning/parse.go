package scanning

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zombor/price-tracker/internal/common"
)

// receiptDateFormats are tried in order; the first successful parse wins.
var receiptDateFormats = []string{
	"02.01.2006",
	"02/01/2006",
	"2.1.2006",
	"2006-01-02",
	"02.01.06",
	"2.1.06",
	"02.01.2006 15:04",
	"02.01.2006 15:04:05",
	"2006-01-02T15:04:05Z07:00",
}

// ParseReceiptDate parses a printed receipt date. ok is false when no
// format matched.
func ParseReceiptDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range receiptDateFormats {
		if d, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

// parseReceiptJSON decodes a model response. Item lists longer than maxItems
// are cut to maxItems before schema validation; an unparseable date falls
// back to now instead of failing the extraction.
func parseReceiptJSON(text string, maxItems int, now time.Time) (*ParsedReceipt, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx == -1 || endIdx < startIdx {
		return nil, common.E("parse", common.KindMalformedResponse, fmt.Errorf("no JSON object found in response"))
	}
	text = text[startIdx : endIdx+1]

	var doc map[string]any
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, common.E("parse", common.KindMalformedResponse, fmt.Errorf("unmarshaling json: %w", err))
	}

	if items, ok := doc["items"].([]any); ok && len(items) > maxItems {
		slog.Warn("Truncating extracted items", "returned", len(items), "max_items", maxItems)
		doc["items"] = items[:maxItems]
	}

	if err := validateReceipt(doc, maxItems); err != nil {
		return nil, common.E("parse", common.KindMalformedResponse, err)
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, common.E("parse", common.KindMalformedResponse, err)
	}
	var receipt ParsedReceipt
	if err := json.Unmarshal(normalized, &receipt); err != nil {
		return nil, common.E("parse", common.KindMalformedResponse, fmt.Errorf("decoding receipt: %w", err))
	}

	receipt.ShopName = strings.TrimSpace(receipt.ShopName)
	if d, ok := ParseReceiptDate(receipt.RawDate); ok {
		receipt.Date = d
	} else {
		if receipt.RawDate != "" {
			slog.Debug("Unparseable receipt date, using now", "date", receipt.RawDate)
		}
		receipt.Date = now
	}

	for i := range receipt.Items {
		item := &receipt.Items[i]
		item.Name = strings.TrimSpace(item.Name)
		item.NormalizedName = strings.TrimSpace(item.NormalizedName)
		item.Unit = strings.TrimSpace(item.Unit)
		item.Category = strings.TrimSpace(item.Category)
	}

	return &receipt, nil
}
