package pipeline

import (
	"strings"

	"github.com/zombor/price-tracker/internal/scanning"
)

// Validate drops items without a name or with a price <= 0. Nothing it
// removes may ever reach the price store.
func Validate(items []scanning.ParsedItem) []scanning.ParsedItem {
	kept := make([]scanning.ParsedItem, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Name) == "" || !item.Price.IsPositive() {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// Score rates how trustworthy an extraction looks, from 0 to 1.
//
//	0.3 if there is at least one item
//	0.4 * share of items with a positive price
//	0.2 * share of items with a name
//	0.1 if the shop is known
func Score(receipt scanning.ParsedReceipt) float64 {
	score := 0.0
	if n := len(receipt.Items); n > 0 {
		score += 0.3
		priced, named := 0, 0
		for _, item := range receipt.Items {
			if item.Price.IsPositive() {
				priced++
			}
			if strings.TrimSpace(item.Name) != "" {
				named++
			}
		}
		score += 0.4 * float64(priced) / float64(n)
		score += 0.2 * float64(named) / float64(n)
	}
	if strings.TrimSpace(receipt.ShopName) != "" {
		score += 0.1
	}
	return min(max(score, 0), 1)
}
