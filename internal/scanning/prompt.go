package scanning

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/zombor/price-tracker/internal/common"
)

// SchemaVersion identifies the instruction template and response schema pair.
// Bump it whenever either changes shape.
const SchemaVersion = 1

// maxCatalogContext bounds how many catalog names are sent with each request.
const maxCatalogContext = 300

var instructionTemplates = map[string]string{
	"de": `Du liest Kassenbons aus deutschen und österreichischen Supermärkten.
Antworte ausschließlich mit JSON nach Schema-Version %[1]d. Setze "schemaVersion" auf %[1]d.

Regeln:
- "shopName" ist der Name des Geschäfts aus dem Kopf des Bons (z. B. "Billa", "Lidl", "Merkur").
- "date" ist das Kaufdatum genau so, wie es auf dem Bon steht, oder null.
- Jede gekaufte Ware ist ein Eintrag in "items". Ignoriere Summen, Zwischensummen, Pfand und
  Leergut, Rabatte, Gutscheine, Zahlungsarten, Rückgeld und Steuerzeilen.
- "price" ist der Zeilenbetrag als Dezimalzahl mit Punkt (1,29 wird 1.29).
- "quantity" ist die Menge (Stück oder Gewicht in kg bzw. l), sonst null. "unit" ist "kg", "l" oder "piece".
- "name" ist der Artikeltext wie gedruckt. "normalizedName" ist der allgemeine Produktname ohne
  Marke, Verpackung, Bio-/Herkunftsangaben und Mengenangaben, in deutscher Schreibweise.
- Wenn ein passender Name in der Liste bekannter Produkte steht, verwende genau diese Schreibweise
  als "normalizedName".
- Gib höchstens %[2]d Einträge zurück.`,
	"en": `You read grocery receipts.
Respond only with JSON following schema version %[1]d. Set "schemaVersion" to %[1]d.

Rules:
- "shopName" is the store name from the receipt header (e.g. "Tesco", "Lidl", "Whole Foods").
- "date" is the purchase date exactly as printed, or null.
- Every purchased article is one entry in "items". Ignore totals, subtotals, bottle deposits,
  discounts, coupons, payment methods, change and tax lines.
- "price" is the line amount as a decimal number with a dot (1,29 becomes 1.29).
- "quantity" is the amount bought (pieces or weight in kg or l), otherwise null. "unit" is "kg", "l" or "piece".
- "name" is the article text as printed. "normalizedName" is the generic product name without
  brand, packaging, organic/origin labels or sizes.
- When a matching name appears in the list of known products, use exactly that spelling as
  "normalizedName".
- Return at most %[2]d entries.`,
}

// instructionLanguage resolves locale to one of the instruction templates.
func instructionLanguage(locale string) (string, error) {
	if strings.TrimSpace(locale) == "" {
		return "de", nil
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return "", common.E("extract", common.KindUnsupportedLocale, err)
	}
	base, _ := tag.Base()
	if _, ok := instructionTemplates[base.String()]; !ok {
		return "", common.E("extract", common.KindUnsupportedLocale, fmt.Errorf("no instructions for %q", locale))
	}
	return base.String(), nil
}

// BuildInstructions renders the system instructions for locale, including
// the known product names as context.
func BuildInstructions(locale string, catalog []string, maxItems int) (string, error) {
	lang, err := instructionLanguage(locale)
	if err != nil {
		return "", err
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	var b strings.Builder
	fmt.Fprintf(&b, instructionTemplates[lang], SchemaVersion, maxItems)

	if len(catalog) > 0 {
		if len(catalog) > maxCatalogContext {
			catalog = catalog[:maxCatalogContext]
		}
		if lang == "de" {
			b.WriteString("\n\nBekannte Produkte:\n")
		} else {
			b.WriteString("\n\nKnown products:\n")
		}
		for _, name := range catalog {
			b.WriteString("- ")
			b.WriteString(name)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// BuildPrompt embeds the recognized receipt text in the user turn.
func BuildPrompt(text string) string {
	return fmt.Sprintf("Schema version: %d\n\nReceipt text:\n<<<\n%s\n>>>", SchemaVersion, strings.TrimSpace(text))
}
