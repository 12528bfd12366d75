package catalog

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// 1L, 500g, 1,5l, 6x0,33l, 3.5%, 10er, 2x
	quantityToken = regexp.MustCompile(`^(\d+[x×])?\d+([.,]\d+)?(kg|g|gr|mg|l|ltr|ml|cl|dl|st|stk|stück|er|pk|pck|%)?$|^\d+[x×]$`)

	unitWords = set("kg", "g", "gr", "mg", "l", "ltr", "ml", "cl", "dl", "x", "×", "st", "stk", "stück", "%")

	defaultBrands = []string{
		"ja natürlich", "ja", "clever", "billa", "billa bio", "merkur", "spar", "s-budget", "spar natur pur",
		"spar premium", "hofer", "milfina", "milbona", "lidl", "k-classic", "kaufland", "rewe", "rewe bio",
		"gut günstig", "edeka", "aldi", "alnatura", "zurück zum ursprung", "penny", "nöm", "schärdinger",
		"berglandmilch", "landliebe", "weihenstephan", "müller", "ehrmann", "zott", "danone", "barilla",
		"milka", "nestlé", "dr oetker", "ritter sport", "iglo", "knorr", "maggi", "rama", "haribo",
		"coca-cola", "tchibo", "jacobs", "dallmayr", "bärenmarke", "vegavita", "dmbio", "enerbio",
	}

	defaultPackaging = []string{
		"packung", "pkg", "pack", "flasche", "fl", "dose", "ds", "becher", "glas", "tüte", "beutel", "btl",
		"karton", "netz", "schale", "tray", "tube", "kiste", "kasten", "bund", "einweg", "mehrweg", "stange",
	}

	defaultQualifiers = []string{
		"bio", "organic", "natürlich", "frisch", "fresh", "regional", "österreich", "österr", "deutschland",
		"aus", "premium", "classic", "klassik", "original", "natur", "gentechnikfrei", "fairtrade", "demeter",
		"vegan", "light", "extra", "neu", "aktion", "angebot", "lose", "gekühlt", "tiefgekühlt", "tk",
		"ungekühlt", "haltbar", "länger", "frische",
	}
)

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Normalizer derives canonical product names from receipt line names.
type Normalizer struct {
	// phrases are token sequences removed wherever they occur, longest first.
	phrases [][]string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithNoiseWords adds extra brand, packaging or qualifier words or phrases.
func WithNoiseWords(words ...string) Option {
	return func(n *Normalizer) {
		n.addPhrases(words)
	}
}

// NewNormalizer creates a normalizer using the built-in noise vocabulary plus opts.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{}
	n.addPhrases(defaultBrands)
	n.addPhrases(defaultPackaging)
	n.addPhrases(defaultQualifiers)
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Normalizer) addPhrases(words []string) {
	for _, w := range words {
		tokens := tokenize(w)
		if len(tokens) == 0 {
			continue
		}
		for i := range tokens {
			tokens[i] = Key(tokens[i])
		}
		n.phrases = append(n.phrases, tokens)
	}
	// Longer phrases must win over their own prefixes ("ja natürlich" over "ja").
	for i := 1; i < len(n.phrases); i++ {
		for j := i; j > 0 && len(n.phrases[j]) > len(n.phrases[j-1]); j-- {
			n.phrases[j], n.phrases[j-1] = n.phrases[j-1], n.phrases[j]
		}
	}
}

var defaultNormalizer = NewNormalizer()

// Normalize canonicalizes raw with the built-in vocabulary.
func Normalize(raw string, cat *Catalog) string {
	return defaultNormalizer.Normalize(raw, cat)
}

// Normalize returns the canonical name for raw. An existing catalog spelling
// always wins over the derived one. Only a blank raw yields "".
func (n *Normalizer) Normalize(raw string, cat *Catalog) string {
	trimmed := strings.Join(strings.Fields(raw), " ")
	if trimmed == "" {
		return ""
	}
	if canonical, ok := cat.Lookup(trimmed); ok {
		return canonical
	}

	derived := n.strip(trimmed)
	if derived == "" {
		if canonical, ok := cat.Match(trimmed); ok {
			return canonical
		}
		return trimmed
	}
	derived = cases.Title(language.German).String(derived)

	if canonical, ok := cat.Match(derived); ok {
		return canonical
	}
	return derived
}

// strip removes brand, packaging, qualifier and quantity tokens.
func (n *Normalizer) strip(name string) string {
	tokens := tokenize(name)
	keys := make([]string, len(tokens))
	for i, t := range tokens {
		keys[i] = Key(t)
	}

	drop := make([]bool, len(tokens))
	for i := range keys {
		if quantityToken.MatchString(keys[i]) {
			drop[i] = true
			continue
		}
		if _, ok := unitWords[keys[i]]; ok {
			drop[i] = true
		}
	}
	for i := 0; i < len(keys); i++ {
		for _, phrase := range n.phrases {
			if matchesAt(keys, i, phrase) {
				for j := range phrase {
					drop[i+j] = true
				}
				break
			}
		}
	}

	kept := make([]string, 0, len(tokens))
	for i, t := range tokens {
		if !drop[i] {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, " ")
}

func matchesAt(keys []string, i int, phrase []string) bool {
	if i+len(phrase) > len(keys) {
		return false
	}
	for j, p := range phrase {
		if keys[i+j] != p {
			return false
		}
	}
	return true
}

// tokenize splits on whitespace and trims punctuation around each word.
// Words made only of punctuation ("&", "-") disappear.
func tokenize(s string) []string {
	fields := strings.Fields(s)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.TrimFunc(f, func(r rune) bool {
			return (unicode.IsPunct(r) || unicode.IsSymbol(r)) && r != '%'
		})
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}
