package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// minCompoundHead is the shortest catalog name that may match as the tail of
// a compound word, so "Milch" matches "Vollmilch" but "Ei" never matches "Brei".
const minCompoundHead = 4

// Source enumerates the canonical product names currently known to the store.
type Source interface {
	ProductNames(ctx context.Context) ([]string, error)
}

// Catalog is the set of canonical product names. Lookups ignore case.
type Catalog struct {
	mu    sync.RWMutex
	names map[string]string // folded key -> canonical spelling
}

// New creates a catalog seeded with names. The first spelling of a name wins.
func New(names ...string) *Catalog {
	c := &Catalog{names: make(map[string]string, len(names))}
	for _, name := range names {
		c.Add(name)
	}
	return c
}

// Load builds a catalog from everything src knows about.
func Load(ctx context.Context, src Source) (*Catalog, error) {
	names, err := src.ProductNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return New(names...), nil
}

// Key folds name into the form used for case-insensitive comparison.
func Key(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}

// Add inserts name unless an equivalent spelling is already present.
// It reports whether the catalog grew.
func (c *Catalog) Add(name string) bool {
	key := Key(name)
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.names[key]; ok {
		return false
	}
	c.names[key] = strings.Join(strings.Fields(name), " ")
	return true
}

// Lookup returns the catalog spelling of name.
func (c *Catalog) Lookup(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	canonical, ok := c.names[Key(name)]
	return canonical, ok
}

// Len returns the number of canonical names.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

// Names returns the canonical names sorted by key.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.names))
	for k := range c.names {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = c.names[k]
	}
	return names
}

// modifiers describe a variant of a product without changing what it is.
// Only these may stand beside a catalog name for a candidate to converge on it.
var modifiers = set(
	"bio", "frisch", "fresh", "natur", "mild", "leicht", "light", "extra", "fein", "grob",
	"fettarm", "halbfett", "vollfett", "mager", "voll", "h", "haltbar", "laktosefrei", "lactosefrei",
	"gesalzen", "ungesalzen", "jung", "mittelalt", "ganz", "halb", "geschnitten", "gerieben",
	"weide", "heu",
)

// compoundModifiers may prefix a catalog name inside one word ("Vollmilch").
var compoundModifiers = []string{"voll", "halbfett", "fettarm", "mager", "bio", "frisch", "h", "laktosefrei", "lactosefrei", "weide", "heu"}

// core splits a folded name on spaces and hyphens and drops modifier words.
func core(key string) []string {
	var words []string
	for _, field := range strings.Fields(key) {
		for _, w := range strings.Split(field, "-") {
			if w == "" {
				continue
			}
			if _, ok := modifiers[w]; ok {
				continue
			}
			words = append(words, w)
		}
	}
	return words
}

// Match finds the catalog entry a candidate name refers to. Apart from the
// whole name, a candidate converges on a catalog name only when the words
// left after dropping modifiers are exactly that name ("Butter Mild" ->
// "Butter"), or when its single remaining word is the name behind a modifier
// prefix ("Vollmilch" -> "Milch"). "Butter Kekse" and "Orangensaft" stay
// distinct products. Among several hits the longest catalog name wins, then
// the alphabetically first.
func (c *Catalog) Match(candidate string) (string, bool) {
	if c == nil {
		return "", false
	}
	if canonical, ok := c.Lookup(candidate); ok {
		return canonical, true
	}

	words := core(Key(candidate))
	if len(words) == 0 {
		return "", false
	}
	joined := strings.Join(words, " ")

	c.mu.RLock()
	defer c.mu.RUnlock()

	best := ""
	consider := func(key string) {
		if best == "" ||
			utf8.RuneCountInString(key) > utf8.RuneCountInString(best) ||
			(utf8.RuneCountInString(key) == utf8.RuneCountInString(best) && key < best) {
			best = key
		}
	}

	for key := range c.names {
		if strings.Join(core(key), " ") == joined {
			consider(key)
		}
	}
	if best != "" {
		return c.names[best], true
	}
	if len(words) != 1 {
		return "", false
	}

	word := words[0]
	for key := range c.names {
		if utf8.RuneCountInString(key) < minCompoundHead || strings.ContainsAny(key, " -") {
			continue
		}
		if len(word) > len(key) && strings.HasSuffix(word, key) && isCompoundModifier(strings.TrimSuffix(word, key)) {
			consider(key)
		}
	}
	if best != "" {
		return c.names[best], true
	}
	return "", false
}

func isCompoundModifier(prefix string) bool {
	for _, m := range compoundModifiers {
		if prefix == m {
			return true
		}
	}
	return false
}
