// Package features derives per-client behavioral features from raw statements.
package features

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/benefit-cli/internal/model"
)

// DefaultKeywords maps each broad category to substrings of raw category text.
// Categories are tried in enumeration order, so earlier categories win.
var DefaultKeywords = map[model.Category][]string{
	model.CategoryTravel:        {"путеш", "отел", "ави", "билет", "тур", "booking", "air", "hotel", "travel"},
	model.CategoryTransport:     {"такси", "метро", "автобус", "самокат", "трансфер", "азс", "авто", "transport", "uber", "bolt", "yandex go"},
	model.CategoryFood:          {"продукт", "супермаркет", "магазин", "едим дома", "supermarket", "grocery"},
	model.CategoryRestaurants:   {"ресторан", "кафе", "бар", "dine", "restaurant"},
	model.CategoryOnline:        {"онлайн", "wildberries", "ozon", "kaspi", "aliexpress", "shop", "marketplace", "internet"},
	model.CategoryEntertainment: {"кино", "театр", "игра", "играем", "смотр", "развлеч", "спорт", "entertain", "game"},
	model.CategoryUtilities:     {"коммун", "жкх", "интернет", "телефон", "связь", "utilities"},
	model.CategoryHealth:        {"аптека", "медици", "стомат", "клиник", "clinic", "health"},
}

// Categorizer maps free-text transaction categories onto the broad enumeration.
type Categorizer struct {
	overrides map[string]model.Category
	keywords  map[model.Category][]string
}

// NewCategorizer builds a categorizer from explicit overrides (raw text to
// category name) layered over DefaultKeywords.
func NewCategorizer(overrides map[string]string) (*Categorizer, error) {
	c := &Categorizer{
		overrides: make(map[string]model.Category, len(overrides)),
		keywords:  DefaultKeywords,
	}
	for raw, name := range overrides {
		cat, ok := model.ParseCategory(name)
		if !ok {
			return nil, eris.Errorf("features: override %q maps to unknown category %q", raw, name)
		}
		c.overrides[normalize(raw)] = cat
	}
	return c, nil
}

// LoadCategoryMap reads a JSON object of raw category text to category name.
func LoadCategoryMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "features: read category map %s", path)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "features: parse category map %s", path)
	}
	return m, nil
}

// Categorize resolves raw text: exact override first, then the first
// category whose keyword occurs in the text, else other.
func (c *Categorizer) Categorize(raw string) model.Category {
	s := normalize(raw)
	if cat, ok := c.overrides[s]; ok {
		return cat
	}
	if s == "" {
		return model.CategoryOther
	}
	for _, cat := range model.Categories() {
		for _, kw := range c.keywords[cat] {
			if strings.Contains(s, kw) {
				return cat
			}
		}
	}
	return model.CategoryOther
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
