package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Category is a broad spending category. The declaration order is the
// enumeration order used to break ties between equal category shares.
type Category int

const (
	CategoryTravel Category = iota
	CategoryTransport
	CategoryFood
	CategoryRestaurants
	CategoryOnline
	CategoryEntertainment
	CategoryUtilities
	CategoryHealth
	CategoryOther

	// NumCategories is the size of the category enumeration.
	NumCategories
)

var categoryNames = [NumCategories]string{
	"travel",
	"transport",
	"food",
	"restaurants",
	"online",
	"entertainment",
	"utilities",
	"health",
	"other",
}

// String returns the lower-case category name.
func (c Category) String() string {
	if c < 0 || c >= NumCategories {
		return "unknown"
	}
	return categoryNames[c]
}

// ShareFeature returns the feature name holding this category's share, e.g. "pct_travel".
func (c Category) ShareFeature() string {
	return "pct_" + c.String()
}

// ParseCategory resolves a category name (case-insensitive).
func ParseCategory(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range categoryNames {
		if name == s {
			return Category(i), true
		}
	}
	return 0, false
}

// Categories returns every category in enumeration order.
func Categories() []Category {
	out := make([]Category, NumCategories)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

// MarshalText encodes the category by name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a category name.
func (c *Category) UnmarshalText(b []byte) error {
	cat, ok := ParseCategory(string(b))
	if !ok {
		return eris.Errorf("model: unknown category %q", string(b))
	}
	*c = cat
	return nil
}
