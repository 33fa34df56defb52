// Package catalog holds the ordered, immutable set of products evaluated for every client.
package catalog

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/benefit-cli/internal/model"
)

// ErrDuplicateProduct is returned when two catalog entries share a name.
var ErrDuplicateProduct = eris.New("catalog: duplicate product name")

// Catalog is an ordered product list. The order is the tie-break order used by
// ranking. A Catalog never changes after construction and is safe for
// concurrent readers.
type Catalog struct {
	products []model.Product
	index    map[string]int
	hash     string
}

// Entry is the serializable view of one product.
type Entry struct {
	Name   string            `json:"name"`
	Kind   model.FormulaKind `json:"kind"`
	Cap    *float64          `json:"cap"`
	Params model.Formula     `json:"params"`
}

// New validates products and builds a catalog from a private copy of them.
func New(products []model.Product) (*Catalog, error) {
	c := &Catalog{
		products: make([]model.Product, 0, len(products)),
		index:    make(map[string]int, len(products)),
	}

	var errs []string
	for i, p := range products {
		if err := Validate(p); err != nil {
			errs = append(errs, fmt.Sprintf("product %d: %v", i, err))
			continue
		}
		if _, dup := c.index[p.Name]; dup {
			return nil, eris.Wrapf(ErrDuplicateProduct, "catalog: %q", p.Name)
		}
		c.index[p.Name] = len(c.products)
		c.products = append(c.products, copyProduct(p))
	}
	if len(errs) > 0 {
		return nil, eris.Errorf("catalog: validation failed: %s", strings.Join(errs, "; "))
	}

	c.hash = hashEntries(c.Entries())
	return c, nil
}

// Validate checks one product definition for load-time errors.
func Validate(p model.Product) error {
	var errs []string

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, "name is required")
	}
	if p.Formula == nil {
		errs = append(errs, "formula is required")
	}
	if p.Cap != nil && *p.Cap < 0 {
		errs = append(errs, "cap must be >= 0")
	}

	nonNeg := func(name string, v float64) {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	switch f := p.Formula.(type) {
	case model.TravelCashback:
		nonNeg("rate_travel", f.RateTravel)
		nonNeg("rate_transport", f.RateTransport)
	case model.TieredCashback:
		nonNeg("base_rate", f.BaseRate)
		nonNeg("fee_saving_per_transfer", f.FeeSavingPerTransfer)
		for _, t := range f.Tiers {
			nonNeg("tier min_balance", t.MinBalance)
			nonNeg("tier rate", t.Rate)
		}
		for _, b := range f.BonusRates {
			if b.Category < 0 || b.Category >= model.NumCategories {
				errs = append(errs, fmt.Sprintf("unknown bonus category %d", b.Category))
			}
			nonNeg("bonus rate "+b.Category.String(), b.Rate)
		}
	case model.EligibleCategoryCashback:
		if f.TopCategories < 1 {
			errs = append(errs, "top_categories must be >= 1")
		}
		if f.EligibilityFactor < 0 || f.EligibilityFactor > 1 {
			errs = append(errs, "eligibility_factor must be between 0 and 1")
		}
		nonNeg("rate", f.Rate)
		nonNeg("online_entertainment_rate", f.OnlineEntertainmentRate)
	case model.FXSpread:
		nonNeg("spread_rate", f.SpreadRate)
	case model.PassiveIncome:
		nonNeg("annual_rate", f.AnnualRate)
	}

	if len(errs) > 0 {
		name := p.Name
		if name == "" {
			name = "<unnamed>"
		}
		return eris.Errorf("%s: %s", name, strings.Join(errs, "; "))
	}
	return nil
}

// Len returns the number of products.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.products)
}

// Products returns a copy of the products in declaration order.
func (c *Catalog) Products() []model.Product {
	if c == nil {
		return nil
	}
	out := make([]model.Product, len(c.products))
	for i, p := range c.products {
		out[i] = copyProduct(p)
	}
	return out
}

// Product looks up a product by name.
func (c *Catalog) Product(name string) (model.Product, bool) {
	if c == nil {
		return model.Product{}, false
	}
	i, ok := c.index[name]
	if !ok {
		return model.Product{}, false
	}
	return copyProduct(c.products[i]), true
}

// Names returns product names in declaration order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.products))
	for i, p := range c.products {
		out[i] = p.Name
	}
	return out
}

// Entries returns the serializable catalog view in declaration order.
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, len(c.products))
	for i, p := range c.products {
		cp := copyProduct(p)
		out[i] = Entry{Name: cp.Name, Kind: cp.Kind(), Cap: cp.Cap, Params: cp.Formula}
	}
	return out
}

// Hash identifies the catalog contents for run reproducibility.
func (c *Catalog) Hash() string {
	if c == nil {
		return ""
	}
	return c.hash
}

func hashEntries(entries []Entry) string {
	data, err := json.Marshal(entries)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16])
}

func copyProduct(p model.Product) model.Product {
	out := model.Product{Name: p.Name, Formula: p.Formula}
	if p.Cap != nil {
		v := *p.Cap
		out.Cap = &v
	}
	if f, ok := p.Formula.(model.TieredCashback); ok {
		f.Tiers = slices.Clone(f.Tiers)
		f.BonusRates = slices.Clone(f.BonusRates)
		out.Formula = f
	}
	return out
}
