package catalog

import (
	"bytes"
	_ "embed"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/benefit-cli/internal/model"
)

//go:embed default.yaml
var defaultYAML []byte

// DefaultTopCategories is used when an eligible-category product omits top_categories.
const DefaultTopCategories = 3

// Options adjusts a catalog while it is loaded.
type Options struct {
	// EligibilityFactor, when set, replaces the eligibility factor of every
	// eligible-category product.
	EligibilityFactor *float64
}

// File is the on-disk catalog layout.
type File struct {
	Defaults Defaults      `yaml:"defaults"`
	Products []ProductSpec `yaml:"products"`
}

// Defaults apply to every product that leaves the value unset.
type Defaults struct {
	EligibilityFactor float64 `yaml:"eligibility_factor"`
}

// capKeys are the accepted spellings of a product's monthly cap. Either may
// sit on the product or inside its params, but only one may be set.
var capKeys = []string{"cap", "cashback_monthly_cap"}

// ProductSpec is one product as written in YAML. Params are decoded according to Kind.
type ProductSpec struct {
	Name       string    `yaml:"name"`
	Kind       string    `yaml:"kind"`
	Cap        *float64  `yaml:"cap"`
	MonthlyCap *float64  `yaml:"cashback_monthly_cap"`
	Params     yaml.Node `yaml:"params"`
}

type travelParams struct {
	RateTravel    float64 `yaml:"rate_travel"`
	RateTransport float64 `yaml:"rate_transport"`
}

type tieredParams struct {
	BaseRate             float64            `yaml:"base_rate"`
	Tiers                []tierParams       `yaml:"tiers"`
	BonusRates           map[string]float64 `yaml:"bonus_rates"`
	FeeSavingPerTransfer float64            `yaml:"fee_saving_per_transfer"`
}

type tierParams struct {
	MinBalance float64 `yaml:"min_balance"`
	Rate       float64 `yaml:"rate"`
}

type eligibleParams struct {
	TopCategories           int      `yaml:"top_categories"`
	EligibilityFactor       *float64 `yaml:"eligibility_factor"`
	Rate                    float64  `yaml:"rate"`
	OnlineEntertainmentRate float64  `yaml:"online_entertainment_rate"`
}

type fxParams struct {
	SpreadRate float64 `yaml:"spread_rate"`
}

type passiveParams struct {
	AnnualRate float64 `yaml:"annual_rate"`
}

// Load reads a catalog from a YAML file.
func Load(path string, opts Options) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	c, err := Parse(data, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: load %s", path)
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default(opts Options) (*Catalog, error) {
	return Parse(defaultYAML, opts)
}

// Parse decodes catalog YAML. The top-level key is "catalog".
func Parse(data []byte, opts Options) (*Catalog, error) {
	var wrapper struct {
		Catalog File `yaml:"catalog"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&wrapper); err != nil {
		return nil, eris.Wrap(err, "catalog: parse")
	}

	f := wrapper.Catalog
	products := make([]model.Product, 0, len(f.Products))
	for _, spec := range f.Products {
		limit, err := productCap(&spec)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: product %q", spec.Name)
		}
		formula, err := decodeFormula(spec, f.Defaults, opts)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: product %q", spec.Name)
		}
		products = append(products, model.Product{Name: spec.Name, Formula: formula, Cap: limit})
	}
	return New(products)
}

func decodeFormula(spec ProductSpec, defaults Defaults, opts Options) (model.Formula, error) {
	switch model.FormulaKind(spec.Kind) {
	case model.KindTravelCashback:
		var p travelParams
		if err := decodeParams(&spec.Params, &p); err != nil {
			return nil, err
		}
		return model.TravelCashback{RateTravel: p.RateTravel, RateTransport: p.RateTransport}, nil

	case model.KindTieredCashback:
		var p tieredParams
		if err := decodeParams(&spec.Params, &p); err != nil {
			return nil, err
		}
		bonus, err := bonusRates(p.BonusRates)
		if err != nil {
			return nil, err
		}
		tiers := make([]model.Tier, len(p.Tiers))
		for i, t := range p.Tiers {
			tiers[i] = model.Tier{MinBalance: t.MinBalance, Rate: t.Rate}
		}
		return model.TieredCashback{
			BaseRate:             p.BaseRate,
			Tiers:                tiers,
			BonusRates:           bonus,
			FeeSavingPerTransfer: p.FeeSavingPerTransfer,
		}, nil

	case model.KindEligibleCategoryCashback:
		var p eligibleParams
		if err := decodeParams(&spec.Params, &p); err != nil {
			return nil, err
		}
		f := model.EligibleCategoryCashback{
			TopCategories:           p.TopCategories,
			EligibilityFactor:       defaults.EligibilityFactor,
			Rate:                    p.Rate,
			OnlineEntertainmentRate: p.OnlineEntertainmentRate,
		}
		if f.TopCategories == 0 {
			f.TopCategories = DefaultTopCategories
		}
		if p.EligibilityFactor != nil {
			f.EligibilityFactor = *p.EligibilityFactor
		}
		if opts.EligibilityFactor != nil {
			f.EligibilityFactor = *opts.EligibilityFactor
		}
		return f, nil

	case model.KindFXSpread:
		var p fxParams
		if err := decodeParams(&spec.Params, &p); err != nil {
			return nil, err
		}
		return model.FXSpread{SpreadRate: p.SpreadRate}, nil

	case model.KindCashLoan:
		return model.CashLoan{}, nil

	case model.KindPassiveIncome:
		var p passiveParams
		if err := decodeParams(&spec.Params, &p); err != nil {
			return nil, err
		}
		return model.PassiveIncome{AnnualRate: p.AnnualRate}, nil
	}

	zap.L().Warn("catalog: unknown formula kind, product will score zero",
		zap.String("product", spec.Name),
		zap.String("kind", spec.Kind),
	)
	return model.UnknownFormula{Name: model.FormulaKind(spec.Kind)}, nil
}

// productCap resolves the cap from the product-level keys and from cap keys
// inside params, which are removed so the strict params decode accepts the
// rest. Setting more than one of them is an error.
func productCap(spec *ProductSpec) (*float64, error) {
	var (
		limit *float64
		found []string
	)
	take := func(key string, v *float64) {
		found = append(found, key)
		limit = v
	}
	if spec.Cap != nil {
		take("cap", spec.Cap)
	}
	if spec.MonthlyCap != nil {
		take("cashback_monthly_cap", spec.MonthlyCap)
	}

	if spec.Params.Kind == yaml.MappingNode {
		content := spec.Params.Content
		kept := make([]*yaml.Node, 0, len(content))
		for i := 0; i+1 < len(content); i += 2 {
			key, val := content[i], content[i+1]
			if !slices.Contains(capKeys, key.Value) {
				kept = append(kept, key, val)
				continue
			}
			var v *float64
			if err := val.Decode(&v); err != nil {
				return nil, eris.Wrapf(err, "decode params.%s", key.Value)
			}
			if v != nil {
				take("params."+key.Value, v)
			}
		}
		spec.Params.Content = kept
	}

	if len(found) > 1 {
		return nil, eris.Errorf("cap set more than once (%s)", strings.Join(found, ", "))
	}
	return limit, nil
}

// decodeParams decodes a params node strictly so misspelled keys fail the load.
func decodeParams(node *yaml.Node, out any) error {
	if node.Kind == 0 {
		return nil
	}
	raw, err := yaml.Marshal(node)
	if err != nil {
		return eris.Wrap(err, "encode params")
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return eris.Wrap(err, "decode params")
	}
	return nil
}

// bonusRates converts the category map into enumeration order.
func bonusRates(m map[string]float64) ([]model.CategoryRate, error) {
	seen := make(map[model.Category]float64, len(m))
	for name, rate := range m {
		cat, ok := model.ParseCategory(name)
		if !ok {
			return nil, eris.Errorf("unknown bonus category %q", name)
		}
		seen[cat] = rate
	}
	var out []model.CategoryRate
	for _, cat := range model.Categories() {
		if rate, ok := seen[cat]; ok {
			out = append(out, model.CategoryRate{Category: cat, Rate: rate})
		}
	}
	return out, nil
}
