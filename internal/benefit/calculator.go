// Package benefit estimates the monthly value a client would get from a product.
package benefit

import (
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/sells-group/benefit-cli/internal/metrics"
	"github.com/sells-group/benefit-cli/internal/model"
)

// Estimate returns the non-negative monthly benefit of product for client, in
// the client's base currency. Missing features read as zero. An unknown formula
// kind yields 0 and a warning.
func Estimate(client *model.ClientFeatures, product model.Product) float64 {
	if client == nil {
		client = &model.ClientFeatures{}
	}

	var v float64
	switch f := product.Formula.(type) {
	case model.TravelCashback:
		v = travelCashback(client, f)
	case model.TieredCashback:
		v = tieredCashback(client, f)
	case model.EligibleCategoryCashback:
		v = eligibleCategoryCashback(client, f)
	case model.FXSpread:
		v = client.FractionNonKZT * client.TotalSpend * f.SpreadRate
	case model.CashLoan:
		v = 0
	case model.PassiveIncome:
		v = client.Balance() * (f.AnnualRate / 12)
	default:
		kind := string(product.Kind())
		zap.L().Warn("benefit: unknown formula kind",
			zap.String("product", product.Name),
			zap.String("kind", kind),
			zap.String("client_code", client.ClientCode),
		)
		metrics.UnknownFormula.WithLabelValues(kind).Inc()
		return 0
	}

	v = clamp(v)
	if product.Cap != nil {
		v = math.Min(v, clamp(*product.Cap))
	}
	return v
}

// clamp maps NaN, ±Inf and negatives to 0.
func clamp(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func travelCashback(c *model.ClientFeatures, f model.TravelCashback) float64 {
	return c.Spend(model.CategoryTravel)*f.RateTravel +
		c.Spend(model.CategoryTransport)*f.RateTransport
}

func tieredCashback(c *model.ClientFeatures, f model.TieredCashback) float64 {
	v := c.TotalSpend * TierRate(f, c.Balance())
	for _, b := range f.BonusRates {
		v += c.Spend(b.Category) * b.Rate
	}
	v += float64(c.TransfersCount) * f.FeeSavingPerTransfer
	return v
}

// TierRate resolves the rate of the highest tier whose threshold the balance
// meets or exceeds, falling back to the base rate. Tier order does not matter.
func TierRate(f model.TieredCashback, balance float64) float64 {
	rate := f.BaseRate
	best := math.Inf(-1)
	for _, t := range f.Tiers {
		if balance >= t.MinBalance && t.MinBalance > best {
			best = t.MinBalance
			rate = t.Rate
		}
	}
	return rate
}

func eligibleCategoryCashback(c *model.ClientFeatures, f model.EligibleCategoryCashback) float64 {
	var top float64
	for _, cat := range TopCategories(c, f.TopCategories) {
		top += c.Spend(cat)
	}
	oe := c.Spend(model.CategoryOnline) + c.Spend(model.CategoryEntertainment)
	return top*f.EligibilityFactor*f.Rate + oe*f.EligibilityFactor*f.OnlineEntertainmentRate
}

// TopCategories returns the k categories with the largest share, highest
// first. Equal shares keep enumeration order.
func TopCategories(c *model.ClientFeatures, k int) []model.Category {
	if k <= 0 {
		return nil
	}
	cats := model.Categories()
	slices.SortStableFunc(cats, func(a, b model.Category) int {
		sa, sb := shareKey(c.Share(a)), shareKey(c.Share(b))
		switch {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		}
		return 0
	})
	if k > len(cats) {
		k = len(cats)
	}
	return cats[:k]
}

// shareKey orders NaN shares last.
func shareKey(v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	return v
}
