package model

// FormulaKind names a benefit rule as written in catalog files.
type FormulaKind string

const (
	KindTravelCashback           FormulaKind = "travel_cashback"
	KindTieredCashback           FormulaKind = "tiered_cashback"
	KindEligibleCategoryCashback FormulaKind = "eligible_category_cashback"
	KindFXSpread                 FormulaKind = "fx_spread"
	KindCashLoan                 FormulaKind = "cash_loan"
	KindPassiveIncome            FormulaKind = "passive_income"
)

// Formula is the closed set of benefit rules. Each variant carries its own
// typed parameters; the marker method keeps implementations inside this package.
type Formula interface {
	Kind() FormulaKind
	isFormula()
}

// TravelCashback rewards travel and transport spend.
type TravelCashback struct {
	RateTravel    float64 `json:"rate_travel"`
	RateTransport float64 `json:"rate_transport"`
}

// Tier selects Rate once the client's balance reaches MinBalance.
type Tier struct {
	MinBalance float64 `json:"min_balance"`
	Rate       float64 `json:"rate"`
}

// CategoryRate is a bonus cashback rate on one category.
type CategoryRate struct {
	Category Category `json:"category"`
	Rate     float64  `json:"rate"`
}

// TieredCashback is a balance-tiered general cashback with category bonuses
// and a per-transfer fee saving.
type TieredCashback struct {
	BaseRate             float64        `json:"base_rate"`
	Tiers                []Tier         `json:"tiers"`
	BonusRates           []CategoryRate `json:"bonus_rates"`
	FeeSavingPerTransfer float64        `json:"fee_saving_per_transfer"`
}

// EligibleCategoryCashback pays Rate on the eligible part of the client's
// favourite categories, plus OnlineEntertainmentRate on the eligible part of
// online and entertainment spend.
type EligibleCategoryCashback struct {
	TopCategories           int     `json:"top_categories"`
	EligibilityFactor       float64 `json:"eligibility_factor"`
	Rate                    float64 `json:"rate"`
	OnlineEntertainmentRate float64 `json:"online_entertainment_rate"`
}

// FXSpread estimates savings on currency conversion.
type FXSpread struct {
	SpreadRate float64 `json:"spread_rate"`
}

// CashLoan is a debt product; it never yields a positive benefit.
type CashLoan struct{}

// PassiveIncome accrues AnnualRate/12 per month on the idle balance.
type PassiveIncome struct {
	AnnualRate float64 `json:"annual_rate"`
}

// UnknownFormula keeps a catalog entry whose kind has no rule. It always
// yields zero benefit.
type UnknownFormula struct {
	Name FormulaKind `json:"name"`
}

func (TravelCashback) Kind() FormulaKind           { return KindTravelCashback }
func (TieredCashback) Kind() FormulaKind           { return KindTieredCashback }
func (EligibleCategoryCashback) Kind() FormulaKind { return KindEligibleCategoryCashback }
func (FXSpread) Kind() FormulaKind                 { return KindFXSpread }
func (CashLoan) Kind() FormulaKind                 { return KindCashLoan }
func (PassiveIncome) Kind() FormulaKind            { return KindPassiveIncome }
func (u UnknownFormula) Kind() FormulaKind         { return u.Name }

func (TravelCashback) isFormula()           {}
func (TieredCashback) isFormula()           {}
func (EligibleCategoryCashback) isFormula() {}
func (FXSpread) isFormula()                 {}
func (CashLoan) isFormula()                 {}
func (PassiveIncome) isFormula()            {}
func (UnknownFormula) isFormula()           {}

// Product is one catalog entry. Products are immutable once a catalog is built.
type Product struct {
	Name    string
	Formula Formula
	// Cap is the optional monthly benefit ceiling; nil means uncapped.
	Cap *float64
}

// Kind returns the product's formula kind.
func (p Product) Kind() FormulaKind {
	if p.Formula == nil {
		return ""
	}
	return p.Formula.Kind()
}
