package model

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/rotisserie/eris"
)

var (
	// ErrUnknownFeature is returned when a feature name is not part of the FeatureSet.
	ErrUnknownFeature = eris.New("model: unknown feature")
	// ErrInvalidFeature is returned when a value cannot be stored in a feature:
	// non-finite values, and counts that are negative, fractional or too large.
	ErrInvalidFeature = eris.New("model: invalid feature value")
)

// maxCount is the largest count feature accepted; every integer up to it is
// exact in a float64.
const maxCount = 1 << 53

// ClientFeatures is the per-client behavioral feature record produced by the
// feature engineering stage. It is passed by value into the benefit calculator
// and never mutated there.
type ClientFeatures struct {
	ClientCode string
	Name       string
	Status     string

	TotalSpend float64
	Shares     [NumCategories]float64

	SumIn  float64
	SumOut float64

	// AvgMonthlyBalance is nil when the upstream data had no balance; Balance()
	// then falls back to the net inflow proxy.
	AvgMonthlyBalance *float64

	FractionNonKZT float64
	TransfersCount int

	TxnCount      int
	AvgTxn        float64
	MedianTxn     float64
	Top3Share     float64
	SalaryPresent bool

	DaysSinceLastTx *int
}

// Share returns the spend share of a category in [0,1] as recorded.
func (c *ClientFeatures) Share(cat Category) float64 {
	if cat < 0 || cat >= NumCategories {
		return 0
	}
	return c.Shares[cat]
}

// Spend returns the absolute spend attributed to a category.
func (c *ClientFeatures) Spend(cat Category) float64 {
	return c.Share(cat) * c.TotalSpend
}

// Balance returns avg_monthly_balance_kzt, or max(0, sum_in - sum_out) when absent.
func (c *ClientFeatures) Balance() float64 {
	if c.AvgMonthlyBalance != nil {
		return *c.AvgMonthlyBalance
	}
	return NetFlowBalance(c.SumIn, c.SumOut)
}

// NetFlow returns sum_in - sum_out (may be negative).
func (c *ClientFeatures) NetFlow() float64 {
	return c.SumIn - c.SumOut
}

// NetFlowBalance is the idle-balance proxy used when no balance is reported.
func NetFlowBalance(sumIn, sumOut float64) float64 {
	return math.Max(0, sumIn-sumOut)
}

// Get reads a feature by name. Absent optional features read as their default.
func (c *ClientFeatures) Get(name string) (float64, error) {
	f, ok := LookupFeature(name)
	if !ok {
		return 0, eris.Wrapf(ErrUnknownFeature, "get %q", name)
	}
	return f.get(c), nil
}

// Set writes a feature by name. The record is left unchanged when v is
// rejected.
func (c *ClientFeatures) Set(name string, v float64) error {
	f, ok := LookupFeature(name)
	if !ok {
		return eris.Wrapf(ErrUnknownFeature, "set %q", name)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return eris.Wrapf(ErrInvalidFeature, "set %q: %v is not finite", name, v)
	}
	if f.count {
		if err := checkCount(v); err != nil {
			return eris.Wrapf(err, "set %q", name)
		}
	}
	f.set(c, v)
	return nil
}

func checkCount(v float64) error {
	switch {
	case v < 0:
		return eris.Wrapf(ErrInvalidFeature, "%v is negative", v)
	case v != math.Trunc(v):
		return eris.Wrapf(ErrInvalidFeature, "%v is not a whole number", v)
	case v > maxCount:
		return eris.Wrapf(ErrInvalidFeature, "%v is out of range", v)
	}
	return nil
}

// MarshalJSON flattens the record into feature-name keys.
func (c ClientFeatures) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(featureSet)+3)
	out["client_code"] = c.ClientCode
	if c.Name != "" {
		out["name"] = c.Name
	}
	if c.Status != "" {
		out["status"] = c.Status
	}
	for _, f := range featureSet {
		if f.optional && !f.present(&c) {
			continue
		}
		out[f.Name] = f.get(&c)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts a flat object keyed by feature names. The client code
// may be a string or a number. Unknown keys are rejected.
func (c *ClientFeatures) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: decode client features")
	}

	var rec ClientFeatures
	for key, val := range raw {
		switch key {
		case "client_code":
			code, err := decodeCode(val)
			if err != nil {
				return err
			}
			rec.ClientCode = code
		case "name":
			if err := json.Unmarshal(val, &rec.Name); err != nil {
				return eris.Wrap(err, "model: decode name")
			}
		case "status":
			if err := json.Unmarshal(val, &rec.Status); err != nil {
				return eris.Wrap(err, "model: decode status")
			}
		default:
			if string(val) == "null" {
				continue
			}
			var v float64
			if err := json.Unmarshal(val, &v); err != nil {
				return eris.Wrapf(err, "model: decode feature %q", key)
			}
			if err := rec.Set(key, v); err != nil {
				return err
			}
		}
	}
	*c = rec
	return nil
}

func decodeCode(val json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(val, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(val, &n); err != nil {
		return "", eris.Wrap(err, "model: decode client_code")
	}
	return n.String(), nil
}

// Feature describes one recognised feature column. Every feature defaults to
// zero when absent from the source record.
type Feature struct {
	Name     string
	optional bool
	// count features hold non-negative integers.
	count    bool
	get      func(*ClientFeatures) float64
	set      func(*ClientFeatures, float64)
	present  func(*ClientFeatures) bool
}

var (
	featureSet   []Feature
	featureIndex map[string]int
)

func init() {
	featureSet = []Feature{
		floatFeature("total_spend", func(c *ClientFeatures) *float64 { return &c.TotalSpend }),
	}
	for _, cat := range Categories() {
		featureSet = append(featureSet, floatFeature(cat.ShareFeature(), func(c *ClientFeatures) *float64 { return &c.Shares[cat] }))
	}
	featureSet = append(featureSet,
		floatFeature("sum_in", func(c *ClientFeatures) *float64 { return &c.SumIn }),
		floatFeature("sum_out", func(c *ClientFeatures) *float64 { return &c.SumOut }),
		Feature{
			Name:     "avg_monthly_balance_kzt",
			optional: true,
			get: func(c *ClientFeatures) float64 {
				if c.AvgMonthlyBalance == nil {
					return 0
				}
				return *c.AvgMonthlyBalance
			},
			set:     func(c *ClientFeatures, v float64) { c.AvgMonthlyBalance = &v },
			present: func(c *ClientFeatures) bool { return c.AvgMonthlyBalance != nil },
		},
		floatFeature("fraction_non_kzt_tx", func(c *ClientFeatures) *float64 { return &c.FractionNonKZT }),
		intFeature("transfers_count", func(c *ClientFeatures) *int { return &c.TransfersCount }),
		intFeature("txn_count", func(c *ClientFeatures) *int { return &c.TxnCount }),
		floatFeature("avg_txn", func(c *ClientFeatures) *float64 { return &c.AvgTxn }),
		floatFeature("median_txn", func(c *ClientFeatures) *float64 { return &c.MedianTxn }),
		floatFeature("top3_share", func(c *ClientFeatures) *float64 { return &c.Top3Share }),
		Feature{
			Name: "salary_present",
			get: func(c *ClientFeatures) float64 {
				if c.SalaryPresent {
					return 1
				}
				return 0
			},
			set:     func(c *ClientFeatures, v float64) { c.SalaryPresent = v != 0 },
			present: func(*ClientFeatures) bool { return true },
		},
		Feature{
			Name:     "days_since_last_tx",
			optional: true,
			count:    true,
			get: func(c *ClientFeatures) float64 {
				if c.DaysSinceLastTx == nil {
					return 0
				}
				return float64(*c.DaysSinceLastTx)
			},
			set: func(c *ClientFeatures, v float64) {
				d := int(v)
				c.DaysSinceLastTx = &d
			},
			present: func(c *ClientFeatures) bool { return c.DaysSinceLastTx != nil },
		},
	)

	featureIndex = make(map[string]int, len(featureSet))
	for i, f := range featureSet {
		featureIndex[f.Name] = i
	}
}

func floatFeature(name string, field func(*ClientFeatures) *float64) Feature {
	return Feature{
		Name:    name,
		get:     func(c *ClientFeatures) float64 { return *field(c) },
		set:     func(c *ClientFeatures, v float64) { *field(c) = v },
		present: func(*ClientFeatures) bool { return true },
	}
}

func intFeature(name string, field func(*ClientFeatures) *int) Feature {
	return Feature{
		Name:    name,
		count:   true,
		get:     func(c *ClientFeatures) float64 { return float64(*field(c)) },
		set:     func(c *ClientFeatures, v float64) { *field(c) = int(v) },
		present: func(*ClientFeatures) bool { return true },
	}
}

// LookupFeature returns the feature descriptor for a name.
func LookupFeature(name string) (Feature, bool) {
	i, ok := featureIndex[name]
	if !ok {
		return Feature{}, false
	}
	return featureSet[i], true
}

// FeatureNames returns every recognised feature name in column order.
func FeatureNames() []string {
	out := make([]string, len(featureSet))
	for i, f := range featureSet {
		out[i] = f.Name
	}
	return out
}

// FormatFeature renders a feature value for tabular export. Optional features
// that are absent render as an empty string.
func (c *ClientFeatures) FormatFeature(name string) string {
	f, ok := LookupFeature(name)
	if !ok {
		return ""
	}
	if f.optional && !f.present(c) {
		return ""
	}
	return strconv.FormatFloat(f.get(c), 'f', -1, 64)
}
