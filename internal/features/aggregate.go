package features

import (
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/benefit-cli/internal/ingest"
	"github.com/sells-group/benefit-cli/internal/model"
)

// DefaultBaseCurrency is the currency that does not count towards fraction_non_kzt_tx.
const DefaultBaseCurrency = "KZT"

// Options configures a Builder.
type Options struct {
	// BaseCurrency defaults to KZT.
	BaseCurrency string
	// Categorizer defaults to keyword matching with no overrides.
	Categorizer *Categorizer
	// Now is the clock used for recency; defaults to time.Now.
	Now func() time.Time
}

// Builder aggregates client bundles into feature records.
type Builder struct {
	baseCurrency string
	categorizer  *Categorizer
	now          func() time.Time
}

// NewBuilder applies defaults to opts.
func NewBuilder(opts Options) *Builder {
	b := &Builder{
		baseCurrency: strings.ToUpper(strings.TrimSpace(opts.BaseCurrency)),
		categorizer:  opts.Categorizer,
		now:          opts.Now,
	}
	if b.baseCurrency == "" {
		b.baseCurrency = DefaultBaseCurrency
	}
	if b.categorizer == nil {
		b.categorizer, _ = NewCategorizer(nil)
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// Build aggregates every bundle, preserving bundle order.
func (b *Builder) Build(bundles []ingest.ClientBundle) []model.ClientFeatures {
	out := make([]model.ClientFeatures, len(bundles))
	for i := range bundles {
		out[i] = b.Aggregate(&bundles[i])
	}
	zap.L().Debug("features: built", zap.Int("clients", len(out)))
	return out
}

// Aggregate derives one client's features.
func (b *Builder) Aggregate(bundle *ingest.ClientBundle) model.ClientFeatures {
	rec := model.ClientFeatures{ClientCode: bundle.ClientCode}

	b.spending(&rec, bundle.Transactions)
	transfers(&rec, bundle.Transfers)
	rec.FractionNonKZT = b.nonBaseFraction(bundle)

	rec.Name, rec.Status = identity(bundle)
	rec.SalaryPresent = salaryPresent(rec.Status, bundle.Transactions)
	if bundle.Profile != nil && bundle.Profile.AvgMonthlyBalance != nil {
		v := *bundle.Profile.AvgMonthlyBalance
		rec.AvgMonthlyBalance = &v
	}
	return rec
}

func (b *Builder) spending(rec *model.ClientFeatures, txs []model.Transaction) {
	if len(txs) == 0 {
		return
	}

	var byCat [model.NumCategories]float64
	amounts := make([]float64, 0, len(txs))
	var last time.Time
	for _, tx := range txs {
		rec.TotalSpend += tx.Amount
		byCat[b.categorizer.Categorize(tx.Category)] += tx.Amount
		amounts = append(amounts, tx.Amount)
		if tx.Date.After(last) {
			last = tx.Date
		}
	}

	rec.TxnCount = len(txs)
	rec.AvgTxn = rec.TotalSpend / float64(len(txs))
	rec.MedianTxn = median(amounts)

	if rec.TotalSpend > 0 {
		for i, v := range byCat {
			rec.Shares[i] = v / rec.TotalSpend
		}
		sorted := byCat[:]
		slices.Sort(sorted)
		slices.Reverse(sorted)
		rec.Top3Share = (sorted[0] + sorted[1] + sorted[2]) / rec.TotalSpend
	}

	if !last.IsZero() {
		days := int(b.now().Sub(last).Hours() / 24)
		rec.DaysSinceLastTx = &days
	}
}

func transfers(rec *model.ClientFeatures, trs []model.Transfer) {
	for _, tr := range trs {
		switch tr.Direction {
		case model.TransferIn:
			rec.SumIn += tr.Amount
		case model.TransferOut:
			rec.SumOut += tr.Amount
		}
	}
	rec.TransfersCount = len(trs)
}

// nonBaseFraction counts rows with a currency value other than the base
// currency, over all rows that carry a currency.
func (b *Builder) nonBaseFraction(bundle *ingest.ClientBundle) float64 {
	var total, foreign int
	count := func(cur string) {
		if cur == "" {
			return
		}
		total++
		if !strings.EqualFold(cur, b.baseCurrency) {
			foreign++
		}
	}
	for _, tx := range bundle.Transactions {
		count(tx.Currency)
	}
	for _, tr := range bundle.Transfers {
		count(tr.Currency)
	}
	if total == 0 {
		return 0
	}
	return float64(foreign) / float64(total)
}

// identity returns the first name and status, preferring the profile.
func identity(bundle *ingest.ClientBundle) (string, string) {
	var name, status string
	if p := bundle.Profile; p != nil {
		name, status = p.Name, p.Status
	}
	for _, tx := range bundle.Transactions {
		if name == "" && tx.Name != "" {
			name = tx.Name
		}
		if status == "" && tx.Status != "" {
			status = tx.Status
		}
	}
	if fields := strings.Fields(name); len(fields) > 0 {
		name = fields[0]
	}
	return name, status
}

func salaryPresent(status string, txs []model.Transaction) bool {
	if isSalaryStatus(status) {
		return true
	}
	for _, tx := range txs {
		if isSalaryStatus(tx.Status) {
			return true
		}
	}
	return false
}

func isSalaryStatus(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "зп") || strings.Contains(s, "зарплат")
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := slices.Clone(v)
	slices.Sort(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
