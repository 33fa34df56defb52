// Package ranking turns per-product benefit estimates into a Top-N recommendation per client.
package ranking

import (
	"context"
	"runtime"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/benefit-cli/internal/benefit"
	"github.com/sells-group/benefit-cli/internal/catalog"
	"github.com/sells-group/benefit-cli/internal/metrics"
	"github.com/sells-group/benefit-cli/internal/model"
)

// ErrInvalidTopN is returned when topN is less than 1.
var ErrInvalidTopN = eris.New("ranking: top_n must be >= 1")

// Result holds the ranked view and the complete benefit map, both in client input order.
type Result struct {
	TopN            int                    `json:"top_n"`
	Products        []string               `json:"products"`
	Recommendations []model.Recommendation `json:"recommendations"`
	Benefits        []model.ClientBenefits `json:"benefits"`
}

// Len returns the number of ranked clients.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Recommendations)
}

// Rank scores every client against every product once, sorts by benefit
// descending with catalog order breaking ties, and keeps the first topN.
func Rank(clients []model.ClientFeatures, cat *catalog.Catalog, topN int) (*Result, error) {
	if topN < 1 {
		return nil, eris.Wrapf(ErrInvalidTopN, "ranking: got %d", topN)
	}
	start := time.Now()

	products := cat.Products()
	res := newResult(len(clients), products, topN)
	for i := range clients {
		res.Benefits[i], res.Recommendations[i] = rankClient(&clients[i], products, topN)
	}

	observe(res, start)
	return res, nil
}

// RankParallel is Rank spread over a bounded worker pool. Results are written
// by client index so output is identical to Rank for any worker count.
// workers <= 0 uses GOMAXPROCS.
func RankParallel(ctx context.Context, clients []model.ClientFeatures, cat *catalog.Catalog, topN, workers int) (*Result, error) {
	if topN < 1 {
		return nil, eris.Wrapf(ErrInvalidTopN, "ranking: got %d", topN)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	start := time.Now()

	products := cat.Products()
	res := newResult(len(clients), products, topN)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range clients {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res.Benefits[i], res.Recommendations[i] = rankClient(&clients[i], products, topN)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "ranking: parallel rank")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "ranking: parallel rank")
	}

	observe(res, start)
	return res, nil
}

func newResult(n int, products []model.Product, topN int) *Result {
	names := make([]string, len(products))
	for i, p := range products {
		names[i] = p.Name
	}
	return &Result{
		TopN:            topN,
		Products:        names,
		Recommendations: make([]model.Recommendation, n),
		Benefits:        make([]model.ClientBenefits, n),
	}
}

func rankClient(c *model.ClientFeatures, products []model.Product, topN int) (model.ClientBenefits, model.Recommendation) {
	all := make([]model.ProductBenefit, len(products))
	for j, p := range products {
		all[j] = model.ProductBenefit{Product: p.Name, Benefit: benefit.Estimate(c, p)}
	}

	sorted := slices.Clone(all)
	SortByBenefit(sorted)

	k := min(topN, len(sorted))
	return model.ClientBenefits{ClientCode: c.ClientCode, Benefits: all},
		model.Recommendation{ClientCode: c.ClientCode, TopN: topN, Top: sorted[:k:k]}
}

// SortByBenefit orders benefits descending. The sort is stable, so entries
// with equal benefit keep their input order.
func SortByBenefit(pbs []model.ProductBenefit) {
	slices.SortStableFunc(pbs, func(a, b model.ProductBenefit) int {
		switch {
		case a.Benefit > b.Benefit:
			return -1
		case a.Benefit < b.Benefit:
			return 1
		}
		return 0
	})
}

func observe(res *Result, start time.Time) {
	elapsed := time.Since(start)
	metrics.ClientsRanked.Add(float64(res.Len()))
	metrics.RankDuration.Observe(elapsed.Seconds())
	zap.L().Debug("ranking: complete",
		zap.Int("clients", res.Len()),
		zap.Int("products", len(res.Products)),
		zap.Int("top_n", res.TopN),
		zap.Duration("elapsed", elapsed),
	)
}
