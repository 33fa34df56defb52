package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-cli/internal/catalog"
	"github.com/sells-group/benefit-cli/internal/cost"
	"github.com/sells-group/benefit-cli/internal/features"
	"github.com/sells-group/benefit-cli/internal/push"
	"github.com/sells-group/benefit-cli/internal/resilience"
	"github.com/sells-group/benefit-cli/internal/store"
	anthropicpkg "github.com/sells-group/benefit-cli/pkg/anthropic"
)

// initStore opens the configured run store. A nil Store means persistence
// is disabled.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if st == nil {
		zap.L().Info("store disabled, runs will not be recorded")
	}
	return st, nil
}

// loadCatalog reads the catalog from path, falling back to the configured
// path and then the built-in catalog. A non-nil factor, or else a configured
// ranking.eligibility_factor, overrides every product's eligibility factor;
// zero is a valid override.
func loadCatalog(path string, factor *float64) (*catalog.Catalog, error) {
	if path == "" {
		path = cfg.Ranking.CatalogPath
	}
	if factor == nil && cfg.Ranking.EligibilityFactorSet {
		v := cfg.Ranking.EligibilityFactor
		factor = &v
	}

	opts := catalog.Options{EligibilityFactor: factor}
	if path == "" {
		return catalog.Default(opts)
	}
	return catalog.Load(path, opts)
}

// eligibilityFactorFlag returns the --eligibility-factor value when the flag
// was given, nil otherwise.
func eligibilityFactorFlag(cmd *cobra.Command) (*float64, error) {
	if !cmd.Flags().Changed("eligibility-factor") {
		return nil, nil
	}
	v, err := cmd.Flags().GetFloat64("eligibility-factor")
	if err != nil {
		return nil, eris.Wrap(err, "read --eligibility-factor")
	}
	if v < 0 {
		return nil, eris.New("--eligibility-factor must be >= 0")
	}
	return &v, nil
}

// newFeatureBuilder builds the statement aggregator from config.
func newFeatureBuilder() (*features.Builder, error) {
	var overrides map[string]string
	if p := cfg.Features.CategoryMapPath; p != "" {
		m, err := features.LoadCategoryMap(p)
		if err != nil {
			return nil, err
		}
		overrides = m
	}
	categorizer, err := features.NewCategorizer(overrides)
	if err != nil {
		return nil, err
	}
	return features.NewBuilder(features.Options{
		BaseCurrency: cfg.Features.BaseCurrency,
		Categorizer:  categorizer,
	}), nil
}

// newGenerator builds the push generator. refine attaches the Anthropic
// refiner and returns the tracker its spend is recorded in.
func newGenerator(cat *catalog.Catalog, refine bool) (*push.Generator, *cost.Tracker, error) {
	opts := push.Options{
		Currency:    cfg.Push.Currency,
		MaxLength:   cfg.Push.MaxLength,
		Concurrency: cfg.Push.Concurrency,
	}
	var costs *cost.Tracker
	if refine {
		if cfg.Anthropic.Key == "" {
			return nil, nil, eris.New("anthropic key is required for push refinement (BENEFIT_ANTHROPIC_KEY)")
		}
		rates := cost.Rates{}
		for model, p := range cfg.Anthropic.Pricing {
			rates[model] = cost.ModelRate{Input: p.Input, Output: p.Output}
		}
		costs = cost.NewTracker(cost.NewCalculator(rates))
		opts.Refiner = push.NewLLMRefiner(anthropicpkg.NewClient(cfg.Anthropic.Key), push.LLMConfig{
			Model:             cfg.Anthropic.Model,
			MaxTokens:         cfg.Anthropic.MaxTokens,
			RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
			MaxLength:         cfg.Push.MaxLength,
			Retry: resilience.FromConfig(
				cfg.Retry.MaxAttempts,
				cfg.Retry.InitialBackoffMs,
				cfg.Retry.MaxBackoffMs,
			),
			Costs: costs,
		})
	}
	return push.NewGenerator(cat, opts), costs, nil
}
