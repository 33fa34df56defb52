package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-cli/internal/cost"
	"github.com/sells-group/benefit-cli/internal/export"
	"github.com/sells-group/benefit-cli/internal/ingest"
	"github.com/sells-group/benefit-cli/internal/model"
	"github.com/sells-group/benefit-cli/internal/ranking"
	"github.com/sells-group/benefit-cli/internal/store"
)

// rankOptions holds the rank command's inputs after flag and config merging.
type rankOptions struct {
	Input             string
	FeaturesFile      string
	OutDir            string
	CatalogPath       string
	EligibilityFactor *float64
	TopN              int
	Workers           int
	XLSX              bool
	PerClientJSON     bool
	Push              bool
	Refine            bool
	Persist           bool
}

// summaryRows bounds the per-client table printed after a run.
const summaryRows = 20

// rankSummary describes a completed rank run.
type rankSummary struct {
	RunID    string
	Clients  int
	Products int
	TopN     int
	Files    []string
	Elapsed  time.Duration
	Result   *ranking.Result
	Cost     cost.Summary
}

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank products for every client and export recommendations",
	Long:  "Runs the full pipeline: ingest statements (or read precomputed features), aggregate features, estimate benefits, rank the Top-N, draft push texts, export outputs and record the run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("rank"); err != nil {
			return err
		}

		opts, err := rankOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		summary, err := runRank(cmd.Context(), opts)
		if err != nil {
			return err
		}
		printRankSummary(os.Stdout, summary)
		return nil
	},
}

func init() {
	f := rankCmd.Flags()
	f.String("input", "", "statements source: CSV dir, CSV, ZIP, XLSX or ftp:// URL")
	f.String("features", "", "precomputed features file (CSV, XLSX or JSON); skips aggregation")
	f.String("out", "", "output directory (default from config)")
	f.String("catalog", "", "catalog YAML (default from config, else built-in)")
	f.Float64("eligibility-factor", 0, "override every product's eligibility factor")
	f.Int("top-n", 0, "products per client (default from config)")
	f.Int("workers", 0, "parallel ranking workers (default from config)")
	f.Bool("xlsx", false, "also write recommendations.xlsx")
	f.Bool("no-per-client", false, "skip per-client JSON reports")
	f.Bool("no-push", false, "skip push notification texts")
	f.Bool("refine", false, "rewrite push texts through Anthropic")
	f.Bool("no-store", false, "do not record the run")
	rankCmd.MarkFlagsMutuallyExclusive("input", "features")
	rootCmd.AddCommand(rankCmd)
}

func rankOptionsFromFlags(cmd *cobra.Command) (rankOptions, error) {
	f := cmd.Flags()
	opts := rankOptions{
		OutDir:        cfg.Export.Dir,
		TopN:          cfg.Ranking.TopN,
		Workers:       cfg.Ranking.Workers,
		XLSX:          cfg.Export.XLSX,
		PerClientJSON: cfg.Export.PerClientJSON,
		Push:          cfg.Push.Enabled,
		Refine:        cfg.Push.Refine,
		Persist:       true,
	}
	opts.Input, _ = f.GetString("input")
	opts.FeaturesFile, _ = f.GetString("features")
	opts.CatalogPath, _ = f.GetString("catalog")
	factor, err := eligibilityFactorFlag(cmd)
	if err != nil {
		return opts, err
	}
	opts.EligibilityFactor = factor

	if v, _ := f.GetString("out"); v != "" {
		opts.OutDir = v
	}
	if v, _ := f.GetInt("top-n"); v != 0 {
		opts.TopN = v
	}
	if v, _ := f.GetInt("workers"); v != 0 {
		opts.Workers = v
	}
	if v, _ := f.GetBool("xlsx"); v {
		opts.XLSX = true
	}
	if v, _ := f.GetBool("no-per-client"); v {
		opts.PerClientJSON = false
	}
	if v, _ := f.GetBool("no-push"); v {
		opts.Push = false
	}
	if v, _ := f.GetBool("refine"); v {
		opts.Refine = true
	}
	if v, _ := f.GetBool("no-store"); v {
		opts.Persist = false
	}

	if opts.Input == "" && opts.FeaturesFile == "" {
		return opts, eris.New("one of --input or --features is required")
	}
	if opts.TopN < 1 {
		return opts, eris.Errorf("--top-n must be >= 1, got %d", opts.TopN)
	}
	return opts, nil
}

// runRank executes the rank pipeline. The run is recorded when a store is
// configured and opts.Persist is set; a failure after the run is created
// marks it failed.
func runRank(ctx context.Context, opts rankOptions) (*rankSummary, error) {
	start := time.Now()

	cat, err := loadCatalog(opts.CatalogPath, opts.EligibilityFactor)
	if err != nil {
		return nil, err
	}

	var st store.Store
	if opts.Persist {
		st, err = initStore(ctx)
		if err != nil {
			return nil, err
		}
	}
	if st != nil {
		defer st.Close() //nolint:errcheck
	}

	source := opts.Input
	if source == "" {
		source = opts.FeaturesFile
	}

	var run *model.Run
	if st != nil {
		run, err = st.CreateRun(ctx, store.RunSpec{CatalogHash: cat.Hash(), TopN: opts.TopN, Source: source})
		if err != nil {
			return nil, eris.Wrap(err, "rank: create run")
		}
	}
	fail := func(cause error) error {
		if run != nil {
			if err := st.FailRun(ctx, run.ID, cause); err != nil {
				zap.L().Warn("rank: mark run failed", zap.String("run_id", run.ID), zap.Error(err))
			}
		}
		return cause
	}

	clients, err := loadClients(ctx, opts)
	if err != nil {
		return nil, fail(err)
	}
	if len(clients) == 0 {
		return nil, fail(eris.Errorf("rank: no clients in %s", source))
	}

	res, err := ranking.RankParallel(ctx, clients, cat, opts.TopN, opts.Workers)
	if err != nil {
		return nil, fail(err)
	}

	var (
		pushes     []string
		refineCost cost.Summary
	)
	if opts.Push {
		gen, tracker, err := newGenerator(cat, opts.Refine)
		if err != nil {
			return nil, fail(err)
		}
		pushes = gen.Messages(ctx, clients, res.Recommendations)
		tracker.Log("push")
		refineCost = tracker.Summary()
	}

	files, err := export.Write(export.Options{
		Dir:           opts.OutDir,
		XLSX:          opts.XLSX,
		PerClientJSON: opts.PerClientJSON,
	}, export.Bundle{Result: res, Clients: clients, Pushes: pushes})
	if err != nil {
		return nil, fail(err)
	}

	summary := &rankSummary{
		Clients:  res.Len(),
		Products: len(res.Products),
		TopN:     res.TopN,
		Files:    files,
		Result:   res,
		Cost:     refineCost,
	}

	if run != nil {
		if err := st.SaveResult(ctx, run.ID, res, pushes); err != nil {
			return nil, fail(err)
		}
		if err := st.CompleteRun(ctx, run.ID, summary.Clients, summary.Products); err != nil {
			return nil, eris.Wrap(err, "rank: complete run")
		}
		summary.RunID = run.ID
	}

	summary.Elapsed = time.Since(start)
	zap.L().Info("rank: complete",
		zap.String("run_id", summary.RunID),
		zap.Int("clients", summary.Clients),
		zap.Int("products", summary.Products),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

// loadClients reads precomputed features or aggregates raw statements.
func loadClients(ctx context.Context, opts rankOptions) ([]model.ClientFeatures, error) {
	if opts.FeaturesFile != "" {
		return ingest.LoadFeatures(ctx, opts.FeaturesFile)
	}

	bundles, err := ingest.NewLoader().Load(ctx, opts.Input)
	if err != nil {
		return nil, err
	}
	builder, err := newFeatureBuilder()
	if err != nil {
		return nil, err
	}
	return builder.Build(bundles), nil
}

// printRankSummary writes the run summary and the top product of each
// client to out.
func printRankSummary(out io.Writer, s *rankSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if s.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", s.RunID)
	}
	_, _ = fmt.Fprintf(w, "Clients:\t%d\n", s.Clients)
	_, _ = fmt.Fprintf(w, "Products:\t%d\n", s.Products)
	_, _ = fmt.Fprintf(w, "Top-N:\t%d\n", s.TopN)
	_, _ = fmt.Fprintf(w, "Elapsed:\t%s\n", s.Elapsed.Round(time.Millisecond))
	if s.Cost.Calls > 0 {
		_, _ = fmt.Fprintf(w, "Refine cost:\t$%.4f (%d calls)\n", s.Cost.USD, s.Cost.Calls)
	}
	for _, f := range s.Files {
		_, _ = fmt.Fprintf(w, "Wrote:\t%s\n", f)
	}
	_ = w.Flush()

	if s.Result == nil || s.Result.Len() == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CLIENT\tTOP1\tBENEFIT")
	_, _ = fmt.Fprintln(w, "------\t----\t-------")
	for i, rec := range s.Result.Recommendations {
		if i == summaryRows {
			_, _ = fmt.Fprintf(w, "...\t%d more\t\n", s.Result.Len()-summaryRows)
			break
		}
		name, value := rec.Top1()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", rec.ClientCode, name, export.Amount(value))
	}
	_ = w.Flush()
}
