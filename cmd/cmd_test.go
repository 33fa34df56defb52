package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/benefit-cli/internal/catalog"
	"github.com/sells-group/benefit-cli/internal/config"
	"github.com/sells-group/benefit-cli/internal/export"
	"github.com/sells-group/benefit-cli/internal/model"
	"github.com/sells-group/benefit-cli/internal/monitoring"
	"github.com/sells-group/benefit-cli/internal/ranking"
	"github.com/sells-group/benefit-cli/internal/store"
)

const (
	clientsCSV = `client_code,name,status,age,city,avg_monthly_balance_kzt
1,Айгерим Касымова,Зарплатный клиент,29,Алматы,92643
2,Рамазан Есенов,Премиальный клиент,41,Астана,2500000
`
	transactionsCSV = `client_code,date,category,amount,currency
1,2025-08-02,Путешествия,180000,KZT
1,2025-08-05,Такси,45000,KZT
1,2025-08-09,Продукты питания,60000,KZT
2,2025-08-03,Кафе и рестораны,120000,KZT
2,2025-08-11,Ювелирные украшения,300000,USD
`
	transfersCSV = `client_code,date,type,direction,amount,currency
1,2025-08-01,salary_in,in,450000,KZT
1,2025-08-15,card_out,out,120000,KZT
2,2025-08-01,deposit_topup_out,out,500000,KZT
`
)

// setTestConfig installs a config with defaults and a temp SQLite store.
func setTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev := cfg
	cfg = &config.Config{
		Store:    config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "runs.db")},
		Ranking:  config.RankingConfig{TopN: 4, Workers: 2},
		Features: config.FeaturesConfig{BaseCurrency: "KZT"},
		Export:   config.ExportConfig{Dir: filepath.Join(dir, "out"), PerClientJSON: true},
		Push:     config.PushConfig{Enabled: true, Currency: "KZT", MaxLength: 220},
		Server:   config.ServerConfig{Port: 8080},
	}
	t.Cleanup(func() { cfg = prev })
	return dir
}

func writeInputs(t *testing.T, dir string) string {
	t.Helper()
	in := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(in, 0o755))
	for name, body := range map[string]string{
		"clients.csv":      clientsCSV,
		"transactions.csv": transactionsCSV,
		"transfers.csv":    transfersCSV,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(in, name), []byte(body), 0o644))
	}
	return in
}

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), cfg.Store.Driver, cfg.Store.DatabaseURL)
	require.NoError(t, err)
	require.NotNil(t, st)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"rank", "features", "catalog", "runs", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "benefit-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRankCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "features", "out", "catalog", "eligibility-factor", "top-n", "workers", "xlsx", "no-push", "refine", "no-store"} {
		assert.NotNil(t, rankCmd.Flags().Lookup(name), "rank should have --%s flag", name)
	}
	assert.Equal(t, "0", serveCmd.Flags().Lookup("port").DefValue)
}

func TestRunRank_Statements(t *testing.T) {
	dir := setTestConfig(t)
	in := writeInputs(t, dir)

	summary, err := runRank(context.Background(), rankOptions{
		Input:         in,
		OutDir:        cfg.Export.Dir,
		TopN:          3,
		Workers:       2,
		XLSX:          true,
		PerClientJSON: true,
		Push:          true,
		Persist:       true,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Clients)
	assert.Equal(t, 3, summary.TopN)
	assert.NotEmpty(t, summary.RunID)

	for _, name := range []string{export.RecommendationsFile, export.BenefitsFile, export.DiagnosticsFile, export.WorkbookFile} {
		assert.FileExists(t, filepath.Join(cfg.Export.Dir, name))
	}
	assert.DirExists(t, filepath.Join(cfg.Export.Dir, export.PerClientDir))

	st := openTestStore(t)
	run, err := st.GetRun(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 2, run.Clients)
	assert.Equal(t, summary.Products, run.Products)
	assert.Equal(t, in, run.Source)

	recs, err := st.LoadRecommendations(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "1", recs[0].ClientCode)
	assert.Len(t, recs[0].Top, 3)
	assert.NotEmpty(t, recs[0].Push)
	assert.Contains(t, recs[0].Push, "Айгерим")
}

func TestRunRank_FeaturesFileWithoutStore(t *testing.T) {
	dir := setTestConfig(t)
	path := filepath.Join(dir, "features.json")
	data, err := json.Marshal([]model.ClientFeatures{
		{ClientCode: "10", TotalSpend: 200_000},
		{ClientCode: "11"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	summary, err := runRank(context.Background(), rankOptions{
		FeaturesFile: path,
		OutDir:       filepath.Join(dir, "out"),
		TopN:         2,
		Workers:      1,
	})
	require.NoError(t, err)
	assert.Empty(t, summary.RunID)
	assert.Equal(t, 2, summary.Clients)
	assert.NoDirExists(t, filepath.Join(dir, "out", export.PerClientDir))
	assert.NoFileExists(t, cfg.Store.DatabaseURL)
}

func TestRunRank_FailureMarksRun(t *testing.T) {
	dir := setTestConfig(t)

	_, err := runRank(context.Background(), rankOptions{
		Input:   filepath.Join(dir, "missing"),
		OutDir:  cfg.Export.Dir,
		TopN:    4,
		Workers: 1,
		Persist: true,
	})
	require.Error(t, err)

	st := openTestStore(t)
	runs, err := st.ListRuns(context.Background(), store.RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotEmpty(t, runs[0].Error)
}

func TestRunRank_InvalidCatalog(t *testing.T) {
	dir := setTestConfig(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("catalog: [\n"), 0o644))

	_, err := runRank(context.Background(), rankOptions{Input: dir, CatalogPath: path, TopN: 4})
	assert.Error(t, err)
}

func TestRunFeatures(t *testing.T) {
	dir := setTestConfig(t)
	in := writeInputs(t, dir)
	out := filepath.Join(dir, "nested", "features.csv")

	n, err := runFeatures(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.FileExists(t, out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "client_code")
	assert.Contains(t, string(data), "pct_travel")
}

func ptrFloat(v float64) *float64 { return &v }

func creditFactor(t *testing.T, cat *catalog.Catalog) float64 {
	t.Helper()
	p, ok := cat.Product("Credit Card")
	require.True(t, ok)
	return p.Formula.(model.EligibleCategoryCashback).EligibilityFactor
}

func TestLoadCatalog(t *testing.T) {
	setTestConfig(t)

	def, err := loadCatalog("", nil)
	require.NoError(t, err)
	assert.Positive(t, def.Len())
	assert.InDelta(t, 0.5, creditFactor(t, def), 1e-12)

	cfg.Ranking.EligibilityFactor = 0.8
	unset, err := loadCatalog("", nil)
	require.NoError(t, err)
	assert.Equal(t, def.Hash(), unset.Hash(), "factor without EligibilityFactorSet is ignored")

	cfg.Ranking.EligibilityFactorSet = true
	adjusted, err := loadCatalog("", nil)
	require.NoError(t, err)
	assert.NotEqual(t, def.Hash(), adjusted.Hash())

	flagged, err := loadCatalog("", ptrFloat(0.8))
	require.NoError(t, err)
	assert.Equal(t, adjusted.Hash(), flagged.Hash())

	_, err = loadCatalog(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadCatalog_ZeroFactorApplies(t *testing.T) {
	tests := []struct {
		name      string
		configure func()
		flag      *float64
	}{
		{name: "flag", flag: ptrFloat(0)},
		{name: "config", configure: func() {
			cfg.Ranking.EligibilityFactor = 0
			cfg.Ranking.EligibilityFactorSet = true
		}},
		{name: "flag wins over config", flag: ptrFloat(0), configure: func() {
			cfg.Ranking.EligibilityFactor = 0.9
			cfg.Ranking.EligibilityFactorSet = true
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setTestConfig(t)
			def, err := loadCatalog("", nil)
			require.NoError(t, err)

			if tt.configure != nil {
				tt.configure()
			}
			cat, err := loadCatalog("", tt.flag)
			require.NoError(t, err)
			assert.Zero(t, creditFactor(t, cat))
			assert.NotEqual(t, def.Hash(), cat.Hash())
		})
	}
}

func TestEligibilityFactorFlag(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    *float64
		wantErr string
	}{
		{name: "absent", args: nil},
		{name: "explicit zero", args: []string{"--eligibility-factor=0"}, want: ptrFloat(0)},
		{name: "value", args: []string{"--eligibility-factor", "0.7"}, want: ptrFloat(0.7)},
		{name: "negative", args: []string{"--eligibility-factor=-0.1"}, wantErr: "must be >= 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "x"}
			cmd.Flags().Float64("eligibility-factor", 0, "")
			require.NoError(t, cmd.Flags().Parse(tt.args))

			got, err := eligibilityFactorFlag(cmd)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-12)
		})
	}
}

func TestNewGenerator_RefineNeedsKey(t *testing.T) {
	setTestConfig(t)
	cat, err := catalog.Default(catalog.Options{})
	require.NoError(t, err)

	_, _, err = newGenerator(cat, true)
	assert.Error(t, err)

	gen, costs, err := newGenerator(cat, false)
	require.NoError(t, err)
	assert.NotNil(t, gen)
	assert.Nil(t, costs)

	cfg.Anthropic.Key = "sk-ant-test"
	gen, costs, err = newGenerator(cat, true)
	require.NoError(t, err)
	assert.NotNil(t, gen)
	assert.NotNil(t, costs)
}

func TestFormatCatalog(t *testing.T) {
	cat, err := catalog.Default(catalog.Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	formatCatalog(&buf, cat)

	out := buf.String()
	assert.Contains(t, out, cat.Hash())
	assert.Contains(t, out, "PRODUCT")
	for _, name := range cat.Names() {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, string(model.KindPassiveIncome))
}

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 9, 1, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Status:      model.RunStatusComplete,
			CatalogHash: "0123456789abcdef",
			TopN:        4,
			Clients:     60,
			Products:    12,
			CreatedAt:   now,
			UpdatedAt:   now.Add(2 * time.Second),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Status:    model.RunStatusFailed,
			CreatedAt: now.Add(-time.Hour),
			UpdatedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "01234567")
	assert.Contains(t, out, "2025-09-01 10:30")
	assert.Contains(t, out, "2s")
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, &monitoring.MetricsSnapshot{
		RunsTotal:       5,
		RunsComplete:    3,
		RunsFailed:      1,
		RunsRunning:     1,
		FailRate:        0.25,
		StaleRuns:       []string{"abc12345-6789"},
		ClientsRanked:   180,
		AvgDurationSecs: 2.5,
		LastError:       "ingest: no client data",
		LookbackHours:   24,
	})

	out := buf.String()
	assert.Contains(t, out, "last 24h")
	assert.Contains(t, out, "25.0%")
	assert.Contains(t, out, "180")
	assert.Contains(t, out, "2.5s")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "ingest: no client data")

	buf.Reset()
	formatRunStats(&buf, &monitoring.MetricsSnapshot{})
	assert.Contains(t, buf.String(), "all time")
	assert.NotContains(t, buf.String(), "Stale runs")
}

func TestRunsCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "stats"} {
		assert.True(t, names[name], "expected runs subcommand %q not found", name)
	}
	assert.NotNil(t, runsStatsCmd.Flags().Lookup("since-hours"))
}

func TestPrintRankSummary(t *testing.T) {
	res := &ranking.Result{
		TopN:     1,
		Products: []string{"Deposit"},
		Recommendations: []model.Recommendation{
			{ClientCode: "1", TopN: 1, Top: []model.ProductBenefit{{Product: "Deposit", Benefit: 1234.5}}},
		},
	}

	var buf bytes.Buffer
	printRankSummary(&buf, &rankSummary{RunID: "run-1", Clients: 1, Products: 1, TopN: 1, Files: []string{"out/a.csv"}, Result: res})

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "out/a.csv")
	assert.Contains(t, out, "Deposit")
	assert.Contains(t, out, "1234.5")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc", truncateID("abc"))
	assert.Equal(t, "abcdefgh", truncateID("abcdefghij"))
}
