// Package export writes ranking results and diagnostics to disk.
package export

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-cli/internal/model"
	"github.com/sells-group/benefit-cli/internal/ranking"
)

// Output file names.
const (
	RecommendationsFile = "recommendations.csv"
	BenefitsFile        = "benefits_full.csv"
	DiagnosticsFile     = "diagnostics_summary.csv"
	WorkbookFile        = "recommendations.xlsx"
	FeaturesFile        = "features.csv"
	PerClientDir        = "diagnostics_per_client"
)

// Options selects the optional outputs.
type Options struct {
	Dir           string
	XLSX          bool
	PerClientJSON bool
}

// Bundle is everything produced by one ranking run. Clients and Pushes are
// indexed like Result.Recommendations; Pushes may be nil.
type Bundle struct {
	Result  *ranking.Result
	Clients []model.ClientFeatures
	Pushes  []string
}

// Write produces every enabled output under opts.Dir and returns the paths
// written.
func Write(opts Options, b Bundle) ([]string, error) {
	if b.Result == nil {
		return nil, eris.New("export: nil result")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create dir %s", opts.Dir)
	}

	var written []string
	csvs := []struct {
		name  string
		write func(io.Writer) error
	}{
		{RecommendationsFile, func(w io.Writer) error { return WriteRecommendations(w, b) }},
		{BenefitsFile, func(w io.Writer) error { return WriteBenefits(w, b.Result) }},
		{DiagnosticsFile, func(w io.Writer) error { return WriteDiagnostics(w, b) }},
	}
	for _, c := range csvs {
		path := filepath.Join(opts.Dir, c.name)
		if err := writeFile(path, c.write); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if opts.XLSX {
		path := filepath.Join(opts.Dir, WorkbookFile)
		if err := WriteWorkbook(path, b); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if opts.PerClientJSON {
		dir := filepath.Join(opts.Dir, PerClientDir)
		n, err := WritePerClient(dir, b.Result)
		if err != nil {
			return written, err
		}
		if n > 0 {
			written = append(written, dir)
		}
	}

	zap.L().Info("export: wrote outputs",
		zap.String("dir", opts.Dir),
		zap.Int("files", len(written)),
		zap.Int("clients", b.Result.Len()),
	)
	return written, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := write(f); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "export: write %s", path)
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}

// WriteRecommendations writes client_code, name, top1..topN,
// top1_benefit..topN_benefit and push. Empty slots read as "" and 0.
func WriteRecommendations(w io.Writer, b Bundle) error {
	res := b.Result
	header := []string{"client_code", "name"}
	for i := 1; i <= res.TopN; i++ {
		header = append(header, "top"+strconv.Itoa(i))
	}
	for i := 1; i <= res.TopN; i++ {
		header = append(header, "top"+strconv.Itoa(i)+"_benefit")
	}
	header = append(header, "push")

	rows := make([][]string, 0, res.Len())
	for i, rec := range res.Recommendations {
		row := []string{rec.ClientCode, clientName(b.Clients, i)}
		for s := range res.TopN {
			name, _ := rec.Slot(s)
			row = append(row, name)
		}
		for s := range res.TopN {
			_, v := rec.Slot(s)
			row = append(row, Amount(v))
		}
		var push string
		if i < len(b.Pushes) {
			push = b.Pushes[i]
		}
		rows = append(rows, append(row, push))
	}
	return writeCSV(w, header, rows)
}

// WriteBenefits writes one row per client and one column per product in
// catalog order.
func WriteBenefits(w io.Writer, res *ranking.Result) error {
	header := append([]string{"client_code"}, res.Products...)
	rows := make([][]string, 0, len(res.Benefits))
	for _, cb := range res.Benefits {
		row := []string{cb.ClientCode}
		for _, p := range res.Products {
			v, _ := cb.Get(p)
			row = append(row, Amount(v))
		}
		rows = append(rows, row)
	}
	return writeCSV(w, header, rows)
}

// WriteDiagnostics writes the inputs that drive each recommendation next to
// its Top-N. avg_monthly_balance_kzt falls back to the net-flow proxy.
func WriteDiagnostics(w io.Writer, b Bundle) error {
	res := b.Result
	header := []string{
		"client_code", "total_spend", "avg_monthly_balance_kzt", "net_flow",
		"fraction_non_kzt_tx", "top3_share", "transfers_count",
	}
	for _, c := range model.Categories() {
		header = append(header, c.ShareFeature())
	}
	for i := 1; i <= res.TopN; i++ {
		header = append(header, "top"+strconv.Itoa(i))
	}

	rows := make([][]string, 0, res.Len())
	for i, rec := range res.Recommendations {
		c := &model.ClientFeatures{ClientCode: rec.ClientCode}
		if i < len(b.Clients) {
			c = &b.Clients[i]
		}
		row := []string{
			rec.ClientCode,
			Amount(c.TotalSpend),
			Amount(c.Balance()),
			Amount(c.NetFlow()),
			ratio(c.FractionNonKZT),
			ratio(c.Top3Share),
			strconv.Itoa(c.TransfersCount),
		}
		for _, cat := range model.Categories() {
			row = append(row, ratio(c.Share(cat)))
		}
		for s := range res.TopN {
			name, _ := rec.Slot(s)
			row = append(row, name)
		}
		rows = append(rows, row)
	}
	return writeCSV(w, header, rows)
}

// WriteFeatures writes one row per client with every recognised feature.
func WriteFeatures(w io.Writer, clients []model.ClientFeatures) error {
	names := model.FeatureNames()
	header := append([]string{"client_code", "name", "status"}, names...)
	rows := make([][]string, 0, len(clients))
	for i := range clients {
		c := &clients[i]
		row := []string{c.ClientCode, c.Name, c.Status}
		for _, n := range names {
			row = append(row, c.FormatFeature(n))
		}
		rows = append(rows, row)
	}
	return writeCSV(w, header, rows)
}

// WriteFeaturesFile writes the features table to path.
func WriteFeaturesFile(path string, clients []model.ClientFeatures) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "export: create dir for %s", path)
	}
	return writeFile(path, func(w io.Writer) error { return WriteFeatures(w, clients) })
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write CSV header")
	}
	if err := cw.WriteAll(rows); err != nil {
		return eris.Wrap(err, "export: write CSV rows")
	}
	return nil
}

// Amount renders a money value rounded to two decimals, trailing zeros
// dropped.
func Amount(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return decimal.NewFromFloat(v).Round(2).String()
}

func ratio(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return decimal.NewFromFloat(v).Round(4).String()
}

func clientName(clients []model.ClientFeatures, i int) string {
	if i < len(clients) {
		return clients[i].Name
	}
	return ""
}
