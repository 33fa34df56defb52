package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-cli/internal/model"
)

// LoadFeatures reads a precomputed feature table. CSV and XLSX columns are
// matched against the recognised feature names; unknown columns are ignored
// and missing ones read as zero. A .json file must hold an array of records.
func LoadFeatures(ctx context.Context, file string) ([]model.ClientFeatures, error) {
	if strings.EqualFold(filepath.Ext(file), ".json") {
		return loadFeaturesJSON(file)
	}

	tables, err := readFile(ctx, file)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load features")
	}
	if len(tables) == 0 {
		return nil, eris.Errorf("ingest: no feature table in %s", file)
	}
	return FeaturesFromTable(tables[0])
}

// FeaturesFromTable converts a feature table into records in row order.
func FeaturesFromTable(t *Table) ([]model.ClientFeatures, error) {
	if !t.Has("client_code") {
		return nil, eris.Errorf("ingest: feature table %s has no client_code column", t.Name)
	}

	var featureCols []string
	for _, h := range t.Header {
		switch h {
		case "client_code", "name", "status", "":
			continue
		}
		if _, ok := model.LookupFeature(h); ok {
			featureCols = append(featureCols, h)
			continue
		}
		zap.L().Debug("ingest: ignoring feature column", zap.String("column", h))
	}

	seen := make(map[string]int, len(t.Rows))
	out := make([]model.ClientFeatures, 0, len(t.Rows))
	for i, row := range t.Rows {
		rec := model.ClientFeatures{
			ClientCode: normalizeCode(t.Cell(row, "client_code")),
			Name:       t.Cell(row, "name"),
			Status:     t.Cell(row, "status"),
		}
		if rec.ClientCode == "" {
			zap.L().Warn("ingest: feature row without client_code", zap.Int("row", i+2))
			continue
		}
		for _, col := range featureCols {
			raw := t.Cell(row, col)
			if raw == "" {
				continue
			}
			v, err := parseFeature(raw)
			if err == nil && !math.IsNaN(v) {
				err = rec.Set(col, v)
				if err != nil && !errors.Is(err, model.ErrInvalidFeature) {
					return nil, err
				}
			}
			if err != nil {
				zap.L().Warn("ingest: unusable feature value, using default",
					zap.String("client_code", rec.ClientCode),
					zap.String("feature", col),
					zap.String("value", raw),
					zap.Error(err),
				)
			}
		}
		if n := seen[rec.ClientCode]; n > 0 {
			zap.L().Warn("ingest: duplicate client_code in features", zap.String("client_code", rec.ClientCode))
		}
		seen[rec.ClientCode]++
		out = append(out, rec)
	}
	return out, nil
}

// parseFeature reads a numeric or boolean cell. Unlike statement amounts, an
// ambiguous "1,234" is rejected since shares and rates use three decimals.
func parseFeature(raw string) (float64, error) {
	s, err := normalizeNumber(raw)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err == nil {
		return v, nil
	}
	switch strings.ToLower(raw) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	return 0, eris.Errorf("ingest: %q is not a number", raw)
}

func loadFeaturesJSON(file string) ([]model.ClientFeatures, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", file)
	}
	var out []model.ClientFeatures
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrapf(err, "ingest: decode features %s", file)
	}
	return out, nil
}
