package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-cli/internal/export"
	"github.com/sells-group/benefit-cli/internal/ingest"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Aggregate raw statements into a features table",
	Long:  "Ingests transactions, transfers and client profiles and writes one row of behavioral features per client to features.csv.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("features"); err != nil {
			return err
		}

		input, _ := cmd.Flags().GetString("input")
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = filepath.Join(cfg.Export.Dir, export.FeaturesFile)
		}

		n, err := runFeatures(cmd.Context(), input, out)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Wrote %d clients to %s\n", n, out)
		return nil
	},
}

func init() {
	featuresCmd.Flags().String("input", "", "statements source: CSV dir, CSV, ZIP, XLSX or ftp:// URL")
	featuresCmd.Flags().String("out", "", "output CSV path (default <export.dir>/features.csv)")
	_ = featuresCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(featuresCmd)
}

// runFeatures aggregates input and writes the features CSV to out.
func runFeatures(ctx context.Context, input, out string) (int, error) {
	bundles, err := ingest.NewLoader().Load(ctx, input)
	if err != nil {
		return 0, err
	}
	builder, err := newFeatureBuilder()
	if err != nil {
		return 0, err
	}
	clients := builder.Build(bundles)
	if len(clients) == 0 {
		return 0, eris.Errorf("features: no clients in %s", input)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return 0, eris.Wrapf(err, "features: create dir for %s", out)
	}
	if err := export.WriteFeaturesFile(out, clients); err != nil {
		return 0, err
	}
	zap.L().Info("features: written", zap.String("path", out), zap.Int("clients", len(clients)))
	return len(clients), nil
}
