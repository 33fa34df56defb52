package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/benefit-cli/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the product catalog",
}

var catalogShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the ordered catalog and its hash",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("catalog"); err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("catalog")
		asJSON, _ := cmd.Flags().GetBool("json")
		factor, err := eligibilityFactorFlag(cmd)
		if err != nil {
			return err
		}

		cat, err := loadCatalog(path, factor)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"hash": cat.Hash(), "products": cat.Entries()})
		}
		formatCatalog(os.Stdout, cat)
		return nil
	},
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate <catalog.yaml>",
	Short: "Check a catalog file without ranking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(args[0], catalog.Options{})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "OK: %d products, hash %s\n", cat.Len(), cat.Hash())
		return nil
	},
}

func init() {
	catalogShowCmd.Flags().String("catalog", "", "catalog YAML (default from config, else built-in)")
	catalogShowCmd.Flags().Float64("eligibility-factor", 0, "override every product's eligibility factor")
	catalogShowCmd.Flags().Bool("json", false, "print as JSON")

	catalogCmd.AddCommand(catalogShowCmd)
	catalogCmd.AddCommand(catalogValidateCmd)
	rootCmd.AddCommand(catalogCmd)
}

// formatCatalog writes the catalog in declaration order.
func formatCatalog(out io.Writer, cat *catalog.Catalog) {
	_, _ = fmt.Fprintf(out, "Catalog %s (%d products)\n\n", cat.Hash(), cat.Len())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tPRODUCT\tKIND\tCAP\tPARAMS")
	_, _ = fmt.Fprintln(w, "-\t-------\t----\t---\t------")
	for i, e := range cat.Entries() {
		capText := "-"
		if e.Cap != nil {
			capText = fmt.Sprintf("%.0f", *e.Cap)
		}
		params, err := json.Marshal(e.Params)
		if err != nil {
			params = []byte("?")
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, e.Name, e.Kind, capText, params)
	}
	_ = w.Flush()
}
