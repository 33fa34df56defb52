package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "benefit-cli",
	Short: "Per-client product benefit estimation and ranking",
	Long:  "Aggregates client statements into behavioral features, estimates the monthly benefit of every bank product for every client, ranks the Top-N and drafts a push notification for the best one.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
