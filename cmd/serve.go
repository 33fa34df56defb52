package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-cli/internal/api"
	"github.com/sells-group/benefit-cli/internal/metrics"
	"github.com/sells-group/benefit-cli/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ranking HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		catalogPath, _ := cmd.Flags().GetString("catalog")
		cat, err := loadCatalog(catalogPath, nil)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		gen, costs, err := newGenerator(cat, cfg.Push.Refine)
		if err != nil {
			return err
		}
		defer costs.Log("serve")

		if cfg.Monitoring.Enabled && st != nil {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st, time.Duration(cfg.Monitoring.StaleRunMinutes)*time.Minute),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		metrics.Init()
		srv := api.New(api.Options{
			Catalog:        cat,
			Store:          st,
			Generator:      gen,
			DefaultTopN:    cfg.Ranking.TopN,
			Workers:        cfg.Ranking.Workers,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			StaleAfter:     time.Duration(cfg.Monitoring.StaleRunMinutes) * time.Minute,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("catalog", cat.Hash()),
			zap.Bool("store", st != nil),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().String("catalog", "", "catalog YAML (default from config, else built-in)")
	rootCmd.AddCommand(serveCmd)
}
