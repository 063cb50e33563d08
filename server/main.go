package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kisan-backend/internal/api"
	"kisan-backend/internal/auth"
	"kisan-backend/internal/config"
	"kisan-backend/internal/logging"
	"kisan-backend/internal/payments"
	"kisan-backend/internal/store"
	"kisan-backend/internal/weather"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

var (
	configPath string
	withDemo   bool
	demoPass   string
)

var rootCmd = &cobra.Command{
	Use:   "kisan",
	Short: "Kisan farming advisory backend",
	Long: `Kisan serves the farming advisory REST API: expert consultations,
community forum, marketplace with mandi prices, government schemes,
crop recommendations and weather alerts.

Run "kisan serve" to start the HTTP server.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the scheme and crop catalogs, optionally with demo accounts",
	Long: `Loads the built-in government scheme and crop catalogs. Existing rows are
kept so admin edits survive. With --demo, a set of demo farmer, expert and
admin accounts plus recent mandi prices are added as well.`,
	RunE: runSeed,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("kisan %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default $KISAN_CONFIG)")
	seedCmd.Flags().BoolVar(&withDemo, "demo", false, "add demo accounts and mandi prices")
	seedCmd.Flags().StringVar(&demoPass, "password", "kisan-demo-123", "password for the demo accounts")

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger every command shares
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.FromEnvironment(configPath)
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := st.SeedCatalogs(ctx); err != nil {
		return err
	}

	if cfg.Weather.APIKey == "" {
		logger.Warn("WEATHER_API_KEY not set, weather endpoints will return 503")
	}
	srv := api.NewServer(api.Deps{
		Config:   cfg,
		Store:    st,
		Issuer:   auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Payments: payments.New(cfg.Payments.StripeSecretKey, logger),
		Weather:  weather.NewClient(cfg.Weather.BaseURL, cfg.Weather.APIKey, cfg.Weather.Timeout, logger),
		Logger:   logger,
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Routes(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", httpSrv.Addr),
			zap.String("env", cfg.Env),
			zap.String("version", version))
		cmd.Printf("Kisan API listening on port %s\n", cfg.Server.Port)
		cmd.Printf("   Health:  http://localhost:%s/healthz\n", cfg.Server.Port)
		cmd.Printf("   Metrics: http://localhost:%s/metrics\n", cfg.Server.Port)
		cmd.Printf("   API:     http://localhost:%s/api\n", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		// let post-payment automation finish before the store closes
		srv.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Open applies the schema
	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("schema up to date", zap.String("path", cfg.Database.Path))
	return nil
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := st.SeedCatalogs(ctx); err != nil {
		return err
	}
	if !withDemo {
		return nil
	}
	if cfg.Production() {
		return errors.New("refusing to add demo accounts in production")
	}
	res, err := seedDemo(ctx, st, demoPass, time.Now().UTC())
	if err != nil {
		return err
	}
	cmd.Printf("Demo data: %d accounts created, %d skipped, %d price reports\n", res.Created, res.Skipped, res.Prices)
	for _, u := range demoUsers {
		cmd.Printf("   %-8s %s\n", u.Role, u.Email)
	}
	return nil
}
