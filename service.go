package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ewintr.nl/vidfeed/aggregate"
	"ewintr.nl/vidfeed/auth"
	"ewintr.nl/vidfeed/config"
	"ewintr.nl/vidfeed/fetcher"
	"ewintr.nl/vidfeed/guard"
	"ewintr.nl/vidfeed/handler"
	"ewintr.nl/vidfeed/storage"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

var version = "dev"

var (
	configPath string
	cfg        *config.Config
	logger     = slog.New(slog.NewTextHandler(os.Stderr))
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vidfeed",
	Short:   "Video feed service",
	Long:    "vidfeed collects training videos from YouTube, Vimeo, Dailymotion and Facebook into a shared catalog and serves it over HTTP.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return fmt.Errorf("loading environment: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

var fetchToken string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	fetchCmd.Flags().StringVar(&fetchToken, "token", "", "Bearer token to run as, a local run is assumed when empty")

	adminCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("vidfeed", version)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP api",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		resolver := newResolver()
		agg := newAggregator(store, resolver, cfg.Server.RequireAdmin)
		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: handler.NewServer(map[string]http.Handler{
				"fetch-videos": handler.NewFetchAPI(agg, logger),
				"videos":       handler.NewVideoAPI(store, store, resolver, logger),
			}, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ConnContext:       guard.ConnContext,
		}
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", srv.Addr, err)
		}

		ctx, stop := context.WithCancel(cmd.Context())
		defer stop()
		if cfg.Aggregation.Interval > 0 {
			go aggregate.NewScheduler(agg, cfg.Aggregation.Interval, logger).Run(ctx)
		}

		go func() {
			if err := srv.Serve(guard.NewListener(ln)); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server stopped", slog.String("err", err.Error()))
				os.Exit(1)
			}
		}()
		logger.Info("http server started", slog.Int("port", cfg.Server.Port))

		done := make(chan os.Signal, 1)
		signal.Notify(done, os.Interrupt, syscall.SIGTERM)
		<-done
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		logger.Info("service stopped")

		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run one aggregation and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var (
			resolver     auth.Resolver = newResolver()
			token                      = fetchToken
			requireAdmin               = cfg.Server.RequireAdmin
		)
		if token == "" {
			resolver = auth.Static{"local": "local"}
			token = "local"
			requireAdmin = false
		}

		out := newAggregator(store, resolver, requireAdmin).Run(cmd.Context(), token)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{
			"reason":             out.Reason,
			"message":            out.Message,
			"count":              out.Count,
			"dailyTotal":         out.DailyTotal,
			"lastFetchTime":      out.LastFetchTime,
			"nextFetchAvailable": out.NextFetchAvailable,
		}); err != nil {
			return err
		}
		if out.IsError() || out.Reason == aggregate.ReasonAllInsertsFailed {
			return fmt.Errorf("aggregation failed: %s", out.Message)
		}

		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		logger.Info("database is up to date", slog.String("driver", cfg.Database.Driver))
		return store.Close()
	},
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage user roles",
}

var grantCmd = &cobra.Command{
	Use:   "grant <user-id>",
	Short: "Give a user the admin role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.GrantAdmin(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("granting admin: %w", err)
		}
		logger.Info("admin role granted", slog.String("user", args[0]))
		return nil
	},
}

func openStore() (storage.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := storage.OpenPostgres(cfg.Database.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("unable to connect to postgres: %w", err)
		}
		return pg, nil
	case "sqlite":
		db, err := storage.OpenSQLite(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("unable to open sqlite: %w", err)
		}
		return db, nil
	case "memory":
		return storage.NewMemory(time.Now), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

func newResolver() auth.Resolver {
	if cfg.Auth.SupabaseURL != "" {
		return auth.NewSupabase(cfg.Auth.SupabaseURL, cfg.Auth.SupabaseKey, nil)
	}
	logger.Warn("no identity provider configured, only static tokens are accepted", slog.Int("tokens", len(cfg.Auth.StaticTokens)))
	return auth.Static(cfg.Auth.StaticTokens)
}

func newProviders() []fetcher.Provider {
	opts := fetcher.Options{
		Timeout:          cfg.Providers.Timeout,
		RatePerSecond:    cfg.Providers.RatePerSecond,
		KeywordsPerQuery: cfg.Providers.KeywordsPerQuery,
		Tags:             cfg.Aggregation.Tags,
		Logger:           logger,
	}
	providers := []fetcher.Provider{
		fetcher.NewYoutube(cfg.Providers.Youtube.APIKey, opts),
		fetcher.NewVimeo(cfg.Providers.Vimeo.AccessToken, opts),
		fetcher.NewDailymotion(cfg.Providers.Dailymotion.ClientID, cfg.Providers.Dailymotion.ClientSecret, opts),
		fetcher.NewFacebook(cfg.Providers.Facebook.AccessToken, opts),
	}
	for _, p := range providers {
		if !p.IsConfigured() {
			logger.Warn("provider has no credentials and will return nothing", slog.String("provider", string(p.Name())))
		}
	}

	return providers
}

func newAggregator(store storage.Store, resolver auth.Resolver, requireAdmin bool) *aggregate.Aggregator {
	return aggregate.NewAggregator(
		aggregate.Config{
			Keywords:      cfg.Aggregation.Keywords,
			MaxRounds:     cfg.Aggregation.MaxRounds,
			MinCandidates: cfg.Aggregation.MinCandidates,
			RequireAdmin:  requireAdmin,
		},
		newProviders(),
		store,
		aggregate.NewQuotaTracker(store, cfg.Aggregation.DailyCeiling),
		resolver,
		logger,
	)
}
