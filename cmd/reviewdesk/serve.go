package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reviewdesk/api/internal/app"
	"reviewdesk/api/internal/config"
	"reviewdesk/api/internal/logger"
	"reviewdesk/api/internal/search"
	"reviewdesk/api/internal/session"
	"reviewdesk/api/internal/store"
)

func serveCmd() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogMode)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := context.Background()
			db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
			if err != nil {
				log.Error("database connection failed", "error", err)
				return err
			}
			defer db.Close()

			if !skipMigrations {
				applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
				if err != nil {
					log.Error("migrations failed", "error", err)
					return err
				}
				log.Info("migrations applied", "count", len(applied), "versions", applied)
			}

			dataStore := store.NewPostgresStore(db)
			searchService, closeSearch := newSearchService(cfg, dataStore, log)
			defer closeSearch()

			var revoked app.RevocationStore = dataStore
			if strings.TrimSpace(cfg.RedisURL) != "" {
				log.Info("using redis for access token revocation")
				redisStore, err := session.NewRedisStore(cfg.RedisURL)
				if err != nil {
					log.Error("redis connection failed", "error", err)
					return err
				}
				defer redisStore.Close()
				revoked = redisStore
			} else {
				log.Info("using postgres for access token revocation")
			}

			service := app.New(cfg, dataStore, revoked, searchService, log)
			httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
			server := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpServer.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				log.Info("reviewdesk API listening", "addr", cfg.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-serveErr:
				if err != nil {
					log.Error("server failed", "error", err)
					return err
				}
				return nil
			case sig := <-sigCh:
				log.Info("shutting down", "signal", sig.String())
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn("shutdown error", "error", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on start")
	return cmd
}

// newSearchService wires Meilisearch when configured, always backed by
// Postgres full-text search.
func newSearchService(cfg config.Config, dataStore *store.PostgresStore, log *logger.Logger) (*search.Service, func()) {
	pgfts := search.NewPgFTS(dataStore.DB())
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
	}
	closeFn := func() {}
	if meiliClient != nil {
		closeFn = meiliClient.Close
	}
	return search.NewService(meiliClient, pgfts, log), closeFn
}
