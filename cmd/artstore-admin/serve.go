package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/cuemby/artstore/pkg/admin/accounts"
	"github.com/cuemby/artstore/pkg/admin/api"
	"github.com/cuemby/artstore/pkg/admin/auth"
	"github.com/cuemby/artstore/pkg/admin/bootstrap"
	"github.com/cuemby/artstore/pkg/admin/elements"
	"github.com/cuemby/artstore/pkg/admin/gc"
	"github.com/cuemby/artstore/pkg/admin/keys"
	"github.com/cuemby/artstore/pkg/admin/migrations"
	"github.com/cuemby/artstore/pkg/admin/users"
	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/registry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAdmin(configPath)
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
		return serve(cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAdmin(configPath)
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

		db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		return migrations.Up(db)
	},
}

func serve(cfg *config.Admin) error {
	logger := log.WithComponent("admin")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := migrations.Up(db); err != nil {
		return err
	}

	reg := registry.NewClient(cfg.RedisAddr, cfg.RedisPassword)
	defer reg.Close()

	keyStore := keys.NewStore(db)
	rotator := keys.NewRotator(cfg, keyStore, reg)
	if err := rotator.EnsureKey(ctx); err != nil {
		return err
	}
	rotator.Start()
	defer rotator.Stop()

	tokens := auth.NewTokenService(cfg, keyStore)
	accountSvc := accounts.NewService(db, cfg.Environment)
	userSvc := users.NewService(db)

	if err := bootstrap.Seed(ctx, cfg, userSvc, accountSvc); err != nil {
		return err
	}

	elementStore := elements.NewStore(db)
	elementClient := elements.NewClient()
	syncer := elements.NewSyncer(cfg, elementStore, elementClient, reg)
	syncer.Start()
	defer syncer.Stop()

	tokenSource := auth.NewServiceTokenSource(tokens, accountSvc, cfg.InitialAccountName)
	collector := gc.NewCollector(cfg, gc.NewStore(db), elementStore, elementClient, tokenSource)
	collector.Start()
	defer collector.Stop()

	srv := api.NewServer(cfg, db, tokens, accountSvc, userSvc, keyStore, rotator, elementStore, syncer, Version)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info().Str("version", Version).Msg("admin started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
