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

	"github.com/cuemby/artstore/pkg/backend"
	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/engine"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/metacache"
	"github.com/cuemby/artstore/pkg/registry"
	"github.com/cuemby/artstore/pkg/reporter"
	"github.com/cuemby/artstore/pkg/seapi"
	"github.com/cuemby/artstore/pkg/synchronizer"
	"github.com/cuemby/artstore/pkg/tickets"
	"github.com/cuemby/artstore/pkg/types"
	"github.com/cuemby/artstore/pkg/wal"
)

// recoverOlderThan bounds startup WAL recovery to entries that have had
// time to finish on their own.
const recoverOlderThan = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the storage element",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadSE(configPath)
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
		return serve(cfg)
	},
}

func serve(cfg *config.SE) error {
	logger := log.WithElementID(cfg.ElementID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	reg := registry.NewClient(cfg.RedisAddr, cfg.RedisPassword)
	defer reg.Close()

	driver, err := buildDriver(ctx, cfg)
	if err != nil {
		return err
	}

	cache, err := metacache.NewStore(ctx, db, cfg.TablePrefix, cfg.CacheTTLHoursFor(cfg.Mode))
	if err != nil {
		return err
	}

	cap, err := driver.Capacity(ctx)
	if err != nil {
		return fmt.Errorf("failed to measure backend capacity: %w", err)
	}
	if err := cache.ValidateModeTransition(ctx, &types.ElementConfig{
		ElementID:          cfg.ElementID,
		Mode:               cfg.Mode,
		StorageType:        cfg.StorageType,
		CapacityTotalBytes: cap.TotalBytes,
		RetentionDays:      cfg.RetentionDays,
		Priority:           cfg.Priority,
		Endpoint:           cfg.Endpoint,
	}); err != nil {
		return err
	}

	var walStore *wal.Store
	if cfg.WALEnabled {
		if walStore, err = wal.NewStore(ctx, db, cfg.TablePrefix); err != nil {
			return err
		}
	}

	var ticketStore *tickets.Store
	if cfg.Mode == types.ModeAR {
		if ticketStore, err = tickets.Open(cfg.TicketDBPath); err != nil {
			return err
		}
		defer ticketStore.Close()
	}

	eng := engine.New(cfg, driver, walStore, cache, ticketStore)
	if err := eng.Recover(ctx, recoverOlderThan); err != nil {
		logger.Warn().Err(err).Msg("startup recovery incomplete")
	}
	eng.StartMaintenance()
	defer eng.StopMaintenance()

	sync := synchronizer.New(cfg, cache, driver, reg)
	eng.SetLazyRebuilder(sync)
	sync.Start()
	defer sync.Stop()

	rep := reporter.New(cfg, driver, reg)
	rep.Start()
	defer rep.Stop()

	srv := seapi.NewServer(cfg, eng, sync, driver, db, Version)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("storage_type", string(cfg.StorageType)).
		Str("version", Version).
		Msg("storage element started")

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

func buildDriver(ctx context.Context, cfg *config.SE) (backend.Driver, error) {
	switch cfg.StorageType {
	case types.StorageTypeS3:
		return backend.NewS3Driver(ctx, backend.S3Config{
			Bucket:             cfg.S3Bucket,
			Region:             cfg.S3Region,
			Endpoint:           cfg.S3Endpoint,
			Prefix:             cfg.BasePath,
			CapacityTotalBytes: cfg.S3CapacityBytes,
		})
	default:
		return backend.NewLocalDriver(cfg.BasePath)
	}
}
