package engine

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/artstore/pkg/attr"
	"github.com/cuemby/artstore/pkg/backend"
	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/metacache"
	"github.com/cuemby/artstore/pkg/tickets"
	"github.com/cuemby/artstore/pkg/types"
	"github.com/cuemby/artstore/pkg/wal"
)

// LazyRebuilder repairs a single expired cache entry opportunistically.
// The cache synchronizer implements it; the engine fires it on reads that
// hit an expired row and never blocks on the outcome.
type LazyRebuilder interface {
	LazyRebuild(ctx context.Context, objectPath string)
}

// Engine orchestrates the storage element file operations: WAL first,
// then bytes, then sidecar, then cache, in that order. The sidecar is
// authoritative; cache failures degrade, they never roll back bytes.
type Engine struct {
	cfg     *config.SE
	driver  backend.Driver
	wal     *wal.Store
	cache   *metacache.Store
	tickets *tickets.Store
	lazy    LazyRebuilder
	logger  zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a file engine. The WAL store may be nil when WAL_ENABLED
// is false; the tickets store may be nil outside ar mode.
func New(cfg *config.SE, driver backend.Driver, walStore *wal.Store, cache *metacache.Store, ticketStore *tickets.Store) *Engine {
	return &Engine{
		cfg:     cfg,
		driver:  driver,
		wal:     walStore,
		cache:   cache,
		tickets: ticketStore,
		logger:  log.WithComponent("engine"),
		stopCh:  make(chan struct{}),
	}
}

// SetLazyRebuilder wires the cache synchronizer after construction
func (e *Engine) SetLazyRebuilder(lr LazyRebuilder) {
	e.lazy = lr
}

// Mode returns the element's operating mode
func (e *Engine) Mode() types.Mode {
	return e.cfg.Mode
}

// objectPath joins storage path and filename into the backend path
func objectPath(storagePath, storageFilename string) string {
	return path.Join(storagePath, storageFilename)
}

// resolveAttributes finds the authoritative attributes for a file id:
// cache row first (firing a lazy rebuild when expired), sidecar fallback
// when the cache has no row.
func (e *Engine) resolveAttributes(ctx context.Context, fileID string) (*types.FileAttributes, error) {
	row, err := e.cache.Get(ctx, fileID)
	if err == nil {
		if row.Expired(time.Now()) && e.lazy != nil {
			// Serve the stale row; repair happens in the background.
			e.lazy.LazyRebuild(ctx, objectPath(row.StoragePath, row.StorageFilename))
		}
		attrs := row.FileAttributes
		return &attrs, nil
	}
	if !errdefs.Is(err, errdefs.KindNotFound) {
		return nil, err
	}
	return e.findSidecarByFileID(ctx, fileID)
}

// findSidecarByFileID walks the sidecar tree looking for a file id. This
// is the slow path used only when the cache row is missing; a hit
// re-materializes the row.
func (e *Engine) findSidecarByFileID(ctx context.Context, fileID string) (*types.FileAttributes, error) {
	var found *types.FileAttributes
	stop := errdefs.New(errdefs.KindInternal, "walk stopped")
	err := e.driver.Walk(ctx, "", func(info backend.ObjectInfo) error {
		if !strings.HasSuffix(info.Path, backend.SidecarSuffix) {
			return nil
		}
		data, err := e.driver.ReadSidecar(ctx, info.Path)
		if err != nil {
			return nil
		}
		attrs, err := attr.Parse(data)
		if err != nil {
			return nil
		}
		if attrs.FileID == fileID {
			found = attrs
			return stop
		}
		return nil
	})
	if err != nil && err != stop {
		return nil, err
	}
	if found == nil {
		return nil, errdefs.Newf(errdefs.KindNotFound, "file %s not found", fileID)
	}

	// Repair the cache from the authoritative sidecar.
	if err := e.cache.Upsert(ctx, found, found.LastCommittedAt(), e.cfg.CacheTTLHoursFor(e.cfg.Mode)); err != nil {
		e.logger.Warn().Err(err).Str("file_id", fileID).Msg("cache repair after sidecar fallback failed")
	}
	return found, nil
}

// GetMetadata returns the attributes of a file. In ar mode metadata stays
// readable; only the bytes are gone.
func (e *Engine) GetMetadata(ctx context.Context, fileID string) (*types.FileAttributes, error) {
	return e.resolveAttributes(ctx, fileID)
}

// Exists reports whether the object bytes are present on this element
func (e *Engine) Exists(ctx context.Context, fileID string) (bool, error) {
	attrs, err := e.resolveAttributes(ctx, fileID)
	if err != nil {
		if errdefs.Is(err, errdefs.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	_, err = e.driver.StatObject(ctx, objectPath(attrs.StoragePath, attrs.StorageFilename))
	if err != nil {
		if errdefs.Is(err, errdefs.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PhysicalDelete removes the object, sidecar and cache row without mode
// or role checks. Reserved for the garbage collector, which has already
// applied its own safety margins.
func (e *Engine) PhysicalDelete(ctx context.Context, fileID string) error {
	attrs, err := e.resolveAttributes(ctx, fileID)
	if err != nil {
		return err
	}
	op := objectPath(attrs.StoragePath, attrs.StorageFilename)
	if err := e.cache.Delete(ctx, fileID); err != nil {
		e.logger.Warn().Err(err).Str("file_id", fileID).Msg("gc cache delete failed")
	}
	if err := e.driver.DeleteObject(ctx, attr.SidecarPath(op)); err != nil {
		return err
	}
	if err := e.driver.DeleteObject(ctx, op); err != nil {
		return err
	}
	return nil
}

// Recover rolls back WAL entries left open by a crash. Anything non
// terminal older than the cutoff is compensated: temp state is implicit
// (temp files never survive a rename), so rollback removes the partial
// object and sidecar named in the payload.
func (e *Engine) Recover(ctx context.Context, olderThan time.Duration) error {
	if e.wal == nil {
		return nil
	}
	entries, err := e.wal.ListNonTerminal(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	for _, entry := range entries {
		comp := map[string]any{"recovered": true}
		if p, ok := entry.Payload["object_path"].(string); ok && entry.OperationType == types.WALOpUpload {
			_ = e.driver.DeleteObject(ctx, attr.SidecarPath(p))
			_ = e.driver.DeleteObject(ctx, p)
			comp["deleted_object"] = p
		}
		if err := e.wal.Rollback(ctx, entry.WALID, comp); err != nil {
			e.logger.Error().Err(err).Int64("wal_id", entry.WALID).Msg("recovery rollback failed")
			continue
		}
		e.logger.Info().
			Int64("wal_id", entry.WALID).
			Str("operation", string(entry.OperationType)).
			Msg("rolled back interrupted operation")
	}
	return nil
}

// PurgeWAL garbage-collects terminal WAL rows past the retention window
func (e *Engine) PurgeWAL(ctx context.Context) (int64, error) {
	if e.wal == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-time.Duration(e.cfg.WALRetentionDays) * 24 * time.Hour)
	return e.wal.PurgeTerminal(ctx, cutoff)
}

// maintenanceInterval paces the background janitor
const maintenanceInterval = time.Hour

// StartMaintenance launches the periodic janitor: terminal WAL rows past
// retention are purged and, on archive elements, restored tickets past
// their window expire.
func (e *Engine) StartMaintenance() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(maintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				e.runMaintenance(ctx, time.Now().UTC())
				cancel()
			}
		}
	}()
	e.logger.Info().Dur("interval", maintenanceInterval).Msg("engine maintenance started")
}

// StopMaintenance terminates the janitor loop
func (e *Engine) StopMaintenance() {
	close(e.stopCh)
	e.wg.Wait()
}

// runMaintenance performs one janitor pass at the given instant
func (e *Engine) runMaintenance(ctx context.Context, now time.Time) {
	if n, err := e.PurgeWAL(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("wal purge failed")
	} else if n > 0 {
		e.logger.Info().Int64("purged", n).Msg("terminal wal entries purged")
	}

	if e.tickets != nil {
		n, err := e.tickets.PurgeExpired(now)
		if err != nil {
			e.logger.Warn().Err(err).Msg("restore ticket purge failed")
		} else if n > 0 {
			e.logger.Info().Int("expired", n).Msg("restore tickets expired")
		}
	}
}
