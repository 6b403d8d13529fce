package synchronizer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/artstore/pkg/attr"
	"github.com/cuemby/artstore/pkg/backend"
	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/metacache"
	"github.com/cuemby/artstore/pkg/metrics"
	"github.com/cuemby/artstore/pkg/registry"
)

// Lock priorities of the synchronizer operations. Lower number wins
// contention reporting; acquisition itself is first-come.
const (
	priorityRebuild     = 1
	priorityConsistency = 2
	priorityLazy        = 3
	priorityCleanup     = 4
)

const lockTTL = 60 * time.Second

// RebuildReport summarizes one rebuild pass
type RebuildReport struct {
	Scanned   int         `json:"scanned"`
	Created   int         `json:"created"`
	Updated   int         `json:"updated"`
	Deleted   int         `json:"deleted"`
	Errors    []FileError `json:"errors,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	Duration  string      `json:"duration"`
}

// FileError records a per-file failure that did not abort the pass
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// ConsistencyReport is the dry-run output of the consistency check
type ConsistencyReport struct {
	CacheRows          int64    `json:"cache_rows"`
	Sidecars           int      `json:"sidecars"`
	OrphanCache        int      `json:"orphan_cache"`
	OrphanAttr         int      `json:"orphan_attr"`
	ExpiredCache       int      `json:"expired_cache"`
	SampledOrphanCache []string `json:"sampled_orphan_cache,omitempty"`
	SampledOrphanAttr  []string `json:"sampled_orphan_attr,omitempty"`
	SampledExpired     []string `json:"sampled_expired,omitempty"`
}

const sampleLimit = 20

// Synchronizer runs the cache maintenance operations of one element
type Synchronizer struct {
	cfg    *config.SE
	cache  *metacache.Store
	driver backend.Driver
	lock   *registry.Lock
	logger zerolog.Logger

	mu        sync.Mutex
	lazyQueue chan string
	inflight  map[string]struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a synchronizer using the element's rebuild lock
func New(cfg *config.SE, cache *metacache.Store, driver backend.Driver, reg *registry.Client) *Synchronizer {
	return &Synchronizer{
		cfg:       cfg,
		cache:     cache,
		driver:    driver,
		lock:      reg.NewLock("se:" + cfg.ElementID + ":cache_lock"),
		logger:    log.WithComponent("synchronizer"),
		lazyQueue: make(chan string, 128),
		inflight:  make(map[string]struct{}),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the lazy rebuild worker
func (s *Synchronizer) Start() {
	s.wg.Add(1)
	go s.lazyWorker()
}

// Stop drains the lazy worker
func (s *Synchronizer) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Synchronizer) owner(op string) string {
	return s.cfg.ElementID + ":" + op + ":" + uuid.NewString()[:8]
}

// withLock acquires the rebuild lock for the duration of fn, renewing the
// TTL from a heartbeat while fn runs.
func (s *Synchronizer) withLock(ctx context.Context, op string, priority int, fn func(context.Context) error) error {
	owner := s.owner(op)
	if err := s.lock.TryAcquire(ctx, owner, priority, lockTTL); err != nil {
		return err
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		ticker := time.NewTicker(lockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				if err := s.lock.Renew(heartbeatCtx, owner, lockTTL); err != nil {
					s.logger.Warn().Err(err).Str("operation", op).Msg("lock heartbeat failed")
				}
			}
		}
	}()

	err := fn(ctx)

	stopHeartbeat()
	hb.Wait()
	if relErr := s.lock.Release(context.Background(), owner); relErr != nil {
		s.logger.Warn().Err(relErr).Str("operation", op).Msg("lock release failed")
	}
	return err
}

// walkSidecars visits every sidecar, parsing each and handing the
// attributes to fn. Parse failures are collected, not fatal.
func (s *Synchronizer) walkSidecars(ctx context.Context, fn func(path string, data []byte) error) ([]FileError, error) {
	var fileErrors []FileError
	err := s.driver.Walk(ctx, "", func(info backend.ObjectInfo) error {
		if !strings.HasSuffix(info.Path, backend.SidecarSuffix) {
			return nil
		}
		data, err := s.driver.ReadSidecar(ctx, info.Path)
		if err != nil {
			fileErrors = append(fileErrors, FileError{Path: info.Path, Error: err.Error()})
			return nil
		}
		if err := fn(info.Path, data); err != nil {
			fileErrors = append(fileErrors, FileError{Path: info.Path, Error: err.Error()})
		}
		return nil
	})
	return fileErrors, err
}

// FullRebuild truncates the cache and re-materializes every sidecar.
// Exclusive: a concurrent rebuild attempt fails with rebuild_in_progress.
// On timeout partial progress remains; the cache converges on sidecar
// truth either way.
func (s *Synchronizer) FullRebuild(ctx context.Context) (*RebuildReport, error) {
	report := &RebuildReport{StartedAt: time.Now().UTC()}
	timer := metrics.NewTimer()

	err := s.withLock(ctx, "full", priorityRebuild, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.RebuildTimeout)
		defer cancel()

		prior, err := s.cache.Count(ctx)
		if err != nil {
			return err
		}
		if err := s.cache.Truncate(ctx); err != nil {
			return err
		}
		report.Deleted = int(prior)

		ttl := s.cfg.CacheTTLHoursFor(s.cfg.Mode)
		fileErrors, err := s.walkSidecars(ctx, func(path string, data []byte) error {
			report.Scanned++
			attrs, err := attr.Parse(data)
			if err != nil {
				return err
			}
			if err := s.cache.Upsert(ctx, attrs, attrs.LastCommittedAt(), ttl); err != nil {
				return err
			}
			report.Created++
			return nil
		})
		report.Errors = fileErrors
		return err
	})

	report.Duration = time.Since(report.StartedAt).String()
	timer.ObserveDuration(metrics.RebuildDuration)
	if err != nil {
		metrics.CacheRebuildsTotal.WithLabelValues("full", "error").Inc()
		return report, err
	}
	metrics.CacheRebuildsTotal.WithLabelValues("full", "ok").Inc()
	s.logger.Info().
		Int("scanned", report.Scanned).
		Int("created", report.Created).
		Int("deleted", report.Deleted).
		Int("errors", len(report.Errors)).
		Str("duration", report.Duration).
		Msg("full cache rebuild finished")
	return report, nil
}

// IncrementalRebuild adds cache rows for sidecars that lack one. It never
// deletes rows and applying it twice yields the same cache state.
func (s *Synchronizer) IncrementalRebuild(ctx context.Context) (*RebuildReport, error) {
	report := &RebuildReport{StartedAt: time.Now().UTC()}

	err := s.withLock(ctx, "incremental", priorityRebuild, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.RebuildTimeout)
		defer cancel()

		ids, err := s.cache.ListFileIDs(ctx)
		if err != nil {
			return err
		}
		known := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			known[id] = struct{}{}
		}

		ttl := s.cfg.CacheTTLHoursFor(s.cfg.Mode)
		fileErrors, err := s.walkSidecars(ctx, func(path string, data []byte) error {
			report.Scanned++
			attrs, err := attr.Parse(data)
			if err != nil {
				return err
			}
			if _, ok := known[attrs.FileID]; ok {
				return nil
			}
			if err := s.cache.Upsert(ctx, attrs, attrs.LastCommittedAt(), ttl); err != nil {
				return err
			}
			report.Created++
			return nil
		})
		report.Errors = fileErrors
		return err
	})

	report.Duration = time.Since(report.StartedAt).String()
	if err != nil {
		metrics.CacheRebuildsTotal.WithLabelValues("incremental", "error").Inc()
		return report, err
	}
	metrics.CacheRebuildsTotal.WithLabelValues("incremental", "ok").Inc()
	s.logger.Info().
		Int("scanned", report.Scanned).
		Int("created", report.Created).
		Msg("incremental cache rebuild finished")
	return report, nil
}

// ConsistencyCheck compares cache rows against sidecars without mutating
// either side.
func (s *Synchronizer) ConsistencyCheck(ctx context.Context) (*ConsistencyReport, error) {
	report := &ConsistencyReport{}

	err := s.withLock(ctx, "consistency", priorityConsistency, func(ctx context.Context) error {
		ids, err := s.cache.ListFileIDs(ctx)
		if err != nil {
			return err
		}
		report.CacheRows = int64(len(ids))
		cached := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			cached[id] = struct{}{}
		}

		onDisk := map[string]struct{}{}
		_, err = s.walkSidecars(ctx, func(path string, data []byte) error {
			report.Sidecars++
			attrs, err := attr.Parse(data)
			if err != nil {
				return err
			}
			onDisk[attrs.FileID] = struct{}{}
			if _, ok := cached[attrs.FileID]; !ok {
				report.OrphanAttr++
				if len(report.SampledOrphanAttr) < sampleLimit {
					report.SampledOrphanAttr = append(report.SampledOrphanAttr, attrs.FileID)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, id := range ids {
			if _, ok := onDisk[id]; !ok {
				report.OrphanCache++
				if len(report.SampledOrphanCache) < sampleLimit {
					report.SampledOrphanCache = append(report.SampledOrphanCache, id)
				}
			}
		}

		expired, err := s.cache.ListExpired(ctx, time.Now(), 100000)
		if err != nil {
			return err
		}
		report.ExpiredCache = len(expired)
		if len(expired) > sampleLimit {
			expired = expired[:sampleLimit]
		}
		report.SampledExpired = expired
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// CleanupExpired deletes cache rows past their TTL. Sidecars are never
// touched; deleted rows come back on the next rebuild or read.
func (s *Synchronizer) CleanupExpired(ctx context.Context) (int64, error) {
	var deleted int64
	err := s.withLock(ctx, "cleanup", priorityCleanup, func(ctx context.Context) error {
		n, err := s.cache.DeleteExpired(ctx, time.Now())
		deleted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("deleted", deleted).Msg("expired cache rows cleaned up")
	return deleted, nil
}

// LazyRebuild queues a single-entry rebuild for the object at objectPath.
// Non-blocking: a full queue or a held maintenance lock drops the request
// and the caller keeps serving the stale row.
func (s *Synchronizer) LazyRebuild(_ context.Context, objectPath string) {
	s.mu.Lock()
	if _, busy := s.inflight[objectPath]; busy {
		s.mu.Unlock()
		return
	}
	s.inflight[objectPath] = struct{}{}
	s.mu.Unlock()

	select {
	case s.lazyQueue <- objectPath:
	default:
		s.release(objectPath)
		metrics.CacheLazyRebuildsTotal.WithLabelValues("dropped").Inc()
	}
}

func (s *Synchronizer) release(objectPath string) {
	s.mu.Lock()
	delete(s.inflight, objectPath)
	s.mu.Unlock()
}

func (s *Synchronizer) lazyWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case objectPath := <-s.lazyQueue:
			s.rebuildOne(objectPath)
			s.release(objectPath)
		}
	}
}

// rebuildOne re-materializes one cache row from its sidecar. It skips
// silently while an exclusive rebuild holds the lock; lower-priority
// holders (consistency checks, cleanup) do not block single-row repair.
func (s *Synchronizer) rebuildOne(objectPath string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if p, err := s.lock.HolderPriority(ctx); err == nil {
		if p == priorityRebuild {
			metrics.CacheLazyRebuildsTotal.WithLabelValues("skipped").Inc()
			return
		}
	} else if !errdefs.Is(err, errdefs.KindNotFound) {
		metrics.CacheLazyRebuildsTotal.WithLabelValues("error").Inc()
		return
	}

	attrs, err := attr.Read(ctx, s.driver, objectPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", objectPath).Msg("lazy rebuild sidecar read failed")
		metrics.CacheLazyRebuildsTotal.WithLabelValues("error").Inc()
		return
	}
	if err := s.cache.Upsert(ctx, attrs, attrs.LastCommittedAt(), s.cfg.CacheTTLHoursFor(s.cfg.Mode)); err != nil {
		s.logger.Warn().Err(err).Str("path", objectPath).Msg("lazy rebuild upsert failed")
		metrics.CacheLazyRebuildsTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.CacheLazyRebuildsTotal.WithLabelValues("ok").Inc()
}
