package gc

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/artstore/pkg/admin/elements"
	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/metrics"
)

const (
	batchSize     = 500
	listPageSize  = 200
	backoffBase   = time.Hour
	backoffCap    = 24 * time.Hour
	actionTimeout = 30 * time.Second
)

// TokenSource mints service tokens for calls against storage elements
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Report summarizes one collection cycle
type Report struct {
	TTLDeleted    int       `json:"ttl_deleted"`
	EditDeleted   int       `json:"edit_copies_deleted"`
	OrphanDeleted int       `json:"orphans_deleted"`
	OrphansSeen   int       `json:"orphans_observed"`
	Errors        int       `json:"errors"`
	StartedAt     time.Time `json:"started_at"`
	Duration      string    `json:"duration"`
}

// Collector runs the three collection strategies against the fleet
type Collector struct {
	cfg    *config.Admin
	store  *Store
	elems  *elements.Store
	client *elements.Client
	tokens TokenSource
	logger zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a garbage collector
func NewCollector(cfg *config.Admin, store *Store, elems *elements.Store, client *elements.Client, tokens TokenSource) *Collector {
	return &Collector{
		cfg:    cfg,
		store:  store,
		elems:  elems,
		client: client,
		tokens: tokens,
		logger: log.WithComponent("gc"),
		stopCh: make(chan struct{}),
	}
}

// Start launches the periodic collection loop
func (c *Collector) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Collect(context.Background())
			case <-c.stopCh:
				return
			}
		}
	}()
	c.logger.Info().Dur("interval", c.cfg.GCInterval).Msg("garbage collector started")
}

// Stop terminates the collection loop
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// Collect runs one full cycle: TTL expiry, finalized edit copies, then
// the orphan sweep.
func (c *Collector) Collect(ctx context.Context) *Report {
	report := &Report{StartedAt: time.Now().UTC()}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to mint gc token, skipping cycle")
		report.Errors++
		report.Duration = time.Since(report.StartedAt).Round(time.Millisecond).String()
		return report
	}

	c.collectExpiredTTL(ctx, token, report)
	c.collectFinalizedCopies(ctx, token, report)
	c.sweepOrphans(ctx, token, report)

	report.Duration = time.Since(report.StartedAt).Round(time.Millisecond).String()
	c.logger.Info().
		Int("ttl_deleted", report.TTLDeleted).
		Int("edit_copies_deleted", report.EditDeleted).
		Int("orphans_deleted", report.OrphanDeleted).
		Int("errors", report.Errors).
		Str("duration", report.Duration).
		Msg("gc cycle complete")
	return report
}

func (c *Collector) collectExpiredTTL(ctx context.Context, token string, report *Report) {
	entries, err := c.store.ListExpiredTTL(ctx, time.Now().UTC(), batchSize)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to list expired entries")
		report.Errors++
		return
	}
	for _, e := range entries {
		if c.deleteOnElement(ctx, "ttl", e.FileID, e.ElementID, token, e.GCAttempts) {
			if err := c.store.MarkDeleted(ctx, e.FileID); err != nil {
				c.logger.Error().Err(err).Str("file_id", e.FileID).Msg("failed to mark entry deleted")
				report.Errors++
				continue
			}
			report.TTLDeleted++
		} else {
			report.Errors++
		}
	}
}

func (c *Collector) collectFinalizedCopies(ctx context.Context, token string, report *Report) {
	now := time.Now().UTC()
	cutoff := now.Add(-c.cfg.GCFinalizedMargin)
	entries, err := c.store.ListFinalizedWithEditCopy(ctx, now, cutoff, batchSize)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to list finalized entries")
		report.Errors++
		return
	}
	for _, e := range entries {
		if e.EditElementID == nil {
			continue
		}
		// Only the stale edit copy goes; the finalized copy stays put.
		if c.deleteOnElement(ctx, "finalized", e.FileID, *e.EditElementID, token, e.GCAttempts) {
			if err := c.store.ClearEditCopy(ctx, e.FileID); err != nil {
				c.logger.Error().Err(err).Str("file_id", e.FileID).Msg("failed to clear edit copy")
				report.Errors++
				continue
			}
			report.EditDeleted++
		} else {
			report.Errors++
		}
	}
}

// sweepOrphans enumerates each element's files and collects objects the
// registry does not know about. Deletion needs two observations separated
// by the safety margin, and the object itself must be older than the
// margin.
func (c *Collector) sweepOrphans(ctx context.Context, token string, report *Report) {
	now := time.Now().UTC()
	margin := c.cfg.GCOrphanMargin

	recs, err := c.elems.List(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to list elements for orphan sweep")
		report.Errors++
		return
	}
	for _, rec := range recs {
		if rec.Status != elements.StatusOperational {
			continue
		}
		c.observeElement(ctx, rec, token, now, margin, report)
	}

	candidates, err := c.store.ListOrphanCandidates(ctx, now, now.Add(-margin), batchSize)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to list orphan candidates")
		report.Errors++
		return
	}
	for _, e := range candidates {
		actx, cancel := context.WithTimeout(ctx, actionTimeout)
		exists, err := c.client.FileExists(actx, c.endpointFor(ctx, e.ElementID), e.FileID, token)
		cancel()
		if err != nil {
			report.Errors++
			continue
		}
		if !exists {
			// Second observation confirms the element no longer has it
			// either; nothing left to delete.
			_ = c.store.MarkDeleted(ctx, e.FileID)
			continue
		}
		if c.deleteOnElement(ctx, "orphan", e.FileID, e.ElementID, token, e.GCAttempts) {
			if err := c.store.MarkDeleted(ctx, e.FileID); err != nil {
				report.Errors++
				continue
			}
			report.OrphanDeleted++
		} else {
			report.Errors++
		}
	}
}

// observeElement pages the element's physical backend listing. Objects
// with a sidecar but no registry entry become orphan candidates; objects
// without a sidecar are unaddressable by any API and are deleted outright
// once older than the safety margin.
func (c *Collector) observeElement(ctx context.Context, rec *elements.Record, token string, now time.Time, margin time.Duration, report *Report) {
	offset := 0
	for {
		actx, cancel := context.WithTimeout(ctx, actionTimeout)
		objects, err := c.client.ListObjects(actx, rec.Endpoint, token, listPageSize, offset)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Str("element_id", rec.ElementID).Msg("orphan sweep listing failed")
			report.Errors++
			return
		}
		for _, obj := range objects {
			// Young objects may simply not be registered yet.
			if now.Sub(obj.ModTime) < margin {
				continue
			}
			if !obj.HasSidecar || obj.FileID == "" {
				c.deleteObjectPath(ctx, rec, obj.Path, token, report)
				continue
			}
			entry, err := c.store.Get(ctx, obj.FileID)
			if err == nil {
				if entry.State == StateOrphanCandidate {
					continue
				}
				// Known file; nothing to observe.
				continue
			}
			if !errdefs.Is(err, errdefs.KindNotFound) {
				report.Errors++
				continue
			}
			if _, err := c.store.ObserveOrphan(ctx, obj.FileID, rec.ElementID, now); err != nil {
				c.logger.Error().Err(err).Str("file_id", obj.FileID).Msg("failed to record orphan observation")
				report.Errors++
				continue
			}
			report.OrphansSeen++
		}
		offset += len(objects)
		if len(objects) < listPageSize {
			return
		}
	}
}

// deleteObjectPath reclaims bytes that have no sidecar. There is no
// registry entry to track attempts for, so failures only count as errors
// and the next cycle retries.
func (c *Collector) deleteObjectPath(ctx context.Context, rec *elements.Record, objectPath, token string, report *Report) {
	actx, cancel := context.WithTimeout(ctx, actionTimeout)
	err := c.client.DeleteObjectPath(actx, rec.Endpoint, objectPath, token)
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).
			Str("element_id", rec.ElementID).
			Str("path", objectPath).
			Msg("gc object delete failed")
		metrics.GCActionsTotal.WithLabelValues("orphan", "error").Inc()
		report.Errors++
		return
	}
	c.logger.Info().
		Str("element_id", rec.ElementID).
		Str("path", objectPath).
		Msg("gc deleted sidecar-less object")
	metrics.GCActionsTotal.WithLabelValues("orphan", "ok").Inc()
	report.OrphanDeleted++
}

func (c *Collector) deleteOnElement(ctx context.Context, strategy, fileID, elementID, token string, attempts int) bool {
	endpoint := c.endpointFor(ctx, elementID)
	if endpoint == "" {
		metrics.GCActionsTotal.WithLabelValues(strategy, "error").Inc()
		_ = c.store.RecordFailure(ctx, fileID, backoffFor(attempts))
		return false
	}
	actx, cancel := context.WithTimeout(ctx, actionTimeout)
	err := c.client.DeleteFile(actx, endpoint, fileID, token)
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).
			Str("strategy", strategy).
			Str("file_id", fileID).
			Str("element_id", elementID).
			Msg("gc delete failed")
		metrics.GCActionsTotal.WithLabelValues(strategy, "error").Inc()
		_ = c.store.RecordFailure(ctx, fileID, backoffFor(attempts))
		return false
	}
	c.logger.Info().
		Str("strategy", strategy).
		Str("file_id", fileID).
		Str("element_id", elementID).
		Msg("gc deleted file")
	metrics.GCActionsTotal.WithLabelValues(strategy, "ok").Inc()
	return true
}

func (c *Collector) endpointFor(ctx context.Context, elementID string) string {
	rec, err := c.elems.Get(ctx, elementID)
	if err != nil {
		c.logger.Warn().Err(err).Str("element_id", elementID).Msg("unknown element for gc action")
		return ""
	}
	return rec.Endpoint
}

// backoffFor doubles the retry delay per attempt up to the cap
func backoffFor(attempts int) time.Duration {
	d := backoffBase
	for i := 0; i < attempts && d < backoffCap; i++ {
		d *= 2
	}
	if d > backoffCap {
		d = backoffCap
	}
	return d
}
