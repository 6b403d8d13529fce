package elements

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/metrics"
	"github.com/cuemby/artstore/pkg/registry"
	"github.com/cuemby/artstore/pkg/types"
)

const syncPollTimeout = 15 * time.Second

// Syncer polls every known element on an interval and keeps the admin's
// records and the shared registry in step with reality.
type Syncer struct {
	cfg    *config.Admin
	store  *Store
	client *Client
	reg    *registry.Client
	logger zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSyncer creates an element syncer
func NewSyncer(cfg *config.Admin, store *Store, client *Client, reg *registry.Client) *Syncer {
	return &Syncer{
		cfg:    cfg,
		store:  store,
		client: client,
		reg:    reg,
		logger: log.WithComponent("element-sync"),
		stopCh: make(chan struct{}),
	}
}

// Discover registers a new element from its /info endpoint
func (s *Syncer) Discover(ctx context.Context, endpoint string, priority int) (*Record, error) {
	info, err := s.client.Info(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	rec, err := s.store.Upsert(ctx, endpoint, info, priority)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("element_id", rec.ElementID).
		Str("endpoint", rec.Endpoint).
		Str("mode", string(rec.Mode)).
		Msg("element discovered")
	return rec, nil
}

// Start launches the periodic sync loop
func (s *Syncer) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.ElementSyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SyncAll(context.Background())
			case <-s.stopCh:
				return
			}
		}
	}()
	s.logger.Info().
		Dur("interval", s.cfg.ElementSyncInterval).
		Msg("element sync started")
}

// Stop terminates the sync loop
func (s *Syncer) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// SyncAll polls every known element once
func (s *Syncer) SyncAll(ctx context.Context) {
	recs, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list elements for sync")
		return
	}
	for _, rec := range recs {
		s.syncOne(ctx, rec)
	}
}

// SyncOne polls a single element by id
func (s *Syncer) SyncOne(ctx context.Context, elementID string) (*Record, error) {
	rec, err := s.store.Get(ctx, elementID)
	if err != nil {
		return nil, err
	}
	s.syncOne(ctx, rec)
	return s.store.Get(ctx, elementID)
}

func (s *Syncer) syncOne(ctx context.Context, rec *Record) {
	pollCtx, cancel := context.WithTimeout(ctx, syncPollTimeout)
	defer cancel()

	info, err := s.client.Info(pollCtx, rec.Endpoint)
	if err != nil {
		metrics.ElementSyncsTotal.WithLabelValues("error").Inc()
		status, merr := s.store.MarkFailure(ctx, rec.ElementID, s.cfg.OfflineThreshold)
		if merr != nil {
			s.logger.Error().Err(merr).Str("element_id", rec.ElementID).Msg("failed to record sync failure")
			return
		}
		s.logger.Warn().Err(err).
			Str("element_id", rec.ElementID).
			Str("status", status).
			Msg("element poll failed")
		if status == StatusOffline && rec.Status != StatusOffline {
			s.publishOffline(ctx, rec)
		}
		return
	}

	if rec.Status == StatusOffline {
		s.logger.Info().Str("element_id", rec.ElementID).Msg("element recovered")
	}
	if _, err := s.store.Upsert(ctx, rec.Endpoint, info, rec.Priority); err != nil {
		s.logger.Error().Err(err).Str("element_id", rec.ElementID).Msg("failed to refresh element record")
		metrics.ElementSyncsTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.ElementSyncsTotal.WithLabelValues("ok").Inc()
}

// publishOffline overwrites the registry record so routers stop selecting
// the element before its TTL would expire on its own.
func (s *Syncer) publishOffline(ctx context.Context, rec *Record) {
	offline := &types.RegistryRecord{
		ID:             rec.ElementID,
		Mode:           rec.Mode,
		CapacityTotal:  rec.CapacityBytes,
		CapacityUsed:   rec.UsedBytes,
		CapacityFree:   0,
		Endpoint:       rec.Endpoint,
		Priority:       rec.Priority,
		LastUpdated:    time.Now().UTC(),
		HealthStatus:   types.HealthOffline,
		CapacityStatus: types.CapacityFull,
	}
	if err := s.reg.PublishElement(ctx, offline, s.cfg.ElementSyncInterval*2); err != nil {
		s.logger.Warn().Err(err).Str("element_id", rec.ElementID).Msg("failed to publish offline record")
		return
	}
	s.logger.Warn().Str("element_id", rec.ElementID).Msg("element marked offline")
}
