package reporter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/artstore/pkg/backend"
	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/metrics"
	"github.com/cuemby/artstore/pkg/registry"
	"github.com/cuemby/artstore/pkg/types"
)

// Reconciler is implemented by backends whose used-byte counter drifts
// and needs a periodic full recount (the s3 driver).
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// reconcileEvery controls how many report cycles pass between backend
// counter reconciliations.
const reconcileEvery = 120

// Reporter periodically measures capacity and publishes the element's
// registry record.
type Reporter struct {
	cfg    *config.SE
	driver backend.Driver
	reg    *registry.Client
	logger zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a health reporter
func New(cfg *config.SE, driver backend.Driver, reg *registry.Client) *Reporter {
	return &Reporter{
		cfg:    cfg,
		driver: driver,
		reg:    reg,
		logger: log.WithComponent("reporter"),
		stopCh: make(chan struct{}),
	}
}

// Start publishes once immediately and then on every interval
func (r *Reporter) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Stop halts the loop and deregisters the element from the registry so
// discovery drops it immediately instead of waiting for TTL expiry.
func (r *Reporter) Stop() {
	close(r.stopCh)
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.reg.Deregister(ctx, r.cfg.ElementID, r.cfg.Mode); err != nil {
		r.logger.Warn().Err(err).Msg("failed to deregister on shutdown")
	}
}

func (r *Reporter) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.HealthReportInterval)
	defer ticker.Stop()

	cycles := 0
	r.publish()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			cycles++
			if rec, ok := r.driver.(Reconciler); ok && cycles%reconcileEvery == 0 {
				ctx, cancel := context.WithTimeout(context.Background(), r.cfg.HealthReportInterval)
				if err := rec.Reconcile(ctx); err != nil {
					r.logger.Warn().Err(err).Msg("backend capacity reconciliation failed")
				}
				cancel()
			}
			r.publish()
		}
	}
}

// publish performs one report cycle. Registry failures are logged and
// skipped; the next cycle retries.
func (r *Reporter) publish() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.HealthReportInterval)
	defer cancel()

	rec, err := r.Snapshot(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("capacity measurement failed")
		metrics.RegistryPublishesTotal.WithLabelValues("measure_error").Inc()
		return
	}

	metrics.CapacityTotalBytes.Set(float64(rec.CapacityTotal))
	metrics.CapacityFreeBytes.Set(float64(rec.CapacityFree))
	for _, st := range []types.CapacityStatus{types.CapacityOK, types.CapacityWarning, types.CapacityCritical, types.CapacityFull} {
		v := 0.0
		if st == rec.CapacityStatus {
			v = 1.0
		}
		metrics.CapacityStatusGauge.WithLabelValues(string(st)).Set(v)
	}

	if err := r.reg.PublishElement(ctx, rec, r.cfg.HealthReportTTL); err != nil {
		r.logger.Warn().Err(err).Msg("registry publish skipped")
		metrics.RegistryPublishesTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.RegistryPublishesTotal.WithLabelValues("ok").Inc()
}

// Snapshot measures the backend and assembles the registry record
func (r *Reporter) Snapshot(ctx context.Context) (*types.RegistryRecord, error) {
	cap, err := r.driver.Capacity(ctx)
	if err != nil {
		return nil, err
	}

	thresholds := types.ComputeThresholds(r.cfg.Mode, cap.TotalBytes)
	status := thresholds.Status(cap.FreeBytes)

	percent := 0.0
	if cap.TotalBytes > 0 {
		percent = float64(cap.UsedBytes) / float64(cap.TotalBytes) * 100
	}

	return &types.RegistryRecord{
		ID:                r.cfg.ElementID,
		Mode:              r.cfg.Mode,
		CapacityTotal:     cap.TotalBytes,
		CapacityUsed:      cap.UsedBytes,
		CapacityFree:      cap.FreeBytes,
		CapacityPercent:   percent,
		Endpoint:          r.cfg.Endpoint,
		Priority:          r.cfg.Priority,
		LastUpdated:       time.Now().UTC(),
		HealthStatus:      types.HealthHealthy,
		CapacityStatus:    status,
		ThresholdWarning:  float64(thresholds.WarningFreeBytes),
		ThresholdCritical: float64(thresholds.CriticalFreeBytes),
		ThresholdFull:     float64(thresholds.FullFreeBytes),
	}, nil
}
