package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/metrics"
	"github.com/cuemby/artstore/pkg/registry"
	"github.com/cuemby/artstore/pkg/types"
)

const rsaKeyBits = 2048

// Rotator rotates the signing key set on a schedule. Overlapping
// rotations are excluded by the kr_lock; a second attempt while one is in
// flight observes rebuild_in_progress contention.
type Rotator struct {
	cfg    *config.Admin
	store  *Store
	lock   *registry.Lock
	logger zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRotator creates a key rotator using the shared kr_lock
func NewRotator(cfg *config.Admin, store *Store, reg *registry.Client) *Rotator {
	return &Rotator{
		cfg:    cfg,
		store:  store,
		lock:   reg.NewLock("kr_lock"),
		logger: log.WithComponent("keyrotator"),
		stopCh: make(chan struct{}),
	}
}

// EnsureKey rotates immediately if no primary key exists yet. Called at
// startup before the token service accepts traffic.
func (r *Rotator) EnsureKey(ctx context.Context) error {
	_, err := r.store.Primary(ctx)
	if err == nil {
		return nil
	}
	if !errdefs.Is(err, errdefs.KindNotFound) {
		return err
	}
	_, err = r.Rotate(ctx)
	return err
}

// Start runs scheduled rotations until Stop
func (r *Rotator) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.KeyRotationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if _, err := r.Rotate(ctx); err != nil {
					if errdefs.Is(err, errdefs.KindRebuildInProgress) {
						r.logger.Info().Msg("rotation already in progress elsewhere, skipping")
					} else {
						r.logger.Error().Err(err).Msg("scheduled key rotation failed")
					}
				}
				cancel()
			}
		}
	}()
}

// Stop halts scheduled rotations
func (r *Rotator) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// Rotate generates a fresh keypair, promotes it to primary and retires
// keys past their expiry. Exactly one rotation runs at a time.
func (r *Rotator) Rotate(ctx context.Context) (*types.JWTKey, error) {
	owner := "rotator:" + uuid.NewString()[:8]
	if err := r.lock.TryAcquire(ctx, owner, 1, time.Minute); err != nil {
		metrics.KeyRotationsTotal.WithLabelValues("contended").Inc()
		return nil, err
	}
	defer func() {
		if err := r.lock.Release(context.Background(), owner); err != nil {
			r.logger.Warn().Err(err).Msg("kr_lock release failed")
		}
	}()

	key, err := r.generate()
	if err != nil {
		metrics.KeyRotationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if err := r.store.Insert(ctx, key); err != nil {
		metrics.KeyRotationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if n, err := r.store.DeactivateExpired(ctx, time.Now()); err != nil {
		r.logger.Warn().Err(err).Msg("failed to deactivate expired keys")
	} else if n > 0 {
		r.logger.Info().Int64("deactivated", n).Msg("retired expired keys")
	}
	cutoff := time.Now().Add(-r.cfg.KeyDeletionGracePeriod)
	if n, err := r.store.DeleteInactiveOlderThan(ctx, cutoff); err != nil {
		r.logger.Warn().Err(err).Msg("failed to delete retired keys")
	} else if n > 0 {
		r.logger.Info().Int64("deleted", n).Msg("removed retired keys past safety window")
	}

	if r.cfg.PublicKeyExportPath != "" {
		if err := os.WriteFile(r.cfg.PublicKeyExportPath, []byte(key.PublicKeyPEM), 0644); err != nil {
			r.logger.Warn().Err(err).Str("path", r.cfg.PublicKeyExportPath).Msg("public key export failed")
		}
	}

	metrics.KeyRotationsTotal.WithLabelValues("ok").Inc()
	r.logger.Info().
		Str("version", key.Version).
		Time("expires_at", key.ExpiresAt).
		Msg("signing key rotated")
	return key, nil
}

// generate creates one RSA-2048 keypair as PEM
func (r *Rotator) generate() (*types.JWTKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa keypair: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	now := time.Now().UTC()
	return &types.JWTKey{
		Version:       uuid.NewString(),
		Algorithm:     "RS256",
		PrivateKeyPEM: string(privPEM),
		PublicKeyPEM:  string(pubPEM),
		CreatedAt:     now,
		ExpiresAt:     now.Add(2 * r.cfg.KeyRotationInterval),
		IsActive:      true,
		IsPrimary:     true,
	}, nil
}
