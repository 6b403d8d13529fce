package engine

import (
	"context"
	"time"

	"github.com/cuemby/artstore/pkg/attr"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

// MetadataUpdate carries the mutable sidecar fields. Nil pointers leave
// the current value untouched; Custom entries merge key by key, a nil
// value removes the key.
type MetadataUpdate struct {
	Description   *string
	Tags          []string
	RetentionDays *int
	Custom        map[string]any
}

func (u *MetadataUpdate) empty() bool {
	return u.Description == nil && u.Tags == nil && u.RetentionDays == nil && len(u.Custom) == 0
}

// UpdateMetadata rewrites the sidecar with the mutated fields under WAL
// protection. Identity fields (file_id, filenames, hashes, size) are
// immutable after upload; the version counter increments on every
// committed update.
func (e *Engine) UpdateMetadata(ctx context.Context, fileID string, update *MetadataUpdate) (*types.FileAttributes, error) {
	if !e.cfg.Mode.AllowsUpdate() {
		return nil, errdefs.Newf(errdefs.KindModeDenied, "mode %s does not allow metadata updates", e.cfg.Mode)
	}
	if update == nil || update.empty() {
		return nil, errdefs.New(errdefs.KindValidation, "no fields to update")
	}
	if update.RetentionDays != nil && *update.RetentionDays <= 0 {
		return nil, errdefs.New(errdefs.KindValidation, "retention_days must be positive")
	}

	current, err := e.resolveAttributes(ctx, fileID)
	if err != nil {
		return nil, err
	}
	op := objectPath(current.StoragePath, current.StorageFilename)

	// Load the sidecar itself rather than trusting the cache mirror, so
	// the previous content is exact for compensation.
	previous, err := attr.Read(ctx, e.driver, op)
	if err != nil {
		return nil, err
	}

	next := *previous
	if update.Description != nil {
		next.Description = *update.Description
	}
	if update.Tags != nil {
		next.Tags = update.Tags
	}
	if update.RetentionDays != nil {
		next.RetentionDays = *update.RetentionDays
		next.ExpiresAt = attr.ComputeExpiry(next.UploadedAt, next.RetentionDays)
	}
	if len(update.Custom) > 0 {
		if next.Custom == nil {
			next.Custom = map[string]any{}
		} else {
			merged := make(map[string]any, len(next.Custom))
			for k, v := range next.Custom {
				merged[k] = v
			}
			next.Custom = merged
		}
		for k, v := range update.Custom {
			if v == nil {
				delete(next.Custom, k)
			} else {
				next.Custom[k] = v
			}
		}
	}
	next.Version = previous.Version + 1
	// The sidecar carries the write instant so every later rebuild keys
	// its cache upsert on the same value this path does.
	next.UpdatedAt = time.Now().UTC()

	// Reject oversize sidecars before opening a WAL entry.
	if _, err := attr.Serialize(&next); err != nil {
		return nil, err
	}

	prevData, err := attr.Serialize(previous)
	if err != nil {
		return nil, err
	}

	walID, err := e.walBegin(ctx, types.WALOpUpdateMetadata, fileID, map[string]any{
		"object_path":      op,
		"previous_sidecar": string(prevData),
	})
	if err != nil {
		return nil, err
	}

	if err := attr.Write(ctx, e.driver, op, &next); err != nil {
		e.walRollback(ctx, types.WALOpUpdateMetadata, walID, map[string]any{"stage": "write_sidecar"})
		return nil, err
	}

	if _, err := e.walCommit(ctx, walID); err != nil {
		e.logger.Error().Err(err).Str("file_id", fileID).Msg("wal commit failed after metadata update")
	}

	if err := e.cache.Upsert(ctx, &next, next.LastCommittedAt(), e.cfg.CacheTTLHoursFor(e.cfg.Mode)); err != nil {
		e.logger.Warn().Err(err).Str("file_id", fileID).Msg("cache upsert failed after metadata update")
	}

	e.logger.Info().
		Str("file_id", fileID).
		Int("version", next.Version).
		Msg("metadata updated")
	return &next, nil
}
