package engine

import (
	"context"

	"github.com/cuemby/artstore/pkg/attr"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/metrics"
	"github.com/cuemby/artstore/pkg/types"
)

// Delete removes a logical file: cache row, then sidecar, then object,
// under WAL protection with the previous sidecar captured as
// compensation data. In edit mode the principal needs the file:delete
// scope; in rw mode only an ADMIN service account may delete.
func (e *Engine) Delete(ctx context.Context, fileID string, principal *types.Principal) error {
	if !e.cfg.Mode.AllowsDelete() {
		metrics.DeletesTotal.WithLabelValues("mode_denied").Inc()
		return errdefs.Newf(errdefs.KindModeDenied, "mode %s does not allow deletes", e.cfg.Mode)
	}
	if principal == nil {
		metrics.DeletesTotal.WithLabelValues("forbidden").Inc()
		return errdefs.New(errdefs.KindForbidden, "delete requires an authenticated principal")
	}
	if e.cfg.Mode == types.ModeRW && !principal.IsServiceAdmin() {
		metrics.DeletesTotal.WithLabelValues("forbidden").Inc()
		return errdefs.New(errdefs.KindForbidden, "delete in rw mode requires an ADMIN service account")
	}
	if !principal.HasScope("file:delete") {
		metrics.DeletesTotal.WithLabelValues("forbidden").Inc()
		return errdefs.New(errdefs.KindForbidden, "missing file:delete scope")
	}

	attrs, err := e.resolveAttributes(ctx, fileID)
	if err != nil {
		metrics.DeletesTotal.WithLabelValues("not_found").Inc()
		return err
	}
	op := objectPath(attrs.StoragePath, attrs.StorageFilename)

	sidecarData, err := e.driver.ReadSidecar(ctx, attr.SidecarPath(op))
	if err != nil && !errdefs.Is(err, errdefs.KindNotFound) {
		return err
	}

	walID, err := e.walBegin(ctx, types.WALOpDelete, fileID, map[string]any{
		"object_path": op,
		"sidecar":     string(sidecarData),
	})
	if err != nil {
		metrics.DeletesTotal.WithLabelValues("conflict").Inc()
		return err
	}

	if err := e.cache.Delete(ctx, fileID); err != nil {
		e.walRollback(ctx, types.WALOpDelete, walID, map[string]any{"stage": "cache_delete"})
		metrics.DeletesTotal.WithLabelValues("cache_error").Inc()
		return err
	}

	if err := e.driver.DeleteObject(ctx, attr.SidecarPath(op)); err != nil {
		e.walRollback(ctx, types.WALOpDelete, walID, map[string]any{"stage": "sidecar_delete"})
		metrics.DeletesTotal.WithLabelValues("backend_error").Inc()
		return err
	}

	if err := e.driver.DeleteObject(ctx, op); err != nil {
		// The sidecar is gone so the file identity is gone; the orphaned
		// bytes are reclaimed by the orphan sweep.
		e.logger.Error().Err(err).Str("path", op).Msg("object delete failed after sidecar removal, orphan left for gc")
		if failErr := e.walFail(ctx, walID, map[string]any{
			"stage":       "object_delete",
			"orphan_path": op,
		}); failErr != nil {
			e.logger.Error().Err(failErr).Int64("wal_id", walID).Msg("wal fail mark failed")
		}
		metrics.DeletesTotal.WithLabelValues("orphaned").Inc()
		return err
	}

	if _, err := e.walCommit(ctx, walID); err != nil {
		e.logger.Error().Err(err).Str("file_id", fileID).Msg("wal commit failed after delete")
	}

	metrics.DeletesTotal.WithLabelValues("ok").Inc()
	metrics.WALEntriesTotal.WithLabelValues(string(types.WALOpDelete), string(types.WALStatusCommitted)).Inc()
	e.logger.Info().Str("file_id", fileID).Str("path", op).Msg("file deleted")
	return nil
}

func (e *Engine) walFail(ctx context.Context, walID int64, compensation map[string]any) error {
	if e.wal == nil || walID == 0 {
		return nil
	}
	return e.wal.Fail(ctx, walID, compensation)
}
