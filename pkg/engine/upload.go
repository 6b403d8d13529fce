package engine

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/artstore/pkg/attr"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/metrics"
	"github.com/cuemby/artstore/pkg/types"
)

// UploadRequest carries the client-declared metadata for an upload
type UploadRequest struct {
	OriginalFilename  string
	DeclaredSizeBytes int64
	MimeType          string
	Description       string
	Tags              []string
	RetentionDays     int
	Custom            map[string]any
	UploadedBy        string
}

// UploadResult is returned on a committed upload
type UploadResult struct {
	FileID          string `json:"file_id"`
	StorageFilename string `json:"storage_filename"`
	SizeBytes       int64  `json:"size_bytes"`
	SHA256          string `json:"sha256"`
}

func (r *UploadRequest) validate() error {
	if r.OriginalFilename == "" {
		return errdefs.New(errdefs.KindValidation, "original_filename is required")
	}
	if len(r.OriginalFilename) > types.MaxOriginalFilenameBytes {
		return errdefs.Newf(errdefs.KindValidation,
			"original_filename exceeds %d bytes", types.MaxOriginalFilenameBytes)
	}
	if r.UploadedBy == "" {
		return errdefs.New(errdefs.KindValidation, "uploaded_by is required")
	}
	if r.DeclaredSizeBytes <= 0 {
		return errdefs.New(errdefs.KindValidation, "declared size must be positive")
	}
	return nil
}

// Upload streams an object in and commits it under WAL protection. Bytes
// land under a temporary name and are promoted atomically; the sidecar is
// written after the object; the cache row is best-effort. A cache failure
// never rolls back committed bytes.
func (e *Engine) Upload(ctx context.Context, body io.Reader, req *UploadRequest) (*UploadResult, error) {
	if !e.cfg.Mode.AllowsCreate() {
		metrics.UploadsTotal.WithLabelValues("mode_denied").Inc()
		return nil, errdefs.Newf(errdefs.KindModeDenied, "mode %s does not allow uploads", e.cfg.Mode)
	}
	if err := req.validate(); err != nil {
		metrics.UploadsTotal.WithLabelValues("validation").Inc()
		return nil, err
	}
	if req.DeclaredSizeBytes > e.cfg.MaxFileSizeBytes {
		metrics.UploadsTotal.WithLabelValues("too_large").Inc()
		return nil, errdefs.Newf(errdefs.KindFileTooLarge,
			"declared size %d exceeds limit %d", req.DeclaredSizeBytes, e.cfg.MaxFileSizeBytes)
	}

	// Capacity reservation: declared size must fit the free bytes exactly;
	// free == size is accepted, free == size-1 is not.
	cap, err := e.driver.Capacity(ctx)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("backend_error").Inc()
		return nil, err
	}
	if cap.FreeBytes < req.DeclaredSizeBytes {
		metrics.UploadsTotal.WithLabelValues("insufficient_storage").Inc()
		return nil, errdefs.Newf(errdefs.KindInsufficientStorage,
			"declared size %d exceeds free capacity %d", req.DeclaredSizeBytes, cap.FreeBytes)
	}

	now := time.Now().UTC()
	fileID := uuid.NewString()
	storageFilename := BuildStorageFilename(req.OriginalFilename, req.UploadedBy, now)
	storagePath := BuildStoragePath(now)
	op := objectPath(storagePath, storageFilename)

	walID, err := e.walBegin(ctx, types.WALOpUpload, fileID, map[string]any{
		"storage_path":     storagePath,
		"storage_filename": storageFilename,
		"object_path":      op,
		"declared_size":    req.DeclaredSizeBytes,
	})
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("conflict").Inc()
		return nil, err
	}

	result, err := e.driver.WriteObject(ctx, op, body, e.cfg.MaxFileSizeBytes)
	if err != nil {
		e.walRollback(ctx, types.WALOpUpload, walID, map[string]any{"stage": "write_object"})
		metrics.UploadsTotal.WithLabelValues("write_failed").Inc()
		return nil, err
	}

	attrs := &types.FileAttributes{
		FileID:           fileID,
		OriginalFilename: req.OriginalFilename,
		StorageFilename:  storageFilename,
		StoragePath:      storagePath,
		SizeBytes:        result.SizeBytes,
		MimeType:         req.MimeType,
		SHA256Hash:       result.SHA256,
		MD5Hash:          result.MD5,
		Description:      req.Description,
		Tags:             req.Tags,
		UploadedBy:       req.UploadedBy,
		UploadedAt:       now,
		RetentionDays:    e.retentionDaysFor(req.RetentionDays),
		Version:          1,
		SchemaVersion:    types.SchemaVersionV2,
		Custom:           req.Custom,
	}
	attrs.ExpiresAt = attr.ComputeExpiry(attrs.UploadedAt, attrs.RetentionDays)

	if err := attr.Write(ctx, e.driver, op, attrs); err != nil {
		// The object is committed but has no sidecar; compensate by
		// removing it so no half-file survives.
		if delErr := e.driver.DeleteObject(ctx, op); delErr != nil {
			e.logger.Error().Err(delErr).Str("path", op).Msg("failed to remove object after sidecar failure")
		}
		e.walRollback(ctx, types.WALOpUpload, walID, map[string]any{
			"stage":          "write_sidecar",
			"deleted_object": op,
		})
		if errdefs.Is(err, errdefs.KindAttrTooLarge) {
			metrics.UploadsTotal.WithLabelValues("attr_too_large").Inc()
		} else {
			metrics.UploadsTotal.WithLabelValues("sidecar_failed").Inc()
		}
		return nil, err
	}

	if _, err := e.walCommit(ctx, walID); err != nil {
		// WAL bookkeeping failed after the sidecar landed; the file is
		// durable and recovery will reconcile the log.
		e.logger.Error().Err(err).Str("file_id", fileID).Msg("wal commit failed after sidecar write")
	}

	if err := e.cache.Upsert(ctx, attrs, attrs.LastCommittedAt(), e.cfg.CacheTTLHoursFor(e.cfg.Mode)); err != nil {
		// Sidecar is the source of truth; lazy rebuild repairs the row.
		e.logger.Warn().Err(err).Str("file_id", fileID).Msg("cache upsert failed, row pending rebuild")
	}

	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	metrics.UploadBytesTotal.Add(float64(result.SizeBytes))
	metrics.WALEntriesTotal.WithLabelValues(string(types.WALOpUpload), string(types.WALStatusCommitted)).Inc()
	e.logger.Info().
		Str("file_id", fileID).
		Str("storage_filename", storageFilename).
		Int64("size_bytes", result.SizeBytes).
		Msg("upload committed")

	return &UploadResult{
		FileID:          fileID,
		StorageFilename: storageFilename,
		SizeBytes:       result.SizeBytes,
		SHA256:          result.SHA256,
	}, nil
}

func (e *Engine) retentionDaysFor(requested int) int {
	if requested > 0 {
		return requested
	}
	return e.cfg.RetentionDays
}

// walBegin opens a WAL entry, or returns 0 when WAL is disabled
func (e *Engine) walBegin(ctx context.Context, op types.WALOperation, fileID string, payload map[string]any) (int64, error) {
	if e.wal == nil {
		return 0, nil
	}
	entry, err := e.wal.Begin(ctx, op, fileID, payload)
	if err != nil {
		return 0, err
	}
	return entry.WALID, nil
}

func (e *Engine) walCommit(ctx context.Context, walID int64) (time.Time, error) {
	if e.wal == nil || walID == 0 {
		return time.Now().UTC(), nil
	}
	return e.wal.Commit(ctx, walID)
}

func (e *Engine) walRollback(ctx context.Context, op types.WALOperation, walID int64, compensation map[string]any) {
	if e.wal == nil || walID == 0 {
		return
	}
	if err := e.wal.Rollback(ctx, walID, compensation); err != nil {
		e.logger.Error().Err(err).Int64("wal_id", walID).Msg("wal rollback failed")
	}
	metrics.WALEntriesTotal.WithLabelValues(string(op), string(types.WALStatusRolledBack)).Inc()
}
