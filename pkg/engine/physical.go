package engine

import (
	"context"
	"strings"
	"time"

	"github.com/cuemby/artstore/pkg/attr"
	"github.com/cuemby/artstore/pkg/backend"
	"github.com/cuemby/artstore/pkg/errdefs"
)

// PhysicalObject is one stored object as the backend sees it. The file id
// comes from the sidecar when one exists; objects without a sidecar are
// unaddressable leftovers that only physical enumeration can find.
type PhysicalObject struct {
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	ModTime    time.Time `json:"mod_time"`
	FileID     string    `json:"file_id,omitempty"`
	HasSidecar bool      `json:"has_sidecar"`
}

const defaultPhysicalPageSize = 200

// ListPhysical walks the backend and returns one page of objects in walk
// order, sidecars excluded. The walk order is stable, so offset paging is
// consistent across calls while the tree does not change.
func (e *Engine) ListPhysical(ctx context.Context, limit, offset int) ([]PhysicalObject, error) {
	if limit <= 0 {
		limit = defaultPhysicalPageSize
	}
	if offset < 0 {
		offset = 0
	}

	out := make([]PhysicalObject, 0, limit)
	seen := 0
	stop := errdefs.New(errdefs.KindInternal, "walk stopped")
	err := e.driver.Walk(ctx, "", func(info backend.ObjectInfo) error {
		if strings.HasSuffix(info.Path, backend.SidecarSuffix) {
			return nil
		}
		seen++
		if seen <= offset {
			return nil
		}
		obj := PhysicalObject{
			Path:      info.Path,
			SizeBytes: info.SizeBytes,
			ModTime:   info.ModTime.UTC(),
		}
		if data, rerr := e.driver.ReadSidecar(ctx, attr.SidecarPath(info.Path)); rerr == nil {
			obj.HasSidecar = true
			if attrs, perr := attr.Parse(data); perr == nil {
				obj.FileID = attrs.FileID
			}
		}
		out = append(out, obj)
		if len(out) >= limit {
			return stop
		}
		return nil
	})
	if err != nil && err != stop {
		return nil, err
	}
	return out, nil
}

// PhysicalDeletePath removes the object at the given backend path along
// with its sidecar and cache row. Like PhysicalDelete it bypasses mode
// and role checks; the garbage collector applies its own safety margins.
func (e *Engine) PhysicalDeletePath(ctx context.Context, objectPath string) error {
	switch {
	case objectPath == "":
		return errdefs.New(errdefs.KindValidation, "object path is required")
	case strings.Contains(objectPath, ".."):
		return errdefs.Newf(errdefs.KindValidation, "invalid object path %q", objectPath)
	case strings.HasSuffix(objectPath, backend.SidecarSuffix):
		return errdefs.New(errdefs.KindValidation, "object path names a sidecar")
	}

	if data, err := e.driver.ReadSidecar(ctx, attr.SidecarPath(objectPath)); err == nil {
		if attrs, perr := attr.Parse(data); perr == nil && e.cache != nil {
			if err := e.cache.Delete(ctx, attrs.FileID); err != nil {
				e.logger.Warn().Err(err).Str("file_id", attrs.FileID).Msg("gc cache delete failed")
			}
		}
	}
	if err := e.driver.DeleteObject(ctx, attr.SidecarPath(objectPath)); err != nil {
		return err
	}
	return e.driver.DeleteObject(ctx, objectPath)
}
