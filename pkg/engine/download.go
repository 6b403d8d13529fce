package engine

import (
	"context"
	"io"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/metrics"
	"github.com/cuemby/artstore/pkg/types"
)

// ByteRange is a single inclusive byte range per RFC 7233. A nil range
// means the full object; End < 0 means to the end.
type ByteRange struct {
	Start int64
	End   int64
}

// Download is the outcome of a download request: the attributes plus an
// open body positioned at the requested range.
type Download struct {
	Attributes    *types.FileAttributes
	Body          io.ReadCloser
	ContentLength int64
	RangeStart    int64
	Partial       bool
}

// Download opens the object for reading. In ar mode it returns
// gone_archived carrying a restore ticket in the error details instead of
// bytes; metadata stays readable via GetMetadata.
func (e *Engine) Download(ctx context.Context, fileID, requestedBy string, rng *ByteRange) (*Download, error) {
	attrs, err := e.resolveAttributes(ctx, fileID)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}

	if e.cfg.Mode == types.ModeAR {
		metrics.DownloadsTotal.WithLabelValues("archived").Inc()
		details := map[string]any{"file_id": fileID}
		if e.tickets != nil {
			ticket, terr := e.tickets.Create(fileID, requestedBy)
			if terr != nil {
				e.logger.Error().Err(terr).Str("file_id", fileID).Msg("failed to open restore ticket")
			} else {
				details["restore_ticket"] = ticket
			}
		}
		return nil, errdefs.Newf(errdefs.KindGoneArchived,
			"file %s is archived, restore required", fileID).WithDetails(details)
	}

	offset, length := int64(0), int64(-1)
	partial := false
	if rng != nil {
		if rng.Start >= attrs.SizeBytes || rng.Start < 0 {
			metrics.DownloadsTotal.WithLabelValues("bad_range").Inc()
			return nil, errdefs.Newf(errdefs.KindValidation,
				"range start %d outside object of %d bytes", rng.Start, attrs.SizeBytes).
				WithDetails(map[string]any{"size_bytes": attrs.SizeBytes})
		}
		offset = rng.Start
		end := rng.End
		if end < 0 || end >= attrs.SizeBytes {
			end = attrs.SizeBytes - 1
		}
		length = end - offset + 1
		partial = true
	}

	body, err := e.driver.ReadObject(ctx, objectPath(attrs.StoragePath, attrs.StorageFilename), offset, length)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("backend_error").Inc()
		return nil, err
	}

	contentLength := attrs.SizeBytes - offset
	if length >= 0 {
		contentLength = length
	}

	metrics.DownloadsTotal.WithLabelValues("ok").Inc()
	return &Download{
		Attributes:    attrs,
		Body:          body,
		ContentLength: contentLength,
		RangeStart:    offset,
		Partial:       partial,
	}, nil
}

// RestoreTicket returns a ticket by id (archive elements only)
func (e *Engine) RestoreTicket(ticketID string) (*types.RestoreTicket, error) {
	if e.tickets == nil {
		return nil, errdefs.New(errdefs.KindNotFound, "element does not track restore tickets")
	}
	return e.tickets.Get(ticketID)
}

// MarkRestored records that archived bytes landed on the target element
func (e *Engine) MarkRestored(ticketID, targetElementID string) (*types.RestoreTicket, error) {
	if e.tickets == nil {
		return nil, errdefs.New(errdefs.KindNotFound, "element does not track restore tickets")
	}
	return e.tickets.MarkRestored(ticketID, targetElementID)
}
