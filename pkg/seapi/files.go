package seapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/artstore/pkg/engine"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/metacache"
)

// uploadMetadata is the JSON metadata part of a multipart upload
type uploadMetadata struct {
	OriginalFilename string         `json:"original_filename"`
	SizeBytes        int64          `json:"size_bytes"`
	MimeType         string         `json:"mime_type"`
	Description      string         `json:"description"`
	Tags             []string       `json:"tags"`
	RetentionDays    int            `json:"retention_days"`
	Custom           map[string]any `json:"custom"`
}

// handleUpload accepts a multipart upload: a "metadata" JSON part followed
// by the "file" part. The file part is streamed straight into the engine.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, errdefs.Wrap(errdefs.KindValidation, "request is not multipart", err))
		return
	}

	principal := PrincipalFrom(r.Context())
	var meta *uploadMetadata
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, r, errdefs.Wrap(errdefs.KindValidation, "malformed multipart body", err))
			return
		}

		switch part.FormName() {
		case "metadata":
			meta = &uploadMetadata{}
			if err := json.NewDecoder(part).Decode(meta); err != nil {
				writeError(w, r, errdefs.Wrap(errdefs.KindValidation, "invalid metadata JSON", err))
				return
			}
		case "file":
			if meta == nil {
				writeError(w, r, errdefs.New(errdefs.KindValidation, "metadata part must precede the file part"))
				return
			}
			if meta.OriginalFilename == "" {
				meta.OriginalFilename = part.FileName()
			}
			result, err := s.engine.Upload(r.Context(), part, &engine.UploadRequest{
				OriginalFilename:  meta.OriginalFilename,
				DeclaredSizeBytes: meta.SizeBytes,
				MimeType:          meta.MimeType,
				Description:       meta.Description,
				Tags:              meta.Tags,
				RetentionDays:     meta.RetentionDays,
				Custom:            meta.Custom,
				UploadedBy:        principal.Subject,
			})
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, result)
			return
		default:
			// Unknown parts are drained and ignored.
			_, _ = io.Copy(io.Discard, part)
		}
	}
	writeError(w, r, errdefs.New(errdefs.KindValidation, "multipart body has no file part"))
}

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	attrs, err := s.engine.GetMetadata(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attrs)
}

// handleDownload streams object bytes with single-range support. Archive
// elements answer 202 with a restore ticket instead of bytes.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	principal := PrincipalFrom(r.Context())

	rng, rangeRequested, err := parseRange(r.Header.Get("Range"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	dl, err := s.engine.Download(r.Context(), fileID, principal.Subject, rng)
	if err != nil {
		if errdefs.Is(err, errdefs.KindGoneArchived) {
			s.writeArchived(w, r, err)
			return
		}
		if rangeRequested && errdefs.Is(err, errdefs.KindValidation) {
			size := int64(0)
			if e, ok := err.(*errdefs.Error); ok {
				if v, ok := e.Details["size_bytes"].(int64); ok {
					size = v
				}
			}
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			writeJSON(w, http.StatusRequestedRangeNotSatisfiable, errorBody{
				ErrorCode: string(errdefs.KindValidation),
				Message:   "requested range not satisfiable",
			})
			return
		}
		writeError(w, r, err)
		return
	}
	defer dl.Body.Close()

	attrs := dl.Attributes
	w.Header().Set("Content-Type", contentTypeFor(attrs.MimeType))
	w.Header().Set("Content-Length", strconv.FormatInt(dl.ContentLength, 10))
	w.Header().Set("ETag", `"`+attrs.SHA256Hash+`"`)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", `attachment; filename="`+attrs.OriginalFilename+`"`)

	status := http.StatusOK
	if dl.Partial {
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d",
			dl.RangeStart, dl.RangeStart+dl.ContentLength-1, attrs.SizeBytes))
	}
	w.WriteHeader(status)
	_, _ = io.Copy(w, dl.Body)
}

// writeArchived renders the 202 + restore ticket response of an ar element
func (s *Server) writeArchived(w http.ResponseWriter, r *http.Request, err error) {
	body := map[string]any{
		"error_code": string(errdefs.KindGoneArchived),
		"message":    "file is archived, restore required",
	}
	if e, ok := err.(*errdefs.Error); ok {
		if ticket, ok := e.Details["restore_ticket"]; ok {
			body["restore_ticket"] = ticket
			writeJSON(w, http.StatusAccepted, body)
			return
		}
	}
	writeJSON(w, http.StatusGone, body)
}

func contentTypeFor(mime string) string {
	if mime == "" {
		return "application/octet-stream"
	}
	return mime
}

// parseRange parses a single-range RFC 7233 header. Suffix ranges
// (bytes=-N) request the last N bytes and are resolved by the caller via
// a negative start sentinel being unsupported here; they are rejected.
func parseRange(header string) (*engine.ByteRange, bool, error) {
	if header == "" {
		return nil, false, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, true, errdefs.Newf(errdefs.KindValidation, "unsupported range header %q", header)
	}
	start, end, ok := strings.Cut(spec, "-")
	if !ok || start == "" {
		return nil, true, errdefs.Newf(errdefs.KindValidation, "unsupported range header %q", header)
	}
	rng := &engine.ByteRange{End: -1}
	var err error
	if rng.Start, err = strconv.ParseInt(start, 10, 64); err != nil {
		return nil, true, errdefs.Wrap(errdefs.KindValidation, "invalid range start", err)
	}
	if end != "" {
		if rng.End, err = strconv.ParseInt(end, 10, 64); err != nil {
			return nil, true, errdefs.Wrap(errdefs.KindValidation, "invalid range end", err)
		}
		if rng.End < rng.Start {
			return nil, true, errdefs.Newf(errdefs.KindValidation, "range end before start in %q", header)
		}
	}
	return rng, true, nil
}

// metadataPatch is the PATCH /files/{id} body; absent fields are untouched
type metadataPatch struct {
	Description   *string        `json:"description"`
	Tags          []string       `json:"tags"`
	RetentionDays *int           `json:"retention_days"`
	Custom        map[string]any `json:"custom"`
}

func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var patch metadataPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, r, errdefs.Wrap(errdefs.KindValidation, "invalid JSON body", err))
		return
	}
	attrs, err := s.engine.UpdateMetadata(r.Context(), chi.URLParam(r, "id"), &engine.MetadataUpdate{
		Description:   patch.Description,
		Tags:          patch.Tags,
		RetentionDays: patch.RetentionDays,
		Custom:        patch.Custom,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attrs)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Delete(r.Context(), chi.URLParam(r, "id"), PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSearch translates query parameters into a cache search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := metacache.SearchParams{
		Query:      q.Get("q"),
		UploadedBy: q.Get("uploaded_by"),
	}
	if tags := q.Get("tags"); tags != "" {
		params.Tags = strings.Split(tags, ",")
	}
	var err error
	if params.MinSizeBytes, err = queryInt64(q.Get("min_size")); err != nil {
		writeError(w, r, errdefs.Wrap(errdefs.KindValidation, "invalid min_size", err))
		return
	}
	if params.MaxSizeBytes, err = queryInt64(q.Get("max_size")); err != nil {
		writeError(w, r, errdefs.Wrap(errdefs.KindValidation, "invalid max_size", err))
		return
	}
	if params.UploadedAfter, err = queryTime(q.Get("uploaded_after")); err != nil {
		writeError(w, r, errdefs.Wrap(errdefs.KindValidation, "invalid uploaded_after", err))
		return
	}
	if params.UploadedBefore, err = queryTime(q.Get("uploaded_before")); err != nil {
		writeError(w, r, errdefs.Wrap(errdefs.KindValidation, "invalid uploaded_before", err))
		return
	}
	if limit, err := queryInt64(q.Get("limit")); err == nil {
		params.Limit = int(limit)
	}
	if offset, err := queryInt64(q.Get("offset")); err == nil {
		params.Offset = int(offset)
	}

	result, err := s.engine.Search(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func queryInt64(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func queryTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
