package metacache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/artstore/pkg/types"
)

// SearchParams filter the metadata cache. Zero values mean "no filter".
type SearchParams struct {
	Query          string
	Tags           []string
	UploadedBy     string
	MinSizeBytes   int64
	MaxSizeBytes   int64
	UploadedAfter  time.Time
	UploadedBefore time.Time
	Limit          int
	Offset         int
}

// Search runs a full-text plus attribute search over the cache with
// stable ordering (uploaded_at desc, file_id asc). The projection is the
// same one Get returns, so serving search results from cache or sidecar
// fallback is indistinguishable to callers.
func (s *Store) Search(ctx context.Context, p SearchParams) ([]*types.CacheRow, int64, error) {
	where := []string{"TRUE"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if p.Query != "" {
		where = append(where, fmt.Sprintf("search_vector @@ plainto_tsquery('english', %s)", arg(p.Query)))
	}
	if len(p.Tags) > 0 {
		tagsJSON, err := json.Marshal(p.Tags)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode tag filter: %w", err)
		}
		where = append(where, fmt.Sprintf("tags @> %s", arg(tagsJSON)))
	}
	if p.UploadedBy != "" {
		where = append(where, fmt.Sprintf("uploaded_by = %s", arg(p.UploadedBy)))
	}
	if p.MinSizeBytes > 0 {
		where = append(where, fmt.Sprintf("size_bytes >= %s", arg(p.MinSizeBytes)))
	}
	if p.MaxSizeBytes > 0 {
		where = append(where, fmt.Sprintf("size_bytes <= %s", arg(p.MaxSizeBytes)))
	}
	if !p.UploadedAfter.IsZero() {
		where = append(where, fmt.Sprintf("uploaded_at >= %s", arg(p.UploadedAfter.UTC())))
	}
	if !p.UploadedBefore.IsZero() {
		where = append(where, fmt.Sprintf("uploaded_at <= %s", arg(p.UploadedBefore.UTC())))
	}

	cond := joinAnd(where)

	var total int64
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s`, s.filesTable, cond)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count search matches: %w", err)
	}

	limit := p.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE %s
ORDER BY uploaded_at DESC, file_id ASC
LIMIT %s OFFSET %s`,
		fileColumns, s.filesTable, cond, arg(limit), arg(p.Offset))

	var rows []fileRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to search cache: %w", err)
	}

	out := make([]*types.CacheRow, 0, len(rows))
	for i := range rows {
		cr, err := rows[i].toCacheRow()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, cr)
	}
	return out, total, nil
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
