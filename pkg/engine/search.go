package engine

import (
	"context"
	"time"

	"github.com/cuemby/artstore/pkg/metacache"
	"github.com/cuemby/artstore/pkg/types"
)

// SearchResult is one page of search hits plus the total match count
type SearchResult struct {
	Files []*types.FileAttributes `json:"files"`
	Total int64                   `json:"total"`
}

// Search queries the metadata cache. Expired rows in the page are served
// as-is and queued for lazy rebuild; ordering is stable within a request
// (uploaded_at desc, file_id asc).
func (e *Engine) Search(ctx context.Context, params metacache.SearchParams) (*SearchResult, error) {
	rows, total, err := e.cache.Search(ctx, params)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	files := make([]*types.FileAttributes, 0, len(rows))
	for _, row := range rows {
		if row.Expired(now) && e.lazy != nil {
			e.lazy.LazyRebuild(ctx, objectPath(row.StoragePath, row.StorageFilename))
		}
		attrs := row.FileAttributes
		files = append(files, &attrs)
	}
	return &SearchResult{Files: files, Total: total}, nil
}
