package gc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/artstore/pkg/admin/elements"
	"github.com/cuemby/artstore/pkg/config"
)

func TestBackoffFor(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Hour},
		{1, 2 * time.Hour},
		{2, 4 * time.Hour},
		{3, 8 * time.Hour},
		{4, 16 * time.Hour},
		{5, 24 * time.Hour},
		{10, 24 * time.Hour},
		{100, 24 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffFor(tt.attempts), "attempts=%d", tt.attempts)
	}
}

var entryColumns = []string{
	"file_id", "element_id", "retention_policy", "state",
	"ttl_expires_at", "finalized_at", "edit_element_id", "deleted_at",
	"missing_observed_at", "gc_attempts", "next_gc_attempt_at",
	"created_at", "updated_at",
}

// The orphan sweep walks the element's physical listing. Sidecar-less
// objects past the margin are deleted outright since no API can ever
// address them; unknown file ids get their first orphan observation;
// young objects are left alone.
func TestObserveElementSweep(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Now().UTC()
	var mu sync.Mutex
	var deleted []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			require.Equal(t, "/api/v1/gc/objects", r.URL.Path)
			require.Equal(t, "Bearer token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{"objects": []map[string]any{
				{"path": "2026/01/01/00/stray.bin", "size_bytes": 10,
					"mod_time": now.Add(-48 * time.Hour), "has_sidecar": false},
				{"path": "2026/01/02/00/fresh.bin", "size_bytes": 10,
					"mod_time": now, "has_sidecar": false},
				{"path": "2026/01/01/00/known.bin", "size_bytes": 10,
					"mod_time": now.Add(-48 * time.Hour), "file_id": "f-1", "has_sidecar": true},
			}})
		case http.MethodDelete:
			mu.Lock()
			deleted = append(deleted, r.URL.Query().Get("path"))
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(server.Close)

	c := &Collector{
		cfg:    &config.Admin{},
		store:  NewStore(sqlx.NewDb(db, "sqlmock")),
		client: elements.NewClient(),
		logger: zerolog.Nop(),
	}

	// f-1 is not in the registry yet: the sweep records its first
	// observation instead of deleting anything.
	mock.ExpectQuery("FROM file_registry").WillReturnRows(sqlmock.NewRows(entryColumns))
	mock.ExpectExec("INSERT INTO file_registry").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM file_registry").WillReturnRows(
		sqlmock.NewRows(entryColumns).AddRow(
			"f-1", "se-1", PolicyPermanent, StateOrphanCandidate,
			nil, nil, nil, nil, now, 0, nil, now, now))

	rec := &elements.Record{ElementID: "se-1", Endpoint: server.URL, Status: elements.StatusOperational}
	report := &Report{}
	c.observeElement(context.Background(), rec, "token", now, 24*time.Hour, report)

	assert.Equal(t, []string{"2026/01/01/00/stray.bin"}, deleted)
	assert.Equal(t, 1, report.OrphanDeleted)
	assert.Equal(t, 1, report.OrphansSeen)
	assert.Zero(t, report.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}
