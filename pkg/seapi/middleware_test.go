package seapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/cuemby/artstore/pkg/log"
)

// Every access log line carries the request correlation id so a request
// can be traced across the admin and element services.
func TestInstrumentLogsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	log.Init(log.Config{Level: log.DebugLevel, JSONOutput: true, Output: &buf})

	r := chi.NewRouter()
	r.Use(correlationID, instrument)
	r.Get("/api/v1/files/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/f-1", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "corr-42", rec.Header().Get("X-Correlation-ID"))
	assert.Contains(t, buf.String(), `"correlation_id":"corr-42"`)
	assert.Contains(t, buf.String(), `"status":204`)
}

// Requests without the header get a generated id echoed back
func TestCorrelationIDGenerated(t *testing.T) {
	handler := correlationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, CorrelationIDFrom(r.Context()))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}
