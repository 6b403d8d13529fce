package seapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/artstore/pkg/errdefs"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantStart int64
		wantEnd   int64
	}{
		{"closed range", "bytes=0-499", 0, 499},
		{"open ended", "bytes=500-", 500, -1},
		{"single byte", "bytes=10-10", 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng, present, err := parseRange(tt.header)
			require.NoError(t, err)
			require.True(t, present)
			assert.Equal(t, tt.wantStart, rng.Start)
			assert.Equal(t, tt.wantEnd, rng.End)
		})
	}
}

func TestParseRangeAbsent(t *testing.T) {
	rng, present, err := parseRange("")
	require.NoError(t, err)
	assert.False(t, present)
	assert.Nil(t, rng)
}

func TestParseRangeInvalid(t *testing.T) {
	headers := []string{
		"bytes=-500",      // suffix ranges are not supported
		"bytes=0-99,200-", // multipart ranges are not supported
		"items=0-10",      // wrong unit
		"bytes=abc-10",    // non-numeric start
		"bytes=10-abc",    // non-numeric end
		"bytes=100-50",    // end before start
		"bytes=",          // empty spec
	}
	for _, h := range headers {
		t.Run(h, func(t *testing.T) {
			_, present, err := parseRange(h)
			assert.True(t, present)
			require.Error(t, err)
			assert.True(t, errdefs.Is(err, errdefs.KindValidation))
		})
	}
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind errdefs.Kind
		want int
	}{
		{errdefs.KindValidation, http.StatusBadRequest},
		{errdefs.KindTokenInvalid, http.StatusUnauthorized},
		{errdefs.KindTokenExpired, http.StatusUnauthorized},
		{errdefs.KindModeDenied, http.StatusForbidden},
		{errdefs.KindForbidden, http.StatusForbidden},
		{errdefs.KindNotFound, http.StatusNotFound},
		{errdefs.KindConflictWALInFlight, http.StatusConflict},
		{errdefs.KindRebuildInProgress, http.StatusConflict},
		{errdefs.KindInvalidTransition, http.StatusConflict},
		{errdefs.KindGoneArchived, http.StatusGone},
		{errdefs.KindFileTooLarge, http.StatusRequestEntityTooLarge},
		{errdefs.KindAttrTooLarge, http.StatusRequestEntityTooLarge},
		{errdefs.KindAccountLocked, http.StatusLocked},
		{errdefs.KindRateLimited, http.StatusTooManyRequests},
		{errdefs.KindInsufficientStorage, http.StatusInsufficientStorage},
		{errdefs.KindBackendUnavailable, http.StatusServiceUnavailable},
		{errdefs.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, statusForKind(tt.kind))
		})
	}
}
