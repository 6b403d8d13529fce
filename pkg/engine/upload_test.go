package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/artstore/pkg/backend"
	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

// guardEngine builds an engine with a real local driver and no WAL,
// cache or tickets. Only the pre-flight guards run before those are
// touched, so these tests stop at the first rejection.
func guardEngine(t *testing.T, mode types.Mode) *Engine {
	t.Helper()
	driver, err := backend.NewLocalDriver(t.TempDir())
	require.NoError(t, err)
	cfg := &config.SE{
		Mode:             mode,
		MaxFileSizeBytes: 1 << 20,
		RetentionDays:    30,
	}
	return New(cfg, driver, nil, nil, nil)
}

func validUpload() *UploadRequest {
	return &UploadRequest{
		OriginalFilename:  "report.pdf",
		DeclaredSizeBytes: 1024,
		UploadedBy:        "alice",
	}
}

func TestUploadModeDenied(t *testing.T) {
	for _, mode := range []types.Mode{types.ModeRO, types.ModeAR} {
		t.Run(string(mode), func(t *testing.T) {
			e := guardEngine(t, mode)
			_, err := e.Upload(context.Background(), strings.NewReader("x"), validUpload())
			require.Error(t, err)
			assert.True(t, errdefs.Is(err, errdefs.KindModeDenied))
		})
	}
}

func TestUploadDeclaredSizeCap(t *testing.T) {
	e := guardEngine(t, types.ModeRW)
	req := validUpload()
	req.DeclaredSizeBytes = (1 << 20) + 1

	_, err := e.Upload(context.Background(), strings.NewReader("x"), req)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindFileTooLarge))
}

func TestUploadRequestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*UploadRequest)
	}{
		{"missing filename", func(r *UploadRequest) { r.OriginalFilename = "" }},
		{"oversize filename", func(r *UploadRequest) {
			r.OriginalFilename = strings.Repeat("n", types.MaxOriginalFilenameBytes+1)
		}},
		{"missing uploader", func(r *UploadRequest) { r.UploadedBy = "" }},
		{"zero size", func(r *UploadRequest) { r.DeclaredSizeBytes = 0 }},
		{"negative size", func(r *UploadRequest) { r.DeclaredSizeBytes = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validUpload()
			tt.mutate(req)
			err := req.validate()
			require.Error(t, err)
			assert.True(t, errdefs.Is(err, errdefs.KindValidation))
		})
	}

	assert.NoError(t, validUpload().validate())
}

func TestRetentionDaysFor(t *testing.T) {
	e := guardEngine(t, types.ModeRW)
	assert.Equal(t, 90, e.retentionDaysFor(90))
	assert.Equal(t, 30, e.retentionDaysFor(0))
	assert.Equal(t, 30, e.retentionDaysFor(-5))
}
