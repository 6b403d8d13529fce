package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/artstore/pkg/attr"
	"github.com/cuemby/artstore/pkg/backend"
	"github.com/cuemby/artstore/pkg/config"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

func physicalEngine(t *testing.T) (*Engine, backend.Driver) {
	t.Helper()
	driver, err := backend.NewLocalDriver(t.TempDir())
	require.NoError(t, err)
	cfg := &config.SE{Mode: types.ModeRW, MaxFileSizeBytes: 1 << 20, RetentionDays: 30}
	return New(cfg, driver, nil, nil, nil), driver
}

func writeTestObject(t *testing.T, driver backend.Driver, objectPath, fileID string) {
	t.Helper()
	ctx := context.Background()
	_, err := driver.WriteObject(ctx, objectPath, strings.NewReader("payload"), 1<<20)
	require.NoError(t, err)
	if fileID == "" {
		return
	}
	uploaded := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, attr.Write(ctx, driver, objectPath, &types.FileAttributes{
		FileID:           fileID,
		OriginalFilename: "report.pdf",
		StorageFilename:  objectPath[strings.LastIndex(objectPath, "/")+1:],
		StoragePath:      objectPath[:strings.LastIndex(objectPath, "/")],
		SizeBytes:        7,
		SHA256Hash:       strings.Repeat("ab", 32),
		UploadedBy:       "alice",
		UploadedAt:       uploaded,
		RetentionDays:    30,
		ExpiresAt:        uploaded.Add(30 * 24 * time.Hour),
		Version:          1,
		SchemaVersion:    types.SchemaVersionV2,
	}))
}

// The physical listing reports every object, sidecars excluded, and
// attaches the file id when a sidecar exists. Objects without one are
// exactly what the listing exists to surface.
func TestListPhysical(t *testing.T) {
	e, driver := physicalEngine(t)
	ctx := context.Background()

	writeTestObject(t, driver, "2026/01/01/10/a.bin", "11111111-1111-4111-8111-111111111111")
	writeTestObject(t, driver, "2026/01/01/10/b.bin", "")
	writeTestObject(t, driver, "2026/01/01/11/c.bin", "33333333-3333-4333-8333-333333333333")

	objects, err := e.ListPhysical(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, objects, 3)

	byPath := map[string]PhysicalObject{}
	for _, obj := range objects {
		assert.False(t, strings.HasSuffix(obj.Path, backend.SidecarSuffix))
		assert.Positive(t, obj.SizeBytes)
		assert.False(t, obj.ModTime.IsZero())
		byPath[obj.Path] = obj
	}
	assert.True(t, byPath["2026/01/01/10/a.bin"].HasSidecar)
	assert.Equal(t, "11111111-1111-4111-8111-111111111111", byPath["2026/01/01/10/a.bin"].FileID)
	assert.False(t, byPath["2026/01/01/10/b.bin"].HasSidecar)
	assert.Empty(t, byPath["2026/01/01/10/b.bin"].FileID)
}

// Offset paging covers the whole tree without overlap
func TestListPhysicalPaging(t *testing.T) {
	e, driver := physicalEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		writeTestObject(t, driver, fmt.Sprintf("2026/01/01/10/obj-%d.bin", i), "")
	}

	seen := map[string]struct{}{}
	for offset := 0; ; offset += 2 {
		page, err := e.ListPhysical(ctx, 2, offset)
		require.NoError(t, err)
		for _, obj := range page {
			_, dup := seen[obj.Path]
			assert.False(t, dup, "path %s listed twice", obj.Path)
			seen[obj.Path] = struct{}{}
		}
		if len(page) < 2 {
			break
		}
	}
	assert.Len(t, seen, 5)
}

func TestPhysicalDeletePathValidation(t *testing.T) {
	e, _ := physicalEngine(t)
	ctx := context.Background()

	for _, path := range []string{"", "../etc/passwd", "2026/01/01/10/a.bin" + backend.SidecarSuffix} {
		err := e.PhysicalDeletePath(ctx, path)
		require.Error(t, err, "path %q", path)
		assert.True(t, errdefs.Is(err, errdefs.KindValidation))
	}
}

// Deleting by path removes the object and its sidecar; repeating the
// delete is a no-op.
func TestPhysicalDeletePath(t *testing.T) {
	e, driver := physicalEngine(t)
	ctx := context.Background()

	writeTestObject(t, driver, "2026/01/01/10/a.bin", "11111111-1111-4111-8111-111111111111")
	writeTestObject(t, driver, "2026/01/01/10/b.bin", "")

	require.NoError(t, e.PhysicalDeletePath(ctx, "2026/01/01/10/a.bin"))
	_, err := driver.StatObject(ctx, "2026/01/01/10/a.bin")
	assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
	_, err = driver.ReadSidecar(ctx, attr.SidecarPath("2026/01/01/10/a.bin"))
	assert.True(t, errdefs.Is(err, errdefs.KindNotFound))

	// Sidecar-less objects delete the same way.
	require.NoError(t, e.PhysicalDeletePath(ctx, "2026/01/01/10/b.bin"))
	require.NoError(t, e.PhysicalDeletePath(ctx, "2026/01/01/10/b.bin"))

	objects, err := e.ListPhysical(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, objects)
}
