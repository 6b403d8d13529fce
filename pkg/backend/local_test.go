package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/artstore/pkg/errdefs"
)

func newTestDriver(t *testing.T) *LocalDriver {
	t.Helper()
	d, err := NewLocalDriver(t.TempDir())
	require.NoError(t, err)
	return d
}

func TestWriteObjectHashes(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	payload := []byte("the quick brown fox")
	res, err := d.WriteObject(ctx, "2026/01/01/00/fox.txt", strings.NewReader(string(payload)), 0)
	require.NoError(t, err)

	assert.Equal(t, int64(len(payload)), res.SizeBytes)
	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.SHA256)

	rc, err := d.ReadObject(ctx, "2026/01/01/00/fox.txt", 0, -1)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// A 1 MiB zero stream must hash to the well-known digest.
func TestWriteObjectZeroMiB(t *testing.T) {
	d := newTestDriver(t)

	res, err := d.WriteObject(context.Background(), "z.bin",
		io.LimitReader(zeroReader{}, 1<<20), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), res.SizeBytes)
	assert.Equal(t, "30e14955ebf1352266dc2ff8067e68104607e750abb9d3b36582b8af909fcb58", res.SHA256)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestWriteObjectMaxBytes(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	// Exactly at the limit succeeds.
	_, err := d.WriteObject(ctx, "ok.bin", strings.NewReader(strings.Repeat("a", 64)), 64)
	require.NoError(t, err)

	// One byte over aborts and leaves nothing behind.
	_, err = d.WriteObject(ctx, "big.bin", strings.NewReader(strings.Repeat("a", 65)), 64)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindFileTooLarge))

	_, err = d.StatObject(ctx, "big.bin")
	assert.True(t, errdefs.Is(err, errdefs.KindNotFound))

	// No temp file remains either.
	var leftovers []string
	require.NoError(t, d.Walk(ctx, "", func(info ObjectInfo) error {
		leftovers = append(leftovers, info.Path)
		return nil
	}))
	assert.Equal(t, []string{"ok.bin"}, leftovers)
}

func TestReadObjectRange(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	_, err := d.WriteObject(ctx, "r.txt", strings.NewReader("0123456789"), 0)
	require.NoError(t, err)

	rc, err := d.ReadObject(ctx, "r.txt", 3, 4)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(got))

	// Negative length reads from offset to the end.
	rc, err = d.ReadObject(ctx, "r.txt", 7, -1)
	require.NoError(t, err)
	defer rc.Close()
	got, err = io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "789", string(got))
}

func TestReadObjectMissing(t *testing.T) {
	d := newTestDriver(t)
	_, err := d.ReadObject(context.Background(), "nope.bin", 0, -1)
	assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
}

func TestDeleteObjectIdempotent(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	_, err := d.WriteObject(ctx, "del.bin", strings.NewReader("x"), 0)
	require.NoError(t, err)

	require.NoError(t, d.DeleteObject(ctx, "del.bin"))
	require.NoError(t, d.DeleteObject(ctx, "del.bin"))
}

func TestSidecarRoundTrip(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	path := "2026/01/01/00/a.bin" + SidecarSuffix
	require.NoError(t, d.WriteSidecar(ctx, path, []byte(`{"v":1}`)))

	data, err := d.ReadSidecar(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(data))

	// Replacement is atomic and observable.
	require.NoError(t, d.WriteSidecar(ctx, path, []byte(`{"v":2}`)))
	data, err = d.ReadSidecar(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	_, err = d.ReadSidecar(ctx, "missing"+SidecarSuffix)
	assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
}

func TestWalkAndFileCount(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	_, err := d.WriteObject(ctx, "2026/01/01/00/a.bin", strings.NewReader("a"), 0)
	require.NoError(t, err)
	require.NoError(t, d.WriteSidecar(ctx, "2026/01/01/00/a.bin"+SidecarSuffix, []byte("{}")))
	_, err = d.WriteObject(ctx, "2026/01/01/01/b.bin", strings.NewReader("b"), 0)
	require.NoError(t, err)
	require.NoError(t, d.WriteSidecar(ctx, "2026/01/01/01/b.bin"+SidecarSuffix, []byte("{}")))

	var seen []string
	require.NoError(t, d.Walk(ctx, "", func(info ObjectInfo) error {
		seen = append(seen, info.Path)
		return nil
	}))
	assert.Len(t, seen, 4)

	// Prefix walks restrict to the subtree.
	seen = nil
	require.NoError(t, d.Walk(ctx, "2026/01/01/01", func(info ObjectInfo) error {
		seen = append(seen, info.Path)
		return nil
	}))
	assert.Len(t, seen, 2)

	count, err := d.FileCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCapacity(t *testing.T) {
	d := newTestDriver(t)
	cap, err := d.Capacity(context.Background())
	require.NoError(t, err)
	assert.Positive(t, cap.TotalBytes)
	assert.GreaterOrEqual(t, cap.FreeBytes, int64(0))
	assert.Equal(t, cap.TotalBytes-cap.FreeBytes, cap.UsedBytes)
}
