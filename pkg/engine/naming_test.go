package engine

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/artstore/pkg/types"
)

var storageNameRe = regexp.MustCompile(
	`^(.+)_([a-zA-Z0-9._-]+)_(\d{8}T\d{6})_([0-9a-f]{8})\.([a-zA-Z0-9._-]+)$`)

func TestBuildStorageFilename(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	name := BuildStorageFilename("quarterly report.pdf", "alice", now)
	m := storageNameRe.FindStringSubmatch(name)
	require.NotNil(t, m, "name %q does not match the expected shape", name)
	assert.Equal(t, "quarterly_report", m[1])
	assert.Equal(t, "alice", m[2])
	assert.Equal(t, "20260314T092653", m[3])
	assert.Equal(t, "pdf", m[5])
}

func TestBuildStorageFilenameSanitizes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Path components and shell metacharacters never survive into the name.
	name := BuildStorageFilename("../../etc/pa$$wd;rm.txt", "bob", now)
	assert.NotContains(t, name, "/")
	assert.NotContains(t, name, "$")
	assert.NotContains(t, name, ";")
	assert.True(t, strings.HasPrefix(name, "pawdrm_bob_"))

	// An empty stem falls back to "file".
	name = BuildStorageFilename(".pdf", "bob", now)
	assert.True(t, strings.HasPrefix(name, "file_bob_"), name)
}

func TestBuildStorageFilenameTruncatesLongStems(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	name := BuildStorageFilename(strings.Repeat("x", 500)+".jpeg", "carol", now)
	assert.LessOrEqual(t, len(name), types.MaxStorageFilenameBytes)
	// Truncation keeps the discriminating suffix intact.
	assert.True(t, strings.HasSuffix(name, ".jpeg"))
	assert.Contains(t, name, "_carol_20260101T000000_")
}

func TestBuildStorageFilenameUnique(t *testing.T) {
	now := time.Now()
	a := BuildStorageFilename("same.bin", "dave", now)
	b := BuildStorageFilename("same.bin", "dave", now)
	assert.NotEqual(t, a, b)
}

func TestBuildStoragePath(t *testing.T) {
	// Hour buckets are always UTC regardless of the input zone.
	loc := time.FixedZone("UTC+5", 5*3600)
	ts := time.Date(2026, 3, 14, 2, 15, 0, 0, loc)
	assert.Equal(t, "2026/03/13/21", BuildStoragePath(ts))

	ts = time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, "2026/12/31/23", BuildStoragePath(ts))
}
