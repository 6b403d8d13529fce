package attr

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

func validAttrs() *types.FileAttributes {
	return &types.FileAttributes{
		FileID:           "0c8f1f6e-9f43-4e0b-bd21-7cf6f8b4a1d2",
		OriginalFilename: "report.pdf",
		StorageFilename:  "report_alice_20260101T120000_deadbeef.pdf",
		StoragePath:      "2026/01/01/12",
		SizeBytes:        1024,
		SHA256Hash:       strings.Repeat("ab", 32),
		UploadedBy:       "alice",
		UploadedAt:       time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		RetentionDays:    30,
		ExpiresAt:        time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC),
		Version:          1,
		SchemaVersion:    types.SchemaVersionV2,
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	attrs := validAttrs()
	attrs.Tags = []string{"invoice", "2026"}
	attrs.Custom = map[string]any{"department": "finance"}

	data, err := Serialize(attrs)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, attrs.FileID, parsed.FileID)
	assert.Equal(t, attrs.Tags, parsed.Tags)
	assert.Equal(t, "finance", parsed.Custom["department"])
	assert.Equal(t, types.SchemaVersionV2, parsed.SchemaVersion)
}

// updated_at survives the round trip so a rebuild keys its cache write
// on the same instant the metadata update did.
func TestRoundTripPreservesUpdatedAt(t *testing.T) {
	attrs := validAttrs()
	attrs.Version = 2
	attrs.UpdatedAt = attrs.UploadedAt.Add(3 * time.Hour)

	data, err := Serialize(attrs)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, attrs.UpdatedAt, parsed.UpdatedAt)
	assert.Equal(t, attrs.UpdatedAt, parsed.LastCommittedAt())

	// A sidecar that never saw an update carries no updated_at at all.
	fresh, err := Serialize(validAttrs())
	require.NoError(t, err)
	assert.NotContains(t, string(fresh), "updated_at")
	parsed, err = Parse(fresh)
	require.NoError(t, err)
	assert.Equal(t, attrs.UploadedAt, parsed.LastCommittedAt())
}

func TestSerializeAlwaysWritesV2(t *testing.T) {
	attrs := validAttrs()
	attrs.SchemaVersion = types.SchemaVersionV1

	data, err := Serialize(attrs)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, types.SchemaVersionV2, out["schema_version"])
}

func TestSerializeSizeCap(t *testing.T) {
	attrs := validAttrs()
	attrs.Custom = map[string]any{"blob": strings.Repeat("x", types.MaxSidecarBytes)}

	_, err := Serialize(attrs)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindAttrTooLarge))
}

// A sidecar exactly at the byte cap parses; one byte over does not.
func TestParseSizeBoundary(t *testing.T) {
	attrs := validAttrs()
	base, err := Serialize(attrs)
	require.NoError(t, err)
	require.Less(t, len(base), types.MaxSidecarBytes)

	// Pad the description until the serialized form is exactly at the cap.
	pad := types.MaxSidecarBytes - len(base) - len(`,"description":""`)
	attrs.Description = strings.Repeat("d", pad)
	data, err := Serialize(attrs)
	require.NoError(t, err)
	require.Equal(t, types.MaxSidecarBytes, len(data))

	_, err = Parse(data)
	assert.NoError(t, err)

	_, err = Parse(append(data, ' '))
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindAttrTooLarge))
}

func TestParseV1Upgrade(t *testing.T) {
	v1 := map[string]any{
		"file_id":           "0c8f1f6e-9f43-4e0b-bd21-7cf6f8b4a1d2",
		"original_filename": "scan.tiff",
		"storage_filename":  "scan_bob_20250601T080000_cafebabe.tiff",
		"storage_path":      "2025/06/01/08",
		"size_bytes":        2048,
		"sha256_hash":       strings.Repeat("0f", 32),
		"uploaded_by":       "bob",
		"uploaded_at":       "2025-06-01T08:00:00Z",
		"retention_days":    90,
		"expires_at":        "2025-08-30T08:00:00Z",
		"version":           1,
		"schema_version":    types.SchemaVersionV1,
		"template":          map[string]any{"kind": "scan"},
	}
	data, err := json.Marshal(v1)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, types.SchemaVersionV2, parsed.SchemaVersion)
	assert.Equal(t, map[string]any{"kind": "scan"}, parsed.Custom["template"])
}

func TestParseRejectsUnknownSchema(t *testing.T) {
	attrs := validAttrs()
	data, err := Serialize(attrs)
	require.NoError(t, err)

	bad := strings.Replace(string(data), `"schema_version":"2.0"`, `"schema_version":"3.0"`, 1)
	_, err = Parse([]byte(bad))
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindValidation))
}

func TestValidateMandatory(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.FileAttributes)
	}{
		{"missing file_id", func(a *types.FileAttributes) { a.FileID = "" }},
		{"missing original_filename", func(a *types.FileAttributes) { a.OriginalFilename = "" }},
		{"oversize original_filename", func(a *types.FileAttributes) {
			a.OriginalFilename = strings.Repeat("n", types.MaxOriginalFilenameBytes+1)
		}},
		{"missing storage_filename", func(a *types.FileAttributes) { a.StorageFilename = "" }},
		{"zero size", func(a *types.FileAttributes) { a.SizeBytes = 0 }},
		{"bad sha256", func(a *types.FileAttributes) { a.SHA256Hash = "not-hex" }},
		{"uppercase sha256", func(a *types.FileAttributes) { a.SHA256Hash = strings.Repeat("AB", 32) }},
		{"missing uploaded_by", func(a *types.FileAttributes) { a.UploadedBy = "" }},
		{"zero uploaded_at", func(a *types.FileAttributes) { a.UploadedAt = time.Time{} }},
		{"zero retention", func(a *types.FileAttributes) { a.RetentionDays = 0 }},
		{"zero version", func(a *types.FileAttributes) { a.Version = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := validAttrs()
			tt.mutate(attrs)
			err := ValidateMandatory(attrs)
			require.Error(t, err)
			assert.True(t, errdefs.Is(err, errdefs.KindValidation))
		})
	}

	assert.NoError(t, ValidateMandatory(validAttrs()))
}

func TestSidecarPath(t *testing.T) {
	assert.Equal(t, "2026/01/01/12/a.bin.attr.json", SidecarPath("2026/01/01/12/a.bin"))
}
