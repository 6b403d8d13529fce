package attr

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/cuemby/artstore/pkg/backend"
	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

var sha256Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Serialize renders attributes as the sidecar JSON. The write schema is
// always 2.0 and the serialized form must fit the sidecar cap.
func Serialize(attrs *types.FileAttributes) ([]byte, error) {
	out := *attrs
	out.SchemaVersion = types.SchemaVersionV2
	out.UploadedAt = out.UploadedAt.UTC()
	out.ExpiresAt = out.ExpiresAt.UTC()
	if !out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.UpdatedAt.UTC()
	}

	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize sidecar: %w", err)
	}
	if len(data) > types.MaxSidecarBytes {
		return nil, errdefs.Newf(errdefs.KindAttrTooLarge,
			"sidecar serializes to %d bytes, limit is %d", len(data), types.MaxSidecarBytes)
	}
	return data, nil
}

// Parse decodes a sidecar in schema 1.0 or 2.0. V1 sidecars are upgraded
// in memory: the top-level template field moves verbatim under
// custom.template and the schema version becomes 2.0.
func Parse(data []byte) (*types.FileAttributes, error) {
	if len(data) > types.MaxSidecarBytes {
		return nil, errdefs.Newf(errdefs.KindAttrTooLarge,
			"sidecar is %d bytes, limit is %d", len(data), types.MaxSidecarBytes)
	}

	var probe struct {
		SchemaVersion string          `json:"schema_version"`
		Template      json.RawMessage `json:"template"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar: %w", err)
	}

	var attrs types.FileAttributes
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar: %w", err)
	}

	switch probe.SchemaVersion {
	case types.SchemaVersionV2:
	case types.SchemaVersionV1:
		if len(probe.Template) > 0 {
			if attrs.Custom == nil {
				attrs.Custom = map[string]any{}
			}
			var tmpl any
			if err := json.Unmarshal(probe.Template, &tmpl); err == nil {
				// template semantics are unsettled; keep the raw value
				attrs.Custom["template"] = tmpl
			}
		}
		attrs.SchemaVersion = types.SchemaVersionV2
	default:
		return nil, errdefs.Newf(errdefs.KindValidation, "unsupported sidecar schema version %q", probe.SchemaVersion)
	}

	if err := ValidateMandatory(&attrs); err != nil {
		return nil, err
	}
	attrs.UploadedAt = attrs.UploadedAt.UTC()
	attrs.ExpiresAt = attrs.ExpiresAt.UTC()
	if !attrs.UpdatedAt.IsZero() {
		attrs.UpdatedAt = attrs.UpdatedAt.UTC()
	}
	return &attrs, nil
}

// ValidateMandatory checks the fields every sidecar must carry
func ValidateMandatory(attrs *types.FileAttributes) error {
	switch {
	case attrs.FileID == "":
		return errdefs.New(errdefs.KindValidation, "sidecar missing file_id")
	case attrs.OriginalFilename == "":
		return errdefs.New(errdefs.KindValidation, "sidecar missing original_filename")
	case len(attrs.OriginalFilename) > types.MaxOriginalFilenameBytes:
		return errdefs.Newf(errdefs.KindValidation, "original_filename exceeds %d bytes", types.MaxOriginalFilenameBytes)
	case attrs.StorageFilename == "":
		return errdefs.New(errdefs.KindValidation, "sidecar missing storage_filename")
	case attrs.SizeBytes <= 0:
		return errdefs.New(errdefs.KindValidation, "sidecar size_bytes must be positive")
	case !sha256Pattern.MatchString(attrs.SHA256Hash):
		return errdefs.New(errdefs.KindValidation, "sidecar sha256_hash must be 64 lowercase hex chars")
	case attrs.UploadedBy == "":
		return errdefs.New(errdefs.KindValidation, "sidecar missing uploaded_by")
	case attrs.UploadedAt.IsZero():
		return errdefs.New(errdefs.KindValidation, "sidecar missing uploaded_at")
	case attrs.RetentionDays <= 0:
		return errdefs.New(errdefs.KindValidation, "sidecar retention_days must be positive")
	case attrs.Version < 1:
		return errdefs.New(errdefs.KindValidation, "sidecar version must be >= 1")
	}
	return nil
}

// SidecarPath returns the sidecar path for an object path
func SidecarPath(objectPath string) string {
	return objectPath + backend.SidecarSuffix
}

// Write serializes attrs and atomically writes the sidecar next to the
// object at objectPath.
func Write(ctx context.Context, driver backend.Driver, objectPath string, attrs *types.FileAttributes) error {
	data, err := Serialize(attrs)
	if err != nil {
		return err
	}
	return driver.WriteSidecar(ctx, SidecarPath(objectPath), data)
}

// Read loads and parses the sidecar for the object at objectPath
func Read(ctx context.Context, driver backend.Driver, objectPath string) (*types.FileAttributes, error) {
	data, err := driver.ReadSidecar(ctx, SidecarPath(objectPath))
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// ComputeExpiry derives expires_at from uploaded_at and retention
func ComputeExpiry(uploadedAt time.Time, retentionDays int) time.Time {
	return uploadedAt.UTC().Add(time.Duration(retentionDays) * 24 * time.Hour)
}
