package types

import (
	"time"
)

// Mode is the operating posture of a storage element, fixed for the
// process lifetime.
type Mode string

const (
	ModeEdit Mode = "edit"
	ModeRW   Mode = "rw"
	ModeRO   Mode = "ro"
	ModeAR   Mode = "ar"
)

// legalTransitions holds the only mode changes allowed across restarts.
var legalTransitions = map[Mode]Mode{
	ModeEdit: ModeRW,
	ModeRW:   ModeRO,
	ModeRO:   ModeAR,
}

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	switch m {
	case ModeEdit, ModeRW, ModeRO, ModeAR:
		return true
	}
	return false
}

// CanTransitionTo reports whether a restart from m into next is legal.
// Staying in the same mode is always legal.
func (m Mode) CanTransitionTo(next Mode) bool {
	if m == next {
		return true
	}
	return legalTransitions[m] == next
}

// AllowsCreate reports whether new objects may be written in this mode
func (m Mode) AllowsCreate() bool {
	return m == ModeEdit || m == ModeRW
}

// AllowsUpdate reports whether metadata updates are allowed in this mode
func (m Mode) AllowsUpdate() bool {
	return m == ModeEdit || m == ModeRW
}

// AllowsDelete reports whether delete is allowed at all in this mode.
// In rw mode delete additionally requires a service-account ADMIN role,
// which is enforced at the engine.
func (m Mode) AllowsDelete() bool {
	return m == ModeEdit || m == ModeRW
}

// AllowsRead reports whether object bytes may be served in this mode.
// Archive elements serve metadata only.
func (m Mode) AllowsRead() bool {
	return m != ModeAR
}

// DefaultCacheTTLHours returns the metadata cache TTL for the mode
func (m Mode) DefaultCacheTTLHours() int {
	switch m {
	case ModeEdit, ModeRW:
		return 24
	default:
		return 168
	}
}

// StorageType selects the backend driver
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

// SchemaVersion of the sidecar format. Readers accept both; writers
// always produce V2.
const (
	SchemaVersionV1 = "1.0"
	SchemaVersionV2 = "2.0"
)

// MaxSidecarBytes is the hard cap on a serialized attribute sidecar
const MaxSidecarBytes = 4096

// MaxStorageFilenameBytes caps the derived storage filename length
const MaxStorageFilenameBytes = 200

// MaxOriginalFilenameBytes caps the client-supplied filename length
const MaxOriginalFilenameBytes = 500

// DigitalSignature references a detached signature for an object
type DigitalSignature struct {
	Algorithm string `json:"algorithm"`
	Filename  string `json:"filename"`
}

// FileAttributes is the sidecar record, the source of truth for a logical
// file's metadata. Closed fields plus an open Custom extension map.
type FileAttributes struct {
	FileID           string            `json:"file_id"`
	OriginalFilename string            `json:"original_filename"`
	StorageFilename  string            `json:"storage_filename"`
	StoragePath      string            `json:"storage_path"`
	SizeBytes        int64             `json:"size_bytes"`
	MimeType         string            `json:"mime_type,omitempty"`
	SHA256Hash       string            `json:"sha256_hash"`
	MD5Hash          string            `json:"md5_hash,omitempty"`
	Description      string            `json:"description,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	UploadedBy       string            `json:"uploaded_by"`
	UploadedAt       time.Time         `json:"uploaded_at"`
	UpdatedAt        time.Time         `json:"updated_at,omitzero"`
	RetentionDays    int               `json:"retention_days"`
	ExpiresAt        time.Time         `json:"expires_at"`
	Version          int               `json:"version"`
	SchemaVersion    string            `json:"schema_version"`
	Custom           map[string]any    `json:"custom,omitempty"`
	Signature        *DigitalSignature `json:"digital_signature,omitempty"`
}

// LastCommittedAt returns the instant of the latest committed write to
// the sidecar: updated_at once a metadata update has landed, uploaded_at
// before that. Cache writers and rebuild paths use it as the shared
// last-writer-wins key so a rebuild from the sidecar is never ordered
// behind the write that produced it.
func (a *FileAttributes) LastCommittedAt() time.Time {
	if !a.UpdatedAt.IsZero() {
		return a.UpdatedAt
	}
	return a.UploadedAt
}

// CacheRow mirrors a sidecar in the metadata cache plus cache bookkeeping
type CacheRow struct {
	FileAttributes
	CacheUpdatedAt time.Time `json:"cache_updated_at"`
	CacheTTLHours  int       `json:"cache_ttl_hours"`
}

// Expired reports whether the row has passed its TTL at the given instant
func (r *CacheRow) Expired(now time.Time) bool {
	return r.CacheUpdatedAt.Add(time.Duration(r.CacheTTLHours) * time.Hour).Before(now)
}

// WALOperation enumerates mutating operations recorded in the WAL
type WALOperation string

const (
	WALOpUpload         WALOperation = "upload"
	WALOpDelete         WALOperation = "delete"
	WALOpUpdateMetadata WALOperation = "update_metadata"
	WALOpModeChange     WALOperation = "mode_change"
)

// WALStatus is the lifecycle state of a WAL entry
type WALStatus string

const (
	WALStatusPending    WALStatus = "pending"
	WALStatusInProgress WALStatus = "in_progress"
	WALStatusCommitted  WALStatus = "committed"
	WALStatusRolledBack WALStatus = "rolled_back"
	WALStatusFailed     WALStatus = "failed"
)

// Terminal reports whether the status is final
func (s WALStatus) Terminal() bool {
	return s == WALStatusCommitted || s == WALStatusRolledBack || s == WALStatusFailed
}

// WALEntry records intent and compensation data for one mutating operation
type WALEntry struct {
	WALID            int64          `json:"wal_id"`
	TransactionID    string         `json:"transaction_id"`
	SagaID           string         `json:"saga_id,omitempty"`
	OperationType    WALOperation   `json:"operation_type"`
	Status           WALStatus      `json:"status"`
	FileID           string         `json:"file_id,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	CompensationData map[string]any `json:"compensation_data,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	CommittedAt      *time.Time     `json:"committed_at,omitempty"`
}

// ElementConfig is the singleton configuration of one storage element,
// created at startup and never mutated at runtime.
type ElementConfig struct {
	ElementID          string      `json:"element_id"`
	Mode               Mode        `json:"mode"`
	StorageType        StorageType `json:"storage_type"`
	CapacityTotalBytes int64       `json:"capacity_total_bytes"`
	RetentionDays      int         `json:"retention_days"`
	Priority           int         `json:"priority"`
	Endpoint           string      `json:"endpoint"`
}

// HealthStatus of a storage element as seen by the fleet
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
)

// CapacityStatus classifies free space against the adaptive thresholds
type CapacityStatus string

const (
	CapacityOK       CapacityStatus = "ok"
	CapacityWarning  CapacityStatus = "warning"
	CapacityCritical CapacityStatus = "critical"
	CapacityFull     CapacityStatus = "full"
)

// RegistryRecord is the discovery record published to the shared registry
type RegistryRecord struct {
	ID                string         `json:"id"`
	Mode              Mode           `json:"mode"`
	CapacityTotal     int64          `json:"capacity_total"`
	CapacityUsed      int64          `json:"capacity_used"`
	CapacityFree      int64          `json:"capacity_free"`
	CapacityPercent   float64        `json:"capacity_percent"`
	Endpoint          string         `json:"endpoint"`
	Priority          int            `json:"priority"`
	LastUpdated       time.Time      `json:"last_updated"`
	HealthStatus      HealthStatus   `json:"health_status"`
	CapacityStatus    CapacityStatus `json:"capacity_status"`
	ThresholdWarning  float64        `json:"threshold_warning"`
	ThresholdCritical float64        `json:"threshold_critical"`
	ThresholdFull     float64        `json:"threshold_full"`
}

// RestoreTicketStatus tracks rehydration of an archived object
type RestoreTicketStatus string

const (
	RestorePending  RestoreTicketStatus = "pending"
	RestoreRestored RestoreTicketStatus = "restored"
	RestoreExpired  RestoreTicketStatus = "expired"
)

// RestoreTicket is handed out by an archive element when bytes must be
// rehydrated onto a designated edit element. The TTL window starts once
// the bytes land.
type RestoreTicket struct {
	TicketID        string              `json:"ticket_id"`
	FileID          string              `json:"file_id"`
	RequestedBy     string              `json:"requested_by"`
	Status          RestoreTicketStatus `json:"status"`
	TargetElementID string              `json:"target_element_id,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	RestoredAt      *time.Time          `json:"restored_at,omitempty"`
	ExpiresAt       *time.Time          `json:"expires_at,omitempty"`
}

// DiscoveryInfo is the unauthenticated GET /info payload
type DiscoveryInfo struct {
	Name          string      `json:"name"`
	DisplayName   string      `json:"display_name"`
	Version       string      `json:"version"`
	Mode          Mode        `json:"mode"`
	StorageType   StorageType `json:"storage_type"`
	BasePath      string      `json:"base_path"`
	CapacityBytes int64       `json:"capacity_bytes"`
	UsedBytes     int64       `json:"used_bytes"`
	FileCount     int64       `json:"file_count"`
	Status        string      `json:"status"`
}
