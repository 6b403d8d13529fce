package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestModeTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Mode
		to      Mode
		allowed bool
	}{
		{"edit to rw", ModeEdit, ModeRW, true},
		{"rw to ro", ModeRW, ModeRO, true},
		{"ro to ar", ModeRO, ModeAR, true},
		{"same mode", ModeRW, ModeRW, true},
		{"backwards rw to edit", ModeRW, ModeEdit, false},
		{"backwards ar to ro", ModeAR, ModeRO, false},
		{"skip edit to ro", ModeEdit, ModeRO, false},
		{"skip rw to ar", ModeRW, ModeAR, false},
		{"ar is terminal", ModeAR, ModeEdit, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestModePermissions(t *testing.T) {
	tests := []struct {
		mode   Mode
		create bool
		update bool
		del    bool
		read   bool
	}{
		{ModeEdit, true, true, true, true},
		{ModeRW, true, true, true, true},
		{ModeRO, false, false, false, true},
		{ModeAR, false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			assert.Equal(t, tt.create, tt.mode.AllowsCreate())
			assert.Equal(t, tt.update, tt.mode.AllowsUpdate())
			assert.Equal(t, tt.del, tt.mode.AllowsDelete())
			assert.Equal(t, tt.read, tt.mode.AllowsRead())
		})
	}
}

func TestModeValid(t *testing.T) {
	assert.True(t, ModeEdit.Valid())
	assert.True(t, ModeAR.Valid())
	assert.False(t, Mode("archive").Valid())
	assert.False(t, Mode("").Valid())
}

func TestDefaultCacheTTLHours(t *testing.T) {
	assert.Equal(t, 24, ModeEdit.DefaultCacheTTLHours())
	assert.Equal(t, 24, ModeRW.DefaultCacheTTLHours())
	assert.Equal(t, 168, ModeRO.DefaultCacheTTLHours())
	assert.Equal(t, 168, ModeAR.DefaultCacheTTLHours())
}

func TestLastCommittedAt(t *testing.T) {
	uploaded := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	updated := uploaded.Add(2 * time.Hour)

	a := &FileAttributes{UploadedAt: uploaded}
	assert.Equal(t, uploaded, a.LastCommittedAt())

	// Once a metadata update lands the update instant takes over, so a
	// cache row written at update time and one rebuilt from the sidecar
	// carry the same last-writer-wins key.
	a.UpdatedAt = updated
	assert.Equal(t, updated, a.LastCommittedAt())
}

func TestCacheRowExpired(t *testing.T) {
	now := time.Now()
	row := &CacheRow{CacheUpdatedAt: now.Add(-25 * time.Hour), CacheTTLHours: 24}
	assert.True(t, row.Expired(now))

	row = &CacheRow{CacheUpdatedAt: now.Add(-23 * time.Hour), CacheTTLHours: 24}
	assert.False(t, row.Expired(now))
}

func TestWALStatusTerminal(t *testing.T) {
	assert.False(t, WALStatusPending.Terminal())
	assert.False(t, WALStatusInProgress.Terminal())
	assert.True(t, WALStatusCommitted.Terminal())
	assert.True(t, WALStatusRolledBack.Terminal())
	assert.True(t, WALStatusFailed.Terminal())
}

func TestComputeThresholds(t *testing.T) {
	// A 10 TiB rw element is governed by percentages.
	total := int64(10) << 40
	th := ComputeThresholds(ModeRW, total)
	assert.Equal(t, total*15/100, th.WarningFreeBytes)
	assert.Equal(t, total*8/100, th.CriticalFreeBytes)
	assert.Equal(t, total*2/100, th.FullFreeBytes)

	// A small element falls back to the absolute floors.
	small := int64(100) << 30
	th = ComputeThresholds(ModeRW, small)
	assert.Equal(t, int64(150)<<30, th.WarningFreeBytes)
	assert.Equal(t, int64(80)<<30, th.CriticalFreeBytes)
	assert.Equal(t, int64(20)<<30, th.FullFreeBytes)

	// Read-only and archive elements are never throttled.
	assert.Equal(t, Thresholds{}, ComputeThresholds(ModeRO, total))
	assert.Equal(t, Thresholds{}, ComputeThresholds(ModeAR, total))
}

func TestThresholdStatus(t *testing.T) {
	th := Thresholds{WarningFreeBytes: 300, CriticalFreeBytes: 200, FullFreeBytes: 100}

	tests := []struct {
		free int64
		want CapacityStatus
	}{
		{1000, CapacityOK},
		{301, CapacityOK},
		{300, CapacityWarning},
		{201, CapacityWarning},
		{200, CapacityCritical},
		{101, CapacityCritical},
		{100, CapacityFull},
		{0, CapacityFull},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Status(tt.free), "free=%d", tt.free)
	}

	// Zero thresholds (ro/ar) always classify ok.
	assert.Equal(t, CapacityOK, Thresholds{}.Status(0))
}
