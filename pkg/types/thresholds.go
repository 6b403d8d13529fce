package types

const gib = int64(1) << 30

// Thresholds are the free-byte floors below which a storage element
// degrades its capacity status. They are derived from the total capacity
// and the mode: percentage-based for large elements with absolute floors
// so small elements keep usable headroom.
type Thresholds struct {
	WarningFreeBytes  int64
	CriticalFreeBytes int64
	FullFreeBytes     int64
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// ComputeThresholds derives the free-byte floors for a mode and capacity.
// Read-only and archive elements report capacity but are never throttled.
func ComputeThresholds(mode Mode, totalBytes int64) Thresholds {
	switch mode {
	case ModeRW:
		return Thresholds{
			WarningFreeBytes:  maxInt64(totalBytes*15/100, 150*gib),
			CriticalFreeBytes: maxInt64(totalBytes*8/100, 80*gib),
			FullFreeBytes:     maxInt64(totalBytes*2/100, 20*gib),
		}
	case ModeEdit:
		return Thresholds{
			WarningFreeBytes:  maxInt64(totalBytes*10/100, 100*gib),
			CriticalFreeBytes: maxInt64(totalBytes*5/100, 50*gib),
			FullFreeBytes:     maxInt64(totalBytes*1/100, 10*gib),
		}
	default:
		return Thresholds{}
	}
}

// Status classifies free bytes against the thresholds
func (t Thresholds) Status(freeBytes int64) CapacityStatus {
	if t.FullFreeBytes == 0 && t.CriticalFreeBytes == 0 && t.WarningFreeBytes == 0 {
		return CapacityOK
	}
	switch {
	case freeBytes <= t.FullFreeBytes:
		return CapacityFull
	case freeBytes <= t.CriticalFreeBytes:
		return CapacityCritical
	case freeBytes <= t.WarningFreeBytes:
		return CapacityWarning
	default:
		return CapacityOK
	}
}
