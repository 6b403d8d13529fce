package metacache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

type configRow struct {
	ElementID          string    `db:"element_id"`
	Mode               string    `db:"mode"`
	StorageType        string    `db:"storage_type"`
	CapacityTotalBytes int64     `db:"capacity_total_bytes"`
	RetentionDays      int       `db:"retention_days"`
	Priority           int       `db:"priority"`
	Endpoint           string    `db:"endpoint"`
	UpdatedAt          time.Time `db:"updated_at"`
}

// GetConfig returns the persisted element config singleton, or a
// not_found kind error on first boot.
func (s *Store) GetConfig(ctx context.Context, elementID string) (*types.ElementConfig, error) {
	var r configRow
	query := fmt.Sprintf(`SELECT * FROM %s WHERE element_id = $1`, s.configTable)
	if err := s.db.GetContext(ctx, &r, query, elementID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errdefs.Newf(errdefs.KindNotFound, "no persisted config for element %s", elementID)
		}
		return nil, fmt.Errorf("failed to load element config: %w", err)
	}
	return &types.ElementConfig{
		ElementID:          r.ElementID,
		Mode:               types.Mode(r.Mode),
		StorageType:        types.StorageType(r.StorageType),
		CapacityTotalBytes: r.CapacityTotalBytes,
		RetentionDays:      r.RetentionDays,
		Priority:           r.Priority,
		Endpoint:           r.Endpoint,
	}, nil
}

// PutConfig persists the element config singleton
func (s *Store) PutConfig(ctx context.Context, cfg *types.ElementConfig) error {
	query := fmt.Sprintf(`
INSERT INTO %s (element_id, mode, storage_type, capacity_total_bytes, retention_days, priority, endpoint, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (element_id) DO UPDATE SET
	mode = EXCLUDED.mode,
	storage_type = EXCLUDED.storage_type,
	capacity_total_bytes = EXCLUDED.capacity_total_bytes,
	retention_days = EXCLUDED.retention_days,
	priority = EXCLUDED.priority,
	endpoint = EXCLUDED.endpoint,
	updated_at = EXCLUDED.updated_at`, s.configTable)
	_, err := s.db.ExecContext(ctx, query,
		cfg.ElementID, string(cfg.Mode), string(cfg.StorageType),
		cfg.CapacityTotalBytes, cfg.RetentionDays, cfg.Priority, cfg.Endpoint,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist element config: %w", err)
	}
	return nil
}

// ValidateModeTransition compares the configured mode against the mode
// persisted by the previous run. Only forward transitions
// (edit→rw→ro→ar) or staying put are legal; anything else is a startup
// configuration error.
func (s *Store) ValidateModeTransition(ctx context.Context, cfg *types.ElementConfig) error {
	prev, err := s.GetConfig(ctx, cfg.ElementID)
	if err != nil {
		if errdefs.Is(err, errdefs.KindNotFound) {
			// First boot, any valid mode is fine.
			return s.PutConfig(ctx, cfg)
		}
		return err
	}
	if !prev.Mode.CanTransitionTo(cfg.Mode) {
		return errdefs.Newf(errdefs.KindInvalidTransition,
			"illegal mode change %s -> %s for element %s", prev.Mode, cfg.Mode, cfg.ElementID)
	}
	return s.PutConfig(ctx, cfg)
}
