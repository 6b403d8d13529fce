package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/log"
	"github.com/cuemby/artstore/pkg/types"
)

// Client wraps the shared Redis registry. Writes from a storage element
// go through a circuit breaker so a registry outage never fails the data
// path; readers treat missing records as offline elements.
type Client struct {
	rdb     *redis.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a registry client
func NewClient(addr, password string) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "registry",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger := log.WithComponent("registry")
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("registry circuit breaker state change")
		},
	})

	return &Client{rdb: rdb, breaker: breaker}
}

// NewClientFromRedis wraps an existing redis client (used by tests)
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb: rdb,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "registry",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			Timeout: 30 * time.Second,
		}),
	}
}

// Close releases the underlying connection pool
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func elementKey(id string) string {
	return "storage:elements:" + id
}

func modeSetKey(mode types.Mode) string {
	return fmt.Sprintf("storage:%s:by_priority", mode)
}

// PublishElement writes the element hash with the given TTL and maintains
// the per-mode priority sorted set: full elements (and non-writable modes)
// are removed, everything else is scored by priority.
func (c *Client) PublishElement(ctx context.Context, rec *types.RegistryRecord, ttl time.Duration) error {
	_, err := c.breaker.Execute(func() (any, error) {
		fields := map[string]string{
			"id":                 rec.ID,
			"mode":               string(rec.Mode),
			"capacity_total":     strconv.FormatInt(rec.CapacityTotal, 10),
			"capacity_used":      strconv.FormatInt(rec.CapacityUsed, 10),
			"capacity_free":      strconv.FormatInt(rec.CapacityFree, 10),
			"capacity_percent":   strconv.FormatFloat(rec.CapacityPercent, 'f', 2, 64),
			"endpoint":           rec.Endpoint,
			"priority":           strconv.Itoa(rec.Priority),
			"last_updated":       rec.LastUpdated.UTC().Format(time.RFC3339),
			"health_status":      string(rec.HealthStatus),
			"capacity_status":    string(rec.CapacityStatus),
			"threshold_warning":  strconv.FormatFloat(rec.ThresholdWarning, 'f', 2, 64),
			"threshold_critical": strconv.FormatFloat(rec.ThresholdCritical, 'f', 2, 64),
			"threshold_full":     strconv.FormatFloat(rec.ThresholdFull, 'f', 2, 64),
		}

		pipe := c.rdb.TxPipeline()
		key := elementKey(rec.ID)
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, ttl)

		if rec.Mode == types.ModeEdit || rec.Mode == types.ModeRW {
			setKey := modeSetKey(rec.Mode)
			if rec.CapacityStatus == types.CapacityFull {
				pipe.ZRem(ctx, setKey, rec.ID)
			} else {
				pipe.ZAdd(ctx, setKey, redis.Z{Score: float64(rec.Priority), Member: rec.ID})
			}
		}

		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to publish element record", err)
	}
	return nil
}

// Deregister removes the element hash and its sorted-set entries. Called
// on graceful shutdown; on a crash the hash TTL expires instead.
func (c *Client) Deregister(ctx context.Context, id string, mode types.Mode) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, elementKey(id))
	if mode == types.ModeEdit || mode == types.ModeRW {
		pipe.ZRem(ctx, modeSetKey(mode), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to deregister element", err)
	}
	return nil
}

// GetElement loads one element record; absent records (TTL expired or
// never published) come back as not_found.
func (c *Client) GetElement(ctx context.Context, id string) (*types.RegistryRecord, error) {
	fields, err := c.rdb.HGetAll(ctx, elementKey(id)).Result()
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to read element record", err)
	}
	if len(fields) == 0 {
		return nil, errdefs.Newf(errdefs.KindNotFound, "element %s not in registry", id)
	}
	return recordFromFields(fields), nil
}

// SelectByPriority returns element records of the given mode ordered by
// ascending priority, filtered to at least minFreeBytes free.
func (c *Client) SelectByPriority(ctx context.Context, mode types.Mode, minFreeBytes int64) ([]*types.RegistryRecord, error) {
	ids, err := c.rdb.ZRangeByScore(ctx, modeSetKey(mode), &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindBackendUnavailable, "failed to read priority set", err)
	}

	records := make([]*types.RegistryRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := c.GetElement(ctx, id)
		if err != nil {
			if errdefs.Is(err, errdefs.KindNotFound) {
				// Hash expired but the set entry lingers; treat as offline.
				continue
			}
			return nil, err
		}
		if rec.CapacityFree >= minFreeBytes {
			records = append(records, rec)
		}
	}
	return records, nil
}

func recordFromFields(fields map[string]string) *types.RegistryRecord {
	rec := &types.RegistryRecord{
		ID:             fields["id"],
		Mode:           types.Mode(fields["mode"]),
		Endpoint:       fields["endpoint"],
		HealthStatus:   types.HealthStatus(fields["health_status"]),
		CapacityStatus: types.CapacityStatus(fields["capacity_status"]),
	}
	rec.CapacityTotal, _ = strconv.ParseInt(fields["capacity_total"], 10, 64)
	rec.CapacityUsed, _ = strconv.ParseInt(fields["capacity_used"], 10, 64)
	rec.CapacityFree, _ = strconv.ParseInt(fields["capacity_free"], 10, 64)
	rec.CapacityPercent, _ = strconv.ParseFloat(fields["capacity_percent"], 64)
	rec.Priority, _ = strconv.Atoi(fields["priority"])
	rec.ThresholdWarning, _ = strconv.ParseFloat(fields["threshold_warning"], 64)
	rec.ThresholdCritical, _ = strconv.ParseFloat(fields["threshold_critical"], 64)
	rec.ThresholdFull, _ = strconv.ParseFloat(fields["threshold_full"], 64)
	if t, err := time.Parse(time.RFC3339, fields["last_updated"]); err == nil {
		rec.LastUpdated = t
	}
	return rec
}
