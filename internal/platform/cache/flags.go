package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const maintenanceKey = "ledger:maintenance"

// FlagStore keeps operational flags in Redis. The ledger maintenance
// flag gates the whole transfer cycle and expires on its own so a
// forgotten flag cannot block submission forever.
type FlagStore struct {
	client *redis.Client
}

// NewFlagStore constructs a FlagStore.
func NewFlagStore(client *redis.Client) *FlagStore {
	return &FlagStore{client: client}
}

// MaintenanceActive reports whether the external ledger is flagged as
// being in maintenance mode.
func (s *FlagStore) MaintenanceActive(ctx context.Context) (bool, error) {
	_, err := s.client.Get(ctx, maintenanceKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetMaintenance raises or clears the maintenance flag. A zero ttl
// defaults to one hour.
func (s *FlagStore) SetMaintenance(ctx context.Context, active bool, ttl time.Duration) error {
	if !active {
		return s.client.Del(ctx, maintenanceKey).Err()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return s.client.Set(ctx, maintenanceKey, "1", ttl).Err()
}
