package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "billing:webhook:"

// EventWindow remembers processed webhook event ids for a limited time so that
// redeliveries can be acknowledged without touching the database.
type EventWindow struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewEventWindow(client redis.Cmdable, ttl time.Duration) *EventWindow {
	if ttl <= 0 {
		ttl = time.Hour * 24
	}

	return &EventWindow{
		client: client,
		ttl:    ttl,
	}
}

func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

func (w *EventWindow) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := w.client.Exists(ctx, keyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}

	return n > 0, nil
}

func (w *EventWindow) Remember(ctx context.Context, eventID string) error {
	err := w.client.Set(ctx, keyPrefix+eventID, 1, w.ttl).Err()
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}

	return nil
}
