package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/samandr77/microservices/billing/pkg/cache"
)

func TestEventWindow(t *testing.T) {
	t.Parallel()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is not set")
	}

	ctx := context.Background()

	client, err := cache.Connect(ctx, addr, "", 0)
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	w := cache.NewEventWindow(client, time.Second*2)

	eventID := uuid.Must(uuid.NewV4()).String()

	seen, err := w.Seen(ctx, eventID)
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, w.Remember(ctx, eventID))

	seen, err = w.Seen(ctx, eventID)
	require.NoError(t, err)
	require.True(t, seen)

	require.Eventually(t, func() bool {
		seen, err := w.Seen(ctx, eventID)
		return err == nil && !seen
	}, time.Second*5, time.Millisecond*100)
}
