package repository

import (
	"context"
	"fmt"

	"github.com/samandr77/microservices/billing/internal/entity"
)

// RecordWebhookEvent stores the event id and reports false when it was stored before.
func (r *Repository) RecordWebhookEvent(ctx context.Context, ev entity.WebhookEvent) (bool, error) {
	const q = `
	INSERT INTO webhook_events (event_id, event_type, entity_id, received_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (event_id) DO NOTHING
	`

	result, err := r.conn(ctx).Exec(ctx, q, ev.ID, ev.Type, ev.EntityID(), ev.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}

	return result.RowsAffected() > 0, nil
}
