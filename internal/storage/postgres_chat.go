package storage

import (
	"context"

	"farmhand.dev/core/internal/models"
)

func (r *PostgresRepository) InsertChatMessage(ctx context.Context, m models.ChatMessage) error {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, user_id, broadcaster, raw_payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.UserID, m.Broadcaster, m.RawPayload, m.CreatedAt)
	return err
}

func (r *PostgresRepository) InsertEngagementEvent(ctx context.Context, e models.EngagementEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO engagement_events (id, user_id, broadcaster, kind, raw_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.UserID, e.Broadcaster, string(e.Kind), e.RawPayload, e.CreatedAt)
	return err
}

// SeenIdempotencyKey records key the first time it is observed. This backs
// the Postgres-durable half of dedup: internal/idempotency layers a faster
// Redis check in front of it, but webhook and job delivery both fall back to
// this table so a dedup decision survives a Redis flush.
func (r *PostgresRepository) SeenIdempotencyKey(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `INSERT INTO idempotency_keys (key) VALUES ($1) ON CONFLICT DO NOTHING`, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
