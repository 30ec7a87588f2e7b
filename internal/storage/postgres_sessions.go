package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"farmhand.dev/core/internal/models"
)

func scanSession(row pgx.Row) (models.StreamSession, error) {
	var s models.StreamSession
	err := row.Scan(&s.ID, &s.UserID, &s.StartedAt, &s.EndedAt, &s.EventLogURL, &s.ReplayVideoURL, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StreamSession{}, ErrNotFound
	}
	return s, err
}

const sessionColumns = `id, user_id, started_at, ended_at, event_log_url, replay_video_url, created_at, updated_at`

// FindActiveSession returns the session currently open for userID, if any.
// "Active" is defined the same way the partial unique index enforces it:
// ended_at IS NULL.
func (r *PostgresRepository) FindActiveSession(ctx context.Context, userID string) (models.StreamSession, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM stream_sessions WHERE user_id = $1 AND ended_at IS NULL`, userID)
	s, err := scanSession(row)
	if errors.Is(err, ErrNotFound) {
		return models.StreamSession{}, false, nil
	}
	if err != nil {
		return models.StreamSession{}, false, err
	}
	return s, true, nil
}

// CreateStreamSession inserts a new session. A unique_violation on the
// partial index (another session for this user is already open) is reported
// as ErrConflict so callers can treat it as the benign "already online"
// case rather than an unexpected failure.
func (r *PostgresRepository) CreateStreamSession(ctx context.Context, s models.StreamSession) (models.StreamSession, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	now := time.Now().UTC()
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stream_sessions (id, user_id, started_at, event_log_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		s.ID, s.UserID, s.StartedAt, s.EventLogURL, now)
	if err != nil {
		return models.StreamSession{}, classifyUniqueViolation(err)
	}
	s.CreatedAt, s.UpdatedAt = now, now
	return s, nil
}

func (r *PostgresRepository) EndStreamSession(ctx context.Context, id string, endedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		UPDATE stream_sessions SET ended_at = $1, updated_at = now()
		WHERE id = $2 AND ended_at IS NULL`, endedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *PostgresRepository) SetSessionReplay(ctx context.Context, id, replayVideoURL string) error {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		UPDATE stream_sessions SET replay_video_url = $1, updated_at = now() WHERE id = $2`,
		replayVideoURL, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
