package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"farmhand.dev/core/internal/models"
)

func (r *PostgresRepository) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()

	now := time.Now().UTC()
	if u.Role == "" {
		u.Role = models.RoleViewer
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, email, handle, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		u.ID, u.Email, u.Handle, u.PasswordHash, string(u.Role), now)
	if err != nil {
		return models.User{}, classifyUniqueViolation(err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO settings (user_id) VALUES ($1)`, u.ID)
	if err != nil {
		return models.User{}, fmt.Errorf("insert default settings: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.User{}, err
	}
	u.CreatedAt, u.UpdatedAt = now, now
	return u, nil
}

func (r *PostgresRepository) scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.Handle, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	u.Role = models.Role(role)
	return u, nil
}

func (r *PostgresRepository) FindUserByID(ctx context.Context, id string) (models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT id, email, handle, password_hash, role, created_at, updated_at FROM users WHERE id = $1`, id)
	return r.scanUser(row)
}

func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT id, email, handle, password_hash, role, created_at, updated_at FROM users WHERE LOWER(email) = LOWER($1)`, email)
	return r.scanUser(row)
}

func (r *PostgresRepository) FindUserByHandle(ctx context.Context, handle string) (models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT id, email, handle, password_hash, role, created_at, updated_at FROM users WHERE LOWER(handle) = LOWER($1)`, handle)
	return r.scanUser(row)
}

func (r *PostgresRepository) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, passwordHash, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateUserHandle(ctx context.Context, id, handle string) (models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
		UPDATE users SET handle = $1, updated_at = now() WHERE id = $2
		RETURNING id, email, handle, password_hash, role, created_at, updated_at`,
		handle, id)
	u, err := r.scanUser(row)
	if err != nil {
		return models.User{}, classifyUniqueViolation(err)
	}
	return u, nil
}

func (r *PostgresRepository) UpsertAccount(ctx context.Context, a models.Account) (models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = newOpaqueID()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, user_id, provider, provider_user_id, provider_handle, access_token, refresh_token, token_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (provider, provider_user_id) DO UPDATE SET
			provider_handle = EXCLUDED.provider_handle,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id, user_id, provider, provider_user_id, provider_handle, access_token, refresh_token, token_expires_at, created_at, updated_at`,
		a.ID, a.UserID, a.Provider, a.ProviderUserID, a.ProviderHandle, a.AccessToken, a.RefreshToken, a.TokenExpiresAt, now)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Provider, &a.ProviderUserID, &a.ProviderHandle, &a.AccessToken, &a.RefreshToken, &a.TokenExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, ErrNotFound
	}
	return a, err
}

func (r *PostgresRepository) FindAccountByProvider(ctx context.Context, provider, providerUserID string) (models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT id, user_id, provider, provider_user_id, provider_handle, access_token, refresh_token, token_expires_at, created_at, updated_at FROM accounts WHERE provider = $1 AND provider_user_id = $2`, provider, providerUserID)
	return scanAccount(row)
}

func (r *PostgresRepository) ListAccountsByUser(ctx context.Context, userID string) ([]models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, provider, provider_user_id, provider_handle, access_token, refresh_token, token_expires_at, created_at, updated_at FROM accounts WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetSettings(ctx context.Context, userID string) (models.Settings, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	var s models.Settings
	s.UserID = userID
	err := r.pool.QueryRow(ctx, `SELECT stream_status, chat_messages, channel_points, follows_subs FROM settings WHERE user_id = $1`, userID).
		Scan(&s.StreamStatus, &s.ChatMessages, &s.ChannelPoints, &s.FollowsSubs)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Settings{}, ErrNotFound
	}
	return s, err
}

func (r *PostgresRepository) UpdateSettings(ctx context.Context, s models.Settings) (models.Settings, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	_, err := r.pool.Exec(ctx, `
		UPDATE settings SET stream_status = $1, chat_messages = $2, channel_points = $3, follows_subs = $4
		WHERE user_id = $5`,
		s.StreamStatus, s.ChatMessages, s.ChannelPoints, s.FollowsSubs, s.UserID)
	if err != nil {
		return models.Settings{}, err
	}
	return s, nil
}
