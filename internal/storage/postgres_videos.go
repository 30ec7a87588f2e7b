package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"farmhand.dev/core/internal/models"
)

func (r *PostgresRepository) InsertPendingVideo(ctx context.Context, v models.Video) (models.Video, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	now := time.Now().UTC()
	if v.ProcessingStatus == "" {
		v.ProcessingStatus = models.ProcessingPending
	}
	if v.CompressionStatus == "" {
		v.CompressionStatus = models.CompressionNone
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO videos (id, user_id, title, raw_object_key, processing_status, compression_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		v.ID, v.UserID, v.Title, v.RawObjectKey, string(v.ProcessingStatus), string(v.CompressionStatus), now)
	if err != nil {
		return models.Video{}, classifyUniqueViolation(err)
	}
	v.CreatedAt, v.UpdatedAt = now, now
	return v, nil
}

func scanVideo(row pgx.Row) (models.Video, error) {
	var v models.Video
	var processing, compression string
	err := row.Scan(
		&v.ID, &v.UserID, &v.Title, &v.RawObjectKey, &v.ProcessedPath, &v.ArchivePath,
		&processing, &compression, &v.DurationSeconds, &v.SizeBytes, &v.ErrorMessage,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Video{}, ErrNotFound
	}
	if err != nil {
		return models.Video{}, err
	}
	v.ProcessingStatus = models.ProcessingStatus(processing)
	v.CompressionStatus = models.CompressionStatus(compression)
	return v, nil
}

const videoColumns = `id, user_id, title, raw_object_key, processed_path, archive_path,
	processing_status, compression_status, duration_seconds, size_bytes, error_message,
	created_at, updated_at`

func (r *PostgresRepository) GetVideo(ctx context.Context, id string) (models.Video, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	return scanVideo(row)
}

func (r *PostgresRepository) FindVideoByTitle(ctx context.Context, userID, title string) (models.Video, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE user_id = $1 AND title = $2`, userID, title)
	return scanVideo(row)
}

func (r *PostgresRepository) ListVideosByUser(ctx context.Context, userID string) ([]models.Video, error) {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+videoColumns+` FROM videos WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) DeleteVideo(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// casTransition performs the compare-and-swap UPDATE that backs every VOD
// state transition (spec.md §5): the WHERE clause pins the expected
// predecessor status so a lost race surfaces as ErrInvalidTransition rather
// than silently clobbering a concurrent writer's update.
func (r *PostgresRepository) casTransition(ctx context.Context, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *PostgresRepository) TransitionProcessing(ctx context.Context, id string) error {
	return r.casTransition(ctx, `
		UPDATE videos SET processing_status = $1, updated_at = now()
		WHERE id = $2 AND processing_status = $3`,
		string(models.ProcessingProcessing), id, string(models.ProcessingPending))
}

func (r *PostgresRepository) TransitionCompleted(ctx context.Context, id, processedPath string, duration *float64) error {
	return r.casTransition(ctx, `
		UPDATE videos SET processing_status = $1, processed_path = $2, duration_seconds = $3, updated_at = now()
		WHERE id = $4 AND processing_status = $5`,
		string(models.ProcessingCompleted), processedPath, duration, id, string(models.ProcessingProcessing))
}

func (r *PostgresRepository) TransitionFailed(ctx context.Context, id, reason string) error {
	return r.casTransition(ctx, `
		UPDATE videos SET processing_status = $1, error_message = $2, updated_at = now()
		WHERE id = $3 AND processing_status = $4`,
		string(models.ProcessingFailed), reason, id, string(models.ProcessingProcessing))
}

func (r *PostgresRepository) TransitionCompressing(ctx context.Context, id string) error {
	return r.casTransition(ctx, `
		UPDATE videos SET compression_status = $1, updated_at = now()
		WHERE id = $2 AND processing_status = $3 AND compression_status = $4`,
		string(models.CompressionCompressing), id, string(models.ProcessingCompleted), string(models.CompressionNone))
}

func (r *PostgresRepository) TransitionArchived(ctx context.Context, id, archivePath string) error {
	return r.casTransition(ctx, `
		UPDATE videos SET compression_status = $1, archive_path = $2, raw_object_key = '', updated_at = now()
		WHERE id = $3 AND compression_status = $4`,
		string(models.CompressionCompleted), archivePath, id, string(models.CompressionCompressing))
}

func (r *PostgresRepository) TransitionCompressionFailed(ctx context.Context, id, reason string) error {
	return r.casTransition(ctx, `
		UPDATE videos SET compression_status = $1, error_message = $2, updated_at = now()
		WHERE id = $3 AND compression_status = $4`,
		string(models.CompressionFailed), reason, id, string(models.CompressionCompressing))
}
