// Package storage implements the relational state store (C3): typed
// accessors over users, accounts, settings, videos, and stream sessions,
// plus the VOD state-machine transitions (C4) expressed as conditional
// updates.
package storage

import (
	"context"
	"errors"
	"time"

	"farmhand.dev/core/internal/models"
)

// Sentinel errors returned by Repository implementations. Handlers and job
// runners map these to apperr.Kind at their own boundary.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Repository is the storage contract used by the API, job runner, and event
// listener processes. Every cross-entity mutation that must be atomic is a
// single method here backed by a short transaction.
type Repository interface {
	Ping(ctx context.Context) error
	Close()

	// Users / Accounts / Settings
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	FindUserByID(ctx context.Context, id string) (models.User, error)
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
	FindUserByHandle(ctx context.Context, handle string) (models.User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	UpdateUserHandle(ctx context.Context, id, handle string) (models.User, error)

	UpsertAccount(ctx context.Context, a models.Account) (models.Account, error)
	FindAccountByProvider(ctx context.Context, provider, providerUserID string) (models.Account, error)
	ListAccountsByUser(ctx context.Context, userID string) ([]models.Account, error)

	GetSettings(ctx context.Context, userID string) (models.Settings, error)
	UpdateSettings(ctx context.Context, s models.Settings) (models.Settings, error)

	// Videos (VOD)
	InsertPendingVideo(ctx context.Context, v models.Video) (models.Video, error)
	GetVideo(ctx context.Context, id string) (models.Video, error)
	FindVideoByTitle(ctx context.Context, userID, title string) (models.Video, error)
	ListVideosByUser(ctx context.Context, userID string) ([]models.Video, error)
	DeleteVideo(ctx context.Context, id string) error

	// VOD state machine (C4). Each returns ErrInvalidTransition when the
	// row's current status does not match the expected predecessor.
	TransitionProcessing(ctx context.Context, id string) error
	TransitionCompleted(ctx context.Context, id, processedPath string, duration *float64) error
	TransitionFailed(ctx context.Context, id, reason string) error
	TransitionCompressing(ctx context.Context, id string) error
	TransitionArchived(ctx context.Context, id, archivePath string) error
	TransitionCompressionFailed(ctx context.Context, id, reason string) error

	// Stream sessions
	FindActiveSession(ctx context.Context, userID string) (models.StreamSession, bool, error)
	CreateStreamSession(ctx context.Context, s models.StreamSession) (models.StreamSession, error)
	EndStreamSession(ctx context.Context, id string, endedAt time.Time) error
	SetSessionReplay(ctx context.Context, id, replayVideoURL string) error

	// Chat / engagement persistence (C12)
	InsertChatMessage(ctx context.Context, m models.ChatMessage) error
	InsertEngagementEvent(ctx context.Context, e models.EngagementEvent) error

	// SeenIdempotencyKey records a dedup key the first time it is observed,
	// returning false when it was already present (i.e. a duplicate).
	SeenIdempotencyKey(ctx context.Context, key string) (firstSeen bool, err error)
}
