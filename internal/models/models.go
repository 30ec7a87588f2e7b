// Package models defines the persisted domain types shared across the
// storage, API, job, and event-listener packages.
package models

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// emailFold performs Unicode case-folding (not plain ASCII lowercasing) so
// that addresses differing only by non-ASCII letter case still normalize to
// the same identity, matching the `LOWER(email)` comparison Postgres applies
// on the other side of internal/storage.
var emailFold = cases.Fold()

// NormalizeEmail trims and case-folds an email address for storage lookups
// and uniqueness checks.
func NormalizeEmail(email string) string {
	return emailFold.String(strings.TrimSpace(email))
}

// Role enumerates the access levels a User can hold.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCreator Role = "creator"
	RoleViewer  Role = "viewer"
)

// User is a registered platform identity.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Handle       string    `json:"handle"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasRole reports whether the user has been granted the given role.
func (u User) HasRole(role Role) bool {
	return u.Role == role
}

// Account links a User to an external identity/streaming provider.
type Account struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	Provider       string     `json:"provider"`
	ProviderUserID string     `json:"providerUserId"`
	ProviderHandle string     `json:"providerHandle"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Settings holds per-user feature toggles. A nil timestamp means the
// feature is disabled; a non-nil timestamp records when it was enabled.
type Settings struct {
	UserID        string     `json:"userId"`
	StreamStatus  *time.Time `json:"streamStatus,omitempty"`
	ChatMessages  *time.Time `json:"chatMessages,omitempty"`
	ChannelPoints *time.Time `json:"channelPoints,omitempty"`
	FollowsSubs   *time.Time `json:"followsSubs,omitempty"`
}

// Enabled reports whether the named feature flag is currently on.
func (s Settings) Enabled(feature string) bool {
	switch feature {
	case "stream_status":
		return s.StreamStatus != nil
	case "chat_messages":
		return s.ChatMessages != nil
	case "channel_points":
		return s.ChannelPoints != nil
	case "follows_subs":
		return s.FollowsSubs != nil
	default:
		return false
	}
}

// ProcessingStatus is the VOD transcode lifecycle state.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// CompressionStatus is the VOD archival lifecycle state.
type CompressionStatus string

const (
	CompressionNone        CompressionStatus = "none"
	CompressionCompressing CompressionStatus = "compressing"
	CompressionCompleted   CompressionStatus = "completed"
	CompressionFailed      CompressionStatus = "failed"
)

// Video is a VOD record: the platform's persistent view of an uploaded,
// transcoded, and (eventually) archived video.
type Video struct {
	ID                string            `json:"id"`
	UserID            string            `json:"userId"`
	Title             string            `json:"title"`
	RawObjectKey      string            `json:"rawObjectKey,omitempty"`
	ProcessedPath     string            `json:"processedPath,omitempty"`
	ArchivePath       string            `json:"archivePath,omitempty"`
	ProcessingStatus  ProcessingStatus  `json:"processingStatus"`
	CompressionStatus CompressionStatus `json:"compressionStatus"`
	DurationSeconds   *float64          `json:"durationSeconds,omitempty"`
	SizeBytes         *int64            `json:"sizeBytes,omitempty"`
	ErrorMessage       string           `json:"error,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// StreamSession is a single broadcast session for a user.
type StreamSession struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	EventLogURL    string     `json:"eventLogUrl,omitempty"`
	ReplayVideoURL string     `json:"replayVideoUrl,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Active reports whether the session has not yet ended.
func (s StreamSession) Active() bool {
	return s.EndedAt == nil
}

// ChatMessage is a persisted chat line ingested from the provider.
type ChatMessage struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Broadcaster string    `json:"broadcaster"`
	RawPayload  []byte    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// EngagementKind enumerates the engagement event types persisted by C12.
type EngagementKind string

const (
	EngagementFollow        EngagementKind = "follow"
	EngagementSubscribe     EngagementKind = "subscribe"
	EngagementChannelPoints EngagementKind = "channel_points"
)

// EngagementEvent is a lightweight persisted record of a follow,
// subscription, or channel-points redemption.
type EngagementEvent struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Broadcaster string         `json:"broadcaster"`
	Kind        EngagementKind `json:"kind"`
	RawPayload  []byte         `json:"-"`
	CreatedAt   time.Time      `json:"createdAt"`
}
