package api

import (
	"log/slog"
	"time"

	"farmhand.dev/core/internal/auth"
	"farmhand.dev/core/internal/auth/oauth"
	"farmhand.dev/core/internal/jobs"
	"farmhand.dev/core/internal/objectstore"
	"farmhand.dev/core/internal/observability/metrics"
	"farmhand.dev/core/internal/ratelimit"
	"farmhand.dev/core/internal/storage"
	"farmhand.dev/core/internal/subscriptions"
)

// defaultPartTTL bounds how long a presigned multipart part URL stays valid.
const defaultPartTTL = 15 * time.Minute

// Handler aggregates every dependency the HTTP surface needs, grounded on
// the teacher's internal/api.Handler aggregate-struct shape.
type Handler struct {
	Store         storage.Repository
	Sessions      *auth.SessionManager
	OAuth         oauth.Service
	Subscriptions *subscriptions.Manager
	Objects       objectstore.Store
	Jobs          *jobs.Producer
	RateLimiter   *ratelimit.Limiter
	Metrics       *metrics.Recorder
	Logger        *slog.Logger

	JWTSecret        string
	FrontendURL      string
	StorageRoot      string
	AllowSelfSignup  bool
	PartURLTTL       time.Duration
}

// NewHandler constructs a Handler. Sessions defaults to an in-memory manager
// so local development and unit tests work without Redis/Postgres wired in.
func NewHandler(store storage.Repository) *Handler {
	return &Handler{
		Store:           store,
		AllowSelfSignup: true,
		PartURLTTL:      defaultPartTTL,
	}
}

func (h *Handler) sessionManager() *auth.SessionManager {
	if h.Sessions == nil {
		h.Sessions = auth.NewSessionManager(7 * 24 * time.Hour)
	}
	return h.Sessions
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) partTTL() time.Duration {
	if h.PartURLTTL > 0 {
		return h.PartURLTTL
	}
	return defaultPartTTL
}
