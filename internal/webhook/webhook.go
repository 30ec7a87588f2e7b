// Package webhook implements the webhook receiver (C6): it verifies an
// inbound Twitch EventSub delivery, dispatches it by message type, and
// republishes the event onto the durable event stream. HMAC verification is
// grounded on the teacher's own HMAC usage in its S3 request signer
// (internal/storage/object_storage.go), applied here to verify an inbound
// signature rather than produce an outbound one.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"farmhand.dev/core/internal/apperr"
	"farmhand.dev/core/internal/eventlog"
	"farmhand.dev/core/internal/idempotency"
	"farmhand.dev/core/internal/models"
	"farmhand.dev/core/internal/storage"
)

const (
	headerMessageID        = "Twitch-Eventsub-Message-Id"
	headerMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	headerMessageSignature = "Twitch-Eventsub-Message-Signature"
	headerMessageType      = "Twitch-Eventsub-Message-Type"

	typeVerification = "webhook_callback_verification"
	typeRevocation   = "revocation"
	typeNotification = "notification"
)

// Config wires the receiver's dependencies.
type Config struct {
	Secret  string
	Store   storage.Repository
	Log     *eventlog.Log
	Idem    *idempotency.Checker
	Logger  *slog.Logger
}

// Handler is the C6 webhook receiver, an http.Handler for POST /eventsub.
type Handler struct {
	cfg    Config
	logger *slog.Logger
}

// New builds a Handler from cfg.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, logger: logger}
}

// envelope is the structured shape a notification body parses into once the
// signature has checked out.
type envelope struct {
	Subscription subscription    `json:"subscription"`
	Event        json.RawMessage `json:"event"`
	Challenge    string          `json:"challenge"`
}

type subscription struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// ServeHTTP implements the full C6 contract: verify before parsing, dispatch
// by message type.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}

	msgID := r.Header.Get(headerMessageID)
	msgTimestamp := r.Header.Get(headerMessageTimestamp)
	signature := r.Header.Get(headerMessageSignature)

	if !h.verify(msgID, msgTimestamp, body, signature) {
		h.logger.Warn("eventsub signature mismatch", "message_id", msgID)
		http.Error(w, "signature mismatch", http.StatusForbidden)
		return
	}

	switch r.Header.Get(headerMessageType) {
	case typeVerification:
		h.handleVerification(w, body)
	case typeRevocation:
		h.logger.Info("eventsub subscription revoked", "message_id", msgID)
		w.WriteHeader(http.StatusNoContent)
	case typeNotification:
		h.handleNotification(w, r.Context(), msgID, msgTimestamp, body)
	default:
		h.logger.Warn("eventsub unknown message type", "message_id", msgID, "type", r.Header.Get(headerMessageType))
		w.WriteHeader(http.StatusNoContent)
	}
}

// verify computes signature == "sha256=" + hex(HMAC_SHA256(secret, id ∥
// timestamp ∥ body)) and compares it against the header value in constant
// time.
func (h *Handler) verify(msgID, msgTimestamp string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.cfg.Secret))
	mac.Write([]byte(msgID))
	mac.Write([]byte(msgTimestamp))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(want), []byte(signature)) == 1
}

func (h *Handler) handleVerification(w http.ResponseWriter, body []byte) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed verification body", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(env.Challenge))
}

func (h *Handler) handleNotification(w http.ResponseWriter, ctx context.Context, msgID, msgTimestamp string, body []byte) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed notification body", http.StatusBadRequest)
		return
	}

	dedupKey := env.Subscription.ID + ":" + firstNonEmpty(eventID(env.Event), msgTimestamp)
	if h.cfg.Idem != nil {
		dup, err := h.cfg.Idem.Seen(ctx, dedupKey)
		if err != nil {
			h.logger.Error("idempotency check failed", "error", err, "subscription_id", env.Subscription.ID)
		} else if dup {
			h.logger.Info("duplicate eventsub delivery, skipping", "subscription_id", env.Subscription.ID, "message_id", msgID)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	if err := h.dispatch(ctx, env); err != nil {
		h.logger.Error("eventsub dispatch failed", "type", env.Subscription.Type, "error", err)
		status := apperr.HTTPStatus(err)
		http.Error(w, "dispatch failed", status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) dispatch(ctx context.Context, env envelope) error {
	switch env.Subscription.Type {
	case "stream.online":
		return h.handleStreamOnline(ctx, env)
	case "stream.offline":
		return h.handleStreamOffline(ctx, env)
	case "channel.chat.message":
		return h.publishRaw(ctx, env, "chat_message")
	case "channel.follow":
		return h.publishRaw(ctx, env, "follow")
	case "channel.subscribe":
		return h.publishRaw(ctx, env, "subscribe")
	case "channel.channel_points_custom_reward_redemption.add":
		return h.publishRaw(ctx, env, "channel_points")
	default:
		h.logger.Warn("eventsub unrecognized subscription type", "type", env.Subscription.Type)
		return nil
	}
}

type streamOnlineEvent struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	StartedAt            string `json:"started_at"`
}

func (h *Handler) handleStreamOnline(ctx context.Context, env envelope) error {
	var ev streamOnlineEvent
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return apperr.Wrap(apperr.KindInput, "decode stream.online event", err)
	}

	account, err := h.cfg.Store.FindAccountByProvider(ctx, "twitch", ev.BroadcasterUserID)
	if err != nil {
		return apperr.Wrap(apperr.KindNotFound, "no linked account for broadcaster", err)
	}

	startedAt, err := time.Parse(time.RFC3339, ev.StartedAt)
	if err != nil {
		startedAt = time.Now().UTC()
	}

	session, err := h.cfg.Store.CreateStreamSession(ctx, models.StreamSession{
		UserID:    account.UserID,
		StartedAt: startedAt,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "create stream session", err)
	}

	return h.publishEnriched(ctx, env, "stream_online", ev.BroadcasterUserLogin, session.ID)
}

type streamOfflineEvent struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
}

func (h *Handler) handleStreamOffline(ctx context.Context, env envelope) error {
	var ev streamOfflineEvent
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return apperr.Wrap(apperr.KindInput, "decode stream.offline event", err)
	}

	account, err := h.cfg.Store.FindAccountByProvider(ctx, "twitch", ev.BroadcasterUserID)
	if err != nil {
		return apperr.Wrap(apperr.KindNotFound, "no linked account for broadcaster", err)
	}

	session, ok, err := h.cfg.Store.FindActiveSession(ctx, account.UserID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "find active stream session", err)
	}
	if !ok {
		h.logger.Warn("stream.offline with no active session", "broadcaster_user_id", ev.BroadcasterUserID)
		return nil
	}
	if err := h.cfg.Store.EndStreamSession(ctx, session.ID, time.Now().UTC()); err != nil {
		return apperr.Wrap(apperr.KindTransient, "end stream session", err)
	}

	return h.publishEnriched(ctx, env, "stream_offline", ev.BroadcasterUserLogin, session.ID)
}

// enrichedEvent is what gets published for events the core attaches a
// StreamSession id to.
type enrichedEvent struct {
	Subscription subscription    `json:"subscription"`
	Event        json.RawMessage `json:"event"`
	SessionID    string          `json:"session_id,omitempty"`
}

func (h *Handler) publishEnriched(ctx context.Context, env envelope, kind, broadcaster, sessionID string) error {
	body, err := json.Marshal(enrichedEvent{Subscription: env.Subscription, Event: env.Event, SessionID: sessionID})
	if err != nil {
		return apperr.Wrap(apperr.KindFatal, "encode enriched event", err)
	}
	return h.publish(ctx, broadcaster, kind, body)
}

// publishRaw republishes the envelope's event payload byte-for-byte (no
// re-serialization), required for chat.message and kept uniform for the
// other pass-through kinds.
func (h *Handler) publishRaw(ctx context.Context, env envelope, kind string) error {
	broadcaster := broadcasterLoginFromEvent(env.Event)
	return h.publish(ctx, broadcaster, kind, env.Event)
}

func (h *Handler) publish(ctx context.Context, broadcaster, kind string, body []byte) error {
	if h.cfg.Log == nil {
		return nil
	}
	subject := eventlog.EventSubject(broadcaster, kind)
	if err := h.cfg.Log.Publish(ctx, subject, body); err != nil {
		return apperr.Wrap(apperr.KindTransient, fmt.Sprintf("publish %s event", kind), err)
	}
	return nil
}

func eventID(raw json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ID
}

func broadcasterLoginFromEvent(raw json.RawMessage) string {
	var probe struct {
		BroadcasterUserLogin string `json:"broadcaster_user_login"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.BroadcasterUserLogin
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
