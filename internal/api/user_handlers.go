package api

import (
	"net/http"
	"time"

	"farmhand.dev/core/internal/models"
)

type settingsPayload struct {
	StreamStatus  bool `json:"streamStatus"`
	ChatMessages  bool `json:"chatMessages"`
	ChannelPoints bool `json:"channelPoints"`
	FollowsSubs   bool `json:"followsSubs"`
}

func newSettingsPayload(s models.Settings) settingsPayload {
	return settingsPayload{
		StreamStatus:  s.Enabled("stream_status"),
		ChatMessages:  s.Enabled("chat_messages"),
		ChannelPoints: s.Enabled("channel_points"),
		FollowsSubs:   s.Enabled("follows_subs"),
	}
}

type meResponse struct {
	User     userPayload     `json:"user"`
	Settings settingsPayload `json:"settings"`
}

// Me handles GET /user/me: the authenticated user's profile and feature
// settings.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	settings, err := h.Store.GetSettings(r.Context(), user.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err)
		return
	}
	WriteJSON(w, http.StatusOK, meResponse{User: newUserPayload(user), Settings: newSettingsPayload(settings)})
}

type updateMeRequest struct {
	Username string          `json:"username"`
	Settings settingsPayload `json:"settings"`
}

// UpdateMe handles POST /user/me: body {username, settings{4 bools}} (spec.md
// §6). A settings change triggers subscriptions.Manager.Reconcile against the
// user's linked Twitch account so the upstream EventSub subscription set
// tracks what the creator just toggled (spec.md C7).
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	var req updateMeRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	if req.Username != "" && req.Username != user.Handle {
		updated, err := h.Store.UpdateUserHandle(r.Context(), user.ID, req.Username)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err)
			return
		}
		user = updated
	}

	settings, err := h.Store.GetSettings(r.Context(), user.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err)
		return
	}

	settings = applySettingsPayload(settings, req.Settings)
	settings, err = h.Store.UpdateSettings(r.Context(), settings)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err)
		return
	}
	h.reconcileSubscriptions(r, user, settings)

	WriteJSON(w, http.StatusOK, meResponse{User: newUserPayload(user), Settings: newSettingsPayload(settings)})
}

// applySettingsPayload turns the requested bool flags into the timestamped
// on/off representation Settings actually stores: a feature newly flipped on
// gets "now" as its enabled-since marker; flipped off clears the marker.
func applySettingsPayload(current models.Settings, want settingsPayload) models.Settings {
	current.StreamStatus = toggledAt(current.StreamStatus, want.StreamStatus)
	current.ChatMessages = toggledAt(current.ChatMessages, want.ChatMessages)
	current.ChannelPoints = toggledAt(current.ChannelPoints, want.ChannelPoints)
	current.FollowsSubs = toggledAt(current.FollowsSubs, want.FollowsSubs)
	return current
}

func toggledAt(existing *time.Time, want bool) *time.Time {
	if !want {
		return nil
	}
	if existing != nil {
		return existing
	}
	now := time.Now().UTC()
	return &now
}

// reconcileSubscriptions looks up the user's linked Twitch account (settings
// are tied to the platform user, but EventSub subscriptions are keyed by the
// provider's broadcaster id) and reconciles the subscription set to match.
func (h *Handler) reconcileSubscriptions(r *http.Request, user models.User, settings models.Settings) {
	if h.Subscriptions == nil {
		return
	}
	accounts, err := h.Store.ListAccountsByUser(r.Context(), user.ID)
	if err != nil {
		h.logger().Error("list accounts for subscription reconcile", "error", err, "user_id", user.ID)
		return
	}
	var broadcasterID string
	for _, account := range accounts {
		if account.Provider == "twitch" {
			broadcasterID = account.ProviderUserID
			break
		}
	}
	if broadcasterID == "" {
		return
	}
	if err := h.Subscriptions.Reconcile(r.Context(), broadcasterID, settings); err != nil {
		h.logger().Error("reconcile subscriptions", "error", err, "user_id", user.ID)
	}
}
