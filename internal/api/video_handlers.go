package api

import (
	"errors"
	"net/http"
	"strings"

	"farmhand.dev/core/internal/apperr"
	"farmhand.dev/core/internal/models"
	"farmhand.dev/core/internal/storage"
)

type videoPayload struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	ProcessingStatus  string  `json:"processingStatus"`
	CompressionStatus string  `json:"compressionStatus"`
	DurationSeconds   *float64 `json:"durationSeconds,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// newVideoPayload includes the failure detail (Error) only when the caller is
// the video's owner. Raw, processed and archive object keys are never
// included, for owners or anyone else.
func newVideoPayload(v models.Video, owner bool) videoPayload {
	p := videoPayload{
		ID:                v.ID,
		Title:             v.Title,
		ProcessingStatus:  string(v.ProcessingStatus),
		CompressionStatus: string(v.CompressionStatus),
		DurationSeconds:   v.DurationSeconds,
	}
	if owner {
		p.Error = v.ErrorMessage
	}
	return p
}

// GetVideo handles GET /video?id=…|?name=… (auth optional). An
// authenticated owner sees the full record including failure detail; any
// other caller sees a trimmed public view.
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, authenticated := h.optionalUser(r)

	query := r.URL.Query()
	var (
		video models.Video
		err   error
	)
	switch {
	case query.Get("id") != "":
		video, err = h.Store.GetVideo(r.Context(), query.Get("id"))
	case query.Get("name") != "":
		if !authenticated {
			WriteError(w, http.StatusUnauthorized, apperr.New(apperr.KindAuth, "lookup by name requires authentication"))
			return
		}
		video, err = h.Store.FindVideoByTitle(r.Context(), user.ID, query.Get("name"))
	default:
		WriteError(w, http.StatusBadRequest, ValidationError("id or name query parameter is required"))
		return
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, http.StatusNotFound, apperr.Wrap(apperr.KindNotFound, "video not found", err))
			return
		}
		WriteError(w, http.StatusInternalServerError, err)
		return
	}

	owner := authenticated && user.ID == video.UserID
	WriteJSON(w, http.StatusOK, newVideoPayload(video, owner))
}

// DeleteVideo handles DELETE /video?id=id1,id2,… (auth required,
// owner-only). Best-effort cleanup of the underlying objects follows the
// row delete; an object-store failure does not roll back the delete since
// the row is the source of truth and a dangling object is merely wasted
// storage, not a correctness hazard.
func (h *Handler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		WriteMethodNotAllowed(w, r, http.MethodDelete)
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	raw := r.URL.Query().Get("id")
	if raw == "" {
		WriteError(w, http.StatusBadRequest, ValidationError("id query parameter is required"))
		return
	}
	ids := strings.Split(raw, ",")

	deleted := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		video, err := h.Store.GetVideo(r.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			WriteError(w, http.StatusInternalServerError, err)
			return
		}
		if video.UserID != user.ID {
			WriteError(w, http.StatusForbidden, apperr.New(apperr.KindForbidden, "video "+id+" does not belong to this user"))
			return
		}
		if err := h.Store.DeleteVideo(r.Context(), id); err != nil {
			WriteError(w, http.StatusInternalServerError, err)
			return
		}
		h.cleanupVideoObjects(r, video)
		deleted = append(deleted, id)
	}

	WriteJSON(w, http.StatusOK, map[string][]string{"deleted": deleted})
}

func (h *Handler) cleanupVideoObjects(r *http.Request, video models.Video) {
	if h.Objects == nil {
		return
	}
	for _, key := range []string{video.RawObjectKey, video.ProcessedPath, video.ArchivePath} {
		if key == "" {
			continue
		}
		if err := h.Objects.DeleteObject(r.Context(), key); err != nil {
			h.logger().Warn("cleanup video object", "error", err, "key", key, "video_id", video.ID)
		}
	}
}
