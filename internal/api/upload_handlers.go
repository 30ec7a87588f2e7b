package api

import (
	"errors"
	"net/http"
	"path"
	"sort"
	"strings"

	"farmhand.dev/core/internal/apperr"
	"farmhand.dev/core/internal/models"
	"farmhand.dev/core/internal/objectstore"
)

type partURL struct {
	PartNumber int    `json:"part_number"`
	URL        string `json:"url"`
}

type startUploadRequest struct {
	Parts       int    `json:"parts"`
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
}

type startUploadResponse struct {
	UploadID  string    `json:"upload_id"`
	VideoID   string    `json:"video_id"`
	Key       string    `json:"key"`
	PartURLs  []partURL `json:"part_urls"`
}

const maxUploadParts = 10000

// StartUpload handles POST /upload/start: allocates a video_id, opens a
// multipart upload against the object store, and presigns one URL per part
// (spec.md §5 init_upload). No chunk bytes traverse this handler — it is a
// pure control plane.
func (h *Handler) StartUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	var req startUploadRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if req.Parts <= 0 || req.Parts > maxUploadParts {
		WriteError(w, http.StatusBadRequest, ValidationError("parts must be between 1 and 10000"))
		return
	}
	if req.Key == "" || req.ContentType == "" {
		WriteError(w, http.StatusBadRequest, ValidationError("key and content_type are required"))
		return
	}

	videoID := newOpaqueID()
	objectKey := path.Join(h.storageRoot(), videoID, "raw"+extensionOf(req.Key))

	uploadID, err := h.Objects.InitMultipart(r.Context(), objectKey, req.ContentType)
	if err != nil {
		WriteError(w, http.StatusBadGateway, apperr.Wrap(apperr.KindUpstream, "init multipart upload", err))
		return
	}

	partURLs := make([]partURL, 0, req.Parts)
	for n := 1; n <= req.Parts; n++ {
		url, err := h.Objects.PresignPart(r.Context(), objectKey, uploadID, n, h.partTTL())
		if err != nil {
			WriteError(w, http.StatusBadGateway, apperr.Wrap(apperr.KindUpstream, "presign part", err))
			return
		}
		partURLs = append(partURLs, partURL{PartNumber: n, URL: url})
	}

	title := req.Title
	if title == "" {
		title = req.Key
	}
	if _, err := h.Store.InsertPendingVideo(r.Context(), models.Video{
		ID:               videoID,
		UserID:           user.ID,
		Title:            title,
		RawObjectKey:     objectKey,
		ProcessingStatus: models.ProcessingPending,
	}); err != nil {
		WriteError(w, http.StatusInternalServerError, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.RecordUploadStarted()
	}

	WriteJSON(w, http.StatusOK, startUploadResponse{
		UploadID: uploadID,
		VideoID:  videoID,
		Key:      objectKey,
		PartURLs: partURLs,
	})
}

type completedPart struct {
	ETag   string `json:"etag"`
	Number int    `json:"number"`
}

type finishUploadRequest struct {
	UploadID       string          `json:"upload_id"`
	VideoID        string          `json:"video_id"`
	Key            string          `json:"key"`
	CompletedParts []completedPart `json:"completed_parts"`
}

// FinishUpload handles POST /upload/finish: composes the multipart upload
// and, on success, enqueues the video_to_stream job that hands the VOD to
// the transcoder (spec.md §5 complete_upload).
func (h *Handler) FinishUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	var req finishUploadRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if req.UploadID == "" || req.VideoID == "" || req.Key == "" || len(req.CompletedParts) == 0 {
		WriteError(w, http.StatusBadRequest, ValidationError("upload_id, video_id, key, and completed_parts are required"))
		return
	}

	video, err := h.Store.GetVideo(r.Context(), req.VideoID)
	if err != nil {
		WriteError(w, apperr.HTTPStatus(err), apperr.Wrap(apperr.KindNotFound, "video not found", err))
		return
	}
	if video.UserID != user.ID {
		WriteError(w, http.StatusForbidden, apperr.New(apperr.KindForbidden, "video does not belong to this user"))
		return
	}

	parts := make([]objectstore.Part, len(req.CompletedParts))
	sorted := append([]completedPart(nil), req.CompletedParts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	for i, p := range sorted {
		if p.Number != i+1 {
			WriteError(w, http.StatusBadRequest, apperr.New(apperr.KindInput, "PartGap: parts must cover 1..N with no gaps"))
			return
		}
		parts[i] = objectstore.Part{Number: p.Number, ETag: p.ETag}
	}

	if err := h.Objects.CompleteMultipart(r.Context(), req.Key, req.UploadID, parts); err != nil {
		if errors.Is(err, objectstore.ErrNoSuchUpload) {
			WriteError(w, http.StatusGone, apperr.Wrap(apperr.KindFatal, "UploadExpired", err))
			return
		}
		if errors.Is(err, objectstore.ErrBadComposition) {
			WriteError(w, http.StatusBadRequest, apperr.Wrap(apperr.KindInput, "PartGap", err))
			return
		}
		WriteError(w, http.StatusBadGateway, apperr.Wrap(apperr.KindUpstream, "complete multipart upload", err))
		return
	}

	if h.Jobs != nil {
		if err := h.Jobs.EnqueueVideoToStream(r.Context(), req.VideoID); err != nil {
			WriteError(w, http.StatusInternalServerError, apperr.Wrap(apperr.KindTransient, "enqueue video_to_stream", err))
			return
		}
	}

	if h.Metrics != nil {
		h.Metrics.RecordUploadCompleted()
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) storageRoot() string {
	if h.StorageRoot != "" {
		return h.StorageRoot
	}
	return "storage"
}

func extensionOf(keyHint string) string {
	ext := path.Ext(keyHint)
	if ext == "" {
		return ".mp4"
	}
	return strings.ToLower(ext)
}
