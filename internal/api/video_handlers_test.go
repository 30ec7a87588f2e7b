package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"farmhand.dev/core/internal/objectstore"
)

func TestGetVideoOwnerSeesErrorDetailOthersDoNot(t *testing.T) {
	h, auth := newTestHandlerWithObjects()

	startReq := authedRequest(http.MethodPost, "/upload/start", startUploadRequest{
		Parts:       1,
		Key:         "x.mp4",
		ContentType: "video/mp4",
		Title:       "Some Stream",
	}, auth.Token)
	startRec := httptest.NewRecorder()
	h.StartUpload(startRec, startReq)
	var started startUploadResponse
	_ = json.Unmarshal(startRec.Body.Bytes(), &started)

	if err := h.Store.TransitionProcessing(startReq.Context(), started.VideoID); err != nil {
		t.Fatalf("TransitionProcessing: %v", err)
	}
	if err := h.Store.TransitionFailed(startReq.Context(), started.VideoID, "ffmpeg exploded"); err != nil {
		t.Fatalf("TransitionFailed: %v", err)
	}

	ownerReq := authedRequest(http.MethodGet, "/video?id="+started.VideoID, nil, auth.Token)
	ownerRec := httptest.NewRecorder()
	h.GetVideo(ownerRec, ownerReq)
	var ownerView videoPayload
	_ = json.Unmarshal(ownerRec.Body.Bytes(), &ownerView)
	if ownerView.Error == "" {
		t.Fatal("expected owner view to include error detail")
	}

	anonReq := httptest.NewRequest(http.MethodGet, "/video?id="+started.VideoID, nil)
	anonRec := httptest.NewRecorder()
	h.GetVideo(anonRec, anonReq)
	var anonView videoPayload
	_ = json.Unmarshal(anonRec.Body.Bytes(), &anonView)
	if anonView.Error != "" {
		t.Fatalf("expected anonymous view to omit error detail, got %q", anonView.Error)
	}
}

func TestDeleteVideoRejectsNonOwner(t *testing.T) {
	h, auth := newTestHandlerWithObjects()
	h.Objects = objectstore.New(objectstore.Config{})

	startReq := authedRequest(http.MethodPost, "/upload/start", startUploadRequest{
		Parts:       1,
		Key:         "x.mp4",
		ContentType: "video/mp4",
	}, auth.Token)
	startRec := httptest.NewRecorder()
	h.StartUpload(startRec, startReq)
	var started startUploadResponse
	_ = json.Unmarshal(startRec.Body.Bytes(), &started)

	otherRec := doJSON(h, http.MethodPost, "/auth/register", registerRequest{
		Username:             "intruder2",
		Email:                "intruder2@example.com",
		Password:             "correct horse",
		PasswordConfirmation: "correct horse",
	}, h.Register)
	var otherAuth authResponse
	_ = json.Unmarshal(otherRec.Body.Bytes(), &otherAuth)

	deleteReq := authedRequest(http.MethodDelete, "/video?id="+started.VideoID, nil, otherAuth.Token)
	deleteRec := httptest.NewRecorder()
	h.DeleteVideo(deleteRec, deleteReq)
	if deleteRec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner delete, got %d: %s", deleteRec.Code, deleteRec.Body.String())
	}
}

func TestDeleteVideoOwnerSucceeds(t *testing.T) {
	h, auth := newTestHandlerWithObjects()

	startReq := authedRequest(http.MethodPost, "/upload/start", startUploadRequest{
		Parts:       1,
		Key:         "x.mp4",
		ContentType: "video/mp4",
	}, auth.Token)
	startRec := httptest.NewRecorder()
	h.StartUpload(startRec, startReq)
	var started startUploadResponse
	_ = json.Unmarshal(startRec.Body.Bytes(), &started)

	deleteReq := authedRequest(http.MethodDelete, "/video?id="+started.VideoID, nil, auth.Token)
	deleteRec := httptest.NewRecorder()
	h.DeleteVideo(deleteRec, deleteReq)
	if deleteRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner delete, got %d: %s", deleteRec.Code, deleteRec.Body.String())
	}

	getReq := authedRequest(http.MethodGet, "/video?id="+started.VideoID, nil, auth.Token)
	getRec := httptest.NewRecorder()
	h.GetVideo(getRec, getReq)
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", getRec.Code)
	}
}
