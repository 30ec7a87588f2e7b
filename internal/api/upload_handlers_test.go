package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"farmhand.dev/core/internal/objectstore"
)

func newTestHandlerWithObjects() (*Handler, authResponse) {
	h := newTestHandler()
	h.Objects = objectstore.New(objectstore.Config{})

	rec := doJSON(h, http.MethodPost, "/auth/register", registerRequest{
		Username:             "uploader1",
		Email:                "uploader1@example.com",
		Password:             "correct horse",
		PasswordConfirmation: "correct horse",
	}, h.Register)
	var resp authResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return h, resp
}

func authedRequest(method, target string, body interface{}, token string) *http.Request {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, target, bytes.NewReader(b))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestStartAndFinishUploadHappyPath(t *testing.T) {
	h, auth := newTestHandlerWithObjects()

	startReq := authedRequest(http.MethodPost, "/upload/start", startUploadRequest{
		Parts:       3,
		Key:         "x.mp4",
		ContentType: "video/mp4",
		Title:       "My Stream",
	}, auth.Token)
	startRec := httptest.NewRecorder()
	h.StartUpload(startRec, startReq)
	if startRec.Code != http.StatusOK {
		t.Fatalf("expected 200 from StartUpload, got %d: %s", startRec.Code, startRec.Body.String())
	}
	var started startUploadResponse
	if err := json.Unmarshal(startRec.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if len(started.PartURLs) != 3 {
		t.Fatalf("expected 3 part urls, got %d", len(started.PartURLs))
	}

	finishReq := authedRequest(http.MethodPost, "/upload/finish", finishUploadRequest{
		UploadID: started.UploadID,
		VideoID:  started.VideoID,
		Key:      started.Key,
		CompletedParts: []completedPart{
			{ETag: "et1", Number: 1},
			{ETag: "et3", Number: 3},
			{ETag: "et2", Number: 2},
		},
	}, auth.Token)
	finishRec := httptest.NewRecorder()
	h.FinishUpload(finishRec, finishReq)
	if finishRec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 from FinishUpload, got %d: %s", finishRec.Code, finishRec.Body.String())
	}
}

func TestFinishUploadRejectsPartGap(t *testing.T) {
	h, auth := newTestHandlerWithObjects()

	startReq := authedRequest(http.MethodPost, "/upload/start", startUploadRequest{
		Parts:       3,
		Key:         "x.mp4",
		ContentType: "video/mp4",
	}, auth.Token)
	startRec := httptest.NewRecorder()
	h.StartUpload(startRec, startReq)
	var started startUploadResponse
	_ = json.Unmarshal(startRec.Body.Bytes(), &started)

	finishReq := authedRequest(http.MethodPost, "/upload/finish", finishUploadRequest{
		UploadID: started.UploadID,
		VideoID:  started.VideoID,
		Key:      started.Key,
		CompletedParts: []completedPart{
			{ETag: "et1", Number: 1},
			{ETag: "et3", Number: 3},
		},
	}, auth.Token)
	finishRec := httptest.NewRecorder()
	h.FinishUpload(finishRec, finishReq)
	if finishRec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for part gap, got %d: %s", finishRec.Code, finishRec.Body.String())
	}
}

func TestFinishUploadRejectsNonOwner(t *testing.T) {
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

	otherRec := doJSON(h, http.MethodPost, "/auth/register", registerRequest{
		Username:             "intruder",
		Email:                "intruder@example.com",
		Password:             "correct horse",
		PasswordConfirmation: "correct horse",
	}, h.Register)
	var otherAuth authResponse
	_ = json.Unmarshal(otherRec.Body.Bytes(), &otherAuth)

	finishReq := authedRequest(http.MethodPost, "/upload/finish", finishUploadRequest{
		UploadID:       started.UploadID,
		VideoID:        started.VideoID,
		Key:            started.Key,
		CompletedParts: []completedPart{{ETag: "et1", Number: 1}},
	}, otherAuth.Token)
	finishRec := httptest.NewRecorder()
	h.FinishUpload(finishRec, finishReq)
	if finishRec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner finish, got %d: %s", finishRec.Code, finishRec.Body.String())
	}
}
