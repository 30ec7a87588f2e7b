package archive

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"farmhand.dev/core/internal/jobs"
	"farmhand.dev/core/internal/models"
	"farmhand.dev/core/internal/storage"
)

func newCompletedVideo(t *testing.T, store *storage.MemoryRepository, rawKey string) models.Video {
	t.Helper()
	v, err := store.InsertPendingVideo(context.Background(), models.Video{
		ID:           "vid-1",
		UserID:       "user-1",
		Title:        "test video",
		RawObjectKey: rawKey,
	})
	if err != nil {
		t.Fatalf("InsertPendingVideo: %v", err)
	}
	if err := store.TransitionProcessing(context.Background(), v.ID); err != nil {
		t.Fatalf("TransitionProcessing: %v", err)
	}
	if err := store.TransitionCompleted(context.Background(), v.ID, "/out/master.m3u8", nil); err != nil {
		t.Fatalf("TransitionCompleted: %v", err)
	}
	return v
}

func TestArchiverZipsRawAndTransitionsToArchived(t *testing.T) {
	store := storage.NewMemoryRepository()
	root := t.TempDir()
	videoDir := filepath.Join(root, "vid-1")
	if err := os.MkdirAll(videoDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	rawContent := []byte("raw source bytes")
	if err := os.WriteFile(filepath.Join(videoDir, "raw.mp4"), rawContent, 0o644); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	newCompletedVideo(t, store, "raw/vid-1.mp4")

	a := New(Config{Store: store, StorageRoot: root})
	if err := a.Run(context.Background(), jobs.Payload{VideoID: "vid-1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := store.GetVideo(context.Background(), "vid-1")
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if got.CompressionStatus != models.CompressionCompleted {
		t.Fatalf("expected compression status completed, got %s", got.CompressionStatus)
	}
	if got.ArchivePath == "" {
		t.Fatalf("expected archive path to be set")
	}

	zr, err := zip.OpenReader(got.ArchivePath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 1 {
		t.Fatalf("expected exactly one archived entry, got %d", len(zr.File))
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("open archived entry: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read archived entry: %v", err)
	}
	if string(body) != string(rawContent) {
		t.Fatalf("archived content mismatch: got %q want %q", body, rawContent)
	}
}

func TestArchiverSkipsVideoNotEligible(t *testing.T) {
	store := storage.NewMemoryRepository()
	v, err := store.InsertPendingVideo(context.Background(), models.Video{ID: "vid-2", UserID: "user-1", Title: "still pending"})
	if err != nil {
		t.Fatalf("InsertPendingVideo: %v", err)
	}

	a := New(Config{Store: store, StorageRoot: t.TempDir()})
	if err := a.Run(context.Background(), jobs.Payload{VideoID: v.ID}); err != nil {
		t.Fatalf("expected no error for an ineligible video, got %v", err)
	}

	got, _ := store.GetVideo(context.Background(), v.ID)
	if got.CompressionStatus != models.CompressionNone {
		t.Fatalf("expected compression status unchanged, got %s", got.CompressionStatus)
	}
}
