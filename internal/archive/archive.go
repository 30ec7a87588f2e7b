// Package archive implements the raw archiver (C11): once a VOD has been
// transcoded and sat for the configured delay, its raw source is zipped up
// and the original object deleted, moving the record from completed/none to
// completed/archived. Grounded on the teacher's UploadProcessor
// (internal/api/uploads_processor.go) buffered-copy convention, applied to
// the read side of the pipeline instead of the write side.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"farmhand.dev/core/internal/apperr"
	"farmhand.dev/core/internal/jobs"
	"farmhand.dev/core/internal/objectstore"
	"farmhand.dev/core/internal/storage"
)

// chunkSize bounds how much of the raw source is held in memory between
// writes to the zip archive, matching the transcoder's copy chunk size.
const chunkSize = 1 << 20 // 1MiB

// Config wires the archiver's dependencies.
type Config struct {
	Store       storage.Repository
	Objects     objectstore.Store
	StorageRoot string
	Logger      *slog.Logger
}

// Archiver is the raw archiver (C11). It implements jobs.Runner and is
// registered against jobs.SubjectCompressRaw.
type Archiver struct {
	cfg    Config
	logger *slog.Logger
}

// New builds an Archiver from cfg.
func New(cfg Config) *Archiver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{cfg: cfg, logger: logger}
}

var _ jobs.Runner = (*Archiver)(nil)

// Run executes the compress_raw job for payload.VideoID: claim the video
// for compression, stream its raw source into a zip archive, fsync it,
// delete the raw object, and record the archive's final location.
func (a *Archiver) Run(ctx context.Context, payload jobs.Payload) error {
	videoID := payload.VideoID

	if err := a.cfg.Store.TransitionCompressing(ctx, videoID); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			a.logger.Info("video not eligible for compression (already archived or not yet completed), skipping", "video_id", videoID)
			return nil
		}
		return apperr.Wrap(apperr.KindTransient, "transition video to compressing", err)
	}

	video, err := a.cfg.Store.GetVideo(ctx, videoID)
	if err != nil {
		return a.fail(ctx, videoID, apperr.Wrap(apperr.KindTransient, "load video record", err))
	}
	if video.RawObjectKey == "" {
		return a.fail(ctx, videoID, apperr.New(apperr.KindFatal, "video has no raw object key to archive"))
	}

	archivePath, err := a.archive(ctx, videoID, video.RawObjectKey)
	if err != nil {
		return a.fail(ctx, videoID, apperr.Wrap(apperr.KindFatal, "archive raw source", err))
	}

	if a.cfg.Objects != nil {
		if err := a.cfg.Objects.DeleteObject(ctx, video.RawObjectKey); err != nil {
			return a.fail(ctx, videoID, apperr.Wrap(apperr.KindTransient, "delete raw object after archival", err))
		}
	}

	if err := a.cfg.Store.TransitionArchived(ctx, videoID, archivePath); err != nil {
		return apperr.Wrap(apperr.KindTransient, "transition video to archived", err)
	}
	return nil
}

// archive fetches the raw source and streams it into a single-entry zip
// under StorageRoot/<videoID>/raw.zip, fsyncing before returning so the
// archive is durable before the raw copy is deleted.
func (a *Archiver) archive(ctx context.Context, videoID, rawObjectKey string) (string, error) {
	videoDir := filepath.Join(a.cfg.StorageRoot, videoID)
	if err := os.MkdirAll(videoDir, 0o755); err != nil {
		return "", fmt.Errorf("create working directory: %w", err)
	}
	archivePath := filepath.Join(videoDir, "raw.zip")

	src, err := a.openRaw(ctx, videoDir, rawObjectKey)
	if err != nil {
		return "", err
	}
	defer src.Close()

	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	entry, err := zw.Create(filepath.Base(rawObjectKey))
	if err != nil {
		return "", fmt.Errorf("create zip entry: %w", err)
	}

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(entry, src, buf); err != nil {
		return "", fmt.Errorf("stream raw source into archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	if err := out.Sync(); err != nil {
		return "", fmt.Errorf("fsync archive: %w", err)
	}
	return archivePath, nil
}

// openRaw returns a reader over the raw source, preferring a local copy
// left behind by the transcoder and falling back to the object store.
func (a *Archiver) openRaw(ctx context.Context, videoDir, rawObjectKey string) (io.ReadCloser, error) {
	local := filepath.Join(videoDir, "raw"+filepath.Ext(rawObjectKey))
	if f, err := os.Open(local); err == nil {
		return f, nil
	}
	if a.cfg.Objects == nil {
		return nil, fmt.Errorf("no object store configured and %s not present locally", local)
	}
	return a.cfg.Objects.GetObject(ctx, rawObjectKey)
}

func (a *Archiver) fail(ctx context.Context, videoID string, cause error) error {
	if err := a.cfg.Store.TransitionCompressionFailed(ctx, videoID, cause.Error()); err != nil {
		a.logger.Error("failed to record compression failure", "video_id", videoID, "error", err)
	}
	return cause
}
