package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"farmhand.dev/core/internal/apperr"
	"farmhand.dev/core/internal/jobs"
	"farmhand.dev/core/internal/objectstore"
	"farmhand.dev/core/internal/storage"
)

// rawArchivalDelay is how long after a successful transcode the archiver is
// asked to compress and drop the raw source (spec.md §4.8 default).
const rawArchivalDelay = 24 * time.Hour

// Config wires the transcoder's dependencies.
type Config struct {
	Store       storage.Repository
	Objects     objectstore.Store
	Jobs        *jobs.Producer
	StorageRoot string // local scratch directory, one subtree per video ID
	FFmpegPath  string
	FFprobePath string
	Logger      *slog.Logger
}

// Transcoder is the HLS transcoder (C10). It implements jobs.Runner and is
// registered against jobs.SubjectVideoToStream.
type Transcoder struct {
	cfg    Config
	prober Prober
	logger *slog.Logger
}

// New builds a Transcoder from cfg.
func New(cfg Config) *Transcoder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{
		cfg:    cfg,
		prober: Prober{FFprobePath: cfg.FFprobePath, FFmpegPath: cfg.FFmpegPath},
		logger: logger,
	}
}

var _ jobs.Runner = (*Transcoder)(nil)

// Run executes the video_to_stream job for payload.VideoID, following the
// eight-step algorithm: claim the video, resolve the raw source locally,
// probe its dimensions, filter the quality ladder, encode each surviving
// rung, write the master playlist, mark the video completed, and enqueue
// its deferred archival job.
func (t *Transcoder) Run(ctx context.Context, payload jobs.Payload) error {
	videoID := payload.VideoID

	if err := t.cfg.Store.TransitionProcessing(ctx, videoID); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			// Already claimed by a prior (possibly redelivered) attempt;
			// treat as a no-op duplicate rather than an error.
			t.logger.Info("video already processing or past it, skipping", "video_id", videoID)
			return nil
		}
		return apperr.Wrap(apperr.KindTransient, "transition video to processing", err)
	}

	video, err := t.cfg.Store.GetVideo(ctx, videoID)
	if err != nil {
		return t.fail(ctx, videoID, apperr.Wrap(apperr.KindTransient, "load video record", err))
	}

	videoDir := filepath.Join(t.cfg.StorageRoot, videoID)
	if err := os.MkdirAll(videoDir, 0o755); err != nil {
		return t.fail(ctx, videoID, apperr.Wrap(apperr.KindFatal, "create working directory", err))
	}

	rawPath, err := t.resolveRaw(ctx, videoDir, video.RawObjectKey)
	if err != nil {
		return t.fail(ctx, videoID, apperr.Wrap(apperr.KindTransient, "resolve raw source", err))
	}

	width, height, err := t.prober.Dimensions(ctx, rawPath)
	if err != nil {
		return t.fail(ctx, videoID, apperr.Wrap(apperr.KindFatal, "probe source dimensions", err))
	}

	rungs := SelectRungs(width, height)
	if len(rungs) == 0 {
		return t.fail(ctx, videoID, apperr.New(apperr.KindFatal, fmt.Sprintf("no rung in the ladder fits a %dx%d source", width, height)))
	}

	for _, rung := range rungs {
		rungDir := filepath.Join(videoDir, rung.Name)
		if err := runRung(ctx, t.cfg.FFmpegPath, rawPath, rungDir, rung, t.logger); err != nil {
			return t.fail(ctx, videoID, apperr.Wrap(apperr.KindFatal, "encode rung "+rung.Name, err))
		}
	}

	masterPath, err := writeMasterPlaylist(videoDir, rungs)
	if err != nil {
		return t.fail(ctx, videoID, apperr.Wrap(apperr.KindFatal, "write master playlist", err))
	}

	if t.cfg.Objects != nil {
		if err := t.cfg.Objects.SyncTree(ctx, videoDir, videoID, []string{"raw.*"}); err != nil {
			return t.fail(ctx, videoID, apperr.Wrap(apperr.KindTransient, "sync rendition tree to object store", err))
		}
	}

	duration := probeDurationBestEffort(ctx, t.prober, rawPath)
	if err := t.cfg.Store.TransitionCompleted(ctx, videoID, masterPath, duration); err != nil {
		return apperr.Wrap(apperr.KindTransient, "transition video to completed", err)
	}

	if t.cfg.Jobs != nil {
		if err := t.cfg.Jobs.EnqueueCompressRaw(ctx, videoID, rawArchivalDelay); err != nil {
			t.logger.Error("failed to enqueue deferred archival job", "video_id", videoID, "error", err)
		}
	}

	return nil
}

// resolveRaw returns a local path to the raw source, fetching it from the
// object store into the working directory if it is not already there.
func (t *Transcoder) resolveRaw(ctx context.Context, videoDir, rawObjectKey string) (string, error) {
	local := filepath.Join(videoDir, "raw"+filepath.Ext(rawObjectKey))
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	if t.cfg.Objects == nil {
		return "", fmt.Errorf("no object store configured and %s not present locally", local)
	}

	rc, err := t.cfg.Objects.GetObject(ctx, rawObjectKey)
	if err != nil {
		return "", fmt.Errorf("fetch raw object %s: %w", rawObjectKey, err)
	}
	defer rc.Close()

	f, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("create local raw file: %w", err)
	}
	defer f.Close()

	if _, err := copyBuffered(f, rc); err != nil {
		return "", fmt.Errorf("write local raw file: %w", err)
	}
	return local, nil
}

// fail marks the video failed and returns cause unchanged. The job runner
// acks a non-retryable cause; a retryable one is redelivered, and that
// attempt finds the video already failed and returns nil.
func (t *Transcoder) fail(ctx context.Context, videoID string, cause error) error {
	if err := t.cfg.Store.TransitionFailed(ctx, videoID, cause.Error()); err != nil {
		t.logger.Error("failed to record video failure", "video_id", videoID, "error", err)
	}
	return cause
}
