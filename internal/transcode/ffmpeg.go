package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

const (
	segmentDuration  = 6 // seconds
	gopSize          = 60
	audioBitrateKbps = 128
	audioSampleRate  = 48000
)

// logWriter pipes a subprocess's stdout/stderr into structured logging, one
// record per Write call (output is not split on newlines), grounded on the
// teacher's transcoder log plumbing
// (cmd/transcoder/main.go), generalized to take an arbitrary label instead
// of a hardcoded job ID.
type logWriter struct {
	logger *slog.Logger
	label  string
	level  slog.Level
}

func (w logWriter) Write(p []byte) (int, error) {
	w.logger.Log(context.Background(), w.level, "ffmpeg", "stream", w.label, "line", string(p))
	return len(p), nil
}

// runRung invokes a single ffmpeg process encoding one rendition rung to
// its own HLS segment set, per spec.md §4.10: one process per rung rather
// than one multi-output filter_complex invocation.
func runRung(ctx context.Context, ffmpegPath string, rawPath, outDir string, rung Rung, logger *slog.Logger) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create rung output dir: %w", err)
	}

	segmentPattern := filepath.Join(outDir, "segment_%05d.ts")
	playlistPath := filepath.Join(outDir, "stream_"+rung.Name+".m3u8")
	maxrate := rung.Bitrate
	bufsize := rung.Bitrate * 2

	args := []string{
		"-y",
		"-i", rawPath,
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2", rung.Width, rung.Height, rung.Width, rung.Height),
		"-c:v", "libx264",
		"-profile:v", "main",
		"-level:v", "3.1",
		"-pix_fmt", "yuv420p",
		"-b:v", strconv.Itoa(rung.Bitrate) + "k",
		"-maxrate", strconv.Itoa(maxrate) + "k",
		"-bufsize", strconv.Itoa(bufsize) + "k",
		"-g", strconv.Itoa(gopSize),
		"-keyint_min", strconv.Itoa(gopSize),
		"-sc_threshold", "0",
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", segmentDuration),
		"-c:a", "aac",
		"-b:a", strconv.Itoa(audioBitrateKbps) + "k",
		"-ar", strconv.Itoa(audioSampleRate),
		"-ac", "2",
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentDuration),
		"-hls_list_size", "0",
		"-hls_segment_type", "mpegts",
		"-hls_flags", "independent_segments+split_by_time",
		"-hls_segment_filename", segmentPattern,
		playlistPath,
	}

	ffmpeg := ffmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, ffmpeg, args...)
	cmd.Stderr = logWriter{logger: logger, label: rung.Name, level: slog.LevelDebug}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg rung %s exited: %w", rung.Name, err)
	}
	return nil
}
