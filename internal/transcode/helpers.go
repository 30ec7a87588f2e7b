package transcode

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

const copyBufferSize = 1 << 20 // 1MiB, matching the archiver's chunk size

func copyBuffered(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	return io.CopyBuffer(dst, src, buf)
}

// probeDurationBestEffort returns the source's duration in seconds, or nil
// if ffprobe can't report one. Duration is advisory metadata on the VOD
// record, not something the transcode itself depends on, so a probe
// failure here is swallowed rather than failing the whole job.
func probeDurationBestEffort(ctx context.Context, p Prober, path string) *float64 {
	ffprobe := p.FFprobePath
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	out, err := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return nil
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return nil
	}
	return &seconds
}
