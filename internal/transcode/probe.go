package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// maxWidth and maxHeight bound what a probed source may report; anything
// larger is almost certainly a parse error rather than a real 8K upload.
const (
	maxWidth  = 7680
	maxHeight = 4320
)

// dimensionsFromStream matches a WxH pair in an ffprobe/ffmpeg stream line,
// e.g. "1920x1080" or "1920x1080 [SAR ...]".
var dimensionsFromStream = regexp.MustCompile(`(\d{2,5})x(\d{2,5})`)

// Prober resolves the intrinsic pixel dimensions of a source file.
type Prober struct {
	FFprobePath string
	FFmpegPath  string
}

// Dimensions reports the width and height of the video stream in path.
//
// It tries three extraction strategies in order, matching spec.md's
// tie-break rules: first the comma-delimited field of ffprobe's default CSV
// output that contains a WxH pair, then a whitespace-delimited scan of the
// same output, then finally ffmpeg's own stderr banner (piped through -i
// with no output) as a last-resort fallback for inputs ffprobe's default
// entries subtool can't describe.
func (p Prober) Dimensions(ctx context.Context, path string) (width, height int, err error) {
	if w, h, ok := p.probeCSV(ctx, path); ok {
		return p.validate(w, h)
	}
	if w, h, ok := p.probeStderr(ctx, path); ok {
		return p.validate(w, h)
	}
	return 0, 0, fmt.Errorf("transcode: could not determine dimensions for %s", path)
}

func (p Prober) validate(w, h int) (int, int, error) {
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("transcode: non-positive dimensions %dx%d", w, h)
	}
	if w > maxWidth || h > maxHeight {
		return 0, 0, fmt.Errorf("transcode: dimensions %dx%d exceed %dx%d", w, h, maxWidth, maxHeight)
	}
	return w, h, nil
}

// probeCSV runs ffprobe's csv-entries subtool, the cheap and precise path.
func (p Prober) probeCSV(ctx context.Context, path string) (int, int, bool) {
	ffprobe := p.FFprobePath
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	out, err := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=,:p=0",
		path,
	).Output()
	if err != nil {
		return 0, 0, false
	}
	line := strings.TrimSpace(string(out))
	// show_entries stream=width,height with csv=p=0 prints exactly
	// "<width>,<height>" for the first matching stream.
	fields := strings.Split(line, ",")
	if len(fields) == 2 {
		w, errW := strconv.Atoi(strings.TrimSpace(fields[0]))
		h, errH := strconv.Atoi(strings.TrimSpace(fields[1]))
		if errW == nil && errH == nil {
			return w, h, true
		}
	}
	// Fall back to scanning for an embedded WxH token, in case the
	// csv writer ever prefixes the stream index or other fields.
	for _, f := range strings.Fields(line) {
		if w, h, ok := parseWH(f); ok {
			return w, h, true
		}
	}
	return 0, 0, false
}

// probeStderr falls back to ffmpeg's own input banner, which always prints
// a "Stream #0:0 ... Video: ... WxH" line to stderr when given -i with no
// output file.
func (p Prober) probeStderr(ctx context.Context, path string) (int, int, bool) {
	ffmpeg := p.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, ffmpeg, "-i", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run() // ffmpeg exits non-zero with no output file; expected

	for _, line := range strings.Split(stderr.String(), "\n") {
		if !strings.Contains(line, "Video:") {
			continue
		}
		if m := dimensionsFromStream.FindStringSubmatch(line); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			return w, h, true
		}
	}
	return 0, 0, false
}

// parseWH finds a "WxH" pair (e.g. "1920x1080") inside tok. A comma-separated
// "W,H" token does not match; probeCSV handles that form before calling this.
func parseWH(tok string) (int, int, bool) {
	if m := dimensionsFromStream.FindStringSubmatch(tok); m != nil {
		w, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		return w, h, true
	}
	return 0, 0, false
}
