// Package transcode implements the HLS transcoder (C10): it drives the
// external ffmpeg/ffprobe toolchain via os/exec the way the teacher's
// cmd/transcoder did, but one process per rendition rung rather than a
// single multi-output filter_complex invocation, and against the VOD state
// machine in internal/storage rather than a live/upload job-controller API.
package transcode

// Rung is one entry in the fixed quality ladder.
type Rung struct {
	Name    string
	Width   int
	Height  int
	Bitrate int // kbps
}

// Ladder is the fixed rendition ladder from spec.md §4.10, ordered highest
// quality first.
var Ladder = []Rung{
	{Name: "1080p", Width: 1920, Height: 1080, Bitrate: 5000},
	{Name: "720p", Width: 1280, Height: 720, Bitrate: 2800},
	{Name: "480p", Width: 854, Height: 480, Bitrate: 1400},
}

// SelectRungs drops any rung whose resolution exceeds the source's
// intrinsic dimensions, preserving ladder order.
func SelectRungs(sourceWidth, sourceHeight int) []Rung {
	out := make([]Rung, 0, len(Ladder))
	for _, rung := range Ladder {
		if rung.Width <= sourceWidth && rung.Height <= sourceHeight {
			out = append(out, rung)
		}
	}
	return out
}
