package transcode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeMasterPlaylist writes the HLS master playlist referencing each
// surviving rung's own stream playlist, per spec.md §4.10: bandwidth in
// bits/sec, resolution and a NAME attribute per variant.
func writeMasterPlaylist(outputDir string, rungs []Rung) (string, error) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range rungs {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=%q\n",
			r.Bitrate*1000, r.Width, r.Height, r.Name)
		fmt.Fprintf(&b, "%s/stream_%s.m3u8\n", r.Name, r.Name)
	}

	path := filepath.Join(outputDir, "master.m3u8")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write master playlist: %w", err)
	}
	return path, nil
}
