package transcode

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestSelectRungsDropsAboveSource(t *testing.T) {
	rungs := SelectRungs(1280, 720)
	if len(rungs) != 2 {
		t.Fatalf("expected 2 rungs for a 720p source, got %d: %+v", len(rungs), rungs)
	}
	if rungs[0].Name != "720p" || rungs[1].Name != "480p" {
		t.Fatalf("unexpected rung order: %+v", rungs)
	}
}

func TestSelectRungsNoneFit(t *testing.T) {
	rungs := SelectRungs(320, 240)
	if len(rungs) != 0 {
		t.Fatalf("expected no rungs for a sub-480p source, got %+v", rungs)
	}
}

func TestSelectRungsSourceAboveLadder(t *testing.T) {
	rungs := SelectRungs(3840, 2160)
	if len(rungs) != len(Ladder) {
		t.Fatalf("expected all %d rungs for a 4K source, got %d", len(Ladder), len(rungs))
	}
}

func TestWriteMasterPlaylistReferencesEachRung(t *testing.T) {
	dir := t.TempDir()
	rungs := []Rung{
		{Name: "720p", Width: 1280, Height: 720, Bitrate: 2800},
		{Name: "480p", Width: 854, Height: 480, Bitrate: 1400},
	}
	path, err := writeMasterPlaylist(dir, rungs)
	if err != nil {
		t.Fatalf("writeMasterPlaylist: %v", err)
	}
	if filepath.Base(path) != "master.m3u8" {
		t.Fatalf("unexpected playlist path: %s", path)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read playlist: %v", err)
	}
	content := string(body)
	if !strings.HasPrefix(content, "#EXTM3U\n") {
		t.Fatalf("missing #EXTM3U header: %s", content)
	}
	for _, r := range rungs {
		if !strings.Contains(content, r.Name+"/stream_"+r.Name+".m3u8") {
			t.Fatalf("master playlist missing reference to rung %s: %s", r.Name, content)
		}
		if !strings.Contains(content, "BANDWIDTH="+strconv.Itoa(r.Bitrate*1000)) {
			t.Fatalf("master playlist missing bandwidth for rung %s: %s", r.Name, content)
		}
	}
}

func TestParseWHMatchesEmbeddedToken(t *testing.T) {
	w, h, ok := parseWH("1920x1080")
	if !ok || w != 1920 || h != 1080 {
		t.Fatalf("parseWH failed: w=%d h=%d ok=%v", w, h, ok)
	}
	if _, _, ok := parseWH("not-a-dimension"); ok {
		t.Fatalf("expected no match for non-dimension token")
	}
}

func TestProberValidateRejectsOutOfRange(t *testing.T) {
	p := Prober{}
	if _, _, err := p.validate(0, 1080); err == nil {
		t.Fatalf("expected error for zero width")
	}
	if _, _, err := p.validate(7681, 1080); err == nil {
		t.Fatalf("expected error for width above max")
	}
	w, h, err := p.validate(1920, 1080)
	if err != nil || w != 1920 || h != 1080 {
		t.Fatalf("expected 1920x1080 to validate cleanly, got w=%d h=%d err=%v", w, h, err)
	}
}
