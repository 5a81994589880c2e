package playback

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProbeDurationEstimatesUndecodableClips(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"clip.mp4", "broken.mp3"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, make([]byte, 16_000), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		d, err := ProbeDuration(path)
		if err != nil {
			t.Fatalf("ProbeDuration err: %v", err)
		}
		if d != time.Second {
			t.Fatalf("%s: expected 1s estimate at 128kbps, got %v", name, d)
		}
	}

	if _, err := ProbeDuration(filepath.Join(dir, "missing.mp3")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestClockTrackFollowsClock(t *testing.T) {
	now := time.Unix(0, 0)
	track := &clockTrack{duration: 10 * time.Second, now: func() time.Time { return now }}

	if track.Position() != 0 {
		t.Fatal("position should start at zero")
	}
	if err := track.Play(); err != nil {
		t.Fatalf("Play err: %v", err)
	}
	now = now.Add(3 * time.Second)
	if got := track.Position(); got != 3*time.Second {
		t.Fatalf("unexpected position: %v", got)
	}

	if err := track.Seek(8 * time.Second); err != nil {
		t.Fatalf("Seek err: %v", err)
	}
	now = now.Add(5 * time.Second)
	if got := track.Position(); got != 10*time.Second {
		t.Fatalf("position should cap at duration, got %v", got)
	}

	_ = track.Close()
	if track.Position() != 0 {
		t.Fatal("closed track should report zero")
	}
	if err := track.Play(); err == nil {
		t.Fatal("expected error playing a closed track")
	}
}
