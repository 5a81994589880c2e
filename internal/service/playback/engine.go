package playback

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// estimatedBitrate is used when a clip cannot be decoded (bits per second).
const estimatedBitrate = 128_000

// Track is one loaded audio artifact.
type Track interface {
	Play() error
	Position() time.Duration
	Duration() time.Duration
	Seek(pos time.Duration) error
	Close() error
}

// Engine loads artifacts into tracks.
type Engine interface {
	Open(path string) (Track, error)
}

// ClockEngine is a headless engine: the client renders the audio itself and
// the service tracks position against a monotonic clock.
type ClockEngine struct {
	now func() time.Time
}

func NewClockEngine() *ClockEngine {
	return &ClockEngine{now: time.Now}
}

func (e *ClockEngine) Open(path string) (Track, error) {
	duration, err := ProbeDuration(path)
	if err != nil {
		return nil, err
	}
	return &clockTrack{duration: duration, now: e.now}, nil
}

// ProbeDuration decodes mp3 headers to find the clip length and falls back
// to a size-based estimate for other containers.
func ProbeDuration(path string) (time.Duration, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("open artifact: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		if d, err := decodeMP3Duration(path); err == nil && d > 0 {
			return d, nil
		}
	}
	return estimateDuration(info.Size()), nil
}

func decodeMP3Duration(path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return 0, err
	}
	rate := decoder.SampleRate()
	if rate <= 0 {
		return 0, fmt.Errorf("invalid sample rate %d", rate)
	}
	// Decoded samples are 16-bit stereo: 4 bytes per frame.
	frames := decoder.Length() / 4
	return time.Duration(frames) * time.Second / time.Duration(rate), nil
}

func estimateDuration(size int64) time.Duration {
	return time.Duration(size*8) * time.Second / estimatedBitrate
}

type clockTrack struct {
	mu        sync.Mutex
	duration  time.Duration
	offset    time.Duration
	startedAt time.Time
	playing   bool
	closed    bool
	now       func() time.Time
}

func (t *clockTrack) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTrackClosed
	}
	if !t.playing {
		t.startedAt = t.now()
		t.playing = true
	}
	return nil
}

func (t *clockTrack) Position() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positionLocked()
}

func (t *clockTrack) positionLocked() time.Duration {
	pos := t.offset
	if t.playing {
		pos += t.now().Sub(t.startedAt)
	}
	if pos > t.duration {
		pos = t.duration
	}
	return pos
}

func (t *clockTrack) Duration() time.Duration {
	return t.duration
}

func (t *clockTrack) Seek(pos time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTrackClosed
	}
	t.offset = pos
	t.startedAt = t.now()
	return nil
}

func (t *clockTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.playing = false
	t.offset = 0
	return nil
}
