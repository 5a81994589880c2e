package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
)

var (
	ErrRecorderBusy   = errors.New("a recording is already active")
	ErrRecorderIdle   = errors.New("no active recording")
	ErrEmptyRecording = errors.New("recording captured no audio")
)

// Recorder captures one clip at a time into the file it is given.
type Recorder interface {
	Start(ctx context.Context, path string) error
	Stop(ctx context.Context) (string, error)
	Cancel()
	Active() bool
}

// UploadRecorder receives the clip from the client in chunks between Start
// and Stop and writes it to the allocated path.
type UploadRecorder struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	written int64
}

func NewUploadRecorder() *UploadRecorder {
	return &UploadRecorder{}
}

func (r *UploadRecorder) Start(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return ErrRecorderBusy
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	r.file = file
	r.path = path
	r.written = 0
	return nil
}

// Write appends a chunk to the active clip.
func (r *UploadRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, ErrRecorderIdle
	}
	n, err := r.file.Write(p)
	r.written += int64(n)
	return n, err
}

// Stop closes the clip and returns its path. An empty clip is removed and
// reported as ErrEmptyRecording.
func (r *UploadRecorder) Stop(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return "", ErrRecorderIdle
	}
	path, written := r.path, r.written
	err := r.file.Close()
	r.file, r.path, r.written = nil, "", 0

	if err != nil {
		return "", fmt.Errorf("close recording: %w", err)
	}
	if written == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("[session] failed to remove empty clip %s: %v", path, err)
		}
		return "", ErrEmptyRecording
	}
	return path, nil
}

// Cancel drops the active clip, if any.
func (r *UploadRecorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return
	}
	path := r.path
	_ = r.file.Close()
	r.file, r.path, r.written = nil, "", 0
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[session] failed to remove cancelled clip %s: %v", path, err)
	}
}

func (r *UploadRecorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file != nil
}
