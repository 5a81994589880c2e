package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/events"
	"github.com/zhouzirui/thoughtforge/backend/internal/storage/layout"
)

var (
	ErrNotLoaded    = errors.New("turn is not loaded")
	ErrTurnNotFound = errors.New("turn not found")
	ErrInterrupted  = errors.New("playback was replaced before it started")
	errTrackClosed  = errors.New("track closed")
)

// State of the player.
type State string

const (
	StateStopped State = "stopped"
	StateLoading State = "loading"
	StatePlaying State = "playing"
)

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ConversationSource resolves turns and records lazily generated audio.
type ConversationSource interface {
	Get(ctx context.Context, id string) (conversation.Conversation, error)
	AttachArtifact(ctx context.Context, id, turnID, path string) (conversation.Turn, error)
	Layout() *layout.Layout
}

// Status describes what the player currently holds.
type Status struct {
	State          State  `json:"state"`
	ConversationID string `json:"conversationId,omitempty"`
	TurnID         string `json:"turnId,omitempty"`
	FileName       string `json:"fileName,omitempty"`
	PositionMs     int64  `json:"positionMs"`
	DurationMs     int64  `json:"durationMs"`
}

// Player keeps at most one artifact loaded. Loading another one first stops
// and releases the current one.
type Player struct {
	mu sync.Mutex

	engine    Engine
	synth     Synthesizer
	convs     ConversationSource
	publisher events.Publisher
	interval  time.Duration

	state    State
	gen      uint64
	convID   string
	turnID   string
	fileName string
	track    Track
	stopPoll chan struct{}
}

func NewPlayer(engine Engine, synth Synthesizer, convs ConversationSource, publisher events.Publisher, interval time.Duration) *Player {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Player{
		engine:    engine,
		synth:     synth,
		convs:     convs,
		publisher: publisher,
		interval:  interval,
		state:     StateStopped,
	}
}

// Play stops whatever is playing, makes sure the turn has an audio artifact
// (synthesizing it on first use) and starts it from zero.
func (p *Player) Play(ctx context.Context, convID, turnID string) (Status, error) {
	p.Stop(ctx)

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.state = StateLoading
	p.convID, p.turnID, p.fileName = convID, turnID, ""
	p.mu.Unlock()

	path, err := p.prepare(ctx, convID, turnID)
	if err != nil {
		p.abandon(gen)
		return Status{}, err
	}

	track, err := p.engine.Open(path)
	if err != nil {
		p.abandon(gen)
		log.Printf("[playback] failed to load %s: %v", path, err)
		return Status{}, fmt.Errorf("load artifact: %w", err)
	}
	if err := track.Play(); err != nil {
		_ = track.Close()
		p.abandon(gen)
		return Status{}, fmt.Errorf("start playback: %w", err)
	}

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		_ = track.Close()
		return Status{}, ErrInterrupted
	}
	stop := make(chan struct{})
	p.track = track
	p.fileName = path
	p.state = StatePlaying
	p.stopPoll = stop
	status := p.statusLocked()
	p.mu.Unlock()

	go p.poll(gen, track, stop)

	log.Printf("[playback] playing %s (%dms)", filepath.Base(path), status.DurationMs)
	p.publish(ctx, events.TypePlaybackStarted, status)
	return status, nil
}

// Seek relocates within the loaded artifact; the position is clamped to
// [0, duration]. Other turns are rejected with ErrNotLoaded.
func (p *Player) Seek(ctx context.Context, convID, turnID string, pos time.Duration) (Status, error) {
	p.mu.Lock()
	if p.track == nil || p.convID != convID || p.turnID != turnID {
		p.mu.Unlock()
		return Status{}, ErrNotLoaded
	}

	if pos < 0 {
		pos = 0
	}
	if d := p.track.Duration(); pos > d {
		pos = d
	}
	if err := p.track.Seek(pos); err != nil {
		p.mu.Unlock()
		return Status{}, fmt.Errorf("seek: %w", err)
	}
	status := p.statusLocked()
	p.mu.Unlock()

	p.publish(ctx, events.TypePlaybackPosition, status)
	return status, nil
}

// Stop halts playback, resets the position to zero and releases the track.
func (p *Player) Stop(ctx context.Context) Status {
	p.mu.Lock()
	if p.state == StateStopped && p.track == nil {
		status := p.statusLocked()
		p.mu.Unlock()
		return status
	}

	previous := Status{State: StateStopped, ConversationID: p.convID, TurnID: p.turnID, FileName: p.fileName}
	p.gen++
	p.releaseLocked()
	status := p.statusLocked()
	p.mu.Unlock()

	p.publish(ctx, events.TypePlaybackStopped, previous)
	return status
}

// Status returns the current snapshot.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Player) statusLocked() Status {
	status := Status{
		State:          p.state,
		ConversationID: p.convID,
		TurnID:         p.turnID,
		FileName:       p.fileName,
	}
	if p.track != nil {
		status.PositionMs = p.track.Position().Milliseconds()
		status.DurationMs = p.track.Duration().Milliseconds()
	}
	return status
}

func (p *Player) releaseLocked() {
	if p.stopPoll != nil {
		close(p.stopPoll)
		p.stopPoll = nil
	}
	if p.track != nil {
		if err := p.track.Close(); err != nil {
			log.Printf("[playback] failed to release track: %v", err)
		}
		p.track = nil
	}
	p.state = StateStopped
	p.convID, p.turnID, p.fileName = "", "", ""
}

func (p *Player) abandon(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen == gen {
		p.releaseLocked()
	}
}

func (p *Player) poll(gen uint64, track Track, stop <-chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		pos, duration := track.Position(), track.Duration()
		if pos >= duration {
			p.complete(gen)
			return
		}

		p.mu.Lock()
		current := p.gen == gen
		status := p.statusLocked()
		p.mu.Unlock()
		if !current {
			return
		}
		p.publish(context.Background(), events.TypePlaybackPosition, status)
	}
}

func (p *Player) complete(gen uint64) {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	finished := Status{State: StateStopped, ConversationID: p.convID, TurnID: p.turnID, FileName: p.fileName}
	// The poll goroutine is exiting on its own.
	p.stopPoll = nil
	p.releaseLocked()
	p.mu.Unlock()

	log.Printf("[playback] finished %s", finished.TurnID)
	p.publish(context.Background(), events.TypePlaybackCompleted, finished)
}

// prepare returns the audio path of the turn, synthesizing and attaching it
// when the turn has no audio on disk yet.
func (p *Player) prepare(ctx context.Context, convID, turnID string) (string, error) {
	conv, err := p.convs.Get(ctx, convID)
	if err != nil {
		return "", err
	}
	turn, index, ok := conv.FindTurn(turnID)
	if !ok {
		return "", ErrTurnNotFound
	}

	path := turn.FileName
	if filepath.Ext(path) == layout.ExtTranscript {
		path = layout.AudioPath(path, turn.Role)
	}
	if path != "" && fileExists(path) {
		if path != turn.FileName {
			p.attach(ctx, convID, turnID, path)
		}
		return path, nil
	}

	target := path
	if filepath.Ext(target) != layout.ExtSynthesized {
		target = p.convs.Layout().ArtifactPath(conv.ID, index, turn.Role, layout.ExtSynthesized)
	}

	audio, err := p.synth.Synthesize(ctx, turn.Content)
	if err != nil {
		log.Printf("[playback] synthesis for %s failed: %v", turnID, err)
		return "", fmt.Errorf("synthesize: %w", err)
	}
	if err := layout.EnsureDir(filepath.Dir(target)); err != nil {
		return "", err
	}
	if err := os.WriteFile(target, audio, 0o644); err != nil {
		log.Printf("[playback] failed to cache %s: %v", target, err)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	log.Printf("[playback] synthesized %s (%d bytes)", filepath.Base(target), len(audio))

	if target != turn.FileName {
		p.attach(ctx, convID, turnID, target)
	}
	return target, nil
}

func (p *Player) attach(ctx context.Context, convID, turnID, path string) {
	if _, err := p.convs.AttachArtifact(ctx, convID, turnID, path); err != nil {
		log.Printf("[playback] artifact of %s not recorded: %v", turnID, err)
	}
}

func (p *Player) publish(ctx context.Context, eventType string, status Status) {
	p.publisher.Publish(ctx, events.Event{
		Type:           eventType,
		ConversationID: status.ConversationID,
		TurnID:         status.TurnID,
		Data: map[string]any{
			"state":      status.State,
			"positionMs": status.PositionMs,
			"durationMs": status.DurationMs,
		},
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
