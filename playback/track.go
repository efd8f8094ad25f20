package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TrackState is the lifecycle state of a single stem.
type TrackState int

const (
	// TrackLoading means the source is still being fetched and decoded.
	TrackLoading TrackState = iota
	// TrackReady means the source is loaded and idle.
	TrackReady
	// TrackPlaying means the source is rendering.
	TrackPlaying
	// TrackPaused means the source is loaded and halted mid-timeline.
	TrackPaused
	// TrackError means the source failed to fetch or decode. The track is
	// excluded from ensemble operations but stays visible.
	TrackError
)

func (s TrackState) String() string {
	switch s {
	case TrackLoading:
		return "loading"
	case TrackReady:
		return "ready"
	case TrackPlaying:
		return "playing"
	case TrackPaused:
		return "paused"
	case TrackError:
		return "error"
	default:
		return "unknown"
	}
}

// Track wraps one stem's decodable source and transport primitive. Tracks are
// created and destroyed exclusively by the Registry; every other component
// holds ids and reaches tracks through it. A Track instance is never reused
// across two stem lists, even when names collide.
type Track struct {
	id   string
	url  string
	meta any
	bus  *bus

	mu       sync.Mutex
	state    TrackState
	src      Source
	loadErr  error
	volume   float64
	muted    bool
	released bool
	cancel   context.CancelFunc
}

func newTrack(id, url string, meta any, bus *bus) *Track {
	return &Track{
		id:     id,
		url:    url,
		meta:   meta,
		bus:    bus,
		state:  TrackLoading,
		volume: 1,
	}
}

// ID returns the stem name this track was created for.
func (t *Track) ID() string { return t.id }

// Meta returns the opaque analysis metadata attached to the stem. The engine
// never reads its contents; it exists for display only.
func (t *Track) Meta() any { return t.meta }

// State returns a snapshot of the track's lifecycle state.
func (t *Track) State() TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the load failure, if any.
func (t *Track) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadErr
}

// Volume returns the track's own volume, before master and mute are applied.
func (t *Track) Volume() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.volume
}

// Muted reports the track's mute flag.
func (t *Track) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

// Position reports the source's render position, or zero while loading.
func (t *Track) Position() time.Duration {
	if src := t.source(); src != nil {
		return src.Position()
	}
	return 0
}

// Duration reports the stream length. It is undefined (zero) until the
// source has finished loading.
func (t *Track) Duration() time.Duration {
	if src := t.source(); src != nil {
		return src.Duration()
	}
	return 0
}

// Waveform returns the track's render surface for an external waveform
// renderer. The surface yields no peaks until the source has loaded.
func (t *Track) Waveform() *Waveform {
	return &Waveform{track: t}
}

// load runs in its own goroutine per track. The context is cancelled when
// the stem is removed before loading finishes.
func (t *Track) load(ctx context.Context, open Opener, onReady func(*Track)) {
	src, err := open(ctx, t.url)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		lerr := &LoadError{TrackID: t.id, Err: err}
		t.mu.Lock()
		t.loadErr = lerr
		t.mu.Unlock()
		t.setState(TrackError)
		slog.With("component", "registry").Warn("stem failed to load",
			slog.String("track", t.id), slog.Any("err", err))
		return
	}

	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		src.Close()
		return
	}
	t.src = src
	t.mu.Unlock()

	t.setState(TrackReady)
	if onReady != nil {
		onReady(t)
	}
}

func (t *Track) source() Source {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.src
}

// loaded reports whether the source is usable for transport and drift
// operations.
func (t *Track) loaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == TrackReady || t.state == TrackPlaying || t.state == TrackPaused
}

// setState applies a lifecycle transition and publishes it. The emit happens
// under the track lock so concurrent transitions reach subscribers in the
// order they were applied; the bus never calls back into the track, so the
// lock cannot cycle.
func (t *Track) setState(next TrackState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released || t.state == next {
		return
	}
	t.state = next
	t.bus.emit(Event{Kind: EventTrackState, TrackID: t.id, State: next})
}

func (t *Track) setVolume(v float64) {
	t.mu.Lock()
	t.volume = v
	t.mu.Unlock()
}

func (t *Track) setMuted(m bool) {
	t.mu.Lock()
	t.muted = m
	t.mu.Unlock()
}

// release stops playback and frees the decode handle. Called by the Registry
// when the stem leaves the active list; safe to call once only.
func (t *Track) release() {
	t.mu.Lock()
	t.released = true
	src := t.src
	t.src = nil
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if src != nil {
		src.Pause()
		src.Close()
	}
}
