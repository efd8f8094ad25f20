package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Stem is one entry of the active stem list, as handed over by the
// separation client once a job completes. Meta travels with the track but is
// never interpreted by the engine.
type Stem struct {
	ID   string
	URL  string
	Meta any
}

// Registry is the single owner of live Track instances. Every other
// component holds ids and reaches tracks through it; none of them construct
// or destroy a Track.
type Registry struct {
	log  *slog.Logger
	open Opener
	bus  *bus
	ctx  context.Context

	// hooks installed by the session wiring so freshly added or loaded
	// tracks pick up the current mix state
	onAdd   func(*Track)
	onReady func(*Track)

	mu     sync.Mutex
	order  []string
	tracks map[string]*Track
	closed bool

	// busy serializes ensemble operations; see begin/end
	busy atomic.Bool
}

func newRegistry(ctx context.Context, open Opener, bus *bus) *Registry {
	return &Registry{
		log:    slog.With("component", "registry"),
		open:   open,
		bus:    bus,
		ctx:    ctx,
		tracks: make(map[string]*Track),
	}
}

// SetStems replaces the active stem set. Stems already present keep their
// Track untouched, so calling twice with the same list is a no-op. Removed
// stems have their in-flight loads cancelled and their resources released
// synchronously before SetStems returns; new stems start loading in the
// background. Replacing the set counts as an ensemble operation: it claims
// the same gate as the transport, so a track is never released under a
// fan-out still holding it, and overlap surfaces as ErrBusy after the retry.
func (r *Registry) SetStems(stems []Stem) error {
	seen := make(map[string]bool, len(stems))
	for _, s := range stems {
		if s.ID == "" {
			return fmt.Errorf("stem with empty id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate stem id %q", s.ID)
		}
		seen[s.ID] = true
	}

	if err := r.acquire(); err != nil {
		return err
	}
	defer r.end()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}

	var removed []*Track
	for _, id := range r.order {
		if !seen[id] {
			removed = append(removed, r.tracks[id])
		}
	}

	var added []*Track
	order := make([]string, 0, len(stems))
	tracks := make(map[string]*Track, len(stems))
	for _, s := range stems {
		order = append(order, s.ID)
		if t, ok := r.tracks[s.ID]; ok {
			tracks[s.ID] = t
			continue
		}
		t := newTrack(s.ID, s.URL, s.Meta, r.bus)
		tracks[s.ID] = t
		added = append(added, t)
	}
	r.order = order
	r.tracks = tracks
	r.mu.Unlock()

	for _, t := range removed {
		t.release()
		r.bus.emit(Event{Kind: EventTrackRemoved, TrackID: t.id})
		r.log.Debug("stem released", slog.String("track", t.id))
	}

	for _, t := range added {
		lctx, cancel := context.WithCancel(r.ctx)
		t.mu.Lock()
		t.cancel = cancel
		t.mu.Unlock()

		if r.onAdd != nil {
			r.onAdd(t)
		}
		r.bus.emit(Event{Kind: EventTrackAdded, TrackID: t.id})
		r.log.Debug("stem loading", slog.String("track", t.id), slog.String("url", t.url))

		go t.load(lctx, r.open, r.onReady)
	}

	return nil
}

// Get looks up a track by stem id.
func (r *Registry) Get(id string) (*Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tracks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrack, id)
	}
	return t, nil
}

// All returns every track in stem-list insertion order. The first entry is
// the reference track for position re-alignment.
func (r *Registry) All() []*Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Track, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tracks[id])
	}
	return out
}

// loadedTracks returns the tracks usable for transport and drift operations,
// in insertion order.
func (r *Registry) loadedTracks() []*Track {
	var out []*Track
	for _, t := range r.All() {
		if t.loaded() {
			out = append(out, t)
		}
	}
	return out
}

// begin claims the ensemble operation gate. Overlapping ensemble operations
// are rejected with ErrBusy rather than interleaved or silently dropped;
// the transport coordinator retries after a short backoff.
func (r *Registry) begin() error {
	if !r.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (r *Registry) end() {
	r.busy.Store(false)
}

// acquire claims the gate the way the transport does: a few retries with a
// short backoff before surfacing ErrBusy.
func (r *Registry) acquire() error {
	for attempt := 0; ; attempt++ {
		err := r.begin()
		if err == nil {
			return nil
		}
		if attempt >= busyRetries {
			return err
		}
		time.Sleep(busyBackoff)
	}
}

// Close releases every track. The registry rejects further SetStems calls.
// Unlike SetStems it cannot fail, so it waits the gate out instead of
// surfacing ErrBusy; ensemble operations are bounded, so the wait is too.
func (r *Registry) Close() {
	for r.begin() != nil {
		time.Sleep(busyBackoff)
	}
	defer r.end()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	order := r.order
	tracks := r.tracks
	r.order = nil
	r.tracks = make(map[string]*Track)
	r.mu.Unlock()

	for _, id := range order {
		tracks[id].release()
	}
}
