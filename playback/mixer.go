package playback

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// MixState is a point-in-time snapshot of the mixing inputs, for display.
type MixState struct {
	MasterVolume float64
	SoloTrackID  string
	TrackVolume  map[string]float64
	TrackMuted   map[string]bool
}

// Mixer computes every track's effective playback gain from master volume,
// per-track volume and the mute flags, and pushes it to the track's source
// the moment any of those inputs change. Loudness changes are immediate and
// never interrupt playback.
type Mixer struct {
	log *slog.Logger
	reg *Registry
	bus *bus

	mu     sync.Mutex
	master float64
	solo   string
}

func newMixer(reg *Registry, bus *bus) *Mixer {
	m := &Mixer{
		log:    slog.With("component", "mixer"),
		reg:    reg,
		bus:    bus,
		master: 1,
	}
	// Tracks added or finishing their load mid-session must pick up the
	// current mix state, including an active solo.
	reg.onAdd = m.noteAdded
	reg.onReady = m.push
	return m
}

// SetMasterVolume scales every track at once.
func (m *Mixer) SetMasterVolume(v float64) error {
	if err := validVolume(v); err != nil {
		return err
	}
	m.mu.Lock()
	m.master = v
	m.mu.Unlock()

	for _, t := range m.reg.All() {
		m.push(t)
	}
	return nil
}

// SetTrackVolume sets one stem's own volume.
func (m *Mixer) SetTrackVolume(id string, v float64) error {
	if err := validVolume(v); err != nil {
		return err
	}
	t, err := m.reg.Get(id)
	if err != nil {
		return err
	}
	t.setVolume(v)
	m.push(t)
	return nil
}

// SetTrackMuted toggles one stem's mute flag. While a solo is active the
// mute set is derived from the solo selection, so direct toggles on any
// other track are rejected: the caller must clear the solo first instead of
// silently fighting it.
func (m *Mixer) SetTrackMuted(id string, muted bool) error {
	t, err := m.reg.Get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	solo := m.solo
	m.mu.Unlock()
	if solo != "" && id != solo {
		return fmt.Errorf("%w: %s", ErrSoloActive, solo)
	}

	t.setMuted(muted)
	m.push(t)
	return nil
}

// MasterVolume returns the current master volume.
func (m *Mixer) MasterVolume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.master
}

// Solo returns the soloed stem id, or empty when no solo is active.
func (m *Mixer) Solo() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.solo
}

// State snapshots the full mix for display.
func (m *Mixer) State() MixState {
	m.mu.Lock()
	st := MixState{
		MasterVolume: m.master,
		SoloTrackID:  m.solo,
		TrackVolume:  make(map[string]float64),
		TrackMuted:   make(map[string]bool),
	}
	m.mu.Unlock()

	for _, t := range m.reg.All() {
		st.TrackVolume[t.ID()] = t.Volume()
		st.TrackMuted[t.ID()] = t.Muted()
	}
	return st
}

// push recomputes one track's effective gain and hands it to the source.
// Tracks that have not loaded yet are skipped; they get their gain from the
// onReady hook instead.
func (m *Mixer) push(t *Track) {
	src := t.source()
	if src == nil {
		return
	}

	m.mu.Lock()
	master := m.master
	m.mu.Unlock()

	gain := 0.0
	if !t.Muted() {
		gain = t.Volume() * master
	}
	src.SetGain(gain)
	m.bus.emit(Event{Kind: EventVolume, TrackID: t.ID(), Gain: gain})
}

func (m *Mixer) noteAdded(t *Track) {
	m.mu.Lock()
	solo := m.solo
	m.mu.Unlock()
	if solo != "" && t.ID() != solo {
		t.setMuted(true)
	}
}

func validVolume(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidVolume, v)
	}
	return nil
}
