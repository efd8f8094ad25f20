package playback

import (
	"context"
	"log/slog"
	"sync"

	"stemsplit/config"
)

// Session is one playback session: it owns the registry, mixer, solo
// controller, transport coordinator, drift corrector and the speaker, with
// explicit creation and teardown. The UI layer reaches the engine only
// through the components exposed here and observes it through Subscribe.
type Session struct {
	log  *slog.Logger
	bus  *bus
	out  *output
	open Opener

	reg   *Registry
	mix   *Mixer
	solo  *SoloController
	tr    *Transport
	drift *DriftCorrector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// Option adjusts session construction.
type Option func(*Session)

// WithOpener replaces the speaker-backed source opener. The session then
// never touches the audio device; used by headless tests.
func WithOpener(open Opener) Option {
	return func(s *Session) {
		s.open = open
		s.out = nil
	}
}

// New creates a session. No audio device is touched until Start.
func New(cfg config.PlaybackConfig, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		log:    slog.With("component", "session"),
		bus:    newBus(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.out = newOutput(cfg.SampleRate, cfg.BufferSize)
	s.open = s.out.open

	for _, opt := range opts {
		opt(s)
	}

	s.reg = newRegistry(ctx, s.open, s.bus)
	s.mix = newMixer(s.reg, s.bus)
	s.solo = newSoloController(s.reg, s.mix, s.bus)
	s.tr = newTransport(s.reg, s.bus, cfg.SeekTolerance, cfg.SettleDelay)
	s.drift = newDriftCorrector(s.reg, s.tr, s.bus, cfg.DriftInterval, cfg.DriftTolerance)

	return s
}

// Start initializes the speaker and launches the drift corrector.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if s.out != nil {
		if err := s.out.start(); err != nil {
			return err
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.drift.Run(s.ctx)
	}()

	s.log.Info("session started")
	return nil
}

// Close tears the session down: background work is cancelled, every track's
// resources are released and the speaker is closed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.reg.Close()
	s.bus.close()
	if s.out != nil {
		s.out.close()
	}
	s.log.Info("session closed")
}

// Registry returns the track registry.
func (s *Session) Registry() *Registry { return s.reg }

// Mixer returns the volume/mute mixer.
func (s *Session) Mixer() *Mixer { return s.mix }

// Solo returns the solo controller.
func (s *Session) Solo() *SoloController { return s.solo }

// Transport returns the ensemble transport coordinator.
func (s *Session) Transport() *Transport { return s.tr }

// Subscribe returns a channel of engine events and a cancel function. Every
// state transition is delivered exactly once, in order; a subscriber that
// stops draining loses its oldest events rather than stalling the engine.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.bus.subscribe()
}
