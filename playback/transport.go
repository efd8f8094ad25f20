package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	busyBackoff  = 50 * time.Millisecond
	busyRetries  = 3
	pauseConfirm = 500 * time.Millisecond
	pausePoll    = 10 * time.Millisecond
)

// Transport is the master play/pause/restart/seek state machine. It issues
// commands to every loaded track concurrently and settles only once all of
// them have completed, so that serial issuance cannot introduce audible
// drift at play-start. Overlapping ensemble operations are serialized
// through the registry's Busy gate.
type Transport struct {
	log *slog.Logger
	reg *Registry
	bus *bus

	// seekTolerance is the position divergence above which tracks are
	// re-aligned before play.
	seekTolerance time.Duration

	// settleDelay separates restart's seeks from the following play, so
	// the seeks land first. Seeking and playing concurrently starts some
	// backends from the wrong position.
	settleDelay time.Duration

	mu      sync.Mutex
	playing bool
	lastPos time.Duration
}

func newTransport(reg *Registry, bus *bus, seekTolerance, settleDelay time.Duration) *Transport {
	return &Transport{
		log:           slog.With("component", "transport"),
		reg:           reg,
		bus:           bus,
		seekTolerance: seekTolerance,
		settleDelay:   settleDelay,
	}
}

// IsPlaying reports the single ensemble playing flag the rest of the
// application keys off.
func (tr *Transport) IsPlaying() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.playing
}

// LastSeek returns the position the tracks were last commanded to seek to
// in unison.
func (tr *Transport) LastSeek() time.Duration {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.lastPos
}

// PlayAll starts every loaded track simultaneously. Tracks still loading or
// in error are skipped; that is not fatal to the ensemble. If any track
// rejects the play command the whole operation fails and the tracks that had
// already started are paused again, so the ensemble never ends up partially
// playing.
func (tr *Transport) PlayAll(ctx context.Context) error {
	return tr.withGate(ctx, tr.playAll)
}

// PauseAll halts every playing track. A track that cannot confirm the pause
// within a bounded wait is treated as paused anyway and logged; pausing must
// never hang the caller.
func (tr *Transport) PauseAll(ctx context.Context) error {
	return tr.withGate(ctx, tr.pauseAll)
}

// RestartAll rewinds every loaded track to the beginning and plays.
func (tr *Transport) RestartAll(ctx context.Context) error {
	return tr.withGate(ctx, tr.restartAll)
}

// SeekAll seeks the whole ensemble. The target is normalized per track as a
// fraction of the ensemble duration, because stems of one recording have
// near-identical but not bit-identical durations.
func (tr *Transport) SeekAll(ctx context.Context, pos time.Duration) error {
	if pos < 0 {
		return fmt.Errorf("negative seek target %v", pos)
	}
	return tr.withGate(ctx, func(ctx context.Context) error {
		return tr.seekAll(ctx, pos)
	})
}

// withGate claims the ensemble operation gate, retrying a Busy rejection a
// few times with a short backoff before giving up.
func (tr *Transport) withGate(ctx context.Context, fn func(context.Context) error) error {
	attempt := 0
	for {
		err := tr.reg.begin()
		if err == nil {
			break
		}
		if attempt >= busyRetries {
			return err
		}
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyBackoff):
		}
	}
	defer tr.reg.end()
	return fn(ctx)
}

func (tr *Transport) playAll(ctx context.Context) error {
	tr.mu.Lock()
	if tr.playing {
		tr.mu.Unlock()
		return nil
	}
	tr.mu.Unlock()

	tracks := tr.reg.loadedTracks()
	if len(tracks) == 0 {
		tr.log.Debug("no loaded stems to play")
		return nil
	}

	// Re-align to the first registered track before playing, so stems that
	// were seeked independently do not start from different timeline points.
	ref := tracks[0].Position()
	for _, t := range tracks[1:] {
		if absDiff(t.Position(), ref) > tr.seekTolerance {
			if err := tr.seekTracks(tracks, ref); err != nil {
				tr.log.Warn("pre-play re-align failed", slog.Any("err", err))
			}
			break
		}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		failed  = make(map[string]error)
		started []*Track
	)
	for _, t := range tracks {
		wg.Add(1)
		go func(t *Track) {
			defer wg.Done()
			src := t.source()
			if src == nil {
				return
			}
			err := src.Play()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[t.ID()] = err
			} else {
				started = append(started, t)
			}
		}(t)
	}
	wg.Wait()

	if len(failed) > 0 {
		for _, t := range started {
			if src := t.source(); src != nil {
				src.Pause()
			}
			t.setState(TrackPaused)
		}
		return &PartialFailureError{Op: "play", Failed: failed}
	}

	for _, t := range started {
		t.setState(TrackPlaying)
	}

	tr.mu.Lock()
	tr.playing = true
	tr.mu.Unlock()
	tr.bus.emit(Event{Kind: EventTransport, Playing: true})
	return nil
}

func (tr *Transport) pauseAll(ctx context.Context) error {
	tr.mu.Lock()
	if !tr.playing {
		tr.mu.Unlock()
		return nil
	}
	tr.mu.Unlock()

	var playing []*Track
	for _, t := range tr.reg.loadedTracks() {
		if t.State() == TrackPlaying {
			playing = append(playing, t)
		}
	}

	var wg sync.WaitGroup
	for _, t := range playing {
		wg.Add(1)
		go func(t *Track) {
			defer wg.Done()
			src := t.source()
			if src == nil {
				return
			}
			if err := src.Pause(); err != nil {
				tr.log.Warn("pause rejected, treating track as paused",
					slog.String("track", t.ID()), slog.Any("err", err))
			}
		}(t)
	}
	wg.Wait()

	// Confirm the sources actually stopped before reporting the transition
	// complete, but never wait longer than the bound.
	confirmBy := time.Now().Add(pauseConfirm)
	for {
		stopped := true
		for _, t := range playing {
			if src := t.source(); src != nil && src.Playing() {
				stopped = false
				break
			}
		}
		if stopped {
			break
		}
		if time.Now().After(confirmBy) {
			tr.log.Warn("pause not confirmed by every track within bound")
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pausePoll):
		}
	}

	for _, t := range playing {
		t.setState(TrackPaused)
	}

	tr.mu.Lock()
	tr.playing = false
	tr.mu.Unlock()
	tr.bus.emit(Event{Kind: EventTransport, Playing: false})
	return nil
}

func (tr *Transport) restartAll(ctx context.Context) error {
	tracks := tr.reg.loadedTracks()
	if len(tracks) == 0 {
		return nil
	}

	if err := tr.seekTracks(tracks, 0); err != nil {
		return err
	}
	tr.mu.Lock()
	tr.lastPos = 0
	tr.mu.Unlock()

	// Let the seeks land before issuing play.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(tr.settleDelay):
	}

	return tr.playAll(ctx)
}

func (tr *Transport) seekAll(ctx context.Context, pos time.Duration) error {
	tracks := tr.reg.loadedTracks()
	if len(tracks) == 0 {
		return nil
	}
	if err := tr.seekTracks(tracks, pos); err != nil {
		return err
	}
	tr.mu.Lock()
	tr.lastPos = pos
	tr.mu.Unlock()
	return nil
}

// seekTracks seeks every given track to pos expressed as a fraction of the
// ensemble duration, concurrently.
func (tr *Transport) seekTracks(tracks []*Track, pos time.Duration) error {
	ensemble := ensembleDuration(tracks)
	if ensemble <= 0 {
		return nil
	}
	frac := float64(pos) / float64(ensemble)
	if frac > 1 {
		frac = 1
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, t := range tracks {
		wg.Add(1)
		go func(t *Track) {
			defer wg.Done()
			src := t.source()
			if src == nil {
				return
			}
			target := time.Duration(math.Round(frac * float64(t.Duration())))
			if err := src.Seek(target); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("seek %s: %w", t.ID(), err))
				mu.Unlock()
			}
		}(t)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// ensembleDuration is the longest loaded track's duration; fractional seek
// targets are expressed against it.
func ensembleDuration(tracks []*Track) time.Duration {
	var max time.Duration
	for _, t := range tracks {
		if d := t.Duration(); d > max {
			max = d
		}
	}
	return max
}

func absDiff(a, b time.Duration) time.Duration {
	if a > b {
		return a - b
	}
	return b - a
}
