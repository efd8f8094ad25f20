package playback

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// DriftCorrector is the periodic background check that keeps playing tracks
// in lockstep. Every interval it measures the position spread across playing
// tracks and, when it exceeds the tolerance, seeks everyone to the
// furthest-ahead position: laggards are advanced, the leader is never
// rewound, so a listener never perceives a backward jump.
type DriftCorrector struct {
	log *slog.Logger
	reg *Registry
	tr  *Transport
	bus *bus

	interval  time.Duration
	tolerance time.Duration
}

func newDriftCorrector(reg *Registry, tr *Transport, bus *bus, interval, tolerance time.Duration) *DriftCorrector {
	return &DriftCorrector{
		log:       slog.With("component", "drift"),
		reg:       reg,
		tr:        tr,
		bus:       bus,
		interval:  interval,
		tolerance: tolerance,
	}
}

// Run loops until the context is cancelled. Cycles while the ensemble is not
// playing are skipped entirely.
func (d *DriftCorrector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !d.tr.IsPlaying() {
			continue
		}
		d.correct()
	}
}

// correct performs one measurement/correction cycle. It is best-effort: a
// failed seek on one track is logged and does not abort correction of the
// others, and the ensemble playing flag is never touched.
func (d *DriftCorrector) correct() {
	// Never interleave with an ensemble operation; just wait for the next
	// cycle instead.
	if err := d.reg.begin(); err != nil {
		d.log.Debug("ensemble operation in flight, skipping cycle")
		return
	}
	defer d.reg.end()

	var playing []*Track
	for _, t := range d.reg.loadedTracks() {
		if t.State() == TrackPlaying {
			playing = append(playing, t)
		}
	}
	// Drift is undefined with fewer than two tracks.
	if len(playing) < 2 {
		return
	}

	minPos, maxPos := playing[0].Position(), playing[0].Position()
	for _, t := range playing[1:] {
		p := t.Position()
		if p < minPos {
			minPos = p
		}
		if p > maxPos {
			maxPos = p
		}
	}

	spread := maxPos - minPos
	if spread <= d.tolerance {
		return
	}

	ensemble := ensembleDuration(playing)
	if ensemble <= 0 {
		return
	}
	frac := float64(maxPos) / float64(ensemble)
	if frac > 1 {
		frac = 1
	}

	for _, t := range playing {
		src := t.source()
		if src == nil {
			continue
		}
		target := time.Duration(math.Round(frac * float64(t.Duration())))
		if err := src.Seek(target); err != nil {
			d.log.Warn("drift seek failed",
				slog.String("track", t.ID()), slog.Any("err", err))
		}
	}

	d.bus.emit(Event{Kind: EventDrift, Spread: spread})
	d.log.Debug("corrected drift",
		slog.Duration("spread", spread), slog.Duration("target", maxPos))
}
