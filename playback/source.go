package playback

import (
	"context"
	"time"
)

// Source is the platform decode/playback primitive behind a single track.
// The engine never touches samples itself: it issues commands against a
// Source and observes the state the Source reports. Position and Playing are
// snapshots that may change between read and use.
type Source interface {
	// Play un-pauses rendering. A rejection fails the whole ensemble
	// operation that issued it.
	Play() error

	// Pause halts rendering.
	Pause() error

	// Seek moves the render position. The target is clamped to the
	// stream's length.
	Seek(pos time.Duration) error

	// Position reports the current render position.
	Position() time.Duration

	// Duration reports the total stream length.
	Duration() time.Duration

	// Playing reports whether the source is currently rendering.
	Playing() bool

	// SetGain applies a linear gain in [0, 1]. 0 is full silence.
	SetGain(gain float64)

	// Peaks returns per-bin peak amplitudes for waveform rendering.
	Peaks(bins int) []float64

	// Close releases the decode handle. The Source is unusable afterwards.
	Close() error
}

// Opener fetches and decodes one stem into a playable Source. The context
// cancels an in-flight load when the stem is removed before it finishes.
type Opener func(ctx context.Context, url string) (Source, error)
