package playback

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrBusy is returned when an ensemble operation is attempted while
	// another one is still in flight. Callers may retry after settlement.
	ErrBusy = errors.New("ensemble operation already in flight")

	// ErrSoloActive is returned when a mute toggle targets a non-solo track
	// while a solo is active. The solo must be cleared first.
	ErrSoloActive = errors.New("another stem is soloed")

	// ErrInvalidVolume is returned for volumes outside [0, 1].
	ErrInvalidVolume = errors.New("volume must be between 0 and 1")

	// ErrUnknownTrack is returned for operations on a track id that is not
	// part of the active stem list.
	ErrUnknownTrack = errors.New("unknown track")

	// ErrClosed is returned for operations on a closed session.
	ErrClosed = errors.New("session is closed")
)

// LoadError wraps a failure to fetch or decode a stem's source. The track
// stays registered in Error state so the UI can show it, but it is excluded
// from ensemble operations.
type LoadError struct {
	TrackID string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.TrackID, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// PartialFailureError reports a fan-out command that was rejected by one or
// more tracks. The ensemble operation is failed as a whole; tracks that had
// already accepted the command are rolled back so the ensemble never ends up
// partially playing.
type PartialFailureError struct {
	Op     string
	Failed map[string]error
}

func (e *PartialFailureError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("%s rejected by %d track(s): %s", e.Op, len(ids), strings.Join(ids, ", "))
}
