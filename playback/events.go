package playback

import (
	"sync"
	"time"
)

// EventKind identifies what changed in the engine.
type EventKind int

const (
	// EventTrackAdded fires when a stem enters the active list.
	EventTrackAdded EventKind = iota
	// EventTrackRemoved fires after a stem's resources have been released.
	EventTrackRemoved
	// EventTrackState fires on every per-track state transition.
	EventTrackState
	// EventTransport fires when the ensemble starts or stops playing.
	EventTransport
	// EventVolume fires when a new effective gain is pushed to a track.
	EventVolume
	// EventSolo fires when the solo selection changes.
	EventSolo
	// EventDrift fires after a drift correction cycle issued seeks.
	EventDrift
)

// Event describes a single engine state transition. Only the fields relevant
// to the Kind are populated.
type Event struct {
	Kind    EventKind
	TrackID string
	State   TrackState
	Playing bool
	Gain    float64
	SoloID  string
	Spread  time.Duration
}

// eventBuffer is the per-subscriber channel depth. A subscriber that falls
// further behind loses its oldest events rather than stalling the engine.
const eventBuffer = 64

type bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan Event)}
}

// subscribe registers a new listener. The returned cancel function is
// idempotent and closes the channel.
func (b *bus) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, eventBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// emit delivers the event to every subscriber without ever blocking the
// caller: a full subscriber buffer sheds its oldest event first.
func (b *bus) emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
