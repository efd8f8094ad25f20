package playback

import (
	"log/slog"
)

// SoloController keeps at most one stem soloed and derives the per-track
// mute set from the selection. Leaving solo always fully unmutes every
// track: the engine deliberately does not remember pre-solo mute state.
type SoloController struct {
	log *slog.Logger
	reg *Registry
	mix *Mixer
	bus *bus
}

func newSoloController(reg *Registry, mix *Mixer, bus *bus) *SoloController {
	return &SoloController{
		log: slog.With("component", "solo"),
		reg: reg,
		mix: mix,
		bus: bus,
	}
}

// ToggleSolo solos the given stem, moves an existing solo to it, or clears
// the solo when it already targets the stem. The derived mute set covers
// every registered track, including ones that are still loading. Effective
// gains are recomputed immediately on every transition.
func (s *SoloController) ToggleSolo(id string) error {
	if _, err := s.reg.Get(id); err != nil {
		return err
	}

	s.mix.mu.Lock()
	clearing := s.mix.solo == id
	if clearing {
		s.mix.solo = ""
	} else {
		s.mix.solo = id
	}
	s.mix.mu.Unlock()

	for _, t := range s.reg.All() {
		if clearing {
			t.setMuted(false)
		} else {
			t.setMuted(t.ID() != id)
		}
		s.mix.push(t)
	}

	soloID := id
	if clearing {
		soloID = ""
	}
	s.bus.emit(Event{Kind: EventSolo, SoloID: soloID})
	s.log.Debug("solo changed", slog.String("track", soloID))
	return nil
}
