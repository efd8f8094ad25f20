package playback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetStemsLoadsTracks(t *testing.T) {
	open := newFakeOpener()
	open.add("vocals.wav", 200*time.Second)
	open.add("drums.wav", 200*time.Second)

	s := newTestSession(t, open)
	loadStems(t, s, stem("vocals"), stem("drums"))

	all := s.Registry().All()
	require.Len(t, all, 2)
	assert.Equal(t, "vocals", all[0].ID(), "insertion order must be preserved")
	assert.Equal(t, "drums", all[1].ID())
	for _, tr := range all {
		assert.Equal(t, TrackReady, tr.State())
		assert.Equal(t, 200*time.Second, tr.Duration())
	}
}

func TestSetStemsIdempotent(t *testing.T) {
	open := newFakeOpener()
	open.add("vocals.wav", 200*time.Second)
	open.add("drums.wav", 200*time.Second)

	s := newTestSession(t, open)

	events, cancel := s.Subscribe()
	defer cancel()

	stems := []Stem{stem("vocals"), stem("drums")}
	loadStems(t, s, stems...)
	before := s.Registry().All()

	require.NoError(t, s.Registry().SetStems(stems))

	after := s.Registry().All()
	require.Len(t, after, 2)
	assert.Same(t, before[0], after[0], "unchanged stems must keep their track")
	assert.Same(t, before[1], after[1])
	assert.Equal(t, 1, open.openCount("vocals.wav"), "no reload of unaffected tracks")
	assert.Equal(t, 1, open.openCount("drums.wav"))

	// Drain everything emitted so far: no destroy/recreate events allowed.
	cancel()
	for ev := range events {
		assert.NotEqual(t, EventTrackRemoved, ev.Kind)
	}
}

func TestSetStemsReleasesStale(t *testing.T) {
	open := newFakeOpener()
	vocals := open.add("vocals.wav", 200*time.Second)
	open.add("drums.wav", 200*time.Second)
	open.add("bass.wav", 200*time.Second)

	s := newTestSession(t, open)
	loadStems(t, s, stem("vocals"), stem("drums"))

	loadStems(t, s, stem("drums"), stem("bass"))

	assert.True(t, vocals.isClosed(), "removed stem's source must be released")
	_, err := s.Registry().Get("vocals")
	assert.ErrorIs(t, err, ErrUnknownTrack)

	all := s.Registry().All()
	require.Len(t, all, 2)
	assert.Equal(t, "drums", all[0].ID())
	assert.Equal(t, "bass", all[1].ID())
}

func TestSetStemsCancelsInFlightLoad(t *testing.T) {
	open := newFakeOpener()
	open.add("vocals.wav", 200*time.Second)
	open.add("drums.wav", 200*time.Second)
	gate := open.block("vocals.wav")
	defer close(gate)

	s := newTestSession(t, open)
	require.NoError(t, s.Registry().SetStems([]Stem{stem("vocals")}))

	// Replace the list while vocals is still loading.
	loadStems(t, s, stem("drums"))

	_, err := s.Registry().Get("vocals")
	assert.ErrorIs(t, err, ErrUnknownTrack)
}

func TestSetStemsRejectsDuplicates(t *testing.T) {
	open := newFakeOpener()
	s := newTestSession(t, open)

	err := s.Registry().SetStems([]Stem{stem("vocals"), stem("vocals")})
	require.Error(t, err)
	assert.Empty(t, s.Registry().All())
}

func TestLoadFailureMarksTrackError(t *testing.T) {
	open := newFakeOpener()
	open.add("drums.wav", 200*time.Second)
	open.fail("vocals.wav", errors.New("corrupt header"))

	s := newTestSession(t, open)
	loadStems(t, s, stem("vocals"), stem("drums"))

	vocals, err := s.Registry().Get("vocals")
	require.NoError(t, err)
	assert.Equal(t, TrackError, vocals.State(), "failed track stays visible in error state")

	var lerr *LoadError
	require.ErrorAs(t, vocals.Err(), &lerr)
	assert.Equal(t, "vocals", lerr.TrackID)

	loaded := s.Registry().loadedTracks()
	require.Len(t, loaded, 1, "error track is excluded from ensemble operations")
	assert.Equal(t, "drums", loaded[0].ID())
}

func TestGetUnknownTrack(t *testing.T) {
	open := newFakeOpener()
	s := newTestSession(t, open)

	_, err := s.Registry().Get("nope")
	assert.ErrorIs(t, err, ErrUnknownTrack)
}

func TestTrackEventsInOrder(t *testing.T) {
	open := newFakeOpener()
	open.add("vocals.wav", 200*time.Second)

	s := newTestSession(t, open)
	events, cancel := s.Subscribe()
	defer cancel()

	loadStems(t, s, stem("vocals"))

	ev := <-events
	assert.Equal(t, EventTrackAdded, ev.Kind)
	assert.Equal(t, "vocals", ev.TrackID)

	ev = <-events
	assert.Equal(t, EventTrackState, ev.Kind)
	assert.Equal(t, TrackReady, ev.State)
}

func TestConcurrentStateChangesPublishInApplyOrder(t *testing.T) {
	open := newFakeOpener()
	open.add("vocals.wav", 200*time.Second)

	s := newTestSession(t, open)
	loadStems(t, s, stem("vocals"))

	track, err := s.Registry().Get("vocals")
	require.NoError(t, err)

	events, cancel := s.Subscribe()

	// Racing transitions. Applied transitions always change the state, so
	// the published stream must never show the same state twice in a row;
	// the total stays inside the subscriber buffer so nothing is shed.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				track.setState(TrackPlaying)
				track.setState(TrackPaused)
			}
		}()
	}
	wg.Wait()
	cancel()

	last := TrackState(-1)
	for ev := range events {
		if ev.Kind != EventTrackState {
			continue
		}
		assert.NotEqual(t, last, ev.State, "state events out of transition order")
		last = ev.State
	}
}
