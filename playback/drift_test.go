package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func playingSession(t *testing.T, open *fakeOpener, stems ...Stem) *Session {
	t.Helper()
	s := newTestSession(t, open)
	loadStems(t, s, stems...)
	require.NoError(t, s.Transport().PlayAll(context.Background()))
	return s
}

func TestDriftCorrectionAdvancesLaggards(t *testing.T) {
	open := newFakeOpener()
	vocals := open.add("vocals.wav", 200*time.Second)
	drums := open.add("drums.wav", 200*time.Second)
	bass := open.add("bass.wav", 200*time.Second)

	s := playingSession(t, open, stem("vocals"), stem("drums"), stem("bass"))

	vocals.setPos(10 * time.Second)
	drums.setPos(10*time.Second + 50*time.Millisecond)
	bass.setPos(10*time.Second + 300*time.Millisecond)

	s.drift.correct()

	// Everyone converges on the furthest-ahead position; nobody rewinds
	// below it.
	want := 10*time.Second + 300*time.Millisecond
	assert.Equal(t, want, vocals.Position())
	assert.Equal(t, want, drums.Position())
	assert.Equal(t, want, bass.Position())

	spread := bass.Position() - vocals.Position()
	assert.LessOrEqual(t, spread, 200*time.Millisecond)
	assert.True(t, s.Transport().IsPlaying(), "correction never touches the transport state")
}

func TestDriftWithinToleranceIsLeftAlone(t *testing.T) {
	open := newFakeOpener()
	vocals := open.add("vocals.wav", 200*time.Second)
	drums := open.add("drums.wav", 200*time.Second)
	bass := open.add("bass.wav", 200*time.Second)

	s := playingSession(t, open, stem("vocals"), stem("drums"), stem("bass"))

	vocals.setPos(10 * time.Second)
	drums.setPos(10*time.Second + 50*time.Millisecond)
	bass.setPos(10*time.Second + 100*time.Millisecond)

	s.drift.correct()

	assert.Empty(t, vocals.seekTargets(), "spread of 100ms is within the 200ms tolerance")
	assert.Empty(t, drums.seekTargets())
	assert.Empty(t, bass.seekTargets())
}

func TestDriftUndefinedBelowTwoTracks(t *testing.T) {
	open := newFakeOpener()
	vocals := open.add("vocals.wav", 200*time.Second)

	s := playingSession(t, open, stem("vocals"))

	vocals.setPos(10 * time.Second)
	s.drift.correct()

	assert.Empty(t, vocals.seekTargets())
}

func TestDriftSeekFailureIsNonFatal(t *testing.T) {
	open := newFakeOpener()
	vocals := open.add("vocals.wav", 200*time.Second)
	drums := open.add("drums.wav", 200*time.Second)
	vocals.seekErr = errors.New("seek refused")

	s := playingSession(t, open, stem("vocals"), stem("drums"))

	vocals.setPos(10 * time.Second)
	drums.setPos(11 * time.Second)

	s.drift.correct()

	assert.Equal(t, 11*time.Second, drums.Position(),
		"one failed seek must not abort correction of the others")
	assert.True(t, s.Transport().IsPlaying())
}

func TestDriftSkipsWhileEnsembleOperationInFlight(t *testing.T) {
	open := newFakeOpener()
	vocals := open.add("vocals.wav", 200*time.Second)
	drums := open.add("drums.wav", 200*time.Second)

	s := playingSession(t, open, stem("vocals"), stem("drums"))

	vocals.setPos(10 * time.Second)
	drums.setPos(11 * time.Second)

	require.NoError(t, s.Registry().begin())
	defer s.Registry().end()

	s.drift.correct()

	assert.Empty(t, vocals.seekTargets(), "correction waits for the next cycle instead of interleaving")
}

func TestDriftOnlyConsidersPlayingTracks(t *testing.T) {
	open := newFakeOpener()
	vocals := open.add("vocals.wav", 200*time.Second)
	open.add("drums.wav", 200*time.Second)
	gate := open.block("drums.wav")
	defer close(gate)

	s := newTestSession(t, open)
	require.NoError(t, s.Registry().SetStems([]Stem{stem("vocals"), stem("drums")}))

	vocalsTrack, err := s.Registry().Get("vocals")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return vocalsTrack.State() == TrackReady },
		time.Second, time.Millisecond)

	require.NoError(t, s.Transport().PlayAll(context.Background()))
	vocals.setPos(10 * time.Second)

	s.drift.correct()

	assert.Empty(t, vocals.seekTargets(), "a loading track does not count toward drift")
}
