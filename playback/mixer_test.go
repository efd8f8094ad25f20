package playback

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveVolumeAlgebra(t *testing.T) {
	open := newFakeOpener()
	vocals := open.add("vocals.wav", 200*time.Second)

	s := newTestSession(t, open)
	loadStems(t, s, stem("vocals"))
	mix := s.Mixer()

	steps := []struct {
		name string
		call func() error
		gain float64
	}{
		{
			name: "track volume",
			call: func() error { return mix.SetTrackVolume("vocals", 0.5) },
			gain: 0.5,
		},
		{
			name: "master volume scales track volume",
			call: func() error { return mix.SetMasterVolume(0.5) },
			gain: 0.25,
		},
		{
			name: "mute wins over volumes",
			call: func() error { return mix.SetTrackMuted("vocals", true) },
			gain: 0,
		},
		{
			name: "unmute restores the product",
			call: func() error { return mix.SetTrackMuted("vocals", false) },
			gain: 0.25,
		},
		{
			name: "master back to full",
			call: func() error { return mix.SetMasterVolume(1) },
			gain: 0.5,
		},
	}
	for _, step := range steps {
		require.NoError(t, step.call(), step.name)
		assert.InDelta(t, step.gain, vocals.lastGain(), 1e-9,
			"%s: effective volume must equal muted ? 0 : track*master immediately", step.name)
	}
}

func TestVolumeValidation(t *testing.T) {
	open := newFakeOpener()
	open.add("vocals.wav", 200*time.Second)

	s := newTestSession(t, open)
	loadStems(t, s, stem("vocals"))
	mix := s.Mixer()

	for _, v := range []float64{-0.1, 1.1, math.NaN()} {
		assert.ErrorIs(t, mix.SetMasterVolume(v), ErrInvalidVolume)
		assert.ErrorIs(t, mix.SetTrackVolume("vocals", v), ErrInvalidVolume)
	}
	assert.Equal(t, 1.0, mix.MasterVolume(), "rejected calls must not mutate state")

	assert.ErrorIs(t, mix.SetTrackVolume("nope", 0.5), ErrUnknownTrack)
	assert.ErrorIs(t, mix.SetTrackMuted("nope", true), ErrUnknownTrack)
}

func TestMuteRejectedWhileSoloActive(t *testing.T) {
	open := newFakeOpener()
	open.add("vocals.wav", 200*time.Second)
	open.add("drums.wav", 200*time.Second)

	s := newTestSession(t, open)
	loadStems(t, s, stem("vocals"), stem("drums"))

	require.NoError(t, s.Solo().ToggleSolo("vocals"))

	err := s.Mixer().SetTrackMuted("drums", false)
	assert.ErrorIs(t, err, ErrSoloActive, "mute of a non-solo track must be rejected")

	assert.NoError(t, s.Mixer().SetTrackMuted("vocals", true),
		"the soloed track itself may be muted")
}

func TestSoloDerivesMuteSet(t *testing.T) {
	open := newFakeOpener()
	vocals := open.add("vocals.wav", 200*time.Second)
	drums := open.add("drums.wav", 200*time.Second)
	bass := open.add("bass.wav", 200*time.Second)

	s := newTestSession(t, open)
	loadStems(t, s, stem("vocals"), stem("drums"), stem("bass"))

	require.NoError(t, s.Solo().ToggleSolo("drums"))

	st := s.Mixer().State()
	assert.Equal(t, "drums", st.SoloTrackID)
	assert.True(t, st.TrackMuted["vocals"])
	assert.False(t, st.TrackMuted["drums"])
	assert.True(t, st.TrackMuted["bass"])

	assert.Equal(t, 0.0, vocals.lastGain())
	assert.Equal(t, 1.0, drums.lastGain())
	assert.Equal(t, 0.0, bass.lastGain())

	// Moving the solo re-derives the whole set.
	require.NoError(t, s.Solo().ToggleSolo("vocals"))
	st = s.Mixer().State()
	assert.Equal(t, "vocals", st.SoloTrackID)
	assert.False(t, st.TrackMuted["vocals"])
	assert.True(t, st.TrackMuted["drums"])
}

func TestSoloRoundTripUnmutesEverything(t *testing.T) {
	open := newFakeOpener()
	open.add("vocals.wav", 200*time.Second)
	open.add("drums.wav", 200*time.Second)

	s := newTestSession(t, open)
	loadStems(t, s, stem("vocals"), stem("drums"))

	// A pre-solo mute is deliberately not restored on exit.
	require.NoError(t, s.Mixer().SetTrackMuted("drums", true))

	require.NoError(t, s.Solo().ToggleSolo("vocals"))
	require.NoError(t, s.Solo().ToggleSolo("vocals"))

	st := s.Mixer().State()
	assert.Empty(t, st.SoloTrackID)
	for id, muted := range st.TrackMuted {
		assert.False(t, muted, "track %s must be unmuted after solo round-trip", id)
	}
}

func TestSoloCoversLoadingTracks(t *testing.T) {
	open := newFakeOpener()
	open.add("vocals.wav", 200*time.Second)
	drums := open.add("drums.wav", 200*time.Second)
	gate := open.block("drums.wav")

	s := newTestSession(t, open)
	require.NoError(t, s.Registry().SetStems([]Stem{stem("vocals"), stem("drums")}))

	vocalsTrack, err := s.Registry().Get("vocals")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return vocalsTrack.State() == TrackReady },
		time.Second, time.Millisecond)

	// Solo vocals while drums is still loading.
	require.NoError(t, s.Solo().ToggleSolo("vocals"))

	close(gate)
	drumsTrack, err := s.Registry().Get("drums")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return drumsTrack.State() == TrackReady },
		time.Second, time.Millisecond)

	assert.True(t, drumsTrack.Muted(), "late-loading track must join the derived mute set")
	assert.Equal(t, 0.0, drums.lastGain())
}
