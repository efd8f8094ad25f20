package playback

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stemsplit/config"
)

// fakeSource simulates the platform audio primitive so the engine can be
// tested headless. Position and duration are set directly by tests.
type fakeSource struct {
	mu      sync.Mutex
	playing bool
	pos     time.Duration
	dur     time.Duration
	gain    float64
	gains   []float64
	seeks   []time.Duration
	closed  bool

	playErr  error
	pauseErr error
	seekErr  error
}

func (f *fakeSource) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.playing = true
	return nil
}

func (f *fakeSource) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pauseErr != nil {
		return f.pauseErr
	}
	f.playing = false
	return nil
}

func (f *fakeSource) Seek(pos time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seekErr != nil {
		return f.seekErr
	}
	f.seeks = append(f.seeks, pos)
	f.pos = pos
	return nil
}

func (f *fakeSource) Position() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

func (f *fakeSource) Duration() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dur
}

func (f *fakeSource) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeSource) SetGain(gain float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gain = gain
	f.gains = append(f.gains, gain)
}

func (f *fakeSource) Peaks(bins int) []float64 {
	return make([]float64, bins)
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) setPos(pos time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = pos
}

func (f *fakeSource) seekTargets() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.seeks...)
}

func (f *fakeSource) lastGain() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gain
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeOpener hands out pre-registered fake sources by url and counts opens.
type fakeOpener struct {
	mu      sync.Mutex
	sources map[string]*fakeSource
	errs    map[string]error
	blocked map[string]chan struct{}
	opens   map[string]int
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		sources: make(map[string]*fakeSource),
		errs:    make(map[string]error),
		blocked: make(map[string]chan struct{}),
		opens:   make(map[string]int),
	}
}

func (o *fakeOpener) add(url string, dur time.Duration) *fakeSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	src := &fakeSource{dur: dur}
	o.sources[url] = src
	return src
}

func (o *fakeOpener) fail(url string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs[url] = err
}

// block makes loading of url hang until the returned channel is closed.
func (o *fakeOpener) block(url string) chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := make(chan struct{})
	o.blocked[url] = ch
	return ch
}

func (o *fakeOpener) open(ctx context.Context, url string) (Source, error) {
	o.mu.Lock()
	o.opens[url]++
	gate := o.blocked[url]
	err := o.errs[url]
	src := o.sources[url]
	o.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("no fake source for %s", url)
	}
	return src, nil
}

func (o *fakeOpener) openCount(url string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[url]
}

func testConfig() config.PlaybackConfig {
	return config.PlaybackConfig{
		SampleRate:     44100,
		BufferSize:     100 * time.Millisecond,
		DriftInterval:  time.Hour, // cycles are driven manually in tests
		DriftTolerance: 200 * time.Millisecond,
		SeekTolerance:  100 * time.Millisecond,
		SettleDelay:    time.Millisecond,
	}
}

func newTestSession(t *testing.T, open *fakeOpener) *Session {
	t.Helper()
	s := New(testConfig(), WithOpener(open.open))
	t.Cleanup(s.Close)
	return s
}

// loadStems registers the stems and waits until every track that has a fake
// source reaches Ready.
func loadStems(t *testing.T, s *Session, stems ...Stem) {
	t.Helper()
	require.NoError(t, s.Registry().SetStems(stems))
	require.Eventually(t, func() bool {
		for _, st := range stems {
			tr, err := s.Registry().Get(st.ID)
			if err != nil {
				return false
			}
			if st := tr.State(); st == TrackLoading {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond, "stems did not finish loading")
}

func stem(id string) Stem {
	return Stem{ID: id, URL: id + ".wav"}
}
