package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
)

const (
	// gainBase is the exponent base for the volume effect.
	gainBase = 2

	// resampleQuality trades CPU for interpolation accuracy.
	resampleQuality = 4
)

// output owns the speaker and the top-level mixer every track renders into.
// The speaker is initialized once, on first Start.
type output struct {
	rate   beep.SampleRate
	buffer time.Duration
	mixer  *beep.Mixer

	once    sync.Once
	initErr error
}

func newOutput(sampleRate int, buffer time.Duration) *output {
	return &output{
		rate:   beep.SampleRate(sampleRate),
		buffer: buffer,
		mixer:  &beep.Mixer{},
	}
}

func (o *output) start() error {
	o.once.Do(func() {
		o.initErr = speaker.Init(o.rate, o.rate.N(o.buffer))
		if o.initErr != nil {
			o.initErr = fmt.Errorf("failed to initialize speaker: %w", o.initErr)
			return
		}
		speaker.Play(o.mixer)
	})
	return o.initErr
}

func (o *output) close() {
	speaker.Close()
}

// open fetches one stem, decodes it fully into memory and attaches it to the
// speaker mixer, paused. Predecoding keeps seeks sample-exact and cheap, at
// the cost of holding each stem's PCM in RAM.
func (o *output) open(ctx context.Context, url string) (Source, error) {
	data, err := fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	streamer, format, err := decode(url, data)
	if err != nil {
		return nil, err
	}

	buf := beep.NewBuffer(format)
	buf.Append(streamer)
	streamer.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("decoded stream is empty: %s", url)
	}

	s := &beepSource{
		format: format,
		buf:    buf,
		seeker: buf.Streamer(0, buf.Len()),
	}

	var chain beep.Streamer = s.seeker
	if format.SampleRate != o.rate {
		chain = beep.Resample(resampleQuality, format.SampleRate, o.rate, chain)
	}
	s.vol = &effects.Volume{Streamer: chain, Base: gainBase}
	s.ctrl = &beep.Ctrl{Streamer: keepAlive{s.vol}, Paused: true}

	speaker.Lock()
	o.mixer.Add(s.ctrl)
	speaker.Unlock()

	return s, nil
}

func fetch(ctx context.Context, url string) ([]byte, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
		}
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(url)
}

func decode(url string, data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	name := url
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".mp3":
		return mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	case ".flac":
		return flac.Decode(bytes.NewReader(data))
	default:
		// Demucs emits wav; treat unknown extensions the same way.
		return wav.Decode(bytes.NewReader(data))
	}
}

// beepSource adapts one predecoded beep stream to the Source interface. All
// mutations of the ctrl/volume/seeker happen under the speaker lock because
// the render thread reads them concurrently.
type beepSource struct {
	format beep.Format
	buf    *beep.Buffer
	seeker beep.StreamSeeker
	vol    *effects.Volume
	ctrl   *beep.Ctrl

	peakMu   sync.Mutex
	peaks    []float64
	peakBins int
}

func (s *beepSource) Play() error {
	speaker.Lock()
	s.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

func (s *beepSource) Pause() error {
	speaker.Lock()
	s.ctrl.Paused = true
	speaker.Unlock()
	return nil
}

func (s *beepSource) Seek(pos time.Duration) error {
	n := s.format.SampleRate.N(pos)
	if n < 0 {
		n = 0
	}
	if n >= s.seeker.Len() {
		n = s.seeker.Len() - 1
	}
	speaker.Lock()
	err := s.seeker.Seek(n)
	speaker.Unlock()
	return err
}

func (s *beepSource) Position() time.Duration {
	speaker.Lock()
	n := s.seeker.Position()
	speaker.Unlock()
	return s.format.SampleRate.D(n)
}

func (s *beepSource) Duration() time.Duration {
	return s.format.SampleRate.D(s.seeker.Len())
}

func (s *beepSource) Playing() bool {
	speaker.Lock()
	playing := !s.ctrl.Paused && s.ctrl.Streamer != nil
	speaker.Unlock()
	return playing
}

func (s *beepSource) SetGain(gain float64) {
	speaker.Lock()
	if gain <= 0 {
		s.vol.Silent = true
	} else {
		s.vol.Silent = false
		s.vol.Volume = math.Log2(gain)
	}
	speaker.Unlock()
}

func (s *beepSource) Peaks(bins int) []float64 {
	if bins <= 0 || s.buf.Len() == 0 {
		return nil
	}
	s.peakMu.Lock()
	defer s.peakMu.Unlock()
	if s.peakBins == bins {
		return s.peaks
	}

	peaks := make([]float64, bins)
	st := s.buf.Streamer(0, s.buf.Len())
	chunk := make([][2]float64, 1024)
	total := s.buf.Len()
	pos := 0
	for {
		n, ok := st.Stream(chunk)
		for i := 0; i < n; i++ {
			bin := (pos + i) * bins / total
			if bin >= bins {
				bin = bins - 1
			}
			a := math.Abs(chunk[i][0])
			if b := math.Abs(chunk[i][1]); b > a {
				a = b
			}
			if a > peaks[bin] {
				peaks[bin] = a
			}
		}
		pos += n
		if !ok {
			break
		}
	}

	s.peaks, s.peakBins = peaks, bins
	return peaks
}

// Close detaches the stream from the speaker mixer. Nil-ing the ctrl's
// streamer makes it report drained, which is how the beep mixer drops it.
func (s *beepSource) Close() error {
	speaker.Lock()
	s.ctrl.Streamer = nil
	s.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

// keepAlive pads silence once the wrapped streamer drains, so a track that
// reaches its end is not evicted from the speaker mixer and can be rewound
// by a later seek.
type keepAlive struct {
	s beep.Streamer
}

func (k keepAlive) Stream(samples [][2]float64) (int, bool) {
	n, ok := k.s.Stream(samples)
	if !ok || n < len(samples) {
		for i := n; i < len(samples); i++ {
			samples[i] = [2]float64{}
		}
		return len(samples), true
	}
	return n, true
}

func (k keepAlive) Err() error {
	return k.s.Err()
}
