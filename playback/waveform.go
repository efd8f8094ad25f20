package playback

// Waveform is the mountable render surface of one track. An external
// renderer asks it for peak amplitudes at whatever resolution it draws at;
// the engine itself never renders anything.
type Waveform struct {
	track *Track
}

// Peaks returns bins peak amplitudes in [0, 1] spanning the whole stream.
// It returns nil while the track is still loading or failed to load.
func (w *Waveform) Peaks(bins int) []float64 {
	src := w.track.source()
	if src == nil {
		return nil
	}
	return src.Peaks(bins)
}
