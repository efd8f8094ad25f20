package separation

// Types in this file mirror the separation service's JSON documents. The
// playback engine treats all of it as opaque display metadata.

// JobStatus is the separation job lifecycle as reported by the service.
type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
	StatusNotFound   JobStatus = "not_found"
)

// AudioFeatures is the librosa-derived feature block. Fields the service
// could not compute come back as null, hence the pointers.
type AudioFeatures struct {
	BPM               *float64  `json:"bpm"`
	BPMConfidence     float64   `json:"bpm_confidence"`
	Key               string    `json:"key"`
	KeyConfidence     float64   `json:"key_confidence"`
	Duration          *float64  `json:"duration"`
	SpectralCentroid  *float64  `json:"spectral_centroid"`
	SpectralRolloff   *float64  `json:"spectral_rolloff"`
	SpectralBandwidth *float64  `json:"spectral_bandwidth"`
	ZeroCrossingRate  *float64  `json:"zero_crossing_rate"`
	DynamicRange      *float64  `json:"dynamic_range"`
	MFCC              []float64 `json:"mfcc_features"`
	SampleRate        *int      `json:"sample_rate"`
	Success           bool      `json:"analysis_success"`
	Error             string    `json:"error,omitempty"`
}

// GeminiAnalysis is the AI understanding block attached to the original
// track and to each stem.
type GeminiAnalysis struct {
	Success         bool     `json:"success"`
	Error           string   `json:"error,omitempty"`
	Tags            []string `json:"tags"`
	Description     string   `json:"description"`
	Transcription   string   `json:"transcription"`
	GenreConfidence float64  `json:"genre_confidence"`
	HasVocals       bool     `json:"has_vocals"`
	EnergyLevel     int      `json:"energy_level"`
	Instruments     []string `json:"instruments_detected"`
}

// Analysis combines both blocks the way the service nests them per stem.
type Analysis struct {
	AudioFeatures
	Gemini *GeminiAnalysis `json:"gemini_analysis,omitempty"`
}

// JobProgress is one frame of the service's progress stream.
type JobProgress struct {
	Status        JobStatus            `json:"status"`
	Progress      int                  `json:"progress"`
	Message       string               `json:"message"`
	Filename      string               `json:"filename"`
	DownloadURL   string               `json:"download_url,omitempty"`
	AudioFeatures *AudioFeatures       `json:"audio_features"`
	Gemini        *GeminiAnalysis      `json:"gemini_analysis"`
	StemAnalyses  map[string]*Analysis `json:"stem_analyses,omitempty"`
}

// Terminal reports whether the stream will produce no further frames.
func (p JobProgress) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusError || p.Status == StatusNotFound
}

// StemFile is one downloaded, locally decodable stem.
type StemFile struct {
	ID       string
	Path     string
	Analysis *Analysis
}

// Result is a completed separation: the downloaded stems plus the analysis
// of the original track.
type Result struct {
	JobID         string
	Name          string
	Dir           string
	Stems         []StemFile
	AudioFeatures *AudioFeatures
	Gemini        *GeminiAnalysis
}
