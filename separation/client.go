package separation

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client talks to the StemSplitter separation service. The engine never sees
// this protocol: the client's job is to eventually hand over a finalized,
// locally decodable stem list.
type Client struct {
	log     *slog.Logger
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL. The timeout applies
// to the upload and download requests; the progress stream is bounded by its
// context instead, because separation takes minutes.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		log:     slog.With("component", "separation"),
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Separate uploads the audio file and returns the id of the started job.
func (c *Client) Separate(ctx context.Context, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/separate", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload: %s", serviceError(resp))
	}

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("service returned no job id")
	}

	c.log.Info("separation started", slog.String("job", out.JobID))
	return out.JobID, nil
}

// Watch follows the job's server-sent progress stream, invoking fn for every
// frame, until the job reaches a terminal status or the context is
// cancelled. It returns the final frame.
func (c *Client) Watch(ctx context.Context, jobID string, fn func(JobProgress)) (JobProgress, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/progress/"+jobID, nil)
	if err != nil {
		return JobProgress{}, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// A dedicated client: the stream outlives any sane request timeout.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return JobProgress{}, fmt.Errorf("progress stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return JobProgress{}, fmt.Errorf("progress stream: %s", serviceError(resp))
	}

	var last JobProgress
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var p JobProgress
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &p); err != nil {
			c.log.Warn("bad progress frame", slog.Any("err", err))
			continue
		}
		last = p
		if fn != nil {
			fn(p)
		}

		switch p.Status {
		case StatusCompleted:
			return last, nil
		case StatusError:
			return last, fmt.Errorf("separation failed: %s", p.Message)
		case StatusNotFound:
			return last, fmt.Errorf("job %s not found", jobID)
		}
	}
	if err := scanner.Err(); err != nil {
		return last, fmt.Errorf("progress stream: %w", err)
	}
	return last, fmt.Errorf("progress stream ended before job %s finished", jobID)
}

// Download fetches the job's result archive and extracts the audio files
// into destDir. It returns the extracted paths in name order.
func (c *Client) Download(ctx context.Context, jobID, destDir string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/download/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: %s", serviceError(resp))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open result archive: %w", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}

	var paths []string
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() || !decodable(zf.Name) {
			continue
		}
		// Flatten: the archive may carry directory prefixes from the
		// separator's output tree, and names must not escape destDir.
		dest := filepath.Join(destDir, filepath.Base(zf.Name))
		if err := extractFile(zf, dest); err != nil {
			return nil, fmt.Errorf("extract %s: %w", zf.Name, err)
		}
		paths = append(paths, dest)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("result archive for job %s contains no audio", jobID)
	}

	sort.Strings(paths)
	c.log.Info("stems downloaded", slog.String("job", jobID), slog.Int("count", len(paths)))
	return paths, nil
}

// FetchResult downloads a completed job into a fresh directory under baseDir
// and assembles the stem list with its per-stem analysis attached.
func (c *Client) FetchResult(ctx context.Context, jobID string, prog JobProgress, baseDir string) (*Result, error) {
	if prog.Status != StatusCompleted {
		return nil, fmt.Errorf("job %s is not completed (status %s)", jobID, prog.Status)
	}

	name := prog.Filename
	if name == "" {
		name = jobID
	}
	dir := filepath.Join(baseDir, fmt.Sprintf("%s_%s", name, uuid.NewString()[:8]))

	paths, err := c.Download(ctx, jobID, dir)
	if err != nil {
		return nil, err
	}

	res := &Result{
		JobID:         jobID,
		Name:          name,
		Dir:           dir,
		AudioFeatures: prog.AudioFeatures,
		Gemini:        prog.Gemini,
	}
	for _, p := range paths {
		id := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		res.Stems = append(res.Stems, StemFile{
			ID:       id,
			Path:     p,
			Analysis: prog.StemAnalyses[id],
		})
	}
	return res, nil
}

func decodable(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".mp3", ".flac":
		return true
	default:
		return false
	}
}

func extractFile(zf *zip.File, dest string) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func serviceError(resp *http.Response) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
		return e.Error
	}
	return resp.Status
}
