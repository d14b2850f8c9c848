package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"smart-gallery/internal/logging"
	"smart-gallery/internal/metrics"
)

// DefaultProbeTimeout bounds a single ffprobe invocation.
const DefaultProbeTimeout = 15 * time.Second

// ErrToolMissing is returned when an external tool is not installed.
var ErrToolMissing = errors.New("external tool not available")

// FindTool returns the executable for name, preferring manual when it points
// at an existing file. An empty result means the tool is unavailable.
func FindTool(manual, name string) string {
	if manual != "" {
		if info, err := os.Stat(manual); err == nil && !info.IsDir() {
			return manual
		}
		logging.Warn("Configured %s path %s is not usable, searching PATH", name, manual)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return p
}

// Prober runs ffprobe with a bounded timeout.
type Prober struct {
	path    string
	timeout time.Duration
}

// NewProber creates a Prober for the ffprobe binary at path. An empty path
// yields a Prober that always reports ErrToolMissing.
func NewProber(path string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{path: path, timeout: timeout}
}

// Available reports whether ffprobe was found.
func (p *Prober) Available() bool {
	return p != nil && p.path != ""
}

type probeStream struct {
	CodecType string            `json:"codec_type"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Duration  string            `json:"duration"`
	Tags      map[string]string `json:"tags"`
}

type probeFormat struct {
	Duration string            `json:"duration"`
	Tags     map[string]string `json:"tags"`
}

type probeResult struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

// videoStream returns the first video stream, if any.
func (r *probeResult) videoStream() *probeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// probe returns ffprobe's format section and, when streams is set, the
// stream list for path.
func (p *Prober) probe(ctx context.Context, path string, streams bool) (*probeResult, error) {
	if !p.Available() {
		metrics.ProberFailures.WithLabelValues("missing").Inc()
		return nil, ErrToolMissing
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{"-v", "quiet", "-print_format", "json", "-show_format"}
	if streams {
		args = append(args, "-show_streams")
	}
	args = append(args, path)

	start := time.Now()
	cmd := exec.CommandContext(ctx, p.path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	metrics.ProberDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			metrics.ProberFailures.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("ffprobe timed out after %v: %w", p.timeout, ctx.Err())
		}
		metrics.ProberFailures.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	var result probeResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		metrics.ProberFailures.WithLabelValues("parse").Inc()
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return &result, nil
}
