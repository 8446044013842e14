// Package pipeline drives ffmpeg and ffprobe as subprocesses: probing source
// videos, decoding them to raw frames and encoding raw frames back into a
// container.
package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BytesPerPixel of the rgb24 frames exchanged with ffmpeg.
const BytesPerPixel = 3

// ProbeResult describes the first video stream of a file.
type ProbeResult struct {
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Codec      string  `json:"codec"`
	PixFmt     string  `json:"pix_fmt"`
	Bitrate    int64   `json:"bitrate"`
	FrameRate  float64 `json:"frame_rate"`
	FrameCount int     `json:"frame_count"`
	// RateExpr keeps the exact rational rate reported by ffprobe, e.g. "30000/1001".
	RateExpr string `json:"rate_expr"`
}

// FrameSize returns the byte size of one decoded rgb24 frame.
func (p ProbeResult) FrameSize() int {
	return p.Width * p.Height * BytesPerPixel
}

// Validate checks the fields needed to rebuild a matching video.
func (p ProbeResult) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("invalid resolution: %dx%d", p.Width, p.Height)
	}
	if p.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate: %q", p.RateExpr)
	}
	return nil
}

// Rate returns the value to pass to ffmpeg's -framerate.
func (p ProbeResult) Rate() string {
	if p.RateExpr != "" {
		return p.RateExpr
	}
	return strconv.FormatFloat(p.FrameRate, 'f', -1, 64)
}

// Capabilities reports the installed ffmpeg tooling, as gathered by Doctor.
type Capabilities struct {
	Executables map[string]DepInfo `json:"executables"`
	Encoder     DepInfo            `json:"encoder"`
	Summary     SummaryInfo        `json:"summary"`

	Ready    bool      `json:"ready"`
	ProbedAt time.Time `json:"probed_at"`
}

// DepInfo represents the availability status of a single dependency.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SummaryInfo summarises overall dependency status.
type SummaryInfo struct {
	Available int  `json:"available"`
	Total     int  `json:"total"`
	AllOK     bool `json:"all_ok"`
}

// RunResult is the structured outcome of executing a subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// parseRate turns an ffprobe rate such as "30000/1001" or "25" into fps.
func parseRate(expr string) float64 {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0
	}
	num, den, found := strings.Cut(expr, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
