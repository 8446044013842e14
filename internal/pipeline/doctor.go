package pipeline

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Doctor probes the installed ffmpeg, ffprobe and the configured encoder.
func (f *RealFFmpeg) Doctor(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{
		Executables: map[string]DepInfo{
			"ffmpeg":  probeExecutable(ctx, f.ffmpeg),
			"ffprobe": probeExecutable(ctx, f.ffprobe),
		},
	}

	if ff := caps.Executables["ffmpeg"]; ff.Available {
		f.version.Store(ff.Version)
		if args := passthroughArgs(ff.Version); args[0] == "-vsync" {
			f.logger.Warn("ffmpeg predates 5.1, decoding with -vsync", "version", ff.Version)
		}
		out, result := run(ctx, f.ffmpeg, "-hide_banner", "-encoders")
		switch {
		case !result.IsSuccess():
			caps.Encoder = DepInfo{Error: truncate(result.StderrTail, 256)}
		case hasEncoder(string(out), f.codec):
			caps.Encoder = DepInfo{Available: true, Version: f.codec}
		default:
			caps.Encoder = DepInfo{Version: f.codec, Error: "encoder not compiled into ffmpeg"}
		}
	} else {
		caps.Encoder = DepInfo{Version: f.codec, Error: "ffmpeg not available"}
	}

	for _, d := range []DepInfo{caps.Executables["ffmpeg"], caps.Executables["ffprobe"], caps.Encoder} {
		caps.Summary.Total++
		if d.Available {
			caps.Summary.Available++
		}
	}
	caps.Summary.AllOK = caps.Summary.Available == caps.Summary.Total
	caps.Ready = caps.Summary.AllOK
	caps.ProbedAt = time.Now()

	f.logger.Info("doctor probe complete",
		"ready", caps.Ready,
		"deps_available", caps.Summary.Available,
		"deps_total", caps.Summary.Total,
	)
	return caps, nil
}

func probeExecutable(ctx context.Context, bin string) DepInfo {
	path, err := exec.LookPath(bin)
	if err != nil {
		return DepInfo{Error: err.Error()}
	}
	out, result := run(ctx, path, "-version")
	if !result.IsSuccess() {
		return DepInfo{Path: path, Error: truncate(result.StderrTail, 256)}
	}
	return DepInfo{Available: true, Path: path, Version: parseVersion(string(out))}
}

// parseVersion extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

// hasEncoder scans `ffmpeg -encoders` output, whose rows look like
// " V....D libx264              libx264 H.264 ...".
func hasEncoder(listing, codec string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == codec {
			return true
		}
	}
	return false
}

// Prober is the part of FFmpeg the doctor cache needs.
type Prober interface {
	Doctor(ctx context.Context) (*Capabilities, error)
}

// CachedDoctor wraps a Prober to cache results with a configurable TTL.
// This avoids spawning ffmpeg on every status request.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around doctor probes.
func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Doctor(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
