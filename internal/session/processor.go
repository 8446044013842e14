package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/recsync/recsync-agent/internal/compose"
	"github.com/recsync/recsync-agent/internal/export"
	"github.com/recsync/recsync-agent/internal/logging"
	"github.com/recsync/recsync-agent/internal/metrics"
	"github.com/recsync/recsync-agent/internal/pipeline"
	"github.com/recsync/recsync-agent/internal/timeline"
)

var tracer = otel.Tracer("github.com/recsync/recsync-agent/internal/session")

// FailurePolicy decides what happens to the other devices when one device
// fails to compose.
type FailurePolicy string

const (
	// PolicyAbort cancels every other device on the first failure.
	PolicyAbort FailurePolicy = "abort"
	// PolicyContinue lets the other devices finish and reports all failures.
	PolicyContinue FailurePolicy = "continue"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicyContinue:
		return PolicyContinue, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want %s or %s)", s, PolicyAbort, PolicyContinue)
	}
}

// DeviceError attaches a device id to a failure.
type DeviceError struct {
	DeviceID string
	Err      error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.DeviceID, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Progress reports frames written for one device. Every device of a batch
// has the same Total.
type Progress struct {
	DeviceID string
	Written  int
	Total    int
	Devices  int
}

// ProgressFunc receives composition progress. It may be called from several
// goroutines at once.
type ProgressFunc func(Progress)

// Request describes one batch.
type Request struct {
	InputDir  string
	OutputDir string
	Align     timeline.AlignOptions
	Policy    FailurePolicy
	Workers   int
	WriteEDL  bool
	// StepNS, when positive, replaces the per-device step estimate.
	StepNS int64
	// SessionName names the EDL file; defaults to the input dir's base name.
	SessionName string
	OnProgress  ProgressFunc

	devices int
}

// DeviceResult is the outcome for one device.
type DeviceResult struct {
	DeviceID       string  `json:"device_id"`
	SourceVideo    string  `json:"source_video"`
	Video          string  `json:"video,omitempty"`
	Sidecar        string  `json:"sidecar,omitempty"`
	StepNS         int64   `json:"step_ns"`
	OriginalFrames int     `json:"original_frames"`
	RepairedFrames int     `json:"repaired_frames"`
	Frames         int     `json:"frames"`
	Synthesized    int     `json:"synthesized"`
	FrameRate      float64 `json:"frame_rate,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// Report summarises a batch. It is returned even when the batch fails, with
// as much filled in as was known at the time.
type Report struct {
	Interval  timeline.Interval `json:"interval"`
	Devices   []DeviceResult    `json:"devices"`
	EDLPath   string            `json:"edl_path,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}

// Processor runs batches against an FFmpeg implementation.
type Processor struct {
	ffmpeg  pipeline.FFmpeg
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewProcessor(ff pipeline.FFmpeg, logger *slog.Logger, m *metrics.Metrics) *Processor {
	return &Processor{
		ffmpeg:  ff,
		logger:  logging.WithComponent(logger, "session"),
		metrics: m,
	}
}

// Run processes every device found under req.InputDir and writes one video
// and one sidecar per device into req.OutputDir.
func (p *Processor) Run(ctx context.Context, req Request) (*Report, error) {
	ctx, span := tracer.Start(ctx, "session.Run",
		trace.WithAttributes(
			attribute.String("input_dir", req.InputDir),
			attribute.String("output_dir", req.OutputDir),
		),
	)
	defer span.End()

	report := &Report{StartedAt: time.Now()}
	err := p.run(ctx, req, report)
	report.Duration = time.Since(report.StartedAt)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		return report, err
	}
	span.SetAttributes(attribute.Int("devices", len(report.Devices)))
	span.SetStatus(codes.Ok, "aligned")
	return report, nil
}

func (p *Processor) run(ctx context.Context, req Request, report *Report) error {
	if req.Workers < 1 {
		req.Workers = 1
	}
	if req.Policy == "" {
		req.Policy = PolicyAbort
	}
	if _, _, err := export.SessionDirs(req.InputDir, req.OutputDir); err != nil {
		return err
	}

	p.logger.Info("scanning session", "input_dir", logging.SanitizePath(req.InputDir))
	devices, err := Discover(req.InputDir, p.logger)
	if err != nil {
		return err
	}

	req.devices = len(devices)
	originals := make([]timeline.Table, len(devices))
	repaired := make([]timeline.Track, len(devices))
	report.Devices = make([]DeviceResult, len(devices))

	for i, dev := range devices {
		res := &report.Devices[i]
		res.DeviceID = dev.ID
		res.SourceVideo = dev.VideoPath

		table, err := ReadTable(dev.TablePath)
		if err != nil {
			return p.failDevice(res, err)
		}
		step := req.StepNS
		if step <= 0 {
			if step, err = timeline.EstimateStep(table); err != nil {
				return p.failDevice(res, err)
			}
		}
		fixed, err := timeline.RepairWithStep(table, step)
		if err != nil {
			return p.failDevice(res, err)
		}

		originals[i] = table
		repaired[i] = timeline.Track{DeviceID: dev.ID, Table: fixed}
		res.StepNS = step
		res.OriginalFrames = len(table)
		res.RepairedFrames = len(fixed)

		p.logger.Info("repaired table",
			"device_id", dev.ID,
			"frames", len(table),
			"step_ns", step,
			"synthesized", fixed.SynthesizedCount(),
		)
	}

	_, alignSpan := tracer.Start(ctx, "session.Align")
	iv, trimmed, err := timeline.Align(repaired, req.Align)
	alignSpan.End()
	report.Interval = iv
	if err != nil {
		return err
	}
	p.logger.Info("aligned batch",
		"start_ns", iv.StartNS,
		"end_ns", iv.EndNS,
		"frames", len(trimmed[0].Table),
		"threshold_ns", req.Align.ThresholdNS,
		"mode", req.Align.Mode,
	)

	if err := p.composeAll(ctx, req, devices, originals, trimmed, report); err != nil {
		return err
	}

	if req.WriteEDL {
		path, err := p.writeEDL(req, report)
		if err != nil {
			return err
		}
		report.EDLPath = path
	}
	return nil
}

func (p *Processor) failDevice(res *DeviceResult, err error) error {
	res.Error = err.Error()
	return &DeviceError{DeviceID: res.DeviceID, Err: err}
}

func (p *Processor) composeAll(ctx context.Context, req Request, devices []Device, originals []timeline.Table, trimmed []timeline.Track, report *Report) error {
	g, gctx := &errgroup.Group{}, ctx
	if req.Policy == PolicyAbort {
		g, gctx = errgroup.WithContext(ctx)
	}
	g.SetLimit(req.Workers)

	errs := make([]error, len(devices))
	for i, dev := range devices {
		g.Go(func() error {
			res := &report.Devices[i]
			err := p.composeDevice(gctx, req, dev, originals[i], trimmed[i].Table, res)
			if err != nil {
				res.Error = err.Error()
				errs[i] = &DeviceError{DeviceID: dev.ID, Err: err}
				if req.Policy == PolicyAbort {
					return errs[i]
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (p *Processor) composeDevice(ctx context.Context, req Request, dev Device, original, trimmed timeline.Table, res *DeviceResult) (err error) {
	ctx, span := tracer.Start(ctx, "session.composeDevice",
		trace.WithAttributes(attribute.String("device_id", dev.ID)),
	)
	start := time.Now()
	var stats compose.Stats
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "compose failed")
		}
		span.End()
		p.metrics.ObserveDevice(err == nil, stats.Copied, stats.Synthesized, time.Since(start))
	}()

	logger := logging.WithDevice(p.logger, dev.ID)

	info, err := p.ffmpeg.Probe(ctx, dev.VideoPath)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	if err := info.Validate(); err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	res.FrameRate = info.FrameRate
	if info.FrameCount > 0 && info.FrameCount != len(original) {
		logger.Warn("video frame count differs from table",
			"video_frames", info.FrameCount,
			"table_frames", len(original),
		)
	}

	staging, err := os.MkdirTemp(req.OutputDir, ".recsync-"+dev.ID+"-")
	if err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	stagedVideo := filepath.Join(staging, dev.ID+".mp4")
	stagedSidecar := filepath.Join(staging, dev.ID+".csv")

	src, err := p.ffmpeg.OpenDecoder(ctx, dev.VideoPath, info)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	defer src.Close()

	sink, err := p.ffmpeg.OpenEncoder(ctx, stagedVideo, info)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	comp := compose.NewCompositor(logger)
	if req.OnProgress != nil {
		total, devices := len(trimmed), req.devices
		comp.OnFrame = func(written int) {
			req.OnProgress(Progress{DeviceID: dev.ID, Written: written, Total: total, Devices: devices})
		}
	}

	logger.Info("composing device", "frames", len(trimmed), "width", info.Width, "height", info.Height)
	stats, err = comp.Compose(ctx, src, sink, info.FrameSize(), original, trimmed)
	if err != nil {
		sink.Abort()
		return err
	}
	if err := sink.Close(); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := WriteSidecar(stagedSidecar, trimmed); err != nil {
		return err
	}

	finalVideo := filepath.Join(req.OutputDir, dev.ID+".mp4")
	finalSidecar := filepath.Join(req.OutputDir, dev.ID+".csv")
	if err := os.Rename(stagedVideo, finalVideo); err != nil {
		return fmt.Errorf("failed to move video into place: %w", err)
	}
	if err := os.Rename(stagedSidecar, finalSidecar); err != nil {
		os.Remove(finalVideo)
		return fmt.Errorf("failed to move sidecar into place: %w", err)
	}

	res.Video = finalVideo
	res.Sidecar = finalSidecar
	res.Frames = stats.Frames
	res.Synthesized = stats.Synthesized

	logger.Info("device complete",
		"frames", stats.Frames,
		"copied", stats.Copied,
		"synthesized", stats.Synthesized,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *Processor) writeEDL(req Request, report *Report) (string, error) {
	name := req.SessionName
	if name == "" {
		name = filepath.Base(req.InputDir)
	}
	name = export.SanitizeName(name, 64)
	if name == "" {
		name = "session"
	}

	clips := make([]export.Clip, len(report.Devices))
	for i, d := range report.Devices {
		clips[i] = export.Clip{DeviceID: d.DeviceID, MediaPath: d.Video, Frames: d.Frames}
	}

	path := filepath.Join(req.OutputDir, name+".edl")
	if err := export.WriteMulticamEDL(path, clips, name, report.Devices[0].FrameRate); err != nil {
		return "", err
	}
	return path, nil
}
