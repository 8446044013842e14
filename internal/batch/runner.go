package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/recsync/recsync-agent/internal/logging"
	"github.com/recsync/recsync-agent/internal/metrics"
	"github.com/recsync/recsync-agent/internal/pipeline"
	"github.com/recsync/recsync-agent/internal/session"
)

const DefaultPollInterval = 5 * time.Second

// Processor runs one alignment batch.
type Processor interface {
	Run(ctx context.Context, req session.Request) (*session.Report, error)
}

type RunnerOptions struct {
	Workers      int
	PollInterval time.Duration
}

type Runner struct {
	repo         Repository
	proc         Processor
	doctor       *pipeline.CachedDoctor
	metrics      *metrics.Metrics
	logger       *slog.Logger
	workers      int
	pollInterval time.Duration

	running atomic.Bool
	paused  atomic.Bool
	active  atomic.Value // string: id of the batch being processed
}

func NewRunner(repo Repository, proc Processor, doctor *pipeline.CachedDoctor, m *metrics.Metrics, opts RunnerOptions, logger *slog.Logger) *Runner {
	r := &Runner{
		repo:         repo,
		proc:         proc,
		doctor:       doctor,
		metrics:      m,
		logger:       logging.WithComponent(logger, "runner"),
		workers:      opts.Workers,
		pollInterval: opts.PollInterval,
	}
	if r.pollInterval <= 0 {
		r.pollInterval = DefaultPollInterval
	}
	if r.workers < 1 {
		r.workers = 1
	}
	r.active.Store("")
	return r
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("batch runner started", "poll_interval", r.pollInterval.String())

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("batch runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNext(ctx)
			}
		}
	}
}

// Pause stops new batches from starting. A batch already running finishes.
func (r *Runner) Pause() {
	r.paused.Store(true)
	r.metrics.SetPaused(true)
	r.logger.Info("batch runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.metrics.SetPaused(false)
	r.logger.Info("batch runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ActiveBatch returns the id of the batch being processed, or "".
func (r *Runner) ActiveBatch() string {
	return r.active.Load().(string)
}

// processNext runs the oldest pending batch, if any. It reports whether a
// batch was picked up.
func (r *Runner) processNext(ctx context.Context) bool {
	batches, err := r.repo.ListPendingBatches(ctx)
	if err != nil {
		r.logger.Error("failed to list pending batches", "error", err)
		return false
	}
	r.metrics.SetPending(len(batches))

	if len(batches) == 0 {
		return false
	}

	b := batches[0]
	r.runBatch(ctx, b)
	r.metrics.SetPending(len(batches) - 1)
	return true
}

func (r *Runner) runBatch(ctx context.Context, b *Batch) {
	logger := logging.WithBatchID(r.logger, b.ID)
	logger.Info("processing batch", "input_dir", logging.SanitizePath(b.InputDir))

	r.active.Store(b.ID)
	defer r.active.Store("")

	if err := r.repo.UpdateBatchStatus(ctx, b.ID, StatusRunning, ""); err != nil {
		logger.Error("failed to mark batch running", "error", err)
		return
	}

	if r.doctor != nil {
		caps, err := r.doctor.Get(ctx)
		if err != nil {
			r.fail(ctx, b, fmt.Sprintf("doctor probe failed: %v", err))
			return
		}
		if !caps.Ready {
			r.fail(ctx, b, "ffmpeg tooling not ready, run `recsync doctor`")
			return
		}
	}

	policy, err := session.ParseFailurePolicy(b.FailurePolicy)
	if err != nil {
		r.fail(ctx, b, err.Error())
		return
	}

	tracker := newProgressTracker(func(pct int) {
		if err := r.repo.UpdateBatchProgress(ctx, b.ID, pct); err != nil {
			logger.Warn("failed to update progress", "error", err)
		}
	})

	start := time.Now()
	report, runErr := r.proc.Run(ctx, session.Request{
		InputDir:   b.InputDir,
		OutputDir:  b.OutputDir,
		Align:      b.AlignOptions(),
		Policy:     policy,
		Workers:    r.workers,
		WriteEDL:   b.WriteEDL,
		OnProgress: tracker.update,
	})

	var devices []*Device
	if report != nil {
		b.StartNS = report.Interval.StartNS
		b.EndNS = report.Interval.EndNS
		b.EDLPath = report.EDLPath
		for _, d := range report.Devices {
			devices = append(devices, DeviceFromResult(b.ID, d))
			if d.Frames > b.Frames {
				b.Frames = d.Frames
			}
		}
	}

	if runErr != nil {
		b.Status = StatusFailed
		b.Error = runErr.Error()
		logger.Error("batch failed", "error", runErr)
	} else {
		b.Status = StatusCompleted
		b.Progress = 100
		b.Error = ""
		logger.Info("batch completed", "devices", len(devices), "frames", b.Frames, "duration_ms", time.Since(start).Milliseconds())
	}
	if b.Status == StatusFailed {
		b.Progress = tracker.percent()
	}

	if err := r.repo.SaveResult(ctx, b, devices); err != nil {
		logger.Error("failed to save batch result", "error", err)
	}
	r.metrics.ObserveBatch(b.Status, time.Since(start))
}

func (r *Runner) fail(ctx context.Context, b *Batch, msg string) {
	r.logger.Warn("batch failed before processing", "batch_id", b.ID, "error", msg)
	if err := r.repo.UpdateBatchStatus(ctx, b.ID, StatusFailed, msg); err != nil {
		r.logger.Error("failed to mark batch failed", "batch_id", b.ID, "error", err)
	}
	r.metrics.ObserveBatch(StatusFailed, 0)
}

// progressTracker folds per-device progress into one batch percentage and
// reports it only when it grows.
type progressTracker struct {
	mu      sync.Mutex
	written map[string]int
	last    int
	report  func(int)
}

func newProgressTracker(report func(int)) *progressTracker {
	return &progressTracker{written: make(map[string]int), report: report}
}

func (t *progressTracker) update(p session.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.written[p.DeviceID] = p.Written
	total := p.Total * p.Devices
	if total <= 0 {
		return
	}
	sum := 0
	for _, n := range t.written {
		sum += n
	}
	pct := sum * 100 / total
	// 100 is reserved for a completed batch.
	if pct > 99 {
		pct = 99
	}
	if pct > t.last {
		t.last = pct
		t.report(pct)
	}
}

func (t *progressTracker) percent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
