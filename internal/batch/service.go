package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/recsync/recsync-agent/internal/export"
	"github.com/recsync/recsync-agent/internal/session"
	"github.com/recsync/recsync-agent/internal/timeline"
)

var ErrInvalidRequest = errors.New("invalid batch request")

// SubmitRequest carries a new batch. Nil and empty fields take the agent's
// configured defaults.
type SubmitRequest struct {
	InputDir      string `json:"input_dir"`
	OutputDir     string `json:"output_dir"`
	ThresholdMS   *int64 `json:"threshold_ms,omitempty"`
	TrimMode      string `json:"trim_mode,omitempty"`
	CheckSlots    *bool  `json:"check_slots,omitempty"`
	FailurePolicy string `json:"failure_policy,omitempty"`
	WriteEDL      *bool  `json:"write_edl,omitempty"`
}

// Defaults are applied to fields a SubmitRequest leaves unset.
type Defaults struct {
	Align    timeline.AlignOptions
	Policy   session.FailurePolicy
	WriteEDL bool
}

type Service struct {
	repo     Repository
	defaults Defaults
	logger   *slog.Logger
}

func NewService(repo Repository, defaults Defaults, logger *slog.Logger) *Service {
	if defaults.Align.Mode == "" {
		defaults.Align.Mode = timeline.TrimTolerant
	}
	if defaults.Policy == "" {
		defaults.Policy = session.PolicyAbort
	}
	return &Service{repo: repo, defaults: defaults, logger: logger}
}

// Submit validates req and stores it as a pending batch.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Batch, error) {
	inputDir, outputDir, err := requestDirs(req.InputDir, req.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	opts := s.defaults.Align
	if req.ThresholdMS != nil {
		if *req.ThresholdMS < 0 {
			return nil, fmt.Errorf("%w: threshold_ms must not be negative", ErrInvalidRequest)
		}
		opts.ThresholdNS = (time.Duration(*req.ThresholdMS) * time.Millisecond).Nanoseconds()
	}
	if req.TrimMode != "" {
		mode, err := timeline.ParseTrimMode(req.TrimMode)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		opts.Mode = mode
	}
	if req.CheckSlots != nil {
		opts.CheckSlots = *req.CheckSlots
	}

	policy := s.defaults.Policy
	if req.FailurePolicy != "" {
		policy, err = session.ParseFailurePolicy(req.FailurePolicy)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	writeEDL := s.defaults.WriteEDL
	if req.WriteEDL != nil {
		writeEDL = *req.WriteEDL
	}

	now := time.Now()
	b := &Batch{
		ID:            NewID(),
		InputDir:      inputDir,
		OutputDir:     outputDir,
		ThresholdNS:   opts.ThresholdNS,
		TrimMode:      string(opts.Mode),
		CheckSlots:    opts.CheckSlots,
		FailurePolicy: string(policy),
		WriteEDL:      writeEDL,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateBatch(ctx, b); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("batch submitted", "batch_id", b.ID, "input_dir", inputDir, "output_dir", outputDir)
	}
	return b, nil
}

func (s *Service) GetBatch(ctx context.Context, id string) (*Batch, error) {
	return s.repo.GetBatch(ctx, id)
}

func (s *Service) ListBatches(ctx context.Context, limit int) ([]*Batch, error) {
	return s.repo.ListBatches(ctx, limit)
}

func (s *Service) GetDevices(ctx context.Context, batchID string) ([]*Device, error) {
	return s.repo.ListDevices(ctx, batchID)
}

func (s *Service) GetDevice(ctx context.Context, batchID, deviceID string) (*Device, error) {
	return s.repo.GetDevice(ctx, batchID, deviceID)
}

func (s *Service) CountBatches(ctx context.Context, status string) (int, error) {
	return s.repo.CountBatches(ctx, status)
}

// requestDirs applies the API path rules on top of the session folder checks.
func requestDirs(input, output string) (string, string, error) {
	if err := export.ValidateDir(input, "input_dir"); err != nil {
		return "", "", err
	}
	if err := export.ValidateDir(output, "output_dir"); err != nil {
		return "", "", err
	}
	return export.SessionDirs(input, output)
}
