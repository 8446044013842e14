// Package batch persists alignment batches and runs them in the background.
package batch

import (
	"time"

	"github.com/google/uuid"

	"github.com/recsync/recsync-agent/internal/session"
	"github.com/recsync/recsync-agent/internal/timeline"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Batch struct {
	ID            string    `json:"id"`
	InputDir      string    `json:"input_dir"`
	OutputDir     string    `json:"output_dir"`
	ThresholdNS   int64     `json:"threshold_ns"`
	TrimMode      string    `json:"trim_mode"`
	CheckSlots    bool      `json:"check_slots"`
	FailurePolicy string    `json:"failure_policy"`
	WriteEDL      bool      `json:"write_edl"`
	Status        string    `json:"status"`
	Progress      int       `json:"progress"`
	Error         string    `json:"error,omitempty"`
	StartNS       int64     `json:"start_ns"`
	EndNS         int64     `json:"end_ns"`
	Frames        int       `json:"frames"`
	EDLPath       string    `json:"edl_path,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AlignOptions returns the trim configuration stored with the batch.
func (b *Batch) AlignOptions() timeline.AlignOptions {
	return timeline.AlignOptions{
		ThresholdNS: b.ThresholdNS,
		Mode:        timeline.TrimMode(b.TrimMode),
		CheckSlots:  b.CheckSlots,
	}
}

// IsFinished reports whether the batch reached a terminal status.
func (b *Batch) IsFinished() bool {
	return b.Status == StatusCompleted || b.Status == StatusFailed
}

// Device is the stored outcome of one device of a batch.
type Device struct {
	BatchID        string `json:"batch_id"`
	DeviceID       string `json:"device_id"`
	SourceVideo    string `json:"source_video"`
	VideoPath      string `json:"video_path,omitempty"`
	SidecarPath    string `json:"sidecar_path,omitempty"`
	StepNS         int64  `json:"step_ns"`
	OriginalFrames int    `json:"original_frames"`
	RepairedFrames int    `json:"repaired_frames"`
	Frames         int    `json:"frames"`
	Synthesized    int    `json:"synthesized"`
	Error          string `json:"error,omitempty"`
}

func DeviceFromResult(batchID string, r session.DeviceResult) *Device {
	return &Device{
		BatchID:        batchID,
		DeviceID:       r.DeviceID,
		SourceVideo:    r.SourceVideo,
		VideoPath:      r.Video,
		SidecarPath:    r.Sidecar,
		StepNS:         r.StepNS,
		OriginalFrames: r.OriginalFrames,
		RepairedFrames: r.RepairedFrames,
		Frames:         r.Frames,
		Synthesized:    r.Synthesized,
		Error:          r.Error,
	}
}

func NewID() string {
	return uuid.NewString()
}
