package api

import (
	"time"

	"github.com/recsync/recsync-agent/internal/batch"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
	AgentID string `json:"agent_id"`
}

type StatusResponse struct {
	State          string          `json:"state"`
	LastError      string          `json:"last_error,omitempty"`
	Paused         bool            `json:"paused"`
	ActiveBatch    *BatchResponse  `json:"active_batch,omitempty"`
	PendingBatches int             `json:"pending_batches"`
	FFmpeg         *FFmpegResponse `json:"ffmpeg,omitempty"`
}

type FFmpegResponse struct {
	Ready          bool   `json:"ready"`
	FFmpegVersion  string `json:"ffmpeg_version,omitempty"`
	FFprobeVersion string `json:"ffprobe_version,omitempty"`
	Encoder        bool   `json:"encoder"`
	LastProbeAt    string `json:"last_probe_at,omitempty"`
}

type BatchResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	InputDir      string `json:"input_dir"`
	OutputDir     string `json:"output_dir"`
	ThresholdMS   int64  `json:"threshold_ms"`
	TrimMode      string `json:"trim_mode"`
	CheckSlots    bool   `json:"check_slots"`
	FailurePolicy string `json:"failure_policy"`
	WriteEDL      bool   `json:"write_edl"`
	StartNS       int64  `json:"start_ns,omitempty"`
	EndNS         int64  `json:"end_ns,omitempty"`
	Frames        int    `json:"frames,omitempty"`
	EDLPath       string `json:"edl_path,omitempty"`
	Error         string `json:"error,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type BatchesResponse struct {
	Batches []BatchResponse `json:"batches"`
}

type SubmitResponse struct {
	BatchID string `json:"batch_id"`
}

type DeviceResponse struct {
	DeviceID       string `json:"device_id"`
	SourceVideo    string `json:"source_video"`
	StepNS         int64  `json:"step_ns"`
	OriginalFrames int    `json:"original_frames"`
	RepairedFrames int    `json:"repaired_frames"`
	Frames         int    `json:"frames"`
	Synthesized    int    `json:"synthesized"`
	HasVideo       bool   `json:"has_video"`
	HasSidecar     bool   `json:"has_sidecar"`
	Error          string `json:"error,omitempty"`
}

type DevicesResponse struct {
	Devices []DeviceResponse `json:"devices"`
}

type RunnerResponse struct {
	Paused bool `json:"paused"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func BatchToResponse(b *batch.Batch) BatchResponse {
	return BatchResponse{
		ID:            b.ID,
		Status:        b.Status,
		Progress:      b.Progress,
		InputDir:      b.InputDir,
		OutputDir:     b.OutputDir,
		ThresholdMS:   time.Duration(b.ThresholdNS).Milliseconds(),
		TrimMode:      b.TrimMode,
		CheckSlots:    b.CheckSlots,
		FailurePolicy: b.FailurePolicy,
		WriteEDL:      b.WriteEDL,
		StartNS:       b.StartNS,
		EndNS:         b.EndNS,
		Frames:        b.Frames,
		EDLPath:       b.EDLPath,
		Error:         b.Error,
		CreatedAt:     b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     b.UpdatedAt.Format(time.RFC3339),
	}
}

func DeviceToResponse(d *batch.Device) DeviceResponse {
	return DeviceResponse{
		DeviceID:       d.DeviceID,
		SourceVideo:    d.SourceVideo,
		StepNS:         d.StepNS,
		OriginalFrames: d.OriginalFrames,
		RepairedFrames: d.RepairedFrames,
		Frames:         d.Frames,
		Synthesized:    d.Synthesized,
		HasVideo:       d.VideoPath != "",
		HasSidecar:     d.SidecarPath != "",
		Error:          d.Error,
	}
}
