package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/recsync/recsync-agent/internal/batch"
	"github.com/recsync/recsync-agent/internal/config"
)

const maxListLimit = 200

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))
	if cfg.Metrics != nil {
		r.With(LoopbackGuard()).Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/batches", listBatchesHandler(cfg))
		r.Post("/batches", submitBatchHandler(cfg))
		r.Get("/batches/{id}", getBatchHandler(cfg))
		r.Get("/batches/{id}/devices", listDevicesHandler(cfg))
		r.Post("/runner/pause", pauseHandler(cfg))
		r.Post("/runner/resume", resumeHandler(cfg))

		r.Group(func(r chi.Router) {
			r.Use(LoopbackGuard())
			r.Get("/batches/{id}/edl", edlHandler(cfg))
			r.Get("/batches/{id}/devices/{device}/video", deviceArtifactHandler(cfg, videoArtifact))
			r.Get("/batches/{id}/devices/{device}/sidecar", deviceArtifactHandler(cfg, sidecarArtifact))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: uptime,
			AgentID: cfg.AgentID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		resp := StatusResponse{State: "idle"}
		resp.PendingBatches, _ = cfg.Batches.CountBatches(ctx, batch.StatusPending)

		recent, _ := cfg.Batches.ListBatches(ctx, 10)
		for _, b := range recent {
			if b.Status == batch.StatusFailed {
				resp.LastError = b.Error
				break
			}
			if b.Status == batch.StatusCompleted {
				break
			}
		}
		if resp.LastError != "" {
			resp.State = "error"
		}

		if cfg.Runner != nil {
			resp.Paused = cfg.Runner.IsPaused()
			if id := cfg.Runner.ActiveBatch(); id != "" {
				resp.State = "processing"
				if b, err := cfg.Batches.GetBatch(ctx, id); err == nil && b != nil {
					br := BatchToResponse(b)
					resp.ActiveBatch = &br
				}
			} else if resp.Paused {
				resp.State = "paused"
			}
		}

		// Peek never spawns ffmpeg; the runner keeps the cache warm.
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				ff := &FFmpegResponse{
					Ready:          caps.Ready,
					FFmpegVersion:  caps.Executables["ffmpeg"].Version,
					FFprobeVersion: caps.Executables["ffprobe"].Version,
					Encoder:        caps.Encoder.Available,
				}
				if !caps.ProbedAt.IsZero() {
					ff.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
				resp.FFmpeg = ff
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listBatchesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, maxListLimit)
		}

		batches, err := cfg.Batches.ListBatches(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list batches", "INTERNAL_ERROR")
			return
		}

		resp := BatchesResponse{Batches: make([]BatchResponse, len(batches))}
		for i, b := range batches {
			resp.Batches[i] = BatchToResponse(b)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func submitBatchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batch.SubmitRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		b, err := cfg.Batches.Submit(r.Context(), req)
		if err != nil {
			if errors.Is(err, batch.ErrInvalidRequest) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			cfg.Logger.Error("failed to submit batch", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to submit batch", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, SubmitResponse{BatchID: b.ID})
	}
}

func getBatchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := lookupBatch(w, r, cfg)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, BatchToResponse(b))
	}
}

func listDevicesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := lookupBatch(w, r, cfg)
		if !ok {
			return
		}

		devices, err := cfg.Batches.GetDevices(r.Context(), b.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list devices", "INTERNAL_ERROR")
			return
		}

		resp := DevicesResponse{Devices: make([]DeviceResponse, len(devices))}
		for i, d := range devices {
			resp.Devices[i] = DeviceToResponse(d)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not available", "UNAVAILABLE")
			return
		}
		cfg.Runner.Pause()
		WriteJSON(w, http.StatusOK, RunnerResponse{Paused: true})
	}
}

func resumeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not available", "UNAVAILABLE")
			return
		}
		cfg.Runner.Resume()
		WriteJSON(w, http.StatusOK, RunnerResponse{Paused: false})
	}
}

// lookupBatch resolves the {id} URL parameter, writing the error response
// itself when the batch cannot be returned.
func lookupBatch(w http.ResponseWriter, r *http.Request, cfg ServerConfig) (*batch.Batch, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "batch id required", "BAD_REQUEST")
		return nil, false
	}

	b, err := cfg.Batches.GetBatch(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	if b == nil {
		WriteError(w, http.StatusNotFound, "batch not found", "NOT_FOUND")
		return nil, false
	}
	return b, true
}
