package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/recsync/recsync-agent/internal/batch"
	"github.com/recsync/recsync-agent/internal/playback"
	"github.com/recsync/recsync-agent/internal/session"
)

type artifact struct {
	kind playback.Kind
	path func(d *batch.Device) string
}

var (
	videoArtifact   = artifact{playback.KindVideo, func(d *batch.Device) string { return d.VideoPath }}
	sidecarArtifact = artifact{playback.KindSidecar, func(d *batch.Device) string { return d.SidecarPath }}
)

func deviceArtifactHandler(cfg ServerConfig, a artifact) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := chi.URLParam(r, "device")
		if !session.IsDeviceID(deviceID) {
			WriteError(w, http.StatusBadRequest, "invalid device id", "BAD_REQUEST")
			return
		}

		b, ok := lookupBatch(w, r, cfg)
		if !ok {
			return
		}

		d, err := cfg.Batches.GetDevice(r.Context(), b.ID, deviceID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if d == nil {
			WriteError(w, http.StatusNotFound, "device not found", "NOT_FOUND")
			return
		}

		path := a.path(d)
		if path == "" {
			WriteError(w, http.StatusNotFound, "no "+string(a.kind)+" was written for this device", "NOT_FOUND")
			return
		}

		if err := cfg.Artifacts.ServeArtifact(w, r, path, a.kind); err != nil {
			cfg.Logger.Error("artifact error", "error", err, "batch_id", b.ID, "device_id", deviceID)
		}
	}
}

func edlHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := lookupBatch(w, r, cfg)
		if !ok {
			return
		}
		if b.EDLPath == "" {
			WriteError(w, http.StatusNotFound, "no edl was written for this batch", "NOT_FOUND")
			return
		}
		if err := cfg.Artifacts.ServeArtifact(w, r, b.EDLPath, playback.KindEDL); err != nil {
			cfg.Logger.Error("artifact error", "error", err, "batch_id", b.ID)
		}
	}
}
