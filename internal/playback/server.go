// Package playback serves aligned artifacts over HTTP with byte-range
// support, so players can seek inside an aligned video without
// downloading it first.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

// Kind names an artifact type and fixes its Content-Type.
type Kind string

const (
	KindVideo   Kind = "video"
	KindSidecar Kind = "sidecar"
	KindEDL     Kind = "edl"
)

func (k Kind) ContentType() string {
	switch k {
	case KindVideo:
		return "video/mp4"
	case KindSidecar:
		return "text/csv; charset=utf-8"
	case KindEDL:
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

type ArtifactServer interface {
	ServeArtifact(w http.ResponseWriter, r *http.Request, path string, kind Kind) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeArtifact writes the artifact at path. A missing file is answered with
// 404 and no error. Errors are returned only when nothing useful could be
// written to w.
func (s *Server) ServeArtifact(w http.ResponseWriter, r *http.Request, path string, kind Kind) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "artifact not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat artifact: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "artifact not found", http.StatusNotFound)
		return nil
	}
	size := stat.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", kind.ContentType())
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(path)))
	h.Set("Last-Modified", stat.ModTime().UTC().Format(http.TimeFormat))

	rng, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		// Malformed ranges are ignored and the whole artifact is sent.
		rng = nil
	case err != nil:
		return err
	}

	if rng == nil {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			s.copy(w, file, size, path)
		}
		return nil
	}

	if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	h.Set("Content-Length", strconv.FormatInt(rng.ContentLength(), 10))
	h.Set("Content-Range", rng.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		s.copy(w, file, rng.ContentLength(), path)
	}
	return nil
}

func (s *Server) copy(w io.Writer, r io.Reader, n int64, path string) {
	if _, err := io.CopyN(w, r, n); err != nil && s.logger != nil {
		// Usually a client that went away mid-transfer.
		s.logger.Debug("artifact transfer interrupted", "path", filepath.Base(path), "error", err)
	}
}
