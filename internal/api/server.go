package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/recsync/recsync-agent/internal/batch"
	"github.com/recsync/recsync-agent/internal/metrics"
	"github.com/recsync/recsync-agent/internal/pipeline"
	"github.com/recsync/recsync-agent/internal/playback"
)

// BatchService is the part of batch.Service the API needs.
type BatchService interface {
	Submit(ctx context.Context, req batch.SubmitRequest) (*batch.Batch, error)
	GetBatch(ctx context.Context, id string) (*batch.Batch, error)
	ListBatches(ctx context.Context, limit int) ([]*batch.Batch, error)
	GetDevices(ctx context.Context, batchID string) ([]*batch.Device, error)
	GetDevice(ctx context.Context, batchID, deviceID string) (*batch.Device, error)
	CountBatches(ctx context.Context, status string) (int, error)
}

// RunnerControl is the part of batch.Runner the API needs.
type RunnerControl interface {
	Pause()
	Resume()
	IsPaused() bool
	ActiveBatch() string
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port      int
	Batches   BatchService
	Tokens    TokenStore
	Runner    RunnerControl
	Doctor    *pipeline.CachedDoctor
	Artifacts playback.ArtifactServer
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	StartTime time.Time
	AgentID   string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
