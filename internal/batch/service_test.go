package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/recsync/recsync-agent/internal/db"
	"github.com/recsync/recsync-agent/internal/session"
	"github.com/recsync/recsync-agent/internal/timeline"
)

func setupTestDB(t *testing.T) Repository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func defaultService(repo Repository) *Service {
	return NewService(repo, Defaults{Align: timeline.DefaultAlignOptions()}, nil)
}

func TestService_Submit(t *testing.T) {
	repo := setupTestDB(t)
	svc := defaultService(repo)
	in, out := t.TempDir(), t.TempDir()

	b, err := svc.Submit(context.Background(), SubmitRequest{InputDir: in, OutputDir: out})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if b.ID == "" || b.Status != StatusPending {
		t.Errorf("batch = %+v", b)
	}
	if b.ThresholdNS != 10_000_000 || b.TrimMode != "tolerant" || !b.CheckSlots || b.FailurePolicy != "abort" {
		t.Errorf("defaults not applied: %+v", b)
	}

	stored, err := repo.GetBatch(context.Background(), b.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetBatch() = %v, %v", stored, err)
	}
	if stored.InputDir != in || stored.OutputDir != out {
		t.Errorf("stored dirs = %s, %s", stored.InputDir, stored.OutputDir)
	}
	if stored.CreatedAt.IsZero() {
		t.Error("CreatedAt not round-tripped")
	}
}

func TestService_Submit_Overrides(t *testing.T) {
	svc := defaultService(setupTestDB(t))
	threshold := int64(25)
	checkSlots, writeEDL := false, true

	b, err := svc.Submit(context.Background(), SubmitRequest{
		InputDir:      t.TempDir(),
		OutputDir:     t.TempDir(),
		ThresholdMS:   &threshold,
		TrimMode:      "strict",
		CheckSlots:    &checkSlots,
		FailurePolicy: "continue",
		WriteEDL:      &writeEDL,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	opts := b.AlignOptions()
	if opts.ThresholdNS != 25_000_000 || opts.Mode != timeline.TrimStrict || opts.CheckSlots {
		t.Errorf("AlignOptions() = %+v", opts)
	}
	if b.FailurePolicy != string(session.PolicyContinue) || !b.WriteEDL {
		t.Errorf("batch = %+v", b)
	}
}

func TestService_Submit_Invalid(t *testing.T) {
	svc := defaultService(setupTestDB(t))
	dir := t.TempDir()
	negative := int64(-1)

	file := filepath.Join(t.TempDir(), "file")
	os.WriteFile(file, []byte("x"), 0o644)

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"missing input", SubmitRequest{OutputDir: dir}},
		{"input not found", SubmitRequest{InputDir: filepath.Join(dir, "nope"), OutputDir: t.TempDir()}},
		{"output is file", SubmitRequest{InputDir: dir, OutputDir: file}},
		{"same dirs", SubmitRequest{InputDir: dir, OutputDir: dir}},
		{"negative threshold", SubmitRequest{InputDir: dir, OutputDir: t.TempDir(), ThresholdMS: &negative}},
		{"bad mode", SubmitRequest{InputDir: dir, OutputDir: t.TempDir(), TrimMode: "loose"}},
		{"bad policy", SubmitRequest{InputDir: dir, OutputDir: t.TempDir(), FailurePolicy: "retry"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("Submit() error = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestRepository_SaveResult(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	b, err := defaultService(repo).Submit(ctx, SubmitRequest{InputDir: t.TempDir(), OutputDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	b.Status = StatusCompleted
	b.Progress = 100
	b.StartNS, b.EndNS, b.Frames = 1000, 133333333, 4
	devices := []*Device{
		{DeviceID: "bbbbbbbbbbbbbbbb", SourceVideo: "/in/b.mp4", VideoPath: "/out/b.mp4", Frames: 4, Synthesized: 1},
		{DeviceID: "aaaaaaaaaaaaaaaa", SourceVideo: "/in/a.mp4", Error: "boom"},
	}
	if err := repo.SaveResult(ctx, b, devices); err != nil {
		t.Fatalf("SaveResult() error = %v", err)
	}
	// Saving again replaces the device rows.
	if err := repo.SaveResult(ctx, b, devices); err != nil {
		t.Fatalf("second SaveResult() error = %v", err)
	}

	stored, _ := repo.GetBatch(ctx, b.ID)
	if stored.Status != StatusCompleted || stored.StartNS != 1000 || stored.EndNS != 133333333 || stored.Frames != 4 {
		t.Errorf("stored batch = %+v", stored)
	}

	list, err := repo.ListDevices(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(list) != 2 || list[0].DeviceID != "aaaaaaaaaaaaaaaa" {
		t.Fatalf("ListDevices() = %+v", list)
	}
	if list[0].Error != "boom" || list[0].VideoPath != "" {
		t.Errorf("device a = %+v", list[0])
	}

	d, err := repo.GetDevice(ctx, b.ID, "bbbbbbbbbbbbbbbb")
	if err != nil || d == nil || d.VideoPath != "/out/b.mp4" || d.Synthesized != 1 {
		t.Errorf("GetDevice() = %+v, %v", d, err)
	}
	if d, err := repo.GetDevice(ctx, b.ID, "cccccccccccccccc"); d != nil || err != nil {
		t.Errorf("GetDevice(unknown) = %+v, %v; want nil, nil", d, err)
	}
}

func TestRepository_ListBatches(t *testing.T) {
	repo := setupTestDB(t)
	svc := defaultService(repo)
	ctx := context.Background()

	first, _ := svc.Submit(ctx, SubmitRequest{InputDir: t.TempDir(), OutputDir: t.TempDir()})
	second, _ := svc.Submit(ctx, SubmitRequest{InputDir: t.TempDir(), OutputDir: t.TempDir()})

	all, err := repo.ListBatches(ctx, 10)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListBatches() = %d, %v", len(all), err)
	}
	if all[0].ID != second.ID {
		t.Errorf("ListBatches() should be newest first")
	}

	pending, err := repo.ListPendingBatches(ctx)
	if err != nil || len(pending) != 2 || pending[0].ID != first.ID {
		t.Errorf("ListPendingBatches() should be oldest first, got %d, %v", len(pending), err)
	}

	repo.UpdateBatchStatus(ctx, first.ID, StatusRunning, "")
	if n, _ := repo.CountBatches(ctx, StatusPending); n != 1 {
		t.Errorf("CountBatches(pending) = %d, want 1", n)
	}
	if got, _ := repo.GetBatch(ctx, "missing"); got != nil {
		t.Errorf("GetBatch(missing) = %+v, want nil", got)
	}
}

func TestRepository_Config(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	if v, err := repo.GetConfig(ctx, "auth_token"); v != "" || err != nil {
		t.Fatalf("GetConfig(missing) = %q, %v", v, err)
	}
	repo.SetConfig(ctx, "auth_token", "one")
	repo.SetConfig(ctx, "auth_token", "two")
	if v, _ := repo.GetConfig(ctx, "auth_token"); v != "two" {
		t.Errorf("GetConfig() = %q, want two", v)
	}
}
