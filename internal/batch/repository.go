package batch

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Repository interface {
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	ListBatches(ctx context.Context, limit int) ([]*Batch, error)
	ListPendingBatches(ctx context.Context) ([]*Batch, error)
	CountBatches(ctx context.Context, status string) (int, error)
	UpdateBatchStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateBatchProgress(ctx context.Context, id string, progress int) error
	SaveResult(ctx context.Context, b *Batch, devices []*Device) error

	ListDevices(ctx context.Context, batchID string) ([]*Device, error)
	GetDevice(ctx context.Context, batchID, deviceID string) (*Device, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const batchColumns = `id, input_dir, output_dir, threshold_ns, trim_mode, check_slots, failure_policy, write_edl,
	status, progress, error, interval_start_ns, interval_end_ns, frames, edl_path, created_at, updated_at`

func (r *SQLiteRepository) CreateBatch(ctx context.Context, b *Batch) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.InputDir, b.OutputDir, b.ThresholdNS, b.TrimMode, boolToInt(b.CheckSlots), b.FailurePolicy, boolToInt(b.WriteEDL),
		b.Status, b.Progress, nullString(b.Error), nil, nil, b.Frames, nullString(b.EDLPath),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(s scanner) (*Batch, error) {
	var b Batch
	var checkSlots, writeEDL int
	var errMsg, edlPath sql.NullString
	var startNS, endNS sql.NullInt64
	var createdAt, updatedAt string

	err := s.Scan(&b.ID, &b.InputDir, &b.OutputDir, &b.ThresholdNS, &b.TrimMode, &checkSlots, &b.FailurePolicy, &writeEDL,
		&b.Status, &b.Progress, &errMsg, &startNS, &endNS, &b.Frames, &edlPath, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	b.CheckSlots = checkSlots == 1
	b.WriteEDL = writeEDL == 1
	b.Error = errMsg.String
	b.EDLPath = edlPath.String
	b.StartNS = startNS.Int64
	b.EndNS = endNS.Int64
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &b, nil
}

func (r *SQLiteRepository) ListBatches(ctx context.Context, limit int) ([]*Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+batchColumns+` FROM batches ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBatches(rows)
}

func (r *SQLiteRepository) ListPendingBatches(ctx context.Context) ([]*Batch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+batchColumns+` FROM batches WHERE status = 'pending' ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBatches(rows)
}

func scanBatches(rows *sql.Rows) ([]*Batch, error) {
	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *SQLiteRepository) CountBatches(ctx context.Context, status string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM batches WHERE status = ?", status).Scan(&count)
	return count, err
}

func (r *SQLiteRepository) UpdateBatchStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE batches SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) UpdateBatchProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE batches SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, formatTime(time.Now()), id)
	return err
}

// SaveResult stores the outcome of a run and replaces the batch's device rows.
func (r *SQLiteRepository) SaveResult(ctx context.Context, b *Batch, devices []*Device) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	b.UpdatedAt = time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE batches SET status = ?, progress = ?, error = ?, interval_start_ns = ?, interval_end_ns = ?,
			frames = ?, edl_path = ?, updated_at = ?
		WHERE id = ?
	`, b.Status, b.Progress, nullString(b.Error), b.StartNS, b.EndNS,
		b.Frames, nullString(b.EDLPath), formatTime(b.UpdatedAt), b.ID)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM devices WHERE batch_id = ?", b.ID); err != nil {
		return fmt.Errorf("failed to clear devices: %w", err)
	}

	for _, d := range devices {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO devices (batch_id, device_id, source_video, video_path, sidecar_path, step_ns,
				original_frames, repaired_frames, frames, synthesized, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, b.ID, d.DeviceID, d.SourceVideo, nullString(d.VideoPath), nullString(d.SidecarPath), d.StepNS,
			d.OriginalFrames, d.RepairedFrames, d.Frames, d.Synthesized, nullString(d.Error))
		if err != nil {
			return fmt.Errorf("failed to insert device %s: %w", d.DeviceID, err)
		}
	}

	return tx.Commit()
}

const deviceColumns = `batch_id, device_id, source_video, video_path, sidecar_path, step_ns,
	original_frames, repaired_frames, frames, synthesized, error`

func scanDevice(s scanner) (*Device, error) {
	var d Device
	var videoPath, sidecarPath, errMsg sql.NullString
	err := s.Scan(&d.BatchID, &d.DeviceID, &d.SourceVideo, &videoPath, &sidecarPath, &d.StepNS,
		&d.OriginalFrames, &d.RepairedFrames, &d.Frames, &d.Synthesized, &errMsg)
	if err != nil {
		return nil, err
	}
	d.VideoPath = videoPath.String
	d.SidecarPath = sidecarPath.String
	d.Error = errMsg.String
	return &d, nil
}

func (r *SQLiteRepository) ListDevices(ctx context.Context, batchID string) ([]*Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE batch_id = ? ORDER BY device_id
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (r *SQLiteRepository) GetDevice(ctx context.Context, batchID, deviceID string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE batch_id = ? AND device_id = ?
	`, batchID, deviceID)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
