// Package compose rebuilds a device video so that its frames correspond one
// to one with a trimmed timestamp table.
package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/recsync/recsync-agent/internal/timeline"
)

var (
	ErrCorruptFrame   = errors.New("decoded frame has unexpected size")
	ErrUnknownFrame   = errors.New("frame index not present in original table")
	ErrOutOfOrder     = errors.New("trimmed table is not in source order")
	ErrDuplicateIndex = errors.New("original table repeats a frame index")
)

// FrameReader yields decoded frames in source order and returns io.EOF after
// the last one.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// FrameWriter accepts frames in output order.
type FrameWriter interface {
	WriteFrame(frame []byte) error
}

// MissingFrameError means the source ran out before a frame the trimmed
// table refers to.
type MissingFrameError struct {
	FrameIndex int64
	Position   int
	Decoded    int
}

func (e *MissingFrameError) Error() string {
	return fmt.Sprintf("source video has %d frames, frame %d (position %d) is missing",
		e.Decoded, e.FrameIndex, e.Position)
}

// Stats summarises one composition.
type Stats struct {
	Frames      int `json:"frames"`
	Copied      int `json:"copied"`
	Synthesized int `json:"synthesized"`
}

// Compositor copies original frames and fills repaired gaps with black frames.
type Compositor struct {
	logger *slog.Logger
	// OnFrame, if set, is called after every output frame with the number
	// of frames written so far.
	OnFrame func(written int)
}

func NewCompositor(logger *slog.Logger) *Compositor {
	return &Compositor{logger: logger}
}

// Compose writes one frame to dst per record of trimmed. frameSize is the
// byte size of a decoded frame; synthesized records become zeroed (black)
// frames of that size.
func (c *Compositor) Compose(ctx context.Context, src FrameReader, dst FrameWriter, frameSize int, original, trimmed timeline.Table) (Stats, error) {
	var stats Stats
	if frameSize <= 0 {
		return stats, fmt.Errorf("invalid frame size %d", frameSize)
	}

	positions, err := indexPositions(original)
	if err != nil {
		return stats, err
	}

	blank := make([]byte, frameSize)
	cursor := 0 // position of the next frame src will return

	for slot, rec := range trimmed {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if rec.Synthesized {
			if err := dst.WriteFrame(blank); err != nil {
				return stats, fmt.Errorf("slot %d: write synthetic frame: %w", slot, err)
			}
			stats.Synthesized++
		} else {
			pos, ok := positions[rec.FrameIndex]
			if !ok {
				return stats, fmt.Errorf("slot %d: %w: %d", slot, ErrUnknownFrame, rec.FrameIndex)
			}
			if pos < cursor {
				return stats, fmt.Errorf("slot %d: %w: frame %d at position %d already passed", slot, ErrOutOfOrder, rec.FrameIndex, pos)
			}

			frame, err := c.seek(src, cursor, pos, rec.FrameIndex)
			if err != nil {
				return stats, fmt.Errorf("slot %d: %w", slot, err)
			}
			cursor = pos + 1

			if len(frame) != frameSize {
				return stats, fmt.Errorf("slot %d: %w: got %d bytes, want %d", slot, ErrCorruptFrame, len(frame), frameSize)
			}
			if err := dst.WriteFrame(frame); err != nil {
				return stats, fmt.Errorf("slot %d: write frame %d: %w", slot, rec.FrameIndex, err)
			}
			stats.Copied++
		}

		stats.Frames++
		if c.OnFrame != nil {
			c.OnFrame(stats.Frames)
		}
	}

	if c.logger != nil {
		c.logger.Debug("composition finished",
			"frames", stats.Frames,
			"copied", stats.Copied,
			"synthesized", stats.Synthesized,
		)
	}
	return stats, nil
}

// seek discards frames from cursor up to pos and returns the frame at pos.
func (c *Compositor) seek(src FrameReader, cursor, pos int, frameIndex int64) ([]byte, error) {
	for ; cursor <= pos; cursor++ {
		frame, err := src.ReadFrame()
		if err == io.EOF {
			return nil, &MissingFrameError{FrameIndex: frameIndex, Position: pos, Decoded: cursor}
		}
		if err != nil {
			return nil, fmt.Errorf("decode frame %d: %w", frameIndex, err)
		}
		if cursor == pos {
			return frame, nil
		}
	}
	return nil, &MissingFrameError{FrameIndex: frameIndex, Position: pos, Decoded: cursor}
}

// indexPositions maps each original frame index to its row, which is also
// its position in the decoded video.
func indexPositions(original timeline.Table) (map[int64]int, error) {
	positions := make(map[int64]int, len(original))
	for i, r := range original {
		if _, dup := positions[r.FrameIndex]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateIndex, r.FrameIndex)
		}
		positions[r.FrameIndex] = i
	}
	return positions, nil
}
