package session

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/recsync/recsync-agent/internal/timeline"
)

// SidecarHeader is the first row of every written sidecar table.
var SidecarHeader = []string{"frame_index", "timestamp_ns", "synthesized"}

// ReadTable loads a headerless two-column table of frame index and
// timestamp in nanoseconds.
func ReadTable(path string) (timeline.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer f.Close()
	return parseTable(f)
}

func parseTable(r io.Reader) (timeline.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var table timeline.Table
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse table: %w", err)
		}

		idx, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid frame index %q", row, rec[0])
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(rec[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid timestamp %q", row, rec[1])
		}
		table = append(table, timeline.Record{FrameIndex: idx, TimestampNS: ts})
	}
	return table, nil
}

// WriteSidecar writes table with a header row, one line per output frame.
func WriteSidecar(path string, table timeline.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create sidecar: %w", err)
	}
	if err := writeTable(f, table); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeTable(w io.Writer, table timeline.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SidecarHeader); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	for _, r := range table {
		row := []string{
			strconv.FormatInt(r.FrameIndex, 10),
			strconv.FormatInt(r.TimestampNS, 10),
			strconv.FormatBool(r.Synthesized),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write sidecar: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	return nil
}
