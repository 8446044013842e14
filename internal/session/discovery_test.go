package session

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/recsync/recsync-agent/internal/timeline"
)

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeDevice(t, nil, root, devB, 0, 1)
	writeDevice(t, nil, root, devA, 0, 1)

	// Entries that are not device ids are skipped.
	os.MkdirAll(filepath.Join(root, "notes"), 0o755)
	os.MkdirAll(filepath.Join(root, "AAAAAAAAAAAAAAAA"), 0o755)
	os.WriteFile(filepath.Join(root, "cccccccccccccccc"), []byte("file"), 0o644)

	devices, err := Discover(root, testLogger())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Discover() found %d devices, want 2", len(devices))
	}
	if devices[0].ID != devA || devices[1].ID != devB {
		t.Errorf("devices not sorted: %s, %s", devices[0].ID, devices[1].ID)
	}
	if devices[0].TablePath != filepath.Join(root, devA, "rec.csv") {
		t.Errorf("TablePath = %q", devices[0].TablePath)
	}
	if devices[0].VideoPath != filepath.Join(root, devA, "rec.mp4") {
		t.Errorf("VideoPath = %q", devices[0].VideoPath)
	}
}

func TestDiscover_InputShape(t *testing.T) {
	tests := []struct {
		name     string
		files    []string
		wantKind string
		wantN    int
	}{
		{"two csv", []string{"a.csv", "b.csv", "v.mp4"}, "csv", 2},
		{"no csv", []string{"v.mp4"}, "csv", 0},
		{"two mp4", []string{"t.csv", "a.mp4", "b.MP4"}, "mp4", 2},
		{"no mp4", []string{"t.csv", "v.mov"}, "mp4", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			dir := filepath.Join(root, devA)
			os.MkdirAll(dir, 0o755)
			for _, f := range tt.files {
				os.WriteFile(filepath.Join(dir, f), nil, 0o644)
			}

			_, err := Discover(root, testLogger())
			var shape *InputShapeError
			if !errors.As(err, &shape) {
				t.Fatalf("Discover() error = %v, want InputShapeError", err)
			}
			if shape.Kind != tt.wantKind || shape.Found != tt.wantN || shape.DeviceID != devA {
				t.Errorf("InputShapeError = %+v", shape)
			}
		})
	}
}

func TestDiscover_Empty(t *testing.T) {
	_, err := Discover(t.TempDir(), testLogger())
	if !errors.Is(err, ErrNoDevices) {
		t.Fatalf("Discover() error = %v, want ErrNoDevices", err)
	}
}

func TestIsDeviceID(t *testing.T) {
	tests := map[string]bool{
		"0123456789abcdef":  true,
		"0123456789ABCDEF":  false,
		"0123456789abcde":   false,
		"0123456789abcdef0": false,
		"0123456789abcdeg":  false,
	}
	for in, want := range tests {
		if got := IsDeviceID(in); got != want {
			t.Errorf("IsDeviceID(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseTable(t *testing.T) {
	table, err := parseTable(strings.NewReader("0,1000\n1, 34333\n2,67666\n"))
	if err != nil {
		t.Fatalf("parseTable() error = %v", err)
	}
	want := timeline.Table{
		{FrameIndex: 0, TimestampNS: 1000},
		{FrameIndex: 1, TimestampNS: 34333},
		{FrameIndex: 2, TimestampNS: 67666},
	}
	if len(table) != len(want) {
		t.Fatalf("parseTable() = %+v", table)
	}
	for i := range want {
		if table[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, table[i], want[i])
		}
	}
}

func TestParseTable_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"header row", "frame_index,timestamp_ns\n0,1\n"},
		{"one column", "0\n"},
		{"three columns", "0,1,2\n"},
		{"float timestamp", "0,1.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseTable(strings.NewReader(tt.input)); err == nil {
				t.Errorf("parseTable(%q) expected error", tt.input)
			}
		})
	}
}

func TestReadTable_Missing(t *testing.T) {
	if _, err := ReadTable(filepath.Join(t.TempDir(), "none.csv")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriteSidecar(t *testing.T) {
	table := timeline.Table{
		{FrameIndex: 4, TimestampNS: 100},
		{FrameIndex: timeline.NoFrame, TimestampNS: 133, Synthesized: true},
	}

	var buf bytes.Buffer
	if err := writeTable(&buf, table); err != nil {
		t.Fatalf("writeTable() error = %v", err)
	}
	want := "frame_index,timestamp_ns,synthesized\n4,100,false\n-1,133,true\n"
	if buf.String() != want {
		t.Errorf("writeTable() = %q, want %q", buf.String(), want)
	}

	path := filepath.Join(t.TempDir(), "out.csv")
	if err := WriteSidecar(path, table); err != nil {
		t.Fatalf("WriteSidecar() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != want {
		t.Errorf("file contents = %q", data)
	}
}
