package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/recsync/recsync-agent/internal/session"
	"github.com/recsync/recsync-agent/internal/timeline"
)

func TestRun_Dispatch(t *testing.T) {
	var stdout, stderr bytes.Buffer

	if err := run([]string{"version"}, &stdout, &stderr); err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "recsync ") {
		t.Errorf("version output = %q", stdout.String())
	}

	if err := run(nil, &stdout, &stderr); err == nil {
		t.Error("no command should fail")
	}
	if err := run([]string{"frobnicate"}, &stdout, &stderr); err == nil {
		t.Error("unknown command should fail")
	}
	if err := run([]string{"align", "-h"}, &stdout, &stderr); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("align -h error = %v, want flag.ErrHelp", err)
	}
}

func TestRunAlign_NeedsTwoDirs(t *testing.T) {
	err := runAlign([]string{"only-one"}, io.Discard, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "INPUT_DIR and OUTPUT_DIR") {
		t.Errorf("runAlign() error = %v", err)
	}
	err = runAlign([]string{"-step-ns", "-5", "a", "b"}, io.Discard, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "step-ns") {
		t.Errorf("runAlign() error = %v", err)
	}
}

func TestAlignFlags_OnlySetFlagsOverride(t *testing.T) {
	fs, v := newAlignFlagSet(io.Discard)
	if err := fs.Parse([]string{"-trim-mode", "tolerant", "-edl", "in", "out"}); err != nil {
		t.Fatal(err)
	}

	o := v.overrides(fs)
	if o.TrimMode == nil || *o.TrimMode != "tolerant" {
		t.Errorf("TrimMode = %v", o.TrimMode)
	}
	if o.WriteEDL == nil || !*o.WriteEDL {
		t.Errorf("WriteEDL = %v", o.WriteEDL)
	}
	if o.ThresholdMS != nil || o.Workers != nil || o.FailurePolicy != nil {
		t.Errorf("unset flags leaked into overrides: %+v", o)
	}
}

func TestAlignFlags_FolderAliases(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		in, out string
		wantErr bool
	}{
		{"positional", []string{"in", "out"}, "in", "out", false},
		{"short", []string{"-i", "in", "-o", "out"}, "in", "out", false},
		{"long", []string{"--infolder", "in", "--outfolder", "out"}, "in", "out", false},
		{"mixed", []string{"-i", "in", "out"}, "", "", true},
		{"both forms", []string{"-i", "in", "-o", "out", "x", "y"}, "", "", true},
		{"missing output", []string{"-i", "in"}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, v := newAlignFlagSet(io.Discard)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			in, out, err := v.dirs(fs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("dirs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if in != tt.in || out != tt.out {
				t.Errorf("dirs() = %q, %q, want %q, %q", in, out, tt.in, tt.out)
			}
		})
	}
}

func TestAlignFlags_ThresholdAlias(t *testing.T) {
	fs, v := newAlignFlagSet(io.Discard)
	if err := fs.Parse([]string{"-t", "25", "in", "out"}); err != nil {
		t.Fatal(err)
	}
	o := v.overrides(fs)
	if o.ThresholdMS == nil || *o.ThresholdMS != 25 {
		t.Errorf("ThresholdMS = %v, want 25", o.ThresholdMS)
	}
}

func TestPrintReport(t *testing.T) {
	report := &session.Report{
		Interval: timeline.Interval{StartNS: 1000, EndNS: 133333333},
		Devices: []session.DeviceResult{
			{DeviceID: "aaaaaaaaaaaaaaaa", StepNS: 33333333, OriginalFrames: 4, RepairedFrames: 5, Frames: 4, Synthesized: 1, Video: "/out/a.mp4"},
			{DeviceID: "bbbbbbbbbbbbbbbb", Error: "decode failed"},
		},
		EDLPath:  "/out/session.edl",
		Duration: time.Second,
	}

	var buf bytes.Buffer
	if err := printReport(&buf, report, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"interval: 1000 .. 133333333 ns", "aaaaaaaaaaaaaaaa", "33.333333ms", "decode failed", "edl: /out/session.edl"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := printReport(&buf, report, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"device_id": "bbbbbbbbbbbbbbbb"`) {
		t.Errorf("json report = %s", buf.String())
	}
}

type memStore map[string]string

func (m memStore) GetConfig(ctx context.Context, key string) (string, error) { return m[key], nil }
func (m memStore) SetConfig(ctx context.Context, key, value string) error {
	m[key] = value
	return nil
}

func TestEnsureSecret(t *testing.T) {
	store := memStore{}
	ctx := context.Background()

	first, err := ensureSecret(ctx, store, "auth_token", 32)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64", len(first))
	}
	second, _ := ensureSecret(ctx, store, "auth_token", 32)
	if second != first {
		t.Error("ensureSecret should reuse the stored value")
	}
}
