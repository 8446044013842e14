package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 30000.0 / 1001.0},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
		{"abc/1", 0},
	}
	for _, tt := range tests {
		if got := parseRate(tt.in); got != tt.want {
			t.Errorf("parseRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseProbe(t *testing.T) {
	data := []byte(`{
		"streams": [{
			"codec_name": "h264", "width": 1920, "height": 1080, "pix_fmt": "yuv420p",
			"r_frame_rate": "30/1", "avg_frame_rate": "0/0", "nb_frames": "912"
		}],
		"format": {"duration": "30.400000", "bit_rate": "15000000"}
	}`)

	res, err := parseProbe(data)
	if err != nil {
		t.Fatalf("parseProbe() error = %v", err)
	}
	if res.Width != 1920 || res.Height != 1080 || res.Codec != "h264" {
		t.Errorf("stream fields = %+v", res)
	}
	if res.FrameRate != 30 || res.Rate() != "30/1" {
		t.Errorf("rate = %v (%q), want fallback to r_frame_rate", res.FrameRate, res.Rate())
	}
	if res.FrameCount != 912 || res.Duration != 30.4 || res.Bitrate != 15000000 {
		t.Errorf("counts = %+v", res)
	}
	if res.FrameSize() != 1920*1080*3 {
		t.Errorf("FrameSize() = %d", res.FrameSize())
	}
}

func TestParseProbe_NoStream(t *testing.T) {
	if _, err := parseProbe([]byte(`{"streams": [], "format": {}}`)); err == nil {
		t.Error("expected error for missing video stream")
	}
	if _, err := parseProbe([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestProbeResult_Validate(t *testing.T) {
	tests := []struct {
		name    string
		p       ProbeResult
		wantErr bool
	}{
		{"ok", ProbeResult{Width: 4, Height: 2, FrameRate: 30}, false},
		{"no size", ProbeResult{FrameRate: 30}, true},
		{"no rate", ProbeResult{Width: 4, Height: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if got := (ProbeResult{FrameRate: 29.97}).Rate(); got != "29.97" {
		t.Errorf("Rate() without expression = %q, want 29.97", got)
	}
}

func TestParseVersion(t *testing.T) {
	out := "ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023 the FFmpeg developers\nbuilt with gcc"
	if got := parseVersion(out); got != "6.1.1-3ubuntu5" {
		t.Errorf("parseVersion() = %q", got)
	}
	if got := parseVersion("garbage"); got != "" {
		t.Errorf("parseVersion(garbage) = %q, want empty", got)
	}
}

func TestPassthroughArgs(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{"6.1.1-3ubuntu5", "-fps_mode"},
		{"5.1.4", "-fps_mode"},
		{"7.0", "-fps_mode"},
		{"n6.0", "-fps_mode"},
		{"5.0.1", "-vsync"},
		{"4.4.2-0ubuntu0.22.04.1", "-vsync"},
		{"n4.3", "-vsync"},
		{"N-112345-g1a2b3c4d5e", "-fps_mode"},
		{"", "-fps_mode"},
	}
	for _, tt := range tests {
		args := passthroughArgs(tt.version)
		if len(args) != 2 || args[0] != tt.want || args[1] != "passthrough" {
			t.Errorf("passthroughArgs(%q) = %v, want [%s passthrough]", tt.version, args, tt.want)
		}
	}
}

func TestRealFFmpeg_VersionDefaultsToCurrent(t *testing.T) {
	f := NewRealFFmpeg(Options{})
	if got := passthroughArgs(f.ffmpegVersion()); got[0] != "-fps_mode" {
		t.Errorf("unprobed binary args = %v", got)
	}
	f.version.Store("4.4.2")
	if got := passthroughArgs(f.ffmpegVersion()); got[0] != "-vsync" {
		t.Errorf("4.4.2 args = %v", got)
	}
}

func TestHasEncoder(t *testing.T) {
	listing := `Encoders:
 V..... = Video
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
 V....D mpeg4                MPEG-4 part 2`

	if !hasEncoder(listing, "libx264") {
		t.Error("libx264 should be found")
	}
	if hasEncoder(listing, "libx265") {
		t.Error("libx265 should not be found")
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	lw := newLimitedWriter(10)

	lw.Write([]byte("hello"))
	if lw.String() != "hello" {
		t.Errorf("after short write got %q, want %q", lw.String(), "hello")
	}

	n, err := lw.Write([]byte(" world of test data"))
	if err != nil || n != 19 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if got := lw.String(); got != " test data" {
		t.Errorf("after overflow got %q, want %q", got, " test data")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "...world"},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

func TestRunResult_IsSuccess(t *testing.T) {
	if !(RunResult{ExitCode: 0}).IsSuccess() {
		t.Error("exit 0 should be success")
	}
	if (RunResult{ExitCode: 1}).IsSuccess() {
		t.Error("exit 1 should not be success")
	}
}

type fakeProber struct {
	calls atomic.Int32
	caps  *Capabilities
	err   error
}

func (f *fakeProber) Doctor(ctx context.Context) (*Capabilities, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	c := *f.caps
	c.ProbedAt = time.Now()
	return &c, nil
}

func TestCachedDoctor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prober := &fakeProber{caps: &Capabilities{Ready: true}}
	doctor := NewCachedDoctor(prober, logger)

	if doctor.Peek() != nil {
		t.Fatal("Peek() should be nil before the first probe")
	}

	for i := 0; i < 3; i++ {
		caps, err := doctor.Get(context.Background())
		if err != nil || !caps.Ready {
			t.Fatalf("Get() = %+v, %v", caps, err)
		}
	}
	if n := prober.calls.Load(); n != 1 {
		t.Errorf("prober called %d times, want 1", n)
	}

	prober.err = errors.New("ffmpeg vanished")
	caps, err := doctor.Refresh(context.Background())
	if err != nil || caps == nil {
		t.Fatalf("Refresh() should fall back to stale cache, got %+v, %v", caps, err)
	}

	doctor.Invalidate()
	if _, err := doctor.Get(context.Background()); err == nil {
		t.Error("Get() after Invalidate should surface the probe error")
	}
}

func TestRealFFmpeg_RoundTrip(t *testing.T) {
	ff := NewRealFFmpeg(Options{})
	ctx := context.Background()

	caps, err := ff.Doctor(ctx)
	if err != nil || !caps.Ready {
		t.Skip("ffmpeg with libx264 not available")
	}

	info := &ProbeResult{Width: 16, Height: 16, FrameRate: 30, RateExpr: "30/1"}
	out := filepath.Join(t.TempDir(), "out.mp4")

	enc, err := ff.OpenEncoder(ctx, out, info)
	if err != nil {
		t.Fatalf("OpenEncoder() error = %v", err)
	}
	frame := make([]byte, info.FrameSize())
	for i := 0; i < 5; i++ {
		if err := enc.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame() error = %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("encoder Close() error = %v", err)
	}

	probed, err := ff.Probe(ctx, out)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if probed.Width != 16 || probed.Height != 16 {
		t.Errorf("probed size = %dx%d", probed.Width, probed.Height)
	}

	dec, err := ff.OpenDecoder(ctx, out, probed)
	if err != nil {
		t.Fatalf("OpenDecoder() error = %v", err)
	}
	defer dec.Close()

	n := 0
	for {
		_, err := dec.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame() error = %v", err)
		}
		n++
	}
	if n != 5 {
		t.Errorf("decoded %d frames, want 5", n)
	}
}
