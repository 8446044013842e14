package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	DefaultFFmpegPath  = "ffmpeg"
	DefaultFFprobePath = "ffprobe"
	DefaultCodec       = "libx264"
)

var ErrTruncatedFrame = errors.New("decoder returned a truncated frame")

// FFmpeg is the video collaborator used by the session processor.
type FFmpeg interface {
	Probe(ctx context.Context, filePath string) (*ProbeResult, error)
	OpenDecoder(ctx context.Context, filePath string, info *ProbeResult) (FrameSource, error)
	OpenEncoder(ctx context.Context, outputPath string, info *ProbeResult) (FrameSink, error)
	Doctor(ctx context.Context) (*Capabilities, error)
}

// FrameSource yields decoded rgb24 frames in presentation order. The slice
// returned by ReadFrame is only valid until the next call.
type FrameSource interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// FrameSink consumes rgb24 frames. Close finalises the container; Abort
// discards it.
type FrameSink interface {
	WriteFrame(frame []byte) error
	Close() error
	Abort() error
}

type Options struct {
	FFmpegPath  string
	FFprobePath string
	Codec       string
	Logger      *slog.Logger
}

// RealFFmpeg shells out to the ffmpeg and ffprobe binaries.
type RealFFmpeg struct {
	ffmpeg  string
	ffprobe string
	codec   string
	logger  *slog.Logger

	// version is the ffmpeg release reported by the last Doctor run.
	version atomic.Value
}

func NewRealFFmpeg(opts Options) *RealFFmpeg {
	f := &RealFFmpeg{
		ffmpeg:  opts.FFmpegPath,
		ffprobe: opts.FFprobePath,
		codec:   opts.Codec,
		logger:  opts.Logger,
	}
	if f.ffmpeg == "" {
		f.ffmpeg = DefaultFFmpegPath
	}
	if f.ffprobe == "" {
		f.ffprobe = DefaultFFprobePath
	}
	if f.codec == "" {
		f.codec = DefaultCodec
	}
	if f.logger == nil {
		f.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return f
}

type probeOutput struct {
	Streams []struct {
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		PixFmt       string `json:"pix_fmt"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// Probe reads the characteristics of the first video stream of filePath.
func (f *RealFFmpeg) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	out, result := run(ctx, f.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height,pix_fmt,r_frame_rate,avg_frame_rate,nb_frames:format=duration,bit_rate",
		"-of", "json",
		filePath,
	)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("ffprobe exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var po probeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}
	if len(po.Streams) == 0 {
		return nil, fmt.Errorf("no video stream found")
	}

	s := po.Streams[0]
	res := &ProbeResult{
		Width:  s.Width,
		Height: s.Height,
		Codec:  s.CodecName,
		PixFmt: s.PixFmt,
	}

	// avg_frame_rate is 0/0 for some containers; fall back to r_frame_rate.
	res.RateExpr = s.AvgFrameRate
	res.FrameRate = parseRate(s.AvgFrameRate)
	if res.FrameRate <= 0 {
		res.RateExpr = s.RFrameRate
		res.FrameRate = parseRate(s.RFrameRate)
	}

	res.FrameCount, _ = strconv.Atoi(s.NbFrames)
	res.Duration, _ = strconv.ParseFloat(po.Format.Duration, 64)
	res.Bitrate, _ = strconv.ParseInt(po.Format.BitRate, 10, 64)
	return res, nil
}

// OpenDecoder starts ffmpeg decoding filePath to rgb24 frames on stdout.
// Frame timing is passed through untouched so decoded frame n is the n-th
// frame stored in the file.
func (f *RealFFmpeg) OpenDecoder(ctx context.Context, filePath string, info *ProbeResult) (FrameSource, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-i", filePath,
		"-map", "0:v:0",
	}
	args = append(args, passthroughArgs(f.ffmpegVersion())...)
	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)
	cmd := exec.CommandContext(ctx, f.ffmpeg, args...)
	stderr := newLimitedWriter(maxStderrBytes)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg decoder: %w", err)
	}

	f.logger.Debug("decoder started", "args", args)

	size := info.FrameSize()
	return &decoder{
		cmd:    cmd,
		reader: bufio.NewReaderSize(stdout, size*2),
		stderr: stderr,
		buf:    make([]byte, size),
	}, nil
}

type decoder struct {
	cmd    *exec.Cmd
	reader *bufio.Reader
	stderr *limitedWriter
	buf    []byte

	once    sync.Once
	waitErr error
}

func (d *decoder) ReadFrame() ([]byte, error) {
	_, err := io.ReadFull(d.reader, d.buf)
	switch {
	case err == nil:
		return d.buf, nil
	case err == io.EOF:
		if werr := d.wait(); werr != nil {
			return nil, werr
		}
		return nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		if werr := d.wait(); werr != nil {
			return nil, werr
		}
		return nil, ErrTruncatedFrame
	default:
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
}

func (d *decoder) wait() error {
	d.once.Do(func() {
		if err := d.cmd.Wait(); err != nil {
			d.waitErr = fmt.Errorf("ffmpeg decoder exited %d: %s", exitCode(err), truncate(d.stderr.String(), 512))
		}
	})
	return d.waitErr
}

// Close stops the decoder. Reading stops early on purpose once the trimmed
// range is done, so a killed process is not an error.
func (d *decoder) Close() error {
	if d.cmd.ProcessState == nil && d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.once.Do(func() { d.cmd.Wait() })
	return nil
}

// OpenEncoder starts ffmpeg reading rgb24 frames from stdin and encoding
// them into outputPath with the source resolution and frame rate.
func (f *RealFFmpeg) OpenEncoder(ctx context.Context, outputPath string, info *ProbeResult) (FrameSink, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"-framerate", info.Rate(),
		"-i", "pipe:0",
		"-an",
		"-c:v", f.codec,
		"-pix_fmt", "yuv420p",
		outputPath,
	}
	cmd := exec.CommandContext(ctx, f.ffmpeg, args...)
	stderr := newLimitedWriter(maxStderrBytes)
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg encoder: %w", err)
	}

	f.logger.Debug("encoder started", "args", args)

	return &encoder{
		cmd:       cmd,
		stdin:     stdin,
		stderr:    stderr,
		frameSize: info.FrameSize(),
	}, nil
}

type encoder struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderr    *limitedWriter
	frameSize int
	done      bool
}

func (e *encoder) WriteFrame(frame []byte) error {
	if len(frame) != e.frameSize {
		return fmt.Errorf("frame has %d bytes, encoder expects %d", len(frame), e.frameSize)
	}
	if _, err := e.stdin.Write(frame); err != nil {
		return fmt.Errorf("ffmpeg encoder write failed: %w: %s", err, truncate(e.stderr.String(), 512))
	}
	return nil
}

func (e *encoder) Close() error {
	if e.done {
		return nil
	}
	e.done = true
	if err := e.stdin.Close(); err != nil {
		e.cmd.Wait()
		return fmt.Errorf("failed to close encoder input: %w", err)
	}
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encoder exited %d: %s", exitCode(err), truncate(e.stderr.String(), 512))
	}
	return nil
}

func (e *encoder) Abort() error {
	if e.done {
		return nil
	}
	e.done = true
	e.stdin.Close()
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	e.cmd.Wait()
	return nil
}

func (f *RealFFmpeg) ffmpegVersion() string {
	v, _ := f.version.Load().(string)
	return v
}

// passthroughArgs returns the option that keeps every decoded frame.
// -fps_mode replaced -vsync in ffmpeg 5.1. Git snapshots ("N-112345-g...")
// and unprobed binaries are treated as current.
func passthroughArgs(version string) []string {
	major, minor, ok := releaseNumber(version)
	if ok && (major < 5 || major == 5 && minor < 1) {
		return []string{"-vsync", "passthrough"}
	}
	return []string{"-fps_mode", "passthrough"}
}

// releaseNumber parses "6.1.1-3ubuntu5" or "n5.0" into major and minor.
func releaseNumber(version string) (int, int, bool) {
	majorStr, rest, _ := strings.Cut(strings.TrimPrefix(version, "n"), ".")
	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return 0, 0, false
	}
	end := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
	if end >= 0 {
		rest = rest[:end]
	}
	minor, _ := strconv.Atoi(rest)
	return major, minor, true
}
