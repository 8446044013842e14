package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/recsync/recsync-agent/internal/config"
	"github.com/recsync/recsync-agent/internal/logging"
	"github.com/recsync/recsync-agent/internal/pipeline"
	"github.com/recsync/recsync-agent/internal/session"
	"github.com/recsync/recsync-agent/internal/ui"
)

type alignFlags struct {
	inDir         string
	outDir        string
	configPath    string
	logLevel      string
	thresholdMS   int64
	trimMode      string
	checkSlots    bool
	failurePolicy string
	workers       int
	ffmpegPath    string
	ffprobePath   string
	codec         string
	writeEDL      bool
	stepNS        int64
	name          string
	jsonReport    bool
	noProgress    bool
}

func newAlignFlagSet(stderr io.Writer) (*flag.FlagSet, *alignFlags) {
	v := &alignFlags{}
	fs := flag.NewFlagSet("align", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: recsync align [flags] INPUT_DIR OUTPUT_DIR")
		fmt.Fprintln(stderr, "       recsync align [flags] -i INPUT_DIR -o OUTPUT_DIR")
		fs.PrintDefaults()
	}

	for _, name := range []string{"infolder", "i"} {
		fs.StringVar(&v.inDir, name, "", "input folder with one sub-folder per device")
	}
	for _, name := range []string{"outfolder", "o"} {
		fs.StringVar(&v.outDir, name, "", "existing output folder")
	}

	fs.StringVar(&v.configPath, "config", "", "YAML config file (default $"+config.EnvConfigFile+")")
	fs.StringVar(&v.logLevel, "log-level", "", "log level: debug, info, warn, error")
	for _, name := range []string{"threshold-ms", "threshold", "t"} {
		fs.Int64Var(&v.thresholdMS, name, config.DefaultThresholdMS, "alignment tolerance in milliseconds")
	}
	fs.StringVar(&v.trimMode, "trim-mode", config.DefaultTrimMode, "trim window: strict or tolerant")
	fs.BoolVar(&v.checkSlots, "check-slots", config.DefaultCheckSlots, "require every frame slot to agree within the threshold")
	fs.StringVar(&v.failurePolicy, "failure-policy", config.DefaultFailurePolicy, "on a device failure: abort or continue")
	fs.IntVar(&v.workers, "workers", 0, "devices composed in parallel (default from config)")
	fs.StringVar(&v.ffmpegPath, "ffmpeg", "", "ffmpeg binary")
	fs.StringVar(&v.ffprobePath, "ffprobe", "", "ffprobe binary")
	fs.StringVar(&v.codec, "codec", "", "output video encoder")
	fs.BoolVar(&v.writeEDL, "edl", false, "also write a multicam EDL")
	fs.Int64Var(&v.stepNS, "step-ns", 0, "nominal frame step in ns; 0 estimates it per device")
	fs.StringVar(&v.name, "name", "", "session name used for the EDL (default input dir name)")
	fs.BoolVar(&v.jsonReport, "json", false, "print the report as JSON")
	fs.BoolVar(&v.noProgress, "no-progress", false, "disable the progress bar")
	return fs, v
}

// overrides collects only the flags the user actually set, so unset flags
// never mask file or environment values.
func (v *alignFlags) overrides(fs *flag.FlagSet) config.Overrides {
	var o config.Overrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			o.LogLevel = &v.logLevel
		case "threshold-ms", "threshold", "t":
			o.ThresholdMS = &v.thresholdMS
		case "trim-mode":
			o.TrimMode = &v.trimMode
		case "check-slots":
			o.CheckSlots = &v.checkSlots
		case "failure-policy":
			o.FailurePolicy = &v.failurePolicy
		case "workers":
			o.Workers = &v.workers
		case "ffmpeg":
			o.FFmpegPath = &v.ffmpegPath
		case "ffprobe":
			o.FFprobePath = &v.ffprobePath
		case "codec":
			o.Codec = &v.codec
		case "edl":
			o.WriteEDL = &v.writeEDL
		}
	})
	return o
}

// dirs takes the folders either from -i/-o or from the two positional
// arguments, never a mix of both.
func (v *alignFlags) dirs(fs *flag.FlagSet) (string, string, error) {
	switch {
	case v.inDir == "" && v.outDir == "" && fs.NArg() == 2:
		return fs.Arg(0), fs.Arg(1), nil
	case v.inDir != "" && v.outDir != "" && fs.NArg() == 0:
		return v.inDir, v.outDir, nil
	default:
		return "", "", errors.New("align needs INPUT_DIR and OUTPUT_DIR, as arguments or as -i and -o")
	}
}

func runAlign(args []string, stdout, stderr io.Writer) error {
	fs, v := newAlignFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	inDir, outDir, err := v.dirs(fs)
	if err != nil {
		fs.Usage()
		return err
	}
	if v.stepNS < 0 {
		return errors.New("step-ns must not be negative")
	}

	cfg, err := loadConfig(v.configPath, v.overrides(fs))
	if err != nil {
		return err
	}

	logger := logging.NewLoggerTo(stderr, cfg.LogLevel())

	opts := cfg.FFmpegOptions()
	opts.Logger = logger
	ff := pipeline.NewRealFFmpeg(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	caps, err := ff.Doctor(ctx)
	if err != nil {
		return fmt.Errorf("doctor probe failed: %w", err)
	}
	if !caps.Ready {
		return fmt.Errorf("ffmpeg tooling not ready (%d/%d available), run `recsync doctor`",
			caps.Summary.Available, caps.Summary.Total)
	}

	req := session.Request{
		InputDir:    inDir,
		OutputDir:   outDir,
		Align:       cfg.AlignOptions(),
		Policy:      cfg.FailurePolicy(),
		Workers:     cfg.Workers(),
		WriteEDL:    cfg.WriteEDL(),
		StepNS:      v.stepNS,
		SessionName: v.name,
	}

	var bar *ui.ProgressBar
	if !v.noProgress {
		bar = ui.NewProgressBar(stderr)
		req.OnProgress = bar.Update
	}

	report, runErr := session.NewProcessor(ff, logger, nil).Run(ctx, req)
	if bar != nil {
		bar.Finish()
	}

	if report != nil {
		if err := printReport(stdout, report, v.jsonReport); err != nil {
			return err
		}
	}
	return runErr
}

func printReport(w io.Writer, report *session.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	iv := report.Interval
	if iv.EndNS > 0 {
		fmt.Fprintf(w, "interval: %d .. %d ns (%s)\n", iv.StartNS, iv.EndNS, iv.Duration())
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tSTEP\tINPUT\tREPAIRED\tOUTPUT\tSYNTHESIZED\tRESULT")
	for _, d := range report.Devices {
		result := "ok"
		switch {
		case d.Error != "":
			result = d.Error
		case d.Video == "":
			result = "not written"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			d.DeviceID, time.Duration(d.StepNS), d.OriginalFrames, d.RepairedFrames, d.Frames, d.Synthesized, result)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if report.EDLPath != "" {
		fmt.Fprintf(w, "edl: %s\n", report.EDLPath)
	}
	return nil
}
