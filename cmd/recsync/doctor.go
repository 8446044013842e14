package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/recsync/recsync-agent/internal/config"
	"github.com/recsync/recsync-agent/internal/logging"
	"github.com/recsync/recsync-agent/internal/pipeline"
)

const doctorTimeout = 30 * time.Second

func runDoctor(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML config file (default $"+config.EnvConfigFile+")")
	ffmpegPath := fs.String("ffmpeg", "", "ffmpeg binary")
	ffprobePath := fs.String("ffprobe", "", "ffprobe binary")
	codec := fs.String("codec", "", "output video encoder")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var o config.Overrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ffmpeg":
			o.FFmpegPath = ffmpegPath
		case "ffprobe":
			o.FFprobePath = ffprobePath
		case "codec":
			o.Codec = codec
		}
	})
	cfg, err := loadConfig(*configPath, o)
	if err != nil {
		return err
	}

	opts := cfg.FFmpegOptions()
	opts.Logger = logging.NewLoggerTo(stderr, "warn")

	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()

	caps, err := pipeline.NewRealFFmpeg(opts).Doctor(ctx)
	if err != nil {
		return fmt.Errorf("doctor probe failed: %w", err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(caps); err != nil {
		return err
	}
	if !caps.Ready {
		return errors.New("ffmpeg tooling not ready")
	}
	return nil
}
