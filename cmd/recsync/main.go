// Command recsync aligns multi-device recording sessions onto one timeline.
//
//	recsync align [flags] INPUT_DIR OUTPUT_DIR   one-shot alignment
//	recsync serve [flags]                        background agent with HTTP API
//	recsync doctor [flags]                       probe the ffmpeg tooling
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/recsync/recsync-agent/internal/config"
)

const usage = `usage: recsync <command> [flags]

commands:
  align    align one session directory and exit
  serve    run the background agent and HTTP API
  doctor   report ffmpeg, ffprobe and encoder availability
  version  print the version

Run "recsync <command> -h" for the flags of a command.
`

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("fatal error: %v", err)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("no command given")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "align":
		return runAlign(rest, stdout, stderr)
	case "serve":
		return runServe(rest, stdout, stderr)
	case "doctor":
		return runDoctor(rest, stdout, stderr)
	case "version", "-v", "--version":
		fmt.Fprintf(stdout, "recsync %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildTime)
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// loadConfig loads the layered configuration and applies the flags that
// were set explicitly on the command line.
func loadConfig(path string, o config.Overrides) (*config.EnvConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Apply(o); err != nil {
		return nil, err
	}
	return cfg, nil
}
