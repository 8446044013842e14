package ui

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/recsync/recsync-agent/internal/session"
)

// ProgressBar renders the frames written across all devices of a run as a
// single terminal bar. Devices compose concurrently, so one shared bar keeps
// the output readable.
type ProgressBar struct {
	out io.Writer

	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	written map[string]int
	total   int
}

func NewProgressBar(out io.Writer) *ProgressBar {
	return &ProgressBar{out: out, written: make(map[string]int)}
}

// Update is a session.ProgressFunc.
func (p *ProgressBar) Update(pr session.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		p.total = pr.Total * pr.Devices
		p.bar = progressbar.NewOptions(p.total,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription("Aligning"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerHead:    "█",
				SaucerPadding: "░",
				BarStart:      "▐",
				BarEnd:        "▌",
			}),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("frames"),
			progressbar.OptionSetWidth(50),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	p.written[pr.DeviceID] = pr.Written
	sum := 0
	for _, n := range p.written {
		sum += n
	}
	p.bar.Describe("Aligning " + pr.DeviceID[:min(8, len(pr.DeviceID))])
	p.bar.Set(sum)
}

// Written returns the frames written so far across devices.
func (p *ProgressBar) Written() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	sum := 0
	for _, n := range p.written {
		sum += n
	}
	return sum
}

// Finish completes the bar if one was started.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Finish()
		io.WriteString(p.out, "\n")
	}
}
