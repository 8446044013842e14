// Package ui holds the agent's local surfaces: the system tray for the
// background service and terminal progress bars for one-shot runs.
package ui

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"
)

//go:embed icon.png
var iconBytes []byte

const trayRefreshInterval = 3 * time.Second

// RunnerControl is the part of the batch runner the tray drives.
type RunnerControl interface {
	Pause()
	Resume()
	IsPaused() bool
	ActiveBatch() string
}

// BatchCounter reports how many batches are in a status.
type BatchCounter interface {
	CountBatches(ctx context.Context, status string) (int, error)
}

type Tray struct {
	runner  RunnerControl
	batches BatchCounter
	logger  *slog.Logger
	address string

	statusItem  *systray.MenuItem
	pendingItem *systray.MenuItem
	pauseItem   *systray.MenuItem

	mu   sync.Mutex
	stop chan struct{}

	onQuit func()
}

type TrayConfig struct {
	Runner  RunnerControl
	Batches BatchCounter
	Logger  *slog.Logger
	// Address is shown in the menu so users know where the API listens.
	Address string
	OnQuit  func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		runner:  cfg.Runner,
		batches: cfg.Batches,
		logger:  cfg.Logger,
		address: cfg.Address,
		onQuit:  cfg.OnQuit,
		stop:    make(chan struct{}),
	}
}

// Run blocks until the tray quits. It must be called from the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("recsync")
	systray.SetTooltip("recsync agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current runner status")
	t.statusItem.Disable()

	t.pendingItem = systray.AddMenuItem("Pending: 0", "Batches waiting to run")
	t.pendingItem.Disable()

	if t.address != "" {
		addr := systray.AddMenuItem("API: "+t.address, "Local API address")
		addr.Disable()
	}

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Stop starting new batches")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit recsync agent")

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	go t.refreshLoop()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.stop)
	t.logger.Info("system tray exiting")
}

func (t *Tray) refreshLoop() {
	ticker := time.NewTicker(trayRefreshInterval)
	defer ticker.Stop()

	for {
		t.refresh()
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}
	}
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner != nil {
		t.statusItem.SetTitle("Status: " + statusLabel(t.runner))
	}
	if t.batches != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if n, err := t.batches.CountBatches(ctx, "pending"); err == nil {
			t.pendingItem.SetTitle(fmt.Sprintf("Pending: %d", n))
		}
	}
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause")
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume")
	}
	t.statusItem.SetTitle("Status: " + statusLabel(t.runner))
}

// statusLabel summarizes the runner for the status menu item.
func statusLabel(r RunnerControl) string {
	if id := r.ActiveBatch(); id != "" {
		if len(id) > 8 {
			id = id[:8]
		}
		label := "Aligning " + id
		if r.IsPaused() {
			label += " (pausing)"
		}
		return label
	}
	if r.IsPaused() {
		return "Paused"
	}
	return "Idle"
}

func (t *Tray) Quit() {
	systray.Quit()
}
