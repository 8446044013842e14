// Package session runs a full alignment batch: it discovers the per-device
// recordings of a session directory, repairs and aligns their timestamp
// tables, and rebuilds one video plus one sidecar table per device.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var deviceIDPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

var ErrNoDevices = errors.New("no device directories found")

// Device is one recording found in a session directory.
type Device struct {
	ID        string `json:"id"`
	Dir       string `json:"dir"`
	TablePath string `json:"table_path"`
	VideoPath string `json:"video_path"`
}

// InputShapeError reports a device directory that does not hold exactly one
// file of the given kind.
type InputShapeError struct {
	DeviceID string
	Kind     string
	Found    int
}

func (e *InputShapeError) Error() string {
	return fmt.Sprintf("expecting 1 %s file for device %s, found %d", e.Kind, e.DeviceID, e.Found)
}

// IsDeviceID reports whether name is a valid device identifier.
func IsDeviceID(name string) bool {
	return deviceIDPattern.MatchString(name)
}

// Discover lists the device recordings under inputDir, sorted by id. Entries
// whose name is not a device id are logged and skipped.
func Discover(inputDir string, logger *slog.Logger) ([]Device, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input dir: %w", err)
	}

	var devices []Device
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !IsDeviceID(name) {
			logger.Debug("discarding entry", "name", name)
			continue
		}

		dir := filepath.Join(inputDir, name)
		csvs, err := filesWithExt(dir, ".csv")
		if err != nil {
			return nil, err
		}
		if len(csvs) != 1 {
			return nil, &InputShapeError{DeviceID: name, Kind: "csv", Found: len(csvs)}
		}
		mp4s, err := filesWithExt(dir, ".mp4")
		if err != nil {
			return nil, err
		}
		if len(mp4s) != 1 {
			return nil, &InputShapeError{DeviceID: name, Kind: "mp4", Found: len(mp4s)}
		}

		logger.Info("found device", "device_id", name)
		devices = append(devices, Device{
			ID:        name,
			Dir:       dir,
			TablePath: csvs[0],
			VideoPath: mp4s[0],
		})
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDevices, inputDir)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

func filesWithExt(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read device dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}
