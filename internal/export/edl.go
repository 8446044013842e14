// Package export writes editor interchange files for an aligned batch.
package export

import (
	"fmt"
	"math"
	"os"
	"strings"
)

const reelNameLen = 8

// Clip is one aligned device output placed on the multicam timeline.
type Clip struct {
	DeviceID  string
	MediaPath string
	Frames    int
}

// GenerateMulticamEDL renders a CMX3600 list with one event per clip. All
// clips share the same frame grid, so every event starts at record
// 00:00:00:00 and spans the clip's full length.
func GenerateMulticamEDL(clips []Clip, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", SanitizeName(title, 70))}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	for i, clip := range clips {
		in := framesToTimecode(0, fps)
		out := framesToTimecode(clip.Frames, fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, ReelName(clip.DeviceID), "V", in, out, in, out),
			fmt.Sprintf("* FROM CLIP NAME:  %s", clip.DeviceID),
			fmt.Sprintf("* MEDIA PATH:  %s", clip.MediaPath),
		)
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// WriteMulticamEDL renders the list and writes it to path.
func WriteMulticamEDL(path string, clips []Clip, title string, frameRate float64) error {
	if len(clips) == 0 {
		return fmt.Errorf("no clips to export")
	}
	if err := os.WriteFile(path, []byte(GenerateMulticamEDL(clips, title, frameRate)), 0o644); err != nil {
		return fmt.Errorf("failed to write EDL: %w", err)
	}
	return nil
}

// ReelName shortens a device id to the 8 characters a CMX3600 reel allows.
func ReelName(deviceID string) string {
	name := strings.ToUpper(SanitizeName(deviceID, reelNameLen))
	if name == "" {
		return "AX"
	}
	return name
}

func framesToTimecode(totalFrames int, fps int) string {
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
