package timeline

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTooShort       = errors.New("not enough timestamps to infer the frame interval")
	ErrNotMonotonic   = errors.New("timestamps are not strictly increasing")
	ErrNoTables       = errors.New("no timestamp tables given")
	ErrEmptyOverlap   = errors.New("device sessions share no common recording window")
	ErrMisalignedTrim = errors.New("trimmed tables have different frame counts")
	ErrSlotOffset     = errors.New("frame slot offset exceeds threshold")
)

// OrderError reports the first row whose timestamp does not advance.
type OrderError struct {
	Row         int
	PrevNS      int64
	TimestampNS int64
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("row %d: timestamp %d does not follow %d", e.Row, e.TimestampNS, e.PrevNS)
}

func (e *OrderError) Unwrap() error { return ErrNotMonotonic }

// OverlapError carries the inverted bounds of an empty common interval.
type OverlapError struct {
	StartNS int64
	EndNS   int64
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%v: latest first timestamp %d is after earliest last timestamp %d (gap %s); check that all sessions were recorded together",
		ErrEmptyOverlap, e.StartNS, e.EndNS, time.Duration(e.StartNS-e.EndNS))
}

func (e *OverlapError) Unwrap() error { return ErrEmptyOverlap }

// MisalignedTrimError names the first device whose trimmed length differs
// from the reference device.
type MisalignedTrimError struct {
	DeviceID    string
	ReferenceID string
	Expected    int
	Found       int
	ThresholdNS int64
	Mode        TrimMode
}

func (e *MisalignedTrimError) Error() string {
	return fmt.Sprintf("device %s: expecting %d frames (as device %s), found %d. "+
		"This might be due to an excessive phase offset during recording. %s",
		e.DeviceID, e.Expected, e.ReferenceID, e.Found, thresholdHint(e.Mode, e.ThresholdNS))
}

func (e *MisalignedTrimError) Unwrap() error { return ErrMisalignedTrim }

// SlotOffsetError reports a slot whose timestamps spread wider than the threshold.
type SlotOffsetError struct {
	Slot        int
	DeviceID    string
	ReferenceID string
	OffsetNS    int64
	ThresholdNS int64
}

func (e *SlotOffsetError) Error() string {
	return fmt.Sprintf("slot %d: device %s is %s away from device %s, above threshold %s. Try to increase the threshold",
		e.Slot, e.DeviceID, time.Duration(e.OffsetNS), e.ReferenceID, time.Duration(e.ThresholdNS))
}

func (e *SlotOffsetError) Unwrap() error { return ErrSlotOffset }

// thresholdHint tells the operator which knob can fix a rejected batch. In
// strict mode the threshold does not move the trim window, so raising it
// alone cannot change the frame counts.
func thresholdHint(mode TrimMode, thresholdNS int64) string {
	if mode == TrimStrict {
		return fmt.Sprintf("Set trim_mode=%s so the threshold (currently %s) widens the trim window",
			TrimTolerant, time.Duration(thresholdNS))
	}
	return fmt.Sprintf("Try to increase the threshold (currently %s)", time.Duration(thresholdNS))
}
