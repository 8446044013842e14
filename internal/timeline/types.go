// Package timeline repairs per-device frame timestamp traces and aligns them
// onto a common frame grid. Everything here is pure computation over
// in-memory tables; no function in this package touches the filesystem.
package timeline

import "time"

// NoFrame is the FrameIndex carried by synthesized records.
const NoFrame int64 = -1

// DefaultThreshold is the cross-device tolerance used when none is configured.
const DefaultThreshold = 10 * time.Millisecond

// Record is one row of a device timestamp trace.
type Record struct {
	FrameIndex  int64 `json:"frame_index"`
	TimestampNS int64 `json:"timestamp_ns"`
	Synthesized bool  `json:"synthesized"`
}

// Table is a device trace ordered by timestamp.
type Table []Record

// Len returns the number of records.
func (t Table) Len() int { return len(t) }

// First returns the earliest record. It panics on an empty table.
func (t Table) First() Record { return t[0] }

// Last returns the latest record. It panics on an empty table.
func (t Table) Last() Record { return t[len(t)-1] }

// SynthesizedCount returns how many records were inserted by repair.
func (t Table) SynthesizedCount() int {
	n := 0
	for _, r := range t {
		if r.Synthesized {
			n++
		}
	}
	return n
}

// Timestamps returns the timestamp column.
func (t Table) Timestamps() []int64 {
	out := make([]int64, len(t))
	for i, r := range t {
		out[i] = r.TimestampNS
	}
	return out
}

// Clone returns an independent copy of t.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	copy(out, t)
	return out
}

// Interval is the closed time window [StartNS, EndNS] shared by all devices.
type Interval struct {
	StartNS int64 `json:"start_ns"`
	EndNS   int64 `json:"end_ns"`
}

// Contains reports whether ts lies inside the interval, bounds included.
func (iv Interval) Contains(ts int64) bool {
	return ts >= iv.StartNS && ts <= iv.EndNS
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration {
	return time.Duration(iv.EndNS - iv.StartNS)
}

// Widen returns the interval grown by d on both ends.
func (iv Interval) Widen(d int64) Interval {
	return Interval{StartNS: iv.StartNS - d, EndNS: iv.EndNS + d}
}

// Track pairs a device identifier with one of its tables.
type Track struct {
	DeviceID string
	Table    Table
}
