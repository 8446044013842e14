package timeline

import (
	"fmt"
	"sort"
)

// EstimateStep infers the nominal inter-frame interval of raw as the lower
// median of its consecutive timestamp differences. Dropped frames and jitter
// only move the tails of the distribution, so the median stays on the
// nominal spacing as long as most frames were delivered.
func EstimateStep(raw Table) (int64, error) {
	if len(raw) < 2 {
		return 0, fmt.Errorf("%w: got %d records, need at least 2", ErrTooShort, len(raw))
	}

	diffs := make([]int64, 0, len(raw)-1)
	for i := 1; i < len(raw); i++ {
		d := raw[i].TimestampNS - raw[i-1].TimestampNS
		if d <= 0 {
			return 0, &OrderError{Row: i, PrevNS: raw[i-1].TimestampNS, TimestampNS: raw[i].TimestampNS}
		}
		diffs = append(diffs, d)
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i] < diffs[j] })
	return diffs[(len(diffs)-1)/2], nil
}

// Repair returns a gap-free copy of raw. Gaps of at least 1.5 times the
// estimated step are filled with evenly spaced synthesized records.
func Repair(raw Table) (Table, error) {
	step, err := EstimateStep(raw)
	if err != nil {
		return nil, err
	}
	return RepairWithStep(raw, step)
}

// RepairWithStep is Repair with a caller-supplied nominal step.
func RepairWithStep(raw Table, step int64) (Table, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: got %d records, need at least 2", ErrTooShort, len(raw))
	}
	if step <= 0 {
		return nil, fmt.Errorf("invalid frame step %d", step)
	}

	out := make(Table, 0, len(raw))
	first := raw[0]
	first.Synthesized = false
	out = append(out, first)

	for i := 1; i < len(raw); i++ {
		prev, cur := raw[i-1], raw[i]
		gap := cur.TimestampNS - prev.TimestampNS
		if gap <= 0 {
			return nil, &OrderError{Row: i, PrevNS: prev.TimestampNS, TimestampNS: cur.TimestampNS}
		}

		// gap >= 1.5*step, kept in integers
		if 2*gap >= 3*step {
			missing := roundDiv(gap, step) - 1
			for k := int64(1); k <= missing; k++ {
				out = append(out, Record{
					FrameIndex:  NoFrame,
					TimestampNS: prev.TimestampNS + k*step,
					Synthesized: true,
				})
			}
		}

		cur.Synthesized = false
		out = append(out, cur)
	}

	return out, nil
}

// roundDiv returns a/b rounded half up, for positive a and b.
func roundDiv(a, b int64) int64 {
	return (a + b/2) / b
}
