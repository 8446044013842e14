package timeline

import (
	"fmt"
	"strings"
)

// TrimMode selects the window used to cut each repaired table.
type TrimMode string

const (
	// TrimStrict keeps records inside the common interval only.
	TrimStrict TrimMode = "strict"
	// TrimTolerant widens the common interval by the threshold on both ends,
	// so a boundary frame that lags another device by less than the
	// threshold is kept everywhere.
	TrimTolerant TrimMode = "tolerant"
)

// ParseTrimMode accepts the names used in config files and flags.
func ParseTrimMode(s string) (TrimMode, error) {
	switch TrimMode(strings.ToLower(strings.TrimSpace(s))) {
	case TrimStrict:
		return TrimStrict, nil
	case "", TrimTolerant:
		return TrimTolerant, nil
	default:
		return "", fmt.Errorf("unknown trim mode %q (want %s or %s)", s, TrimStrict, TrimTolerant)
	}
}

// AlignOptions is the read-only configuration shared by every device's trim.
type AlignOptions struct {
	ThresholdNS int64
	Mode        TrimMode
	// CheckSlots additionally requires every slot to agree within ThresholdNS.
	CheckSlots bool
}

// DefaultAlignOptions widens the window by the default threshold and checks
// every slot against it, so the threshold decides both which boundary frames
// survive and whether the result is accepted.
func DefaultAlignOptions() AlignOptions {
	return AlignOptions{
		ThresholdNS: DefaultThreshold.Nanoseconds(),
		Mode:        TrimTolerant,
		CheckSlots:  true,
	}
}

// Resolve returns the window covered by every table: the latest first
// timestamp up to the earliest last timestamp. The result does not depend on
// the order of tables.
func Resolve(tables ...Table) (Interval, error) {
	if len(tables) == 0 {
		return Interval{}, ErrNoTables
	}

	var iv Interval
	for i, t := range tables {
		if len(t) == 0 {
			return Interval{}, fmt.Errorf("table %d: %w: empty table", i, ErrTooShort)
		}
		first, last := t.First().TimestampNS, t.Last().TimestampNS
		if i == 0 || first > iv.StartNS {
			iv.StartNS = first
		}
		if i == 0 || last < iv.EndNS {
			iv.EndNS = last
		}
	}

	if iv.StartNS > iv.EndNS {
		return Interval{}, &OverlapError{StartNS: iv.StartNS, EndNS: iv.EndNS}
	}
	return iv, nil
}

// Trim returns the records of t that fall inside iv, in order.
func Trim(t Table, iv Interval) Table {
	out := make(Table, 0, len(t))
	for _, r := range t {
		if iv.Contains(r.TimestampNS) {
			out = append(out, r)
		}
	}
	return out
}

// Verify checks the cross-device invariants of a trimmed batch: equal frame
// counts and, when requested, per-slot agreement within the threshold. The
// first track is the reference.
func Verify(tracks []Track, opts AlignOptions) error {
	if len(tracks) == 0 {
		return ErrNoTables
	}

	ref := tracks[0]
	for _, tr := range tracks[1:] {
		if len(tr.Table) != len(ref.Table) {
			return &MisalignedTrimError{
				DeviceID:    tr.DeviceID,
				ReferenceID: ref.DeviceID,
				Expected:    len(ref.Table),
				Found:       len(tr.Table),
				ThresholdNS: opts.ThresholdNS,
				Mode:        opts.Mode,
			}
		}
	}

	if !opts.CheckSlots {
		return nil
	}

	for slot := range ref.Table {
		refTS := ref.Table[slot].TimestampNS
		for _, tr := range tracks[1:] {
			offset := tr.Table[slot].TimestampNS - refTS
			if offset < 0 {
				offset = -offset
			}
			if offset > opts.ThresholdNS {
				return &SlotOffsetError{
					Slot:        slot,
					DeviceID:    tr.DeviceID,
					ReferenceID: ref.DeviceID,
					OffsetNS:    offset,
					ThresholdNS: opts.ThresholdNS,
				}
			}
		}
	}
	return nil
}

// Align resolves the common interval of the repaired tracks, trims each of
// them into it and verifies the batch. The returned tracks keep the input
// order.
func Align(repaired []Track, opts AlignOptions) (Interval, []Track, error) {
	if len(repaired) == 0 {
		return Interval{}, nil, ErrNoTables
	}
	if opts.ThresholdNS < 0 {
		return Interval{}, nil, fmt.Errorf("negative threshold %d", opts.ThresholdNS)
	}

	tables := make([]Table, len(repaired))
	for i, tr := range repaired {
		tables[i] = tr.Table
	}

	iv, err := Resolve(tables...)
	if err != nil {
		return Interval{}, nil, err
	}

	window := iv
	if opts.Mode == TrimTolerant {
		window = iv.Widen(opts.ThresholdNS)
	}

	trimmed := make([]Track, len(repaired))
	for i, tr := range repaired {
		trimmed[i] = Track{DeviceID: tr.DeviceID, Table: Trim(tr.Table, window)}
	}

	if err := Verify(trimmed, opts); err != nil {
		return iv, trimmed, err
	}
	return iv, trimmed, nil
}
