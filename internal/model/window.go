package model

import (
	"fmt"
	"time"
)

// Window is one of the fixed rolling windows the hot cache pre-computes.
type Window int

const (
	// Window1h covers the trailing hour.
	Window1h Window = iota

	// Window6h covers the trailing 6 hours.
	Window6h

	// Window24h covers the trailing day.
	Window24h

	// Window3d covers the trailing 3 days.
	Window3d

	// Window7d covers the trailing week.
	Window7d

	// Window30d covers the trailing 30 days.
	Window30d
)

// String returns the string representation of the window.
func (w Window) String() string {
	switch w {
	case Window1h:
		return "1h"
	case Window6h:
		return "6h"
	case Window24h:
		return "24h"
	case Window3d:
		return "3d"
	case Window7d:
		return "7d"
	case Window30d:
		return "30d"
	default:
		return fmt.Sprintf("unknown(%d)", w)
	}
}

// Duration returns the span of this window.
func (w Window) Duration() time.Duration {
	switch w {
	case Window1h:
		return time.Hour
	case Window6h:
		return 6 * time.Hour
	case Window24h:
		return 24 * time.Hour
	case Window3d:
		return 3 * 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseWindow parses a string into a Window.
func ParseWindow(s string) (Window, error) {
	switch s {
	case "1h":
		return Window1h, nil
	case "6h":
		return Window6h, nil
	case "24h":
		return Window24h, nil
	case "3d":
		return Window3d, nil
	case "7d":
		return Window7d, nil
	case "30d":
		return Window30d, nil
	default:
		return Window1h, fmt.Errorf("unknown window: %s", s)
	}
}

// AllWindows returns all windows in increasing span order.
func AllWindows() []Window {
	return []Window{Window1h, Window6h, Window24h, Window3d, Window7d, Window30d}
}

// SmallestCovering returns the smallest window whose span covers the given
// duration, and false if even the largest window is too short.
func SmallestCovering(d time.Duration) (Window, bool) {
	for _, w := range AllWindows() {
		if w.Duration() >= d {
			return w, true
		}
	}
	return Window30d, false
}

// =============================================================================
// Time Range
// =============================================================================

// TimeRange is a half-open interval [StartMs, EndMs) in Unix milliseconds.
type TimeRange struct {
	StartMs int64
	EndMs   int64
}

// NewTimeRange builds a TimeRange from time.Time bounds.
func NewTimeRange(start, end time.Time) TimeRange {
	return TimeRange{StartMs: start.UnixMilli(), EndMs: end.UnixMilli()}
}

// Start returns the start as a time.Time.
func (tr TimeRange) Start() time.Time { return time.UnixMilli(tr.StartMs) }

// End returns the end as a time.Time.
func (tr TimeRange) End() time.Time { return time.UnixMilli(tr.EndMs) }

// Duration returns the span of the range.
func (tr TimeRange) Duration() time.Duration {
	return time.Duration(tr.EndMs-tr.StartMs) * time.Millisecond
}

// Validate returns an error for empty or inverted ranges.
func (tr TimeRange) Validate() error {
	if tr.EndMs <= tr.StartMs {
		return fmt.Errorf("time range [%d, %d) is empty or inverted", tr.StartMs, tr.EndMs)
	}
	return nil
}

// Contains reports whether ts falls within the range.
func (tr TimeRange) Contains(ts int64) bool {
	return ts >= tr.StartMs && ts < tr.EndMs
}

// Within reports whether the range lies entirely inside other.
func (tr TimeRange) Within(other TimeRange) bool {
	return tr.StartMs >= other.StartMs && tr.EndMs <= other.EndMs
}
