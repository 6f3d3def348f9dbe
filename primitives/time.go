// Package primitives contains the immutable value types that describe queries and data chunks:
// time intervals, coordinates, bounding boxes, spatial partitions and resolutions.
package primitives

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TimeInstance is a point in time in milliseconds since the Unix epoch.
type TimeInstance int64

const (
	// MinTimeInstance is the smallest instance that can be represented as a calendar date (-262144-01-01).
	MinTimeInstance TimeInstance = -8_334_632_851_200_001
	// MaxTimeInstance is the largest instance that can be represented as a calendar date (+262143-12-31).
	MaxTimeInstance TimeInstance = 8_210_298_412_800_000
)

var ErrTimeIntervalEndBeforeStart = errors.New("time interval end is before its start")

func TimeInstanceFromTime(t time.Time) TimeInstance {
	return TimeInstance(t.UnixMilli())
}

func (t TimeInstance) Time() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

func (t TimeInstance) String() string {
	switch t {
	case MinTimeInstance:
		return "-inf"
	case MaxTimeInstance:
		return "+inf"
	}
	return t.Time().Format(time.RFC3339Nano)
}

// TimeInterval is the half-open interval [Start, End).
// An interval with Start == End is a time instant.
type TimeInterval struct {
	Start TimeInstance `json:"start"`
	End   TimeInstance `json:"end"`
}

func NewTimeInterval(start, end TimeInstance) (TimeInterval, error) {
	if start > end {
		return TimeInterval{}, fmt.Errorf("%w: [%d, %d)", ErrTimeIntervalEndBeforeStart, start, end)
	}
	return TimeInterval{Start: start, End: end}, nil
}

// NewTimeIntervalUnchecked is for literals that are known to be valid.
func NewTimeIntervalUnchecked(start, end TimeInstance) TimeInterval {
	return TimeInterval{Start: start, End: end}
}

func NewTimeInstant(t TimeInstance) TimeInterval {
	return TimeInterval{Start: t, End: t}
}

// DefaultTimeInterval spans all representable time.
func DefaultTimeInterval() TimeInterval {
	return TimeInterval{Start: MinTimeInstance, End: MaxTimeInstance}
}

func (t TimeInterval) IsInstant() bool {
	return t.Start == t.End
}

func (t TimeInterval) Duration() int64 {
	return int64(t.End) - int64(t.Start)
}

// ContainsInstant reports Start <= i < End. An instant interval only contains itself.
func (t TimeInterval) ContainsInstant(i TimeInstance) bool {
	if t.IsInstant() {
		return i == t.Start
	}
	return t.Start <= i && i < t.End
}

func (t TimeInterval) Contains(other TimeInterval) bool {
	if t == other {
		return true
	}
	if other.IsInstant() {
		return t.ContainsInstant(other.Start)
	}
	return t.Start <= other.Start && other.End <= t.End
}

func (t TimeInterval) Intersects(other TimeInterval) bool {
	return t == other || t.ContainsInstant(other.Start) || other.ContainsInstant(t.Start)
}

// Intersection returns the overlapping part of both intervals, if any.
func (t TimeInterval) Intersection(other TimeInterval) (TimeInterval, bool) {
	if !t.Intersects(other) {
		return TimeInterval{}, false
	}
	return TimeInterval{Start: max(t.Start, other.Start), End: min(t.End, other.End)}, true
}

// Union merges overlapping or adjacent intervals.
func (t TimeInterval) Union(other TimeInterval) (TimeInterval, error) {
	if !t.Intersects(other) && t.End != other.Start && other.End != t.Start {
		return TimeInterval{}, fmt.Errorf("time intervals %v and %v neither intersect nor touch", t, other)
	}
	return TimeInterval{Start: min(t.Start, other.Start), End: max(t.End, other.End)}, nil
}

func (t TimeInterval) String() string {
	return fmt.Sprintf("[%v, %v)", t.Start, t.End)
}

func (t *TimeInterval) UnmarshalJSON(data []byte) error {
	var raw struct {
		Start TimeInstance `json:"start"`
		End   TimeInstance `json:"end"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	interval, err := NewTimeInterval(raw.Start, raw.End)
	if err != nil {
		return err
	}
	*t = interval
	return nil
}
