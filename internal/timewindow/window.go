// Package timewindow defines the inclusive time windows and the hourly/daily bucket
// series used by every statistics surface.
package timewindow

import (
	"fmt"
	"strings"
	"time"
)

// Resolution is the granularity at which event timestamps are compared to window bounds.
const Resolution = time.Millisecond

// AllTimeBuckets bounds the "all" range so a series stays renderable.
const AllTimeBuckets = 90

// Window is an inclusive [Start, End] interval at millisecond resolution.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ClipToNow pulls End back to now when the window extends into the future.
func (w Window) ClipToNow(now time.Time) Window {
	now = now.Truncate(Resolution)
	if w.End.After(now) {
		w.End = now
	}
	return w
}

func (w Window) Contains(t time.Time) bool {
	t = t.Truncate(Resolution)
	return !t.Before(w.Start) && !t.After(w.End)
}

// Until is the exclusive upper bound matching Contains, for use in SQL range filters.
func (w Window) Until() time.Time {
	return w.End.Truncate(Resolution).Add(Resolution)
}

type RangeKey string

const (
	Range24h RangeKey = "24h"
	Range7d  RangeKey = "7d"
	Range30d RangeKey = "30d"
	Range90d RangeKey = "90d"
	Range1y  RangeKey = "1y"
	RangeAll RangeKey = "all"
)

const DefaultRange = Range30d

// ParseRange accepts the dashboard dateRange values; "1d" is an alias of "24h".
func ParseRange(raw string) (RangeKey, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return DefaultRange, nil
	case "24h", "1d":
		return Range24h, nil
	case "7d":
		return Range7d, nil
	case "30d":
		return Range30d, nil
	case "90d":
		return Range90d, nil
	case "1y":
		return Range1y, nil
	case "all":
		return RangeAll, nil
	}
	return "", fmt.Errorf("unsupported date range %q", raw)
}

func (k RangeKey) Hourly() bool {
	return k == Range24h
}

func (k RangeKey) days() int {
	switch k {
	case Range7d:
		return 7
	case Range30d:
		return 30
	case Range90d:
		return 90
	case Range1y:
		return 365
	case RangeAll:
		return AllTimeBuckets
	}
	return 0
}

type Bucket struct {
	Window
	Label string `json:"label"`
}

// Buckets returns the chronological series for the range ending at now. Consecutive
// buckets are contiguous (next.Start == prev.End + Resolution) and the last one is
// clipped to now.
func Buckets(key RangeKey, now time.Time, loc *time.Location) []Bucket {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)

	if key.Hourly() {
		current := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, loc)
		out := make([]Bucket, 0, 24)
		for i := 23; i >= 0; i-- {
			start := current.Add(-time.Duration(i) * time.Hour)
			w := Window{Start: start, End: start.Add(time.Hour - Resolution)}.ClipToNow(now)
			out = append(out, Bucket{Window: w, Label: start.Format("15:04")})
		}
		return out
	}

	n := key.days()
	out := make([]Bucket, 0, n)
	for i := n - 1; i >= 0; i-- {
		start := time.Date(now.Year(), now.Month(), now.Day()-i, 0, 0, 0, 0, loc)
		next := time.Date(now.Year(), now.Month(), now.Day()-i+1, 0, 0, 0, 0, loc)
		w := Window{Start: start, End: next.Add(-Resolution)}.ClipToNow(now)
		out = append(out, Bucket{Window: w, Label: start.Format("Jan 2")})
	}
	return out
}

// Span is the window covering every bucket.
func Span(buckets []Bucket) Window {
	if len(buckets) == 0 {
		return Window{}
	}
	return Window{Start: buckets[0].Start, End: buckets[len(buckets)-1].End}
}
