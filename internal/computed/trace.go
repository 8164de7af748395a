package computed

import (
	"context"
	"strings"

	"pharos/internal/artifacts"
	"pharos/internal/fault"
)

// ProcessedTrace is the slice of a pass's trace the metric audits consume.
// Timestamps are microseconds on the trace clock; zero means the event was
// not found.
type ProcessedTrace struct {
	NavigationStartTS      float64 `json:"navigationStartTs"`
	FirstPaintTS           float64 `json:"firstPaintTs"`
	FirstContentfulPaintTS float64 `json:"firstContentfulPaintTs"`
	LoadEventTS            float64 `json:"loadEventTs"`
}

// Process extracts the navigation timeline markers from a pass's trace.
func Process(ctx context.Context, c *Cache, set *artifacts.Set, pass string) (*ProcessedTrace, error) {
	return Get(ctx, c, "processed-trace@"+pass, func(context.Context) (*ProcessedTrace, error) {
		trace, ok := set.Traces[pass]
		if !ok || trace == nil {
			return nil, fault.Newf(fault.CodeMissingTrace, "no trace recorded for pass %q", pass)
		}
		pt := &ProcessedTrace{}
		for _, ev := range trace.Events {
			switch {
			case ev.Name == "navigationStart" && isTimelineEvent(ev):
				// A run can contain several navigations (about:blank, then the
				// target). The last start before first contentful paint is the
				// one the metrics are relative to; with markers in timestamp
				// order the latest start seen before FCP wins.
				if pt.FirstContentfulPaintTS == 0 {
					pt.NavigationStartTS = ev.TS
				}
			case ev.Name == "firstPaint" && pt.FirstPaintTS == 0:
				pt.FirstPaintTS = ev.TS
			case ev.Name == "firstContentfulPaint" && pt.FirstContentfulPaintTS == 0:
				pt.FirstContentfulPaintTS = ev.TS
			case ev.Name == "loadEventEnd" && pt.LoadEventTS == 0:
				pt.LoadEventTS = ev.TS
			}
		}
		if pt.NavigationStartTS == 0 {
			return nil, fault.Newf(fault.CodeMissingTrace, "trace for pass %q has no navigation start", pass)
		}
		return pt, nil
	})
}

func isTimelineEvent(ev artifacts.TraceEvent) bool {
	return ev.Cat == "" ||
		strings.Contains(ev.Cat, "blink.user_timing") ||
		strings.Contains(ev.Cat, "devtools.timeline") ||
		strings.Contains(ev.Cat, "loading")
}

// TimingSummary is the millisecond view of a pass's key load timings,
// joined from the processed trace and the main-document record.
type TimingSummary struct {
	FirstPaintMs           float64 `json:"firstPaintMs"`
	FirstContentfulPaintMs float64 `json:"firstContentfulPaintMs"`
	LoadMs                 float64 `json:"loadMs"`
	ServerResponseMs       float64 `json:"serverResponseMs"`
}

// Timings derives the millisecond summary for a pass. Server response time
// comes from the main document's resource timing; the rest are trace
// markers relative to navigation start.
func Timings(ctx context.Context, c *Cache, set *artifacts.Set, pass string) (TimingSummary, error) {
	return Get(ctx, c, "timing-summary@"+pass, func(ctx context.Context) (TimingSummary, error) {
		pt, err := Process(ctx, c, set, pass)
		if err != nil {
			return TimingSummary{}, err
		}
		var sum TimingSummary
		if pt.FirstPaintTS > pt.NavigationStartTS {
			sum.FirstPaintMs = (pt.FirstPaintTS - pt.NavigationStartTS) / 1000
		}
		if pt.FirstContentfulPaintTS > pt.NavigationStartTS {
			sum.FirstContentfulPaintMs = (pt.FirstContentfulPaintTS - pt.NavigationStartTS) / 1000
		}
		if pt.LoadEventTS > pt.NavigationStartTS {
			sum.LoadMs = (pt.LoadEventTS - pt.NavigationStartTS) / 1000
		}
		if doc, err := MainResource(ctx, c, set, pass); err == nil && doc.Timing != nil {
			if d := doc.Timing.ReceiveHeadersEnd - doc.Timing.SendEnd; d > 0 {
				sum.ServerResponseMs = d
			}
		}
		return sum, nil
	})
}
