package intake

import "time"

// =============================================================================
// WINDOW - Half-open time range for aggregation
// =============================================================================

// Window is the range [Start, End). An event at exactly End belongs to the
// next window.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End)
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Next returns the window of the same calendar length that follows w.
func (w Window) Next() Window {
	days := daysBetween(w.Start, w.End)
	return Window{Start: w.End, End: w.End.AddDate(0, 0, days)}
}

func (w Window) String() string {
	return "[" + w.Start.Format(time.RFC3339) + ", " + w.End.Format(time.RFC3339) + ")"
}

// DayWindow returns the local calendar day containing t.
// Daylight-saving days are 23 or 25 hours long.
func DayWindow(t time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// DayWindows returns days consecutive day windows starting with the day
// containing first.
func DayWindows(first time.Time, days int, loc *time.Location) []Window {
	if days < 1 {
		return nil
	}
	windows := make([]Window, 0, days)
	w := DayWindow(first, loc)
	for i := 0; i < days; i++ {
		windows = append(windows, w)
		w = w.Next()
	}
	return windows
}

func daysBetween(start, end time.Time) int {
	n := 0
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}
