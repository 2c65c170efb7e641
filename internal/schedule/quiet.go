package schedule

import "time"

// QuietWindow is a daily [Start, End) range during which notifications are
// deferred. Start after End means the window spans midnight; Start equal to
// End is an empty window.
type QuietWindow struct {
	Start TimeOfDay
	End   TimeOfDay
}

// ParseQuietWindow parses the quiet_start and quiet_end strings of a settings snapshot.
func ParseQuietWindow(start, end string) (QuietWindow, error) {
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return QuietWindow{}, err
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return QuietWindow{}, err
	}
	return QuietWindow{Start: s, End: e}, nil
}

// Empty reports whether the window never contains any instant.
func (w QuietWindow) Empty() bool {
	return w.Start == w.End
}

// Contains reports whether t's wall-clock time falls inside the window.
func (w QuietWindow) Contains(t time.Time) bool {
	if w.Empty() {
		return false
	}

	m := t.Hour()*60 + t.Minute()
	start, end := w.Start.Minutes(), w.End.Minutes()

	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// EndAfter returns the first window end strictly after t. For t inside the
// window this is the instant the window closes.
func (w QuietWindow) EndAfter(t time.Time) time.Time {
	return w.End.NextAfter(t)
}
