package domain

import "time"

// QuietWindow is a recipient-local daily time window during which
// non-bypassing notifications are deferred. The window may span midnight
// (e.g. 22:00–08:00). An empty or degenerate window is disabled.
type QuietWindow struct {
	Start    string // "22:00"
	End      string // "08:00"
	Timezone string // IANA name, empty = UTC
}

// Enabled reports whether the window is configured and well-formed.
func (w QuietWindow) Enabled() bool {
	start, end, ok := w.minutes()
	return ok && start != end
}

// Contains reports whether t falls inside the quiet window.
func (w QuietWindow) Contains(t time.Time) bool {
	start, end, ok := w.minutes()
	if !ok || start == end {
		return false
	}
	local := t.In(w.location())
	m := local.Hour()*60 + local.Minute()

	if start < end {
		return m >= start && m < end
	}
	// Spans midnight: quiet from start until midnight, and from midnight to end.
	return m >= start || m < end
}

// NextEnd returns the first instant at or after t when the quiet window ends.
// Only meaningful when Contains(t) is true; otherwise t is returned unchanged.
func (w QuietWindow) NextEnd(t time.Time) time.Time {
	if !w.Contains(t) {
		return t
	}
	_, end, _ := w.minutes()
	loc := w.location()
	local := t.In(loc)

	boundary := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, loc)
	if !boundary.After(local) {
		boundary = boundary.AddDate(0, 0, 1)
	}
	return boundary
}

func (w QuietWindow) minutes() (start, end int, ok bool) {
	s, err := time.Parse("15:04", w.Start)
	if err != nil {
		return 0, 0, false
	}
	e, err := time.Parse("15:04", w.End)
	if err != nil {
		return 0, 0, false
	}
	return s.Hour()*60 + s.Minute(), e.Hour()*60 + e.Minute(), true
}

func (w QuietWindow) location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
