package domain

import (
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2025, 6, 10, hour, min, 0, 0, time.UTC)
}

func TestQuietWindow_Contains_SameDay(t *testing.T) {
	w := QuietWindow{Start: "13:00", End: "15:00"}

	if w.Contains(at(12, 59)) {
		t.Error("12:59 should be outside 13:00-15:00")
	}
	if !w.Contains(at(13, 0)) {
		t.Error("13:00 should be inside 13:00-15:00")
	}
	if !w.Contains(at(14, 30)) {
		t.Error("14:30 should be inside 13:00-15:00")
	}
	if w.Contains(at(15, 0)) {
		t.Error("15:00 should be outside 13:00-15:00 (end exclusive)")
	}
}

func TestQuietWindow_Contains_SpansMidnight(t *testing.T) {
	w := QuietWindow{Start: "22:00", End: "08:00"}

	if !w.Contains(at(23, 0)) {
		t.Error("23:00 should be inside 22:00-08:00")
	}
	if !w.Contains(at(3, 0)) {
		t.Error("03:00 should be inside 22:00-08:00")
	}
	if w.Contains(at(8, 0)) {
		t.Error("08:00 should be outside 22:00-08:00")
	}
	if w.Contains(at(12, 0)) {
		t.Error("12:00 should be outside 22:00-08:00")
	}
}

func TestQuietWindow_NextEnd(t *testing.T) {
	w := QuietWindow{Start: "22:00", End: "08:00"}

	// Admitted before midnight: defer to tomorrow 08:00.
	got := w.NextEnd(at(23, 0))
	want := time.Date(2025, 6, 11, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextEnd(23:00) = %v, want %v", got, want)
	}

	// Admitted after midnight: defer to the same day's 08:00.
	got = w.NextEnd(at(3, 0))
	want = time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextEnd(03:00) = %v, want %v", got, want)
	}

	// Outside the window: unchanged.
	outside := at(12, 0)
	if got := w.NextEnd(outside); !got.Equal(outside) {
		t.Errorf("NextEnd outside window = %v, want unchanged %v", got, outside)
	}
}

func TestQuietWindow_Timezone(t *testing.T) {
	// 23:00 Berlin local is 21:00 UTC in June (CEST).
	w := QuietWindow{Start: "22:00", End: "08:00", Timezone: "Europe/Berlin"}

	utc := time.Date(2025, 6, 10, 21, 0, 0, 0, time.UTC)
	if !w.Contains(utc) {
		t.Error("21:00 UTC should be inside the Berlin 22:00-08:00 window")
	}

	end := w.NextEnd(utc)
	// 08:00 Berlin next day == 06:00 UTC.
	want := time.Date(2025, 6, 11, 6, 0, 0, 0, time.UTC)
	if !end.Equal(want) {
		t.Errorf("NextEnd = %v (UTC %v), want %v", end, end.UTC(), want)
	}
}

func TestQuietWindow_Disabled(t *testing.T) {
	cases := []QuietWindow{
		{},
		{Start: "22:00"},
		{Start: "bogus", End: "08:00"},
		{Start: "10:00", End: "10:00"},
	}
	for _, w := range cases {
		if w.Enabled() {
			t.Errorf("window %+v should be disabled", w)
		}
		if w.Contains(at(23, 0)) {
			t.Errorf("disabled window %+v should contain nothing", w)
		}
	}
}
