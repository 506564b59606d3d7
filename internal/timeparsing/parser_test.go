package timeparsing

import (
	"testing"
	"time"
)

// Wednesday, January 15, 2025, 10:00 local.
var refNow = time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local)

func TestParseCompactDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"+6h", refNow.Add(6 * time.Hour), false},
		{"-1d", refNow.AddDate(0, 0, -1), false},
		{"2w", refNow.AddDate(0, 0, 14), false},
		{"+3m", refNow.AddDate(0, 3, 0), false},
		{"-1y", refNow.AddDate(-1, 0, 0), false},
		{"6", time.Time{}, true},
		{"+6x", time.Time{}, true},
		{"6 h", time.Time{}, true},
		{"", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := ParseCompactDuration(tt.input, refNow)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCompactDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("ParseCompactDuration(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseCompactDuration_MonthBoundary(t *testing.T) {
	jan31 := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)
	got, err := ParseCompactDuration("+1m", jan31)
	if err != nil {
		t.Fatal(err)
	}
	// Go normalizes Feb 31 to Mar 3.
	if want := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseNaturalLanguage(t *testing.T) {
	tests := []struct {
		input    string
		wantDay  int
		wantHour int // -1 skips the hour check
		wantErr  bool
	}{
		{"tomorrow", 16, -1, false},
		{"yesterday", 14, -1, false},
		{"tomorrow at 9am", 16, 9, false},
		{"in 3 days", 18, -1, false},
		{"3 days ago", 12, -1, false},
		{"not a date at all", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseNaturalLanguage(tt.input, refNow)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Year() != 2025 || got.Month() != time.January || got.Day() != tt.wantDay {
				t.Errorf("got %v, want January %d 2025", got, tt.wantDay)
			}
			if tt.wantHour >= 0 && got.Hour() != tt.wantHour {
				t.Errorf("hour = %d, want %d", got.Hour(), tt.wantHour)
			}
		})
	}
}

func TestParseRelativeTimeLayers(t *testing.T) {
	got, err := ParseRelativeTime("+1d", refNow)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(refNow.AddDate(0, 0, 1)) {
		t.Errorf("+1d = %v, compact duration must keep the time of day", got)
	}

	got, err = ParseRelativeTime("2025-01-20", refNow)
	if err != nil {
		t.Fatal(err)
	}
	if got.Day() != 20 || got.Hour() != 0 {
		t.Errorf("2025-01-20 = %v, want local midnight", got)
	}

	got, err = ParseRelativeTime("2025-03-15T14:30:00Z", refNow)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("RFC3339 = %v, want %v", got, want)
	}

	if _, err := ParseRelativeTime("not-a-date", refNow); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestParseSinceLooksBack(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2d", refNow.AddDate(0, 0, -2)},
		{"-2d", refNow.AddDate(0, 0, -2)},
		{"+1h", refNow.Add(time.Hour)},
		{"2025-01-01", time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)},
	}
	for _, tt := range tests {
		got, err := ParseSince(tt.input, refNow)
		if err != nil {
			t.Errorf("ParseSince(%q): %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseSince(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if got.Location() != time.UTC {
			t.Errorf("ParseSince(%q) location = %v, want UTC", tt.input, got.Location())
		}
	}
}

func TestParseOptional(t *testing.T) {
	got, err := ParseOptional("  ", refNow, ParseSince)
	if err != nil || got != nil {
		t.Errorf("blank = %v, %v; want nil, nil", got, err)
	}
	got, err = ParseOptional("1w", refNow, ParseSince)
	if err != nil || got == nil || !got.Equal(refNow.AddDate(0, 0, -7)) {
		t.Errorf("1w = %v, %v", got, err)
	}
	if _, err := ParseOptional("xyzzy", refNow, ParseSince); err == nil {
		t.Error("expected error")
	}
}
