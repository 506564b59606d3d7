package jira

import (
	"testing"
	"time"
)

func TestBrowseURL(t *testing.T) {
	tests := []struct {
		base, key, want string
	}{
		{"https://company.atlassian.net", "PROJ-123", "https://company.atlassian.net/browse/PROJ-123"},
		{"https://company.atlassian.net/", "PROJ-1", "https://company.atlassian.net/browse/PROJ-1"},
		{"", "PROJ-1", ""},
		{"https://company.atlassian.net", "", ""},
	}
	for _, tt := range tests {
		if got := BrowseURL(tt.base, tt.key); got != tt.want {
			t.Errorf("BrowseURL(%q, %q) = %q, want %q", tt.base, tt.key, got, tt.want)
		}
	}
}

func TestExtractKey(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"https://company.atlassian.net/browse/PROJ-123", "PROJ-123"},
		{"https://jira.company.com/browse/TEAM-1", "TEAM-1"},
		{"https://company.atlassian.net/browse/PROJ-7?focusedCommentId=10", "PROJ-7"},
		{"https://company.atlassian.net/browse/PROJ-8/", "PROJ-8"},
		{"https://company.atlassian.net/browse/PROJ-9#comments", "PROJ-9"},
		{"not-a-url", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractKey(tt.ref); got != tt.want {
			t.Errorf("ExtractKey(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestFormatJQLTime(t *testing.T) {
	ts := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	if got := FormatJQLTime(ts); got != "2025/02/03 04:05" {
		t.Errorf("FormatJQLTime = %q", got)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name      string
		timestamp string
		wantErr   bool
		wantYear  int
	}{
		{
			name:      "standard Jira Cloud format with milliseconds",
			timestamp: "2024-01-15T10:30:00.000+0000",
			wantErr:   false,
			wantYear:  2024,
		},
		{
			name:      "Jira format with Z suffix",
			timestamp: "2024-01-15T10:30:00.000Z",
			wantErr:   false,
			wantYear:  2024,
		},
		{
			name:      "without milliseconds",
			timestamp: "2024-01-15T10:30:00+0000",
			wantErr:   false,
			wantYear:  2024,
		},
		{
			name:      "RFC3339 format",
			timestamp: "2024-01-15T10:30:00Z",
			wantErr:   false,
			wantYear:  2024,
		},
		{
			name:      "empty string",
			timestamp: "",
			wantErr:   true,
		},
		{
			name:      "invalid format",
			timestamp: "not-a-timestamp",
			wantErr:   true,
		},
		{
			name:      "with negative timezone offset",
			timestamp: "2024-06-15T10:30:00.000-0500",
			wantErr:   false,
			wantYear:  2024,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.timestamp)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseTimestamp(%q) error = %v, wantErr %v", tt.timestamp, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Year() != tt.wantYear {
				t.Errorf("ParseTimestamp(%q) year = %d, want %d", tt.timestamp, got.Year(), tt.wantYear)
			}
		})
	}
}
