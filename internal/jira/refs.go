package jira

import (
	"fmt"
	"strings"
	"time"
)

// BrowseURL builds the human-readable link for key on the given instance.
func BrowseURL(baseURL, key string) string {
	if baseURL == "" || key == "" {
		return ""
	}
	return strings.TrimSuffix(baseURL, "/") + "/browse/" + key
}

// ExtractKey extracts the issue key from a browse URL.
// For example, "https://company.atlassian.net/browse/PROJ-123?focused=1" returns "PROJ-123".
func ExtractKey(browseURL string) string {
	idx := strings.LastIndex(browseURL, "/browse/")
	if idx == -1 {
		return ""
	}
	key := browseURL[idx+len("/browse/"):]
	if end := strings.IndexAny(key, "?#"); end != -1 {
		key = key[:end]
	}
	return strings.TrimSuffix(key, "/")
}

// ParseTimestamp parses Jira's timestamp format into a time.Time.
// Jira uses ISO 8601 with timezone: 2024-01-15T10:30:00.000+0000 or 2024-01-15T10:30:00.000Z
func ParseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	formats := []string{
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05-0700",
		"2006-01-02T15:04:05Z",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", ts)
}

// FormatJQLTime renders t in the minute-precision form JQL date clauses accept.
func FormatJQLTime(t time.Time) string {
	return t.Format("2006/01/02 15:04")
}
