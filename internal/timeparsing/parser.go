// Package timeparsing parses the time expressions accepted by --since and
// --until.
//
// Parsing is layered; the first layer that accepts the input wins:
//  1. Compact duration (+6h, -1d, 2w)
//  2. Date only (2025-01-20, local midnight)
//  3. RFC3339 timestamp
//  4. Natural language (yesterday, 3 days ago, last monday)
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// compactDurationRe matches [+-]?(\d+)([hdwmy]), e.g. +6h, -1d, 3m.
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// ParseCompactDuration applies a compact duration to now. Units are h(ours),
// d(ays), w(eeks), m(onths) and y(ears); no sign means forward.
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	amount, unit, err := splitCompact(s)
	if err != nil {
		return time.Time{}, err
	}
	return applyDuration(now, amount, unit), nil
}

func splitCompact(s string) (int, string, error) {
	matches := compactDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return 0, "", fmt.Errorf("not a compact duration: %q", s)
	}
	amount, err := strconv.Atoi(matches[2])
	if err != nil {
		return 0, "", fmt.Errorf("invalid duration amount: %q", matches[2])
	}
	if matches[1] == "-" {
		amount = -amount
	}
	return amount, matches[3], nil
}

func applyDuration(base time.Time, amount int, unit string) time.Time {
	switch unit {
	case "h":
		return base.Add(time.Duration(amount) * time.Hour)
	case "d":
		return base.AddDate(0, 0, amount)
	case "w":
		return base.AddDate(0, 0, amount*7)
	case "m":
		return base.AddDate(0, amount, 0)
	case "y":
		return base.AddDate(amount, 0, 0)
	default:
		return base
	}
}

// IsCompactDuration reports whether s is compact duration syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(s)
}

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseNaturalLanguage parses English expressions such as "tomorrow",
// "3 days ago" or "next monday at 2pm" relative to now.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	r, err := parser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("not a recognized time expression: %q", s)
	}
	return r.Time, nil
}

// ParseRelativeTime runs the parsing layers in order.
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := ParseNaturalLanguage(s, now); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse %q: use a compact duration (2d, -6h), a date (2025-01-20), RFC3339, or an expression like \"3 days ago\"", s)
}

// ParseSince parses a lower bound for a pull or audit window. An unsigned
// compact duration looks back, so "2d" means two days ago; everything else
// follows ParseRelativeTime. The result is in UTC.
func ParseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if IsCompactDuration(s) && !strings.HasPrefix(s, "+") && !strings.HasPrefix(s, "-") {
		amount, unit, err := splitCompact(s)
		if err != nil {
			return time.Time{}, err
		}
		return applyDuration(now, -amount, unit).UTC(), nil
	}
	t, err := ParseRelativeTime(s, now)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ParseOptional parses s with parse unless it is empty, in which case it
// returns nil.
func ParseOptional(s string, now time.Time, parse func(string, time.Time) (time.Time, error)) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := parse(s, now)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
