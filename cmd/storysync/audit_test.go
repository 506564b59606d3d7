package main

import (
	"strings"
	"testing"
)

func TestAuditFlagsOptions(t *testing.T) {
	opts, err := (&auditFlags{since: "1w", until: "2025-01-14", branch: "release", maxPages: 2, dryRun: true}).options(flagNow)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Since == nil || !opts.Since.Equal(flagNow.AddDate(0, 0, -7)) {
		t.Errorf("Since = %v", opts.Since)
	}
	if opts.Until == nil || opts.Until.Day() != 14 {
		t.Errorf("Until = %v", opts.Until)
	}
	if opts.Branch != "release" || opts.MaxPages != 2 || !opts.DryRun {
		t.Errorf("flags not carried: %+v", opts)
	}

	opts, err = (&auditFlags{}).options(flagNow)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Since != nil || opts.Until != nil {
		t.Errorf("empty flags should leave the window open: %+v", opts)
	}
}

func TestAuditFlagsOptionsErrors(t *testing.T) {
	tests := []struct {
		name  string
		flags auditFlags
		want  string
	}{
		{"negative pages", auditFlags{maxPages: -1}, "--max-pages"},
		{"bad since", auditFlags{since: "xyzzy"}, "invalid --since"},
		{"bad until", auditFlags{until: "xyzzy"}, "invalid --until"},
		{"until before since", auditFlags{since: "2025-01-10", until: "2025-01-05"}, "before --since"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.flags.options(flagNow)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}
