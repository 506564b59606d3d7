package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestTableRender(t *testing.T) {
	t.Setenv("STORYSYNC_NO_EMOJI", "1")
	var buf bytes.Buffer
	tbl := NewTable(&buf, "ID", "Status")
	tbl.Row("T1", "synced")
	tbl.Row("T2", "error")

	out := tbl.Render()
	if tbl.Len() != 2 {
		t.Errorf("Len = %d", tbl.Len())
	}
	for _, want := range []string{"ID", "Status", "T1", "synced", "T2", "error"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if buf.String() == "" {
		t.Error("nothing mirrored to the writer")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"a longer commit message", 10, "a longe..."},
		{"héllo wörld", 8, "héllo..."},
		{"abc", 2, "ab"},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
