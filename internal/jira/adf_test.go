package jira

import (
	"encoding/json"
	"testing"
)

func TestPlainTextToADF(t *testing.T) {
	if PlainTextToADF("") != nil {
		t.Error("empty text should produce nil")
	}

	raw := PlainTextToADF("line one\n\nline two")
	var doc struct {
		Type    string `json:"type"`
		Version int    `json:"version"`
		Content []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc.Type != "doc" || doc.Version != 1 {
		t.Errorf("envelope = %s/%d", doc.Type, doc.Version)
	}
	if len(doc.Content) != 1 || doc.Content[0].Type != "paragraph" {
		t.Fatalf("want a single paragraph, got %s", raw)
	}
	var kinds []string
	for _, n := range doc.Content[0].Content {
		kinds = append(kinds, n.Type)
	}
	want := []string{"text", "hardBreak", "hardBreak", "text"}
	if len(kinds) != len(want) {
		t.Fatalf("inline nodes = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("node %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestADFPlainText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"null", "null", ""},
		{"empty", "", ""},
		{"plain string", `"just text"`, "just text"},
		{"round trip of our own envelope", string(PlainTextToADF("a\nb")), "a\nb"},
		{
			"multiple paragraphs",
			`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"one"}]},{"type":"paragraph","content":[{"type":"text","text":"two"}]}]}`,
			"one\ntwo",
		},
		{
			"nested marks",
			`{"type":"doc","content":[{"type":"bulletList","content":[{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"item"}]}]}]}]}`,
			"item",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ADFPlainText(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("ADFPlainText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsADF(t *testing.T) {
	if !IsADF([]byte(`{"type":"doc","content":[]}`)) {
		t.Error("doc envelope not detected")
	}
	for _, s := range []string{"", "plain", `{"type":"paragraph"}`, `["doc"]`} {
		if IsADF([]byte(s)) {
			t.Errorf("IsADF(%q) = true", s)
		}
	}
}
