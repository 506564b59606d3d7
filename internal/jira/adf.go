package jira

import (
	"encoding/json"
	"strings"
)

// PlainTextToADF wraps text in an Atlassian Document Format envelope holding
// a single paragraph. Line breaks become hardBreak nodes. Empty text yields
// nil so callers can omit the field.
func PlainTextToADF(text string) json.RawMessage {
	if text == "" {
		return nil
	}

	var content []interface{}
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			content = append(content, map[string]interface{}{"type": "hardBreak"})
		}
		if line == "" {
			continue
		}
		content = append(content, map[string]interface{}{
			"type": "text",
			"text": line,
		})
	}

	doc := map[string]interface{}{
		"type":    "doc",
		"version": 1,
		"content": []interface{}{
			map[string]interface{}{
				"type":    "paragraph",
				"content": content,
			},
		},
	}

	data, _ := json.Marshal(doc)
	return data
}

// IsADF reports whether raw is an ADF document envelope.
func IsADF(raw []byte) bool {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return false
	}
	return head.Type == "doc"
}

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

// ADFPlainText extracts readable text from an ADF blob for display only. It
// is not an inverse of PlainTextToADF and is never used to round-trip.
func ADFPlainText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Type != "doc" {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}

	var blocks []string
	for _, block := range doc.Content {
		var sb strings.Builder
		writeInline(&sb, block)
		if sb.Len() > 0 {
			blocks = append(blocks, sb.String())
		}
	}
	return strings.Join(blocks, "\n")
}

func writeInline(sb *strings.Builder, n adfNode) {
	switch n.Type {
	case "text":
		sb.WriteString(n.Text)
	case "hardBreak":
		sb.WriteByte('\n')
	}
	for _, child := range n.Content {
		writeInline(sb, child)
	}
}
