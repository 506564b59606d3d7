package ui

import (
	"io"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Table is a thin wrapper over a go-pretty writer with storysync's style.
type Table struct {
	tw      table.Writer
	columns []table.ColumnConfig
}

// NewTable creates a table writing to w with the given header.
func NewTable(w io.Writer, header ...string) *Table {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	style := table.StyleLight
	if !ShouldUseEmoji() {
		style = table.StyleDefault
	}
	style.Format.Header = text.FormatDefault
	style.Format.Footer = text.FormatDefault
	style.Options.SeparateRows = false
	tw.SetStyle(style)

	row := make(table.Row, len(header))
	for i, h := range header {
		row[i] = h
	}
	tw.AppendHeader(row)
	return &Table{tw: tw}
}

// Row appends a row.
func (t *Table) Row(cells ...interface{}) {
	t.tw.AppendRow(table.Row(cells))
}

// MaxWidth caps a column (1-based) at width characters; longer cells wrap.
func (t *Table) MaxWidth(column, width int) {
	t.columns = append(t.columns, table.ColumnConfig{Number: column, WidthMax: width})
	t.tw.SetColumnConfigs(t.columns)
}

// Footer sets a footer row.
func (t *Table) Footer(cells ...interface{}) {
	t.tw.AppendFooter(table.Row(cells))
}

// Len returns the number of data rows.
func (t *Table) Len() int { return t.tw.Length() }

// Render writes the table and returns the rendered text.
func (t *Table) Render() string {
	return t.tw.Render()
}

// Truncate shortens s to at most max runes, ending in "..." when cut.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}
