package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"
)

// table renders aligned columns. Widths are measured in terminal cells so
// that CJK kind names and field values line up.
type table struct {
	w       io.Writer
	headers []string
	rows    [][]string
	noColor bool
}

func newTable(w io.Writer, noColor bool, headers ...string) *table {
	return &table{w: w, headers: headers, noColor: noColor}
}

func (t *table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) paint(s color.Style, text string) string {
	if t.noColor {
		return text
	}
	return s.Sprint(text)
}

// Render writes the header, a separator and every row.
func (t *table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				if w := runewidth.StringWidth(cell); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}

	header := color.New(color.Bold, color.FgCyan)
	cells := make([]string, len(t.headers))
	for i, h := range t.headers {
		cells[i] = t.paint(header, runewidth.FillRight(h, widths[i]))
	}
	fmt.Fprintln(t.w, strings.TrimRight(strings.Join(cells, "  "), " "))

	gray := color.New(color.FgGray)
	for i, w := range widths {
		cells[i] = t.paint(gray, strings.Repeat("-", w))
	}
	fmt.Fprintln(t.w, strings.Join(cells, "  "))

	for _, row := range t.rows {
		out := make([]string, 0, len(widths))
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			out = append(out, runewidth.FillRight(cell, widths[i]))
		}
		fmt.Fprintln(t.w, strings.TrimRight(strings.Join(out, "  "), " "))
	}
}

// levelStyle colors report levels the same way in verify and diff output.
func levelStyle(level string) color.Style {
	switch level {
	case "PASS", "ADD":
		return color.New(color.FgGreen)
	case "WARN", "CHG":
		return color.New(color.FgYellow)
	case "FAIL", "CRIT", "DEL":
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgGray)
	}
}

func paintLevel(level string, noColor bool) string {
	if noColor {
		return level
	}
	return levelStyle(level).Sprint(level)
}
