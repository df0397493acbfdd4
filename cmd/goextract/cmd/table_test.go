package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_AlignsWideCharacters(t *testing.T) {
	var buf bytes.Buffer
	tbl := newTable(&buf, true, "KIND", "RECORDS")
	tbl.AddRow("Item", "12")
	tbl.AddRow("アイテム", "3")
	tbl.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "KIND      RECORDS", lines[0])
	assert.Equal(t, "--------  -------", lines[1])

	// Both data rows start their second column at the same cell.
	assert.Equal(t, 10, runewidth.StringWidth(lines[2][:strings.Index(lines[2], "12")]))
	assert.Equal(t, 10, runewidth.StringWidth(lines[3][:strings.Index(lines[3], "3")]))
}

func TestTable_NoHeaders(t *testing.T) {
	var buf bytes.Buffer
	tbl := newTable(&buf, true)
	tbl.AddRow("x")
	tbl.Render()
	assert.Empty(t, buf.String())
}

func TestTable_ExtraCellsIgnored(t *testing.T) {
	var buf bytes.Buffer
	tbl := newTable(&buf, true, "A")
	tbl.AddRow("1", "dropped")
	tbl.Render()
	assert.NotContains(t, buf.String(), "dropped")
}

func TestPaintLevel(t *testing.T) {
	assert.Equal(t, "PASS", paintLevel("PASS", true))
	for _, level := range []string{"PASS", "WARN", "FAIL", "CRIT", "INFO"} {
		assert.Contains(t, paintLevel(level, false), level)
	}
}
