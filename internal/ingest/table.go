package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
)

// Table is a parsed tabular file: a header row and data rows.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
	index  map[string]int
}

// NewTable builds a Table and indexes its header case-insensitively.
// Fully blank rows are dropped.
func NewTable(header []string, rows [][]string) *Table {
	t := &Table{Header: header, index: make(map[string]int, len(header))}
	for i, h := range header {
		key := foldHeader(h)
		if _, dup := t.index[key]; !dup {
			t.index[key] = i
		}
	}
	for _, r := range rows {
		if !blank(r) {
			t.Rows = append(t.Rows, r)
		}
	}
	return t
}

// Column returns the index of the first header matching any of names, or -1.
func (t *Table) Column(names ...string) int {
	for _, n := range names {
		if i, ok := t.index[foldHeader(n)]; ok {
			return i
		}
	}
	return -1
}

func (t *Table) require(names ...string) (int, error) {
	i := t.Column(names...)
	if i < 0 {
		return -1, eris.Errorf("ingest: %s: missing column %q", t.Name, names[0])
	}
	return i, nil
}

func foldHeader(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
	return strings.ReplaceAll(cases.Fold().String(s), " ", "_")
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// cursor reads typed cells from one record, keeping the first error.
type cursor struct {
	table string
	line  int
	rec   []string
	err   error
}

func (c *cursor) str(col int) string {
	if col < 0 || col >= len(c.rec) {
		return ""
	}
	return strings.TrimSpace(c.rec[col])
}

func (c *cursor) fail(field, format string, args ...any) {
	if c.err == nil {
		prefix := []any{c.table, c.line, field}
		c.err = eris.Errorf("ingest: %s line %d: %s: "+format, append(prefix, args...)...)
	}
}

func (c *cursor) id(col int, field string) string {
	v := c.str(col)
	if v == "" {
		c.fail(field, "empty value")
	}
	return v
}

// float parses a numeric cell. Empty cells are zero unless required.
func (c *cursor) float(col int, field string, required bool) float64 {
	v := strings.ReplaceAll(c.str(col), ",", "")
	if v == "" {
		if required {
			c.fail(field, "empty value")
		}
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimPrefix(v, "$"), 64)
	if err != nil {
		c.fail(field, "invalid number %q", v)
		return 0
	}
	return f
}

func (c *cursor) int64(col int, field string, required bool) int64 {
	f := c.float(col, field, required)
	return int64(f)
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"01-02-06",
}

// date parses a calendar date and returns it as UTC midnight.
func (c *cursor) date(col int, field string) time.Time {
	v := c.str(col)
	if v == "" {
		c.fail(field, "empty value")
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
	}
	c.fail(field, "invalid date %q", v)
	return time.Time{}
}
