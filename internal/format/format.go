// Package format renders the CLI's human output: category and audit score
// tables for run summaries, plus the generic table surface the catalog and
// history listings build on. Tables render fixed-width for terminals or as
// Markdown for pasting into reports.
package format

import (
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"pharos/internal/audit"
	"pharos/internal/display"
	"pharos/internal/scoring"
)

// Mode controls the output format.
type Mode int

const (
	ASCII    Mode = iota // Fixed-width terminal tables
	Markdown             // GitHub-flavoured Markdown tables
)

// ColumnAlign specifies the horizontal alignment for a column.
type ColumnAlign int

const (
	AlignDefault ColumnAlign = iota
	AlignLeft
	AlignCenter
	AlignRight
)

// ColumnConfig controls per-column formatting.
type ColumnConfig struct {
	Number   int         // 1-based column index
	Align    ColumnAlign // horizontal alignment
	MaxWidth int         // truncate or wrap content beyond this width (0 = unlimited)
}

// Table accumulates rows and renders once, in the Mode set at creation.
type Table struct {
	writer table.Writer
	mode   Mode
}

// NewTable returns an empty table that renders in the given Mode.
func NewTable(m Mode) *Table {
	w := table.NewWriter()
	if m == ASCII {
		w.SetStyle(table.StyleLight)
	}
	return &Table{writer: w, mode: m}
}

// Header sets the column headers.
func (t *Table) Header(cols ...string) {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	t.writer.AppendHeader(row)
}

// Row appends a data row. Values are converted to strings via fmt Sprint.
func (t *Table) Row(vals ...any) {
	row := make(table.Row, len(vals))
	copy(row, vals)
	t.writer.AppendRow(row)
}

// Columns applies per-column configuration (alignment, max width).
func (t *Table) Columns(cfgs ...ColumnConfig) {
	goCfgs := make([]table.ColumnConfig, len(cfgs))
	for i, c := range cfgs {
		goCfgs[i] = table.ColumnConfig{
			Number:   c.Number,
			Align:    toTextAlign(c.Align),
			WidthMax: c.MaxWidth,
		}
	}
	t.writer.SetColumnConfigs(goCfgs)
}

// String renders the table in the configured Mode.
func (t *Table) String() string {
	if t.mode == Markdown {
		return t.writer.RenderMarkdown()
	}
	return t.writer.Render()
}

func toTextAlign(a ColumnAlign) text.Align {
	switch a {
	case AlignLeft:
		return text.AlignLeft
	case AlignRight:
		return text.AlignRight
	case AlignCenter:
		return text.AlignCenter
	default:
		return text.AlignDefault
	}
}

// ScoreCell pairs the band mark with the rendered score, the cell shape
// every score column uses.
func ScoreCell(score *float64) string {
	return display.ScoreMark(score) + " " + display.Score(score)
}

// CategoryTable renders one row per scored category, in report order.
func CategoryTable(m Mode, cats []scoring.CategoryResult) string {
	t := NewTable(m)
	t.Header("Category", "Score")
	for _, cat := range cats {
		t.Row(cat.Title, ScoreCell(cat.Score))
	}
	t.Columns(ColumnConfig{Number: 2, Align: AlignRight})
	return t.String()
}

// errorValueWidth caps error messages in the audit table's value column.
const errorValueWidth = 60

// AuditTable renders every audit result sorted by id. An errored audit
// shows its message in place of the display value.
func AuditTable(m Mode, audits map[string]audit.Result) string {
	ids := make([]string, 0, len(audits))
	for id := range audits {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	t := NewTable(m)
	t.Header("Audit", "Score", "Mode", "Value")
	for _, id := range ids {
		a := audits[id]
		value := a.DisplayValue
		if a.Error != "" {
			value = Truncate(a.Error, errorValueWidth)
		}
		t.Row(
			display.ScoreMark(a.Score)+" "+id,
			display.Score(a.Score),
			display.Mode(string(a.DisplayMode)),
			value,
		)
	}
	t.Columns(
		ColumnConfig{Number: 2, Align: AlignRight},
		ColumnConfig{Number: 4, MaxWidth: errorValueWidth},
	)
	return t.String()
}
