package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/dataframe"
)

// TableConfig holds configuration for table rendering.
type TableConfig struct {
	NoColor    bool
	Compact    bool
	MaxWidth   int  // 0 means auto-detect
	UseUnicode bool // box-drawing characters instead of ASCII
	// Selected is the 1-based body row to highlight; 0 means none.
	Selected int
}

// Table is a lipgloss-styled grid. The TUI uses it to draw result pages.
type Table struct {
	config  TableConfig
	headers []string
	rows    [][]string
	styles  TableStyles
}

// TableStyles contains lipgloss styles for different table elements.
type TableStyles struct {
	Header       lipgloss.Style
	Cell         lipgloss.Style
	Border       lipgloss.Style
	SelectedRow  lipgloss.Style
	AlternateRow lipgloss.Style
}

// NewTable creates an empty table.
func NewTable(config TableConfig) *Table {
	return &Table{config: config, styles: defaultStyles(config.NoColor)}
}

// FrameTable builds a table holding every row of f, columns in frame order.
func FrameTable(f dataframe.Frame, config TableConfig) *Table {
	t := NewTable(config)
	t.SetHeaders(f.Columns())
	for _, row := range f.Rows() {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = flatten(dataframe.Format(c.Value))
		}
		t.AddRow(cells)
	}
	return t
}

// SetHeaders sets the table headers.
func (t *Table) SetHeaders(headers []string) {
	t.headers = headers
}

// AddRow adds a row. Missing cells render empty.
func (t *Table) AddRow(row []string) {
	t.rows = append(t.rows, row)
}

// Render draws the table, shrinking columns to fit the terminal width.
func (t *Table) Render() string {
	if len(t.headers) == 0 {
		return ""
	}

	width := t.config.MaxWidth
	if width == 0 {
		width = detectTerminalWidth()
	}
	widths := t.columnWidths(width)
	b := t.box()

	var sb strings.Builder
	if !t.config.Compact {
		sb.WriteString(t.styles.Border.Render(b.line(widths, b.top)))
		sb.WriteByte('\n')
	}
	sb.WriteString(t.renderRow(t.headers, widths, t.styles.Header))
	sb.WriteByte('\n')
	sb.WriteString(t.styles.Border.Render(b.line(widths, b.mid)))
	sb.WriteByte('\n')

	for i, row := range t.rows {
		style := t.styles.Cell
		switch {
		case i+1 == t.config.Selected:
			style = t.styles.SelectedRow
		case i%2 == 1:
			style = t.styles.AlternateRow
		}
		sb.WriteString(t.renderRow(row, widths, style))
		sb.WriteByte('\n')
	}

	if !t.config.Compact {
		sb.WriteString(t.styles.Border.Render(b.line(widths, b.bottom)))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// columnWidths sizes each column to its widest cell. When the total
// overflows maxWidth every column keeps three cells and the remaining space
// is shared in proportion to what each column would need beyond that.
func (t *Table) columnWidths(maxWidth int) []int {
	n := len(t.headers)
	natural := make([]int, n)
	for i, h := range t.headers {
		natural[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i := 0; i < n && i < len(row); i++ {
			if w := lipgloss.Width(row[i]); w > natural[i] {
				natural[i] = w
			}
		}
	}

	// "│ a │ b │": one bar per column plus one, one space each side.
	chrome := n + 1 + 2*n
	content := 0
	for _, w := range natural {
		content += w
	}
	if content+chrome <= maxWidth {
		return natural
	}

	const floor = 3
	spare := max(maxWidth-chrome-floor*n, 0)
	extra := 0
	for _, w := range natural {
		extra += max(w-floor, 0)
	}
	widths := make([]int, n)
	for i, w := range natural {
		widths[i] = floor
		if extra > 0 {
			widths[i] += max(w-floor, 0) * spare / extra
		}
	}
	return widths
}

func (t *Table) renderRow(cells []string, widths []int, style lipgloss.Style) string {
	bar := t.styles.Border.Render(t.box().vertical)

	var sb strings.Builder
	sb.WriteString(bar)
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		sb.WriteByte(' ')
		sb.WriteString(style.Render(fit(cell, w)))
		sb.WriteByte(' ')
		sb.WriteString(bar)
	}
	return sb.String()
}

type boxChars struct {
	vertical, horizontal string
	top, mid, bottom     [3]string
}

func (t *Table) box() boxChars {
	if t.config.UseUnicode {
		return boxChars{
			vertical: "│", horizontal: "─",
			top:    [3]string{"┌", "┬", "┐"},
			mid:    [3]string{"├", "┼", "┤"},
			bottom: [3]string{"└", "┴", "┘"},
		}
	}
	plus := [3]string{"+", "+", "+"}
	return boxChars{vertical: "|", horizontal: "-", top: plus, mid: plus, bottom: plus}
}

func (b boxChars) line(widths []int, joints [3]string) string {
	var sb strings.Builder
	sb.WriteString(joints[0])
	for i, w := range widths {
		sb.WriteString(strings.Repeat(b.horizontal, w+2))
		if i < len(widths)-1 {
			sb.WriteString(joints[1])
		}
	}
	sb.WriteString(joints[2])
	return sb.String()
}

// fit pads or truncates s to exactly width display cells.
func fit(s string, width int) string {
	s = TruncateWithEllipsis(s, width)
	if w := lipgloss.Width(s); w < width {
		s += strings.Repeat(" ", width-w)
	}
	return s
}

func flatten(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\t", " ").Replace(s)
}

func detectTerminalWidth() int {
	width, _, err := term.GetSize(0)
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

func defaultStyles(noColor bool) TableStyles {
	if noColor {
		plain := lipgloss.NewStyle()
		return TableStyles{
			Header:       plain.Bold(true),
			Cell:         plain,
			Border:       plain,
			SelectedRow:  plain.Reverse(true),
			AlternateRow: plain,
		}
	}

	return TableStyles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("236")),
		Cell:   lipgloss.NewStyle().Foreground(lipgloss.Color("15")),
		Border: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		SelectedRow: lipgloss.NewStyle().
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("15")),
		AlternateRow: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
	}
}

// TruncateWithEllipsis shortens s to at most maxLen display cells.
func TruncateWithEllipsis(s string, maxLen int) string {
	if lipgloss.Width(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return strings.Repeat(".", max(maxLen, 0))
	}
	var sb strings.Builder
	used := 0
	for _, r := range s {
		rw := lipgloss.Width(string(r))
		if used+rw > maxLen-1 {
			break
		}
		sb.WriteRune(r)
		used += rw
	}
	sb.WriteString("…")
	return sb.String()
}
