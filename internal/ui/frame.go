package ui

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/dataframe"
)

// RenderFrame writes f as a plain table. An empty frame prints "(no rows)".
func RenderFrame(w io.Writer, f dataframe.Frame) error {
	cols := f.Columns()
	if len(cols) == 0 {
		_, err := fmt.Fprintln(w, "(no rows)")
		return err
	}

	table := tablewriter.NewWriter(w)
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	table.Header(header...)

	for _, row := range f.Rows() {
		cells := make([]any, len(row))
		for i, c := range row {
			cells[i] = flatten(dataframe.Format(c.Value))
		}
		if err := table.Append(cells...); err != nil {
			return err
		}
	}
	return table.Render()
}

// PageFooter describes the pager position, e.g. "page 2 · rows 11-20".
func PageFooter(p *dataframe.Pager) string {
	f, ok := p.Frame()
	if !ok {
		return ""
	}
	start := p.Page()*p.PageSize() + 1
	n := f.NumRows()
	if n == 0 {
		return fmt.Sprintf("page %d · no rows", p.Page()+1)
	}
	footer := fmt.Sprintf("page %d · rows %d-%d", p.Page()+1, start, start+n-1)
	if p.IsLastPage() {
		footer += " · last page"
	}
	return footer
}

// RenderKeyValues writes a two-column settings table.
func RenderKeyValues(w io.Writer, header [2]string, pairs [][2]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(header[0], header[1])
	for _, kv := range pairs {
		if err := table.Append(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return table.Render()
}
