// Package dataframe converts column-oriented query results into rows and
// pages through them with request-driven fetches.
package dataframe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Frame is a column-oriented result. Column order is the key order of the
// JSON object it was decoded from.
type Frame struct {
	columns []string
	data    map[string][]any
}

// Cell is one value of a row, tagged with its column.
type Cell struct {
	Column string
	Value  any
}

// Row is one record in column order.
type Row []Cell

// Get returns the value of col.
func (r Row) Get(col string) (any, bool) {
	for _, c := range r {
		if c.Column == col {
			return c.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the row as an object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, c.Column, c.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Parse decodes a frame from a JSON object of column arrays.
func Parse(data []byte) (Frame, error) {
	var f Frame
	if err := f.UnmarshalJSON(data); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// UnmarshalJSON walks the object token by token so that column order is
// preserved. Numbers decode as json.Number. A null frame is empty.
func (f *Frame) UnmarshalJSON(data []byte) error {
	*f = Frame{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("dataframe: expected a JSON object of columns")
	}

	f.data = make(map[string][]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		col, ok := tok.(string)
		if !ok {
			return fmt.Errorf("dataframe: unexpected token %v", tok)
		}
		var values []any
		if err := dec.Decode(&values); err != nil {
			return fmt.Errorf("dataframe: column %q: %w", col, err)
		}
		if _, dup := f.data[col]; !dup {
			f.columns = append(f.columns, col)
		}
		f.data[col] = values
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON encodes the frame with keys in column order.
func (f Frame) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range f.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		values := f.data[col]
		if values == nil {
			values = []any{}
		}
		if err := writeMember(&buf, col, values); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Columns returns the column names in order.
func (f Frame) Columns() []string {
	out := make([]string, len(f.columns))
	copy(out, f.columns)
	return out
}

// Column returns the values of col.
func (f Frame) Column(col string) []any {
	return f.data[col]
}

// NumRows is the length of the first column.
func (f Frame) NumRows() int {
	if len(f.columns) == 0 {
		return 0
	}
	return len(f.data[f.columns[0]])
}

// Empty reports whether the frame has no rows.
func (f Frame) Empty() bool {
	return f.NumRows() == 0
}

// Rows pivots the frame into rows. Columns shorter than the first one yield
// nil cells.
func (f Frame) Rows() []Row {
	n := f.NumRows()
	rows := make([]Row, n)
	for i := 0; i < n; i++ {
		row := make(Row, len(f.columns))
		for j, col := range f.columns {
			var v any
			if values := f.data[col]; i < len(values) {
				v = values[i]
			}
			row[j] = Cell{Column: col, Value: v}
		}
		rows[i] = row
	}
	return rows
}

// FromRows flattens rows back into a frame with the given columns. It is the
// inverse of Rows.
func FromRows(columns []string, rows []Row) Frame {
	f := Frame{
		columns: append([]string(nil), columns...),
		data:    make(map[string][]any, len(columns)),
	}
	for _, col := range columns {
		values := make([]any, len(rows))
		for i, row := range rows {
			values[i], _ = row.Get(col)
		}
		f.data[col] = values
	}
	return f
}

// Format renders a cell for display.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

func writeMember(buf *bytes.Buffer, key string, value any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}
