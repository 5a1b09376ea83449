package dataframe

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RowsAndRoundTrip(t *testing.T) {
	f, err := Parse([]byte(`{"x":[1,2],"y":["p","q"]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y"}, f.Columns())
	assert.Equal(t, 2, f.NumRows())

	rows := f.Rows()
	require.Len(t, rows, 2)
	first, err := json.Marshal(rows[0])
	require.NoError(t, err)
	assert.Equal(t, `{"x":1,"y":"p"}`, string(first))
	second, err := json.Marshal(rows[1])
	require.NoError(t, err)
	assert.Equal(t, `{"x":2,"y":"q"}`, string(second))

	back, err := json.Marshal(FromRows(f.Columns(), rows))
	require.NoError(t, err)
	assert.Equal(t, `{"x":[1,2],"y":["p","q"]}`, string(back))
}

func TestParse_KeepsKeyOrder(t *testing.T) {
	f, err := Parse([]byte(`{"zeta":[1],"alpha":[2],"mid":[3]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, f.Columns())
}

func TestParse_EdgeCases(t *testing.T) {
	f, err := Parse([]byte(`null`))
	require.NoError(t, err)
	assert.True(t, f.Empty())
	assert.Empty(t, f.Rows())

	f, err = Parse([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 0, f.NumRows())

	f, err = Parse([]byte(`{"a":[1,2,3],"b":[true]}`))
	require.NoError(t, err)
	assert.Equal(t, 3, f.NumRows(), "row count follows the first column")
	v, ok := f.Rows()[2].Get("b")
	assert.True(t, ok)
	assert.Nil(t, v)

	_, err = Parse([]byte(`[1,2]`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"a":5}`))
	assert.Error(t, err)
}

func TestParse_PreservesNumberPrecision(t *testing.T) {
	f, err := Parse([]byte(`{"id":[9007199254740993]}`))
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", Format(f.Column("id")[0]))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "", Format(nil))
	assert.Equal(t, "abc", Format("abc"))
	assert.Equal(t, "true", Format(true))
	assert.Equal(t, `{"k":1}`, Format(map[string]any{"k": 1}))
}

func TestFrameRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("rows re-flatten to the original columns", prop.ForAll(
		func(cols, rows int) bool {
			columns := make([]string, cols)
			raw := map[string][]any{}
			for c := 0; c < cols; c++ {
				columns[c] = "c" + strconv.Itoa(cols-c)
				values := make([]any, rows)
				for r := 0; r < rows; r++ {
					values[r] = json.Number(strconv.Itoa(r * (c + 1)))
				}
				raw[columns[c]] = values
			}
			f := Frame{columns: columns, data: raw}

			back := FromRows(f.Columns(), f.Rows())
			a, err := json.Marshal(f)
			if err != nil {
				return false
			}
			b, err := json.Marshal(back)
			if err != nil {
				return false
			}
			return string(a) == string(b)
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

// rowSource serves n rows of a single column.
func rowSource(n int, calls *[][2]int) FetchFunc {
	return func(_ context.Context, skip, limit int) (Frame, error) {
		*calls = append(*calls, [2]int{skip, limit})
		var values []any
		for i := skip; i < n && i < skip+limit; i++ {
			values = append(values, json.Number(strconv.Itoa(i)))
		}
		return Frame{columns: []string{"n"}, data: map[string][]any{"n": values}}, nil
	}
}

func TestPager_RequestDriven(t *testing.T) {
	var calls [][2]int
	p := NewPager(rowSource(25, &calls), 10)
	ctx := context.Background()

	f, err := p.Load(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, f.NumRows())
	assert.False(t, p.IsLastPage())
	assert.False(t, p.HasPrev())

	_, err = p.Load(ctx, p.Page()+1)
	require.NoError(t, err)
	f, err = p.Load(ctx, p.Page()+1)
	require.NoError(t, err)
	assert.Equal(t, 5, f.NumRows())
	assert.True(t, p.IsLastPage())
	assert.Equal(t, 2, p.Page())

	_, err = p.Load(ctx, p.Page()-1)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page())
	assert.True(t, p.HasPrev())

	assert.Equal(t, [][2]int{{0, 10}, {10, 10}, {20, 10}, {10, 10}}, calls)
}

func TestPager_ExactMultipleIsNotDetected(t *testing.T) {
	var calls [][2]int
	p := NewPager(rowSource(20, &calls), 10)
	ctx := context.Background()

	_, err := p.Load(ctx, 1)
	require.NoError(t, err)
	assert.False(t, p.IsLastPage(), "a full final page looks like more data")

	f, err := p.Load(ctx, 2)
	require.NoError(t, err)
	assert.True(t, f.Empty())
	assert.True(t, p.IsLastPage())
}

func TestPager_ErrorClearsFrame(t *testing.T) {
	fail := false
	p := NewPager(func(ctx context.Context, skip, limit int) (Frame, error) {
		if fail {
			return Frame{}, errors.New("connection reset")
		}
		return Parse([]byte(`{"a":[1]}`))
	}, 5)

	_, err := p.Load(context.Background(), 0)
	require.NoError(t, err)
	_, ok := p.Frame()
	assert.True(t, ok)

	fail = true
	_, err = p.Load(context.Background(), 1)
	require.Error(t, err)
	f, ok := p.Frame()
	assert.False(t, ok)
	assert.True(t, f.Empty())
	assert.EqualError(t, p.Err(), "connection reset")
	assert.False(t, p.IsLastPage())
}

func TestPager_Observe(t *testing.T) {
	var calls [][2]int
	p := NewPager(rowSource(30, &calls), 10)
	_, err := p.Load(context.Background(), 2)
	require.NoError(t, err)

	assert.False(t, p.Observe(0), "unchanged key keeps the cache")
	assert.Equal(t, 2, p.Page())

	assert.True(t, p.Observe(1))
	assert.Equal(t, 0, p.Page())
	_, ok := p.Frame()
	assert.False(t, ok)

	assert.False(t, p.Observe(1))
}

func TestPager_Defaults(t *testing.T) {
	p := NewPager(nil, 0)
	assert.Equal(t, DefaultPageSize, p.PageSize())

	_, err := p.Load(context.Background(), 0)
	assert.Error(t, err)

	p = NewPager(rowSource(1, &[][2]int{}), 5)
	_, err = p.Load(context.Background(), -1)
	assert.Error(t, err)
}

func TestPager_Store(t *testing.T) {
	p := NewPager(nil, 4)
	skip, limit := p.Window(3)
	assert.Equal(t, 12, skip)
	assert.Equal(t, 4, limit)

	f, err := Parse([]byte(`{"a":[1,2]}`))
	require.NoError(t, err)
	p.Store(3, f, nil)
	got, ok := p.Frame()
	require.True(t, ok)
	assert.Equal(t, 2, got.NumRows())
	assert.Equal(t, 3, p.Page())
	assert.True(t, p.IsLastPage())

	p.Store(4, Frame{}, errors.New("boom"))
	_, ok = p.Frame()
	assert.False(t, ok)
	assert.EqualError(t, p.Err(), "boom")
	assert.Equal(t, 4, p.Page())
}
