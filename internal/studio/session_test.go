package studio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/client"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/events"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/runstate"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/testutil"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/transcript"
)

var runEvents = []any{
	map[string]any{"event_type": "datasource_run", "run_id": "run-1", "next_event": "generate"},
	map[string]any{"event_type": "sql_datasource_sql_generate", "examples_used": []string{"ex-1"}},
	map[string]any{"event_type": "tool_exec_request", "tool_routing": map[string]any{"register_as": "sql"}},
	map[string]any{
		"event_type":                "sql_datasource_sql_execution",
		"sql_source":                "SQLDatasourceSQLGeneration",
		"sql":                       "SELECT month, total FROM sales",
		"id":                        "evt-1",
		"highest_confidence_score":  80,
		"data_visualization_config": map[string]any{"type": "bar"},
		"dataframe":                 map[string]any{"month": []string{"jan"}, "total": []int{5}},
	},
	map[string]any{"event_type": "sql_datasource_validation"},
	map[string]any{"event_type": "assistant_response", "content": "Sales peaked in January."},
}

type fixture struct {
	server  *testutil.Recorder
	session *Session
	close   func()
}

func newFixture(t *testing.T, handlers map[string]http.HandlerFunc) fixture {
	t.Helper()
	rec := &testutil.Recorder{}
	wrapped := make(map[string]http.HandlerFunc, len(handlers))
	for pattern, h := range handlers {
		wrapped[pattern] = rec.Wrap(h)
	}
	server := testutil.NewMockServer(wrapped)

	c, err := client.New(client.Options{ServerURL: server.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	return fixture{
		server:  rec,
		session: New(c, "ds-1", Options{PageSize: 2}),
		close:   server.Close,
	}
}

func TestAsk_FoldsStream(t *testing.T) {
	f := newFixture(t, map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/runs": testutil.WithEventStream(runEvents...),
	})
	defer f.close()

	var seen int
	err := f.session.Ask(context.Background(), "monthly sales", func(events.Event) { seen++ })
	require.NoError(t, err)
	assert.Equal(t, len(runEvents), seen)
	assert.False(t, f.session.Streaming())

	st := f.session.State()
	assert.Equal(t, "run-1", st.RunID)
	assert.True(t, st.Complete)
	assert.False(t, st.Failed)
	assert.Equal(t, "SELECT month, total FROM sales", st.SQL)
	assert.Equal(t, 80, st.ConfidenceScore)
	assert.Equal(t, []any{"ex-1"}, st.UsedExamples)
	assert.Empty(t, st.NextStep)
	assert.Equal(t, uint64(1), st.ResetKey)

	groups := f.session.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, transcript.KindToolExecution, groups[0].Kind)
	assert.JSONEq(t, `{"month":["jan"],"total":[5]}`, string(groups[0].Dataframe))
	assert.Equal(t, transcript.KindAssistantResponse, groups[1].Kind)

	assert.Equal(t, transcript.Build(f.session.Events()), groups, "incremental fold matches replay")
	assert.Len(t, f.session.Thoughts(), 2)
}

func TestAsk_FailedGeneration(t *testing.T) {
	f := newFixture(t, map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/runs": testutil.WithEventStream(
			map[string]any{"event_type": "datasource_run", "run_id": "run-2"},
			map[string]any{"event_type": "sql_datasource_sql_generate", "steps_to_follow": "find the table", "error_message": "no matching table"},
		),
	})
	defer f.close()

	require.NoError(t, f.session.Ask(context.Background(), "q", nil))

	st := f.session.State()
	assert.True(t, st.Complete)
	assert.True(t, st.Failed)
	assert.Equal(t, "-- find the table", st.SQL)
	require.NotNil(t, st.ErrorMessage)
	assert.Equal(t, "no matching table", *st.ErrorMessage)

	_, err := f.session.AddWidget(context.Background(), "d", "s", "label")
	assert.ErrorIs(t, err, ErrRunFailed)
}

func TestAddWidget_AfterFailedRunAndManualSQL(t *testing.T) {
	f := newFixture(t, map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/runs": testutil.WithEventStream(
			map[string]any{"event_type": "datasource_run", "run_id": "run-3"},
			map[string]any{"event_type": "sql_datasource_sql_generate", "steps_to_follow": "find the table", "error_message": "no matching table"},
		),
		"POST /api/datasources/{id}/sql":                sqlHandler(3),
		"POST /api/dashboards/{d}/sections/{s}/widgets": testutil.WithJSONResponse(http.StatusCreated, map[string]any{"id": "w-7", "label": "Fixed"}),
	})
	defer f.close()

	ctx := context.Background()
	require.NoError(t, f.session.Ask(ctx, "q", nil))
	require.True(t, f.session.State().Failed)
	st := f.session.State()
	assert.False(t, st.CanAddWidget())

	assert.True(t, f.session.Edit("SELECT x FROM t"))
	_, err := f.session.RunSQL(ctx, 0)
	require.NoError(t, err)
	st = f.session.State()
	assert.True(t, st.CanAddWidget(), "results of hand-written SQL can be pinned")

	w, err := f.session.AddWidget(ctx, "dash-1", "sec-1", "Fixed")
	require.NoError(t, err)
	assert.Equal(t, "w-7", w.ID)

	req, ok := f.server.Last()
	require.True(t, ok)
	assert.Equal(t, "/api/dashboards/dash-1/sections/sec-1/widgets", req.Path)
	assert.Contains(t, string(req.Body), `"sql_cmd":"SELECT x FROM t"`)
}

func TestAsk_StartError(t *testing.T) {
	f := newFixture(t, map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/runs": testutil.WithAPIError(http.StatusUnauthorized, "unauthorized", "bad key"),
	})
	defer f.close()

	err := f.session.Ask(context.Background(), "q", nil)
	require.Error(t, err)
	assert.True(t, client.IsUnauthorized(err))
}

func TestAsk_ResetsPreviousRun(t *testing.T) {
	f := newFixture(t, map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/runs": testutil.WithEventStream(runEvents...),
	})
	defer f.close()

	require.NoError(t, f.session.Ask(context.Background(), "first", nil))
	require.NoError(t, f.session.Ask(context.Background(), "second", nil))

	assert.Len(t, f.session.Events(), len(runEvents), "events of the first run are dropped")
	assert.Equal(t, uint64(2), f.session.State().ResetKey)
}

func TestStop(t *testing.T) {
	f := newFixture(t, map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/runs/{run}/stop": testutil.WithJSONResponse(http.StatusOK, nil),
	})
	defer f.close()

	assert.Error(t, f.session.Stop(context.Background()), "nothing to stop before a run starts")

	f.session.Observe(events.Event{Type: events.TypeDatasourceRun, RunID: "run-9"})
	before := f.session.State()
	require.NoError(t, f.session.Stop(context.Background()))
	assert.Equal(t, before, f.session.State(), "stopping does not alter derived state")

	req, ok := f.server.Last()
	require.True(t, ok)
	assert.Equal(t, "/api/datasources/ds-1/runs/run-9/stop", req.Path)
}

func sqlHandler(total int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		var values []int
		for i := skip; i < total && i < skip+limit; i++ {
			values = append(values, i)
		}
		if values == nil {
			values = []int{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"dataframe":            map[string]any{"n": values},
			"visualization_config": map[string]any{"type": "table"},
		})
	}
}

func TestRunSQL_Pages(t *testing.T) {
	f := newFixture(t, map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/sql": sqlHandler(3),
	})
	defer f.close()

	ctx := context.Background()
	_, err := f.session.RunSQL(ctx, 0)
	assert.ErrorIs(t, err, ErrNoSQL)

	assert.True(t, f.session.Edit("SELECT n FROM t"))
	frame, err := f.session.RunSQL(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, frame.NumRows())
	assert.False(t, f.session.State().ActiveRun, "running re-snapshots the SQL")
	assert.False(t, f.session.Pager().IsLastPage())
	assert.JSONEq(t, `{"type":"table"}`, string(f.session.State().VisualizationConfig))

	req, err := f.session.BeginNextPage()
	require.NoError(t, err)
	assert.Equal(t, 1, req.Page)
	res, err := f.session.ExecuteSQL(ctx, req)
	frame, err = f.session.CompleteSQL(req, res, err)
	require.NoError(t, err)
	assert.Equal(t, 1, frame.NumRows())
	assert.True(t, f.session.Pager().IsLastPage())

	req, err = f.session.BeginPrevPage()
	require.NoError(t, err)
	assert.Equal(t, 0, req.Page)
	res, err = f.session.ExecuteSQL(ctx, req)
	frame, err = f.session.CompleteSQL(req, res, err)
	require.NoError(t, err)
	assert.Equal(t, 2, frame.NumRows())

	req, err = f.session.BeginPrevPage()
	require.NoError(t, err)
	assert.Equal(t, 0, req.Page, "the first page has no previous page")

	reqs := f.server.Requests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[1].Query, "skip=2")
	assert.JSONEq(t, `{"query":"SELECT n FROM t"}`, string(reqs[1].Body))
}

func TestRunSQL_ErrorClearsFrame(t *testing.T) {
	var fail atomic.Bool
	f := newFixture(t, map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/sql": func(w http.ResponseWriter, r *http.Request) {
			if fail.Load() {
				http.Error(w, "syntax error", http.StatusBadRequest)
				return
			}
			sqlHandler(5)(w, r)
		},
	})
	defer f.close()

	ctx := context.Background()
	f.session.Edit("SELECT n FROM t")
	_, err := f.session.RunSQL(ctx, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, f.session.State().Dataframe)

	fail.Store(true)
	f.session.Edit("SELEC n FROM t")
	_, err = f.session.RunSQL(ctx, 0)
	require.Error(t, err)
	assert.True(t, client.IsBadRequest(err))
	assert.Empty(t, f.session.State().Dataframe)
	_, loaded := f.session.Pager().Frame()
	assert.False(t, loaded)
	assert.True(t, f.session.State().ActiveRun, "the same SQL can be submitted again")

	fail.Store(false)
	_, err = f.session.RunSQL(ctx, 0)
	require.NoError(t, err)
	assert.False(t, f.session.State().ActiveRun)
}

func TestAddWidget(t *testing.T) {
	f := newFixture(t, map[string]http.HandlerFunc{
		"POST /api/dashboards/{d}/sections/{s}/widgets": testutil.WithJSONResponse(http.StatusCreated, map[string]any{"id": "w-1", "label": "Sales"}),
	})
	defer f.close()

	f.session.Replay([]events.Event{{
		Type:                events.TypeSQLExecution,
		SQLSource:           events.SQLSourceRegenerate,
		SQL:                 ptr("SELECT 1"),
		VisualizationConfig: json.RawMessage(`{"type":"pie"}`),
	}})

	_, err := f.session.AddWidget(context.Background(), "dash-1", "sec-1", "")
	assert.Error(t, err)

	w, err := f.session.AddWidget(context.Background(), "dash-1", "sec-1", "Sales")
	require.NoError(t, err)
	assert.Equal(t, "w-1", w.ID)

	req, ok := f.server.Last()
	require.True(t, ok)
	assert.JSONEq(t, `{"label":"Sales","sql_cmd":"SELECT 1","datasource_id":"ds-1","data_visualization_config":{"type":"pie"}}`, string(req.Body))
}

func TestSetOutputModeAndReset(t *testing.T) {
	f := newFixture(t, nil)
	defer f.close()

	f.session.SetOutputMode(runstate.OutputChart)
	assert.Equal(t, runstate.OutputChart, f.session.State().OutputMode)

	f.session.Reset()
	assert.Equal(t, runstate.OutputMode(""), f.session.State().OutputMode)
	assert.Equal(t, uint64(1), f.session.State().ResetKey)
}

func TestCompleteSQL_DropsStaleResults(t *testing.T) {
	f := newFixture(t, map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/sql": sqlHandler(3),
	})
	defer f.close()

	f.session.Edit("SELECT n FROM t")
	req, err := f.session.BeginSQL(0)
	require.NoError(t, err)
	assert.Equal(t, SQLRequest{SQL: "SELECT n FROM t", Page: 0, Skip: 0, Limit: 2}, req)

	res, err := f.session.ExecuteSQL(context.Background(), req)
	require.NoError(t, err)

	f.session.Reset()
	_, err = f.session.CompleteSQL(req, res, nil)
	assert.ErrorIs(t, err, ErrStale)
	_, loaded := f.session.Pager().Frame()
	assert.False(t, loaded, "a result of a reset run is not stored")
}

func TestStartAndFinish(t *testing.T) {
	f := newFixture(t, map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/runs": testutil.WithEventStream(runEvents...),
	})
	defer f.close()

	stream, err := f.session.Start(context.Background(), "q")
	require.NoError(t, err)
	defer stream.Close()
	assert.True(t, f.session.Streaming())

	_, err = f.session.Start(context.Background(), "again")
	assert.ErrorIs(t, err, ErrRunning)

	for ev := range stream.Events() {
		f.session.Observe(ev)
	}
	require.NoError(t, f.session.Finish(stream.Err()))
	assert.False(t, f.session.Streaming())
	assert.True(t, f.session.State().Complete)

	require.NoError(t, f.session.Finish(context.Canceled), "cancellation is not a failure")
	assert.Error(t, f.session.Finish(errors.New("connection reset")))
	assert.Error(t, f.session.RunErr())
}

func ptr(s string) *string { return &s }
