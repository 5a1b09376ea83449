package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/events"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/testutil"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := New(Options{ServerURL: serverURL, APIKey: "test-key", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{ServerURL: "not a url"})
	assert.Error(t, err)

	c, err := New(Options{ServerURL: "http://localhost:8000/"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestStartRun_StreamsEvents(t *testing.T) {
	rec := &testutil.Recorder{}
	server := testutil.NewMockServer(map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/runs": rec.Wrap(testutil.WithEventStream(
			map[string]any{"event_type": "datasource_run", "run_id": "run-1"},
			map[string]any{"event_type": "sql_datasource_sql_execution", "sql_source": "SQLDatasourceSQLGeneration", "sql": "SELECT 1"},
			"not json",
			map[string]any{"event_type": "sql_datasource_validation"},
		)),
	})
	defer server.Close()

	c := newTestClient(t, server.URL)
	stream, err := c.StartRun(context.Background(), "ds-1", "how many orders?")
	require.NoError(t, err)
	defer stream.Close()

	var got []events.Event
	for ev := range stream.Events() {
		got = append(got, ev)
	}
	require.NoError(t, stream.Err())
	require.Len(t, got, 3, "malformed payloads are skipped")
	assert.Equal(t, "run-1", got[0].RunID)
	assert.Equal(t, events.TypeSQLExecution, got[1].Type)
	assert.Equal(t, events.TypeValidation, got[2].Type)

	req, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, "/api/datasources/ds-1/runs", req.Path)
	assert.JSONEq(t, `{"user_query":"how many orders?"}`, string(req.Body))
	assert.Equal(t, "test-key", req.Header.Get(HeaderAPIKey))
	assert.Equal(t, "text/event-stream", req.Header.Get("Accept"))
	_, err = uuid.Parse(req.Header.Get(HeaderRequestID))
	assert.NoError(t, err, "every request carries a request id")
}

func TestStartRun_APIError(t *testing.T) {
	server := testutil.NewMockServer(map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/runs": testutil.WithAPIError(http.StatusNotFound, "not_found", "datasource not found"),
	})
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.StartRun(context.Background(), "missing", "q")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_found", apiErr.Code)
	assert.NotEmpty(t, apiErr.RequestID)
	assert.Equal(t, "[404] not_found: datasource not found", err.Error())
}

func TestStartRun_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	server := testutil.NewMockServer(map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/runs": func(w http.ResponseWriter, r *http.Request) {
			sse := testutil.NewSSEWriter(w)
			_ = sse.Start()
			_ = sse.WriteEvent("", map[string]any{"event_type": "datasource_run", "run_id": "r"})
			select {
			case <-r.Context().Done():
			case <-release:
			}
		},
	})
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(t, server.URL)
	stream, err := c.StartRun(ctx, "ds-1", "q")
	require.NoError(t, err)
	defer stream.Close()

	first := <-stream.Events()
	assert.Equal(t, "r", first.RunID)

	cancel()
	for range stream.Events() {
	}
	assert.ErrorIs(t, stream.Err(), context.Canceled)
}

func TestStopRun(t *testing.T) {
	rec := &testutil.Recorder{}
	server := testutil.NewMockServer(map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/runs/{run}/stop": rec.Wrap(testutil.WithJSONResponse(http.StatusOK, map[string]any{"stopped": true})),
	})
	defer server.Close()

	c := newTestClient(t, server.URL)
	require.NoError(t, c.StopRun(context.Background(), "ds-1", "run-7"))

	req, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, "/api/datasources/ds-1/runs/run-7/stop", req.Path)

	assert.Error(t, c.StopRun(context.Background(), "ds-1", ""))
}

func TestExecuteSQL(t *testing.T) {
	rec := &testutil.Recorder{}
	server := testutil.NewMockServer(map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/sql": rec.Wrap(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"dataframe":{"month":["jan","feb"],"total":[10,20]},"visualization_config":{"type":"line"}}`)
		}),
	})
	defer server.Close()

	c := newTestClient(t, server.URL)
	res, err := c.ExecuteSQL(context.Background(), "ds-1", "SELECT month, total FROM t", 20, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"month", "total"}, res.Dataframe.Columns())
	assert.Equal(t, 2, res.Dataframe.NumRows())
	assert.JSONEq(t, `{"type":"line"}`, string(res.VisualizationConfig))

	req, _ := rec.Last()
	assert.Contains(t, req.Query, "skip=20")
	assert.Contains(t, req.Query, "limit=10")
	assert.JSONEq(t, `{"query":"SELECT month, total FROM t"}`, string(req.Body))
}

func TestExecuteSQL_PlainTextError(t *testing.T) {
	server := testutil.NewMockServer(map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/sql": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "relation \"t\" does not exist", http.StatusBadRequest)
		},
	})
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.ExecuteSQL(context.Background(), "ds-1", "SELECT * FROM t", 0, 10)
	require.Error(t, err)
	assert.True(t, IsBadRequest(err))
	assert.Contains(t, err.Error(), "does not exist")
}

func TestExecuteSQL_Timeout(t *testing.T) {
	server := testutil.NewMockServer(map[string]http.HandlerFunc{
		"POST /api/datasources/{id}/sql": testutil.WithDelayedResponse(300*time.Millisecond,
			testutil.WithJSONResponse(http.StatusOK, map[string]any{"dataframe": map[string]any{}})),
	})
	defer server.Close()

	c, err := New(Options{ServerURL: server.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.ExecuteSQL(context.Background(), "ds-1", "SELECT 1", 0, 10)
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr), "a timeout is a transport error")
}

func TestCreateWidget(t *testing.T) {
	rec := &testutil.Recorder{}
	server := testutil.NewMockServer(map[string]http.HandlerFunc{
		"POST /api/dashboards/{d}/sections/{s}/widgets": rec.Wrap(testutil.WithJSONResponse(http.StatusCreated, map[string]any{"id": "w-1", "label": "Revenue"})),
	})
	defer server.Close()

	c := newTestClient(t, server.URL)
	w, err := c.CreateWidget(context.Background(), "dash-1", "sec-1", WidgetRequest{
		Label:        "Revenue",
		SQLCmd:       "SELECT 1",
		DatasourceID: "ds-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "w-1", w.ID)

	req, _ := rec.Last()
	assert.Equal(t, "/api/dashboards/dash-1/sections/sec-1/widgets", req.Path)
	assert.JSONEq(t, `{"label":"Revenue","sql_cmd":"SELECT 1","datasource_id":"ds-1","data_visualization_config":{}}`, string(req.Body))
}

func TestListDatasourcesAndDashboards(t *testing.T) {
	server := testutil.NewMockServer(map[string]http.HandlerFunc{
		"GET /api/datasources": testutil.WithJSONResponse(http.StatusOK, []map[string]any{
			{"id": "ds-1", "name": "Sales"},
		}),
		"GET /api/dashboards": testutil.WithJSONResponse(http.StatusOK, map[string]any{
			"items": []map[string]any{{"id": "dash-1", "name": "KPIs", "sections": []map[string]any{{"id": "s1", "name": "Top"}}}},
		}),
	})
	defer server.Close()

	c := newTestClient(t, server.URL)
	ds, err := c.ListDatasources(context.Background())
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "Sales", ds[0].Name)

	dashboards, err := c.ListDashboards(context.Background())
	require.NoError(t, err)
	require.Len(t, dashboards, 1)
	require.Len(t, dashboards[0].Sections, 1)
	assert.Equal(t, "s1", dashboards[0].Sections[0].ID)
}

func TestParseErrorBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want APIError
	}{
		{"envelope", `{"error":{"code":"bad","message":"nope","details":{"f":1}}}`, APIError{StatusCode: 400, Code: "bad", Message: "nope", Details: map[string]any{"f": float64(1)}}},
		{"detail", `{"detail":"invalid query"}`, APIError{StatusCode: 400, Message: "invalid query"}},
		{"plain", "oops\n", APIError{StatusCode: 400, Message: "oops"}},
		{"empty", "", APIError{StatusCode: 400, Message: "Bad Request"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, &tt.want, ParseErrorBody(400, []byte(tt.body)))
		})
	}

	wrapped := errors.Join(errors.New("ctx"), &APIError{StatusCode: http.StatusUnauthorized})
	assert.True(t, IsUnauthorized(wrapped))
	assert.False(t, IsForbidden(wrapped))
}

func TestDecoder(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"event: message",
		`data: {"event_type":"datasource_run",`,
		`data: "run_id":"r1"}`,
		"",
		"id: 7",
		`data: {"event_type":"assistant_response","content":"hi"}`,
		"",
		`{"event_type":"tool_exec_request"}`,
		"data: [DONE]",
		"",
		`data: {"event_type":"sql_datasource_validation"}`,
	}, "\n")

	dec := NewDecoder(strings.NewReader(stream), nil)
	var got []events.Event
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}

	require.Len(t, got, 4)
	assert.Equal(t, "r1", got[0].RunID)
	assert.Equal(t, "hi", got[1].Text())
	assert.Equal(t, events.TypeToolExecRequest, got[2].Type)
	assert.Equal(t, events.TypeValidation, got[3].Type, "trailing event without blank line is dispatched at EOF")

	raw, err := json.Marshal(got[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"event_type":"datasource_run","run_id":"r1"}`, string(raw))
}

func TestLooksLikeSSE(t *testing.T) {
	assert.True(t, LooksLikeSSE([]byte("\ndata: {}")))
	assert.True(t, LooksLikeSSE([]byte(": hello")))
	assert.False(t, LooksLikeSSE([]byte(`[{"event_type":"x"}]`)))
	assert.False(t, LooksLikeSSE([]byte(`{"event_type":"x"}`)))
}
