// Package studio holds the per-datasource session that drives a run: it
// starts the run, folds the streamed events into the transcript and the run
// state, executes the editor SQL page by page and pins results to dashboards.
package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/client"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/dataframe"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/events"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/logger"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/runstate"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/transcript"
)

// Backend is the subset of the studio API a Session needs.
type Backend interface {
	StartRun(ctx context.Context, datasourceID, question string) (*client.Stream, error)
	StopRun(ctx context.Context, datasourceID, runID string) error
	ExecuteSQL(ctx context.Context, datasourceID, query string, skip, limit int) (*client.SQLResult, error)
	CreateWidget(ctx context.Context, dashboardID, sectionID string, req client.WidgetRequest) (*client.Widget, error)
}

// ErrNoSQL is returned when an action needs SQL and the editor is empty.
var ErrNoSQL = errors.New("no SQL to run")

// ErrRunFailed is returned by AddWidget after a failed generation until the
// editor SQL has been run successfully.
var ErrRunFailed = errors.New("the run failed; run the SQL before pinning it")

// ErrRunning is returned by Ask while a previous run is still streaming.
var ErrRunning = errors.New("a run is already in progress")

// Session owns the state of one datasource: the event list, the transcript
// grouper, the run state and the result pager. It is not safe for concurrent
// use; one goroutine drives it.
type Session struct {
	backend      Backend
	datasourceID string
	log          *slog.Logger

	events  []events.Event
	grouper *transcript.Grouper
	state   runstate.State
	pager   *dataframe.Pager

	streaming bool
	runErr    error
}

// Options configures a Session.
type Options struct {
	PageSize int
	Logger   *slog.Logger
}

// New creates a Session for datasourceID.
func New(backend Backend, datasourceID string, opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	s := &Session{
		backend:      backend,
		datasourceID: datasourceID,
		log:          log.With(logger.Scope("studio"), slog.String("datasource_id", datasourceID)),
		grouper:      transcript.NewGrouper(log),
	}
	// Pages arrive through CompleteSQL; the pager never fetches.
	s.pager = dataframe.NewPager(nil, opts.PageSize)
	return s
}

// DatasourceID returns the datasource the session runs against.
func (s *Session) DatasourceID() string { return s.datasourceID }

// Events returns the events received for the current run.
func (s *Session) Events() []events.Event {
	out := make([]events.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Groups returns the transcript of the current run.
func (s *Session) Groups() []transcript.Group { return s.grouper.Groups() }

// Thoughts returns the detail-panel view of the current run.
func (s *Session) Thoughts() []transcript.Thought { return transcript.Thoughts(s.events) }

// State returns a copy of the run state.
func (s *Session) State() runstate.State { return s.state }

// Pager returns the result pager.
func (s *Session) Pager() *dataframe.Pager { return s.pager }

// Streaming reports whether Ask is consuming a stream.
func (s *Session) Streaming() bool { return s.streaming }

// RunErr returns the transport error that ended the last stream, if any.
func (s *Session) RunErr() error { return s.runErr }

// Reset clears the run and advances the reset key, which also drops the
// pager's cached page.
func (s *Session) Reset() {
	s.events = nil
	s.grouper.Reset()
	s.state.Reset()
	s.pager.Observe(s.state.ResetKey)
	s.runErr = nil
}

// Ask resets the session, starts a run for question and folds every event
// as it arrives. onEvent, when set, is called after each fold. Ask returns
// once the stream closes, after the completion rule has been applied.
//
// Cancelling ctx ends the stream; the events already folded are kept and the
// completion rule still runs. Cancellation is not reported as an error.
func (s *Session) Ask(ctx context.Context, question string, onEvent func(events.Event)) error {
	stream, err := s.Start(ctx, question)
	if err != nil {
		return err
	}
	defer stream.Close()

	for ev := range stream.Events() {
		s.Observe(ev)
		if onEvent != nil {
			onEvent(ev)
		}
	}
	return s.Finish(stream.Err())
}

// Start resets the session and opens the event stream of a new run. The
// caller feeds every received event to Observe and calls Finish once the
// stream's channel is closed.
func (s *Session) Start(ctx context.Context, question string) (*client.Stream, error) {
	if err := s.Begin(); err != nil {
		return nil, err
	}
	stream, err := s.OpenStream(ctx, question)
	if err != nil {
		s.Abort()
		return nil, err
	}
	return stream, nil
}

// Begin resets the session for a new run and marks it streaming.
func (s *Session) Begin() error {
	if s.streaming {
		return ErrRunning
	}
	s.Reset()
	s.streaming = true
	return nil
}

// OpenStream starts a run on the backend. It does not touch the session and
// may be called from another goroutine.
func (s *Session) OpenStream(ctx context.Context, question string) (*client.Stream, error) {
	stream, err := s.backend.StartRun(ctx, s.datasourceID, question)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	s.log.Debug("run started", slog.String("question", question))
	return stream, nil
}

// Abort ends a run whose stream could not be opened. The state stays empty.
func (s *Session) Abort() {
	s.streaming = false
}

// Finish ends the run started by Start. streamErr is the stream's terminal
// error; cancellation is not treated as a failure.
func (s *Session) Finish(streamErr error) error {
	s.streaming = false
	if streamErr != nil && !errors.Is(streamErr, context.Canceled) {
		s.runErr = streamErr
		s.log.Warn("run stream ended with error", logger.Error(streamErr))
	}
	s.Close()

	if s.runErr != nil {
		return fmt.Errorf("run stream: %w", s.runErr)
	}
	return nil
}

// Observe folds one event into the transcript and the run state.
func (s *Session) Observe(ev events.Event) {
	s.events = append(s.events, ev)
	s.grouper.Push(ev)
	s.state.Apply(ev)
}

// Close applies the end-of-stream rules to the transcript and the run state.
func (s *Session) Close() {
	s.grouper.Close()
	s.state.Resolve()
	s.log.Debug("run resolved",
		slog.String("run_id", s.state.RunID),
		slog.Bool("complete", s.state.Complete),
		slog.Bool("failed", s.state.Failed),
		slog.Int("events", len(s.events)),
	)
}

// Replay folds a recorded stream from scratch.
func (s *Session) Replay(list []events.Event) {
	s.Reset()
	for _, ev := range list {
		s.Observe(ev)
	}
	s.Close()
}

// Stop asks the backend to stop the current run. The derived state is left
// untouched; the stream ends when the backend closes it.
func (s *Session) Stop(ctx context.Context) error {
	if s.state.RunID == "" {
		return errors.New("no run to stop")
	}
	return s.StopRun(ctx, s.state.RunID)
}

// StopRun issues the stop command for runID. It only talks to the backend
// and may be called from another goroutine.
func (s *Session) StopRun(ctx context.Context, runID string) error {
	if err := s.backend.StopRun(ctx, s.datasourceID, runID); err != nil {
		return fmt.Errorf("stop run %s: %w", runID, err)
	}
	s.log.Info("run stop requested", slog.String("run_id", runID))
	return nil
}

// Edit updates the editor text and returns whether Run is enabled.
func (s *Session) Edit(sql string) bool {
	s.state.Edit(sql)
	return s.state.ActiveRun
}

// SetOutputMode switches between table and chart output.
func (s *Session) SetOutputMode(mode runstate.OutputMode) {
	s.state.OutputMode = mode
}

// SQLRequest is one page request for the editor SQL.
type SQLRequest struct {
	SQL      string
	Page     int
	Skip     int
	Limit    int
	ResetKey uint64
}

// ErrStale is returned by CompleteSQL for a result that belongs to a run
// the session has since reset.
var ErrStale = errors.New("result belongs to a previous run")

// RunSQL executes the editor SQL and loads page. The SQL becomes the new
// snapshot for edit detection. On error the cached frame is cleared.
func (s *Session) RunSQL(ctx context.Context, page int) (dataframe.Frame, error) {
	req, err := s.BeginSQL(page)
	if err != nil {
		return dataframe.Frame{}, err
	}
	res, err := s.ExecuteSQL(ctx, req)
	return s.CompleteSQL(req, res, err)
}

// BeginSQL snapshots the editor SQL as executed and describes the request
// for page.
func (s *Session) BeginSQL(page int) (SQLRequest, error) {
	sql := s.state.SQL
	if sql == "" {
		return SQLRequest{}, ErrNoSQL
	}
	if page < 0 {
		page = 0
	}
	s.state.MarkExecuted(sql)
	skip, limit := s.pager.Window(page)
	return SQLRequest{SQL: sql, Page: page, Skip: skip, Limit: limit, ResetKey: s.state.ResetKey}, nil
}

// ExecuteSQL runs req against the backend. It does not touch the session
// and may be called from another goroutine.
func (s *Session) ExecuteSQL(ctx context.Context, req SQLRequest) (*client.SQLResult, error) {
	res, err := s.backend.ExecuteSQL(ctx, s.datasourceID, req.SQL, req.Skip, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("execute sql: %w", err)
	}
	return res, nil
}

// CompleteSQL stores the outcome of req: the page and frame on success, a
// cleared frame on error. A failed request re-enables Run for the editor SQL.
func (s *Session) CompleteSQL(req SQLRequest, res *client.SQLResult, err error) (dataframe.Frame, error) {
	if req.ResetKey != s.state.ResetKey {
		return dataframe.Frame{}, ErrStale
	}
	if err != nil {
		s.pager.Store(req.Page, dataframe.Frame{}, err)
		s.state.Dataframe = nil
		// Nothing was executed, so the same text may be submitted again.
		s.state.InitialSQL = ""
		s.state.ActiveRun = strings.TrimSpace(s.state.SQL) != ""
		return dataframe.Frame{}, err
	}

	s.pager.Store(req.Page, res.Dataframe, nil)
	if len(res.VisualizationConfig) > 0 && string(res.VisualizationConfig) != "null" {
		s.state.VisualizationConfig = res.VisualizationConfig
	}
	if raw, merr := json.Marshal(res.Dataframe); merr == nil {
		s.state.Dataframe = raw
	}
	return res.Dataframe, nil
}

// BeginNextPage describes the request for the page after the current one.
func (s *Session) BeginNextPage() (SQLRequest, error) {
	return s.BeginSQL(s.pager.Page() + 1)
}

// BeginPrevPage describes the request for the page before the current one,
// staying on the first page.
func (s *Session) BeginPrevPage() (SQLRequest, error) {
	return s.BeginSQL(s.pager.Page() - 1)
}

// AddWidget pins the current SQL and visualization config to a dashboard
// section.
func (s *Session) AddWidget(ctx context.Context, dashboardID, sectionID, label string) (*client.Widget, error) {
	req, err := s.WidgetRequest(label)
	if err != nil {
		return nil, err
	}
	return s.CreateWidget(ctx, dashboardID, sectionID, req)
}

// WidgetRequest builds the create-widget body for the current SQL.
func (s *Session) WidgetRequest(label string) (client.WidgetRequest, error) {
	if strings.TrimSpace(s.state.SQL) == "" {
		return client.WidgetRequest{}, ErrNoSQL
	}
	if s.state.Failed && len(s.state.Dataframe) == 0 {
		return client.WidgetRequest{}, ErrRunFailed
	}
	if label == "" {
		return client.WidgetRequest{}, errors.New("widget label is required")
	}
	return client.WidgetRequest{
		Label:                   label,
		SQLCmd:                  s.state.SQL,
		DatasourceID:            s.datasourceID,
		DataVisualizationConfig: s.state.VisualizationConfig,
	}, nil
}

// CreateWidget sends req to the backend. It does not touch the session and
// may be called from another goroutine.
func (s *Session) CreateWidget(ctx context.Context, dashboardID, sectionID string, req client.WidgetRequest) (*client.Widget, error) {
	w, err := s.backend.CreateWidget(ctx, dashboardID, sectionID, req)
	if err != nil {
		return nil, fmt.Errorf("create widget: %w", err)
	}
	s.log.Info("widget created", slog.String("widget_id", w.ID), slog.String("dashboard_id", dashboardID))
	return w, nil
}
