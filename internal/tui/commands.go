package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/client"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/events"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/studio"
)

// requestTimeout bounds every backend call except the run stream.
const requestTimeout = 60 * time.Second

// Messages

type datasourcesLoadedMsg struct {
	datasources []client.Datasource
}

type streamOpenedMsg struct {
	stream *client.Stream
	err    error
}

type runEventMsg struct {
	event events.Event
}

type streamClosedMsg struct {
	err error
}

type sqlResultMsg struct {
	req studio.SQLRequest
	res *client.SQLResult
	err error
}

type widgetCreatedMsg struct {
	widget *client.Widget
	err    error
}

type runStoppedMsg struct {
	runID string
	err   error
}

type clipboardMsg struct {
	err error
}

type errMsg struct {
	err error
}

// Commands. None of them touches session state; results come back as
// messages and are folded in Update.

func loadDatasources(backend Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		list, err := backend.ListDatasources(ctx)
		if err != nil {
			return errMsg{err: fmt.Errorf("failed to load datasources: %w", err)}
		}
		return datasourcesLoadedMsg{datasources: list}
	}
}

func openStream(ctx context.Context, session *studio.Session, question string) tea.Cmd {
	return func() tea.Msg {
		stream, err := session.OpenStream(ctx, question)
		return streamOpenedMsg{stream: stream, err: err}
	}
}

// waitForEvent delivers the next event of stream, or streamClosedMsg once
// the stream ends.
func waitForEvent(stream *client.Stream) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-stream.Events()
		if !ok {
			return streamClosedMsg{err: stream.Err()}
		}
		return runEventMsg{event: ev}
	}
}

func executeSQL(session *studio.Session, req studio.SQLRequest) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		res, err := session.ExecuteSQL(ctx, req)
		return sqlResultMsg{req: req, res: res, err: err}
	}
}

func createWidget(session *studio.Session, dashboardID, sectionID string, req client.WidgetRequest) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		w, err := session.CreateWidget(ctx, dashboardID, sectionID, req)
		return widgetCreatedMsg{widget: w, err: err}
	}
}

func stopRun(session *studio.Session, runID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		return runStoppedMsg{runID: runID, err: session.StopRun(ctx, runID)}
	}
}

func copyToClipboard(write func(string) error, text string) tea.Cmd {
	return func() tea.Msg {
		return clipboardMsg{err: write(text)}
	}
}
