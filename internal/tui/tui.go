// Package tui provides the interactive studio: pick a datasource, ask a
// question, watch the run stream in, edit and re-run the SQL, page through
// the results and pin them to a dashboard.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/client"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/runstate"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/studio"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/transcript"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/ui"
)

// Backend is what the studio needs from the API client.
type Backend interface {
	studio.Backend
	ListDatasources(ctx context.Context) ([]client.Datasource, error)
}

// ViewMode represents the current view mode
type ViewMode int

const (
	PickerView ViewMode = iota
	StudioView
)

type focusArea int

const (
	focusQuestion focusArea = iota
	focusEditor
	focusLabel
)

// Options configures the studio.
type Options struct {
	// DatasourceID skips the picker when set.
	DatasourceID string
	DashboardID  string
	SectionID    string
	PageSize     int
	NoColor      bool
	// Compact drops the outer table borders.
	Compact bool
	Logger  *slog.Logger
	// Clipboard replaces the system clipboard, mainly for tests.
	Clipboard func(string) error
}

// Model represents the state of the TUI application.
type Model struct {
	backend Backend
	opts    Options
	session *studio.Session

	width  int
	height int
	ready  bool
	err    error

	view  ViewMode
	focus focusArea

	datasources list.Model
	question    textinput.Model
	editor      textarea.Model
	label       textinput.Model
	spinner     spinner.Model
	transcript  viewport.Model

	stream       *client.Stream
	cancelStream context.CancelFunc
	starting     bool
	pendingSQL   bool

	help     help.Model
	keyMap   KeyMap
	showHelp bool

	statusMsg string
	lastErr   error
	styles    ui.Styles
}

// New creates the studio model.
func New(backend Backend, opts Options) Model {
	if opts.Clipboard == nil {
		opts.Clipboard = clipboard.WriteAll
	}

	delegate := list.NewDefaultDelegate()
	datasources := list.New([]list.Item{}, delegate, 0, 0)
	datasources.Title = "Datasources"
	datasources.SetShowHelp(false)
	datasources.SetShowStatusBar(false)
	datasources.Styles.NoItems = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 2)

	question := textinput.New()
	question.Placeholder = "Ask a question about your data..."
	question.Prompt = "? "

	editor := textarea.New()
	editor.Placeholder = "SQL appears here once a run produces it"
	editor.ShowLineNumbers = true
	editor.SetHeight(6)

	label := textinput.New()
	label.Placeholder = "Widget label"
	label.Prompt = "label: "

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		backend:     backend,
		opts:        opts,
		view:        PickerView,
		datasources: datasources,
		question:    question,
		editor:      editor,
		label:       label,
		spinner:     sp,
		transcript:  viewport.New(80, 8),
		help:        help.New(),
		keyMap:      DefaultKeyMap(),
		statusMsg:   "Loading datasources...",
		styles:      ui.NewStyles(opts.NoColor),
	}
	if opts.DatasourceID != "" {
		m = m.openSession(opts.DatasourceID)
	}
	return m.refreshKeys()
}

// Session returns the session of the selected datasource, or nil.
func (m Model) Session() *studio.Session { return m.session }

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	if m.view == PickerView {
		return loadDatasources(m.backend)
	}
	return textinput.Blink
}

func (m Model) openSession(datasourceID string) Model {
	m.session = studio.New(m.backend, datasourceID, studio.Options{
		PageSize: m.opts.PageSize,
		Logger:   m.opts.Logger,
	})
	m.view = StudioView
	m.focus = focusQuestion
	m.question.Focus()
	m.editor.Blur()
	m.statusMsg = "Datasource " + datasourceID
	return m
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.datasources.SetSize(m.width-4, m.height-6)
		m.question.Width = max(m.width-6, 10)
		m.label.Width = max(m.width-12, 10)
		m.editor.SetWidth(max(m.width-2, 20))
		m.transcript.Width = max(m.width-2, 20)
		m.transcript.Height = max(m.height/4, 3)
		m.syncTranscript()
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keyMap.Quit) {
			if m.cancelStream != nil {
				m.cancelStream()
			}
			return m, tea.Quit
		}
		if m.view == PickerView {
			return m.handlePickerKey(msg)
		}
		return m.handleStudioKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		return m, cmd

	case datasourcesLoadedMsg:
		items := make([]list.Item, len(msg.datasources))
		for i, d := range msg.datasources {
			items[i] = datasourceItem{ds: d}
		}
		m.statusMsg = fmt.Sprintf("Loaded %d datasources", len(items))
		return m, m.datasources.SetItems(items)

	case streamOpenedMsg:
		m.starting = false
		if msg.err != nil {
			m.session.Abort()
			m.cancelStream()
			m.cancelStream = nil
			if errors.Is(msg.err, context.Canceled) {
				m.statusMsg = "Run cancelled"
				return m.refreshKeys(), nil
			}
			m.lastErr = msg.err
			m.statusMsg = "Run failed to start"
			return m.refreshKeys(), nil
		}
		m.stream = msg.stream
		m.statusMsg = "Running..."
		return m.refreshKeys(), tea.Batch(waitForEvent(m.stream), m.spinner.Tick)

	case runEventMsg:
		m.session.Observe(msg.event)
		m.syncEditor()
		m.syncTranscript()
		return m.refreshKeys(), waitForEvent(m.stream)

	case streamClosedMsg:
		return m.finishRun(msg.err)

	case sqlResultMsg:
		m.pendingSQL = false
		frame, err := m.session.CompleteSQL(msg.req, msg.res, msg.err)
		switch {
		case errors.Is(err, studio.ErrStale):
		case err != nil:
			m.lastErr = err
			m.statusMsg = "Query failed"
		default:
			m.lastErr = nil
			m.statusMsg = fmt.Sprintf("Loaded %d rows", frame.NumRows())
		}
		return m.refreshKeys(), nil

	case widgetCreatedMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			m.statusMsg = "Widget not created"
		} else {
			m.statusMsg = fmt.Sprintf("Widget %q created", msg.widget.Label)
		}
		return m, nil

	case runStoppedMsg:
		if msg.err != nil {
			m.lastErr = msg.err
		} else {
			m.statusMsg = "Stop requested for run " + msg.runID
		}
		return m, nil

	case clipboardMsg:
		if msg.err != nil {
			m.lastErr = fmt.Errorf("copy to clipboard: %w", msg.err)
		} else {
			m.statusMsg = "SQL copied to clipboard"
		}
		return m, nil

	case spinner.TickMsg:
		if m.session == nil || !m.session.Streaming() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case errMsg:
		if m.view == PickerView {
			m.err = msg.err
		} else {
			m.lastErr = msg.err
		}
		return m, nil
	}

	return m.updateFocused(msg)
}

func (m Model) handlePickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keyMap.Submit) && m.datasources.FilterState() != list.Filtering {
		item, ok := m.datasources.SelectedItem().(datasourceItem)
		if !ok {
			return m, nil
		}
		m = m.openSession(item.ds.ID)
		return m.refreshKeys(), textinput.Blink
	}
	var cmd tea.Cmd
	m.datasources, cmd = m.datasources.Update(msg)
	return m, cmd
}

func (m Model) handleStudioKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.focus == focusLabel {
		return m.handleLabelInput(msg)
	}

	switch {
	case key.Matches(msg, m.keyMap.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		return m, nil

	case key.Matches(msg, m.keyMap.Focus):
		if m.focus == focusQuestion {
			m.focus = focusEditor
			m.question.Blur()
			cmd := m.editor.Focus()
			return m.refreshKeys(), cmd
		}
		m.focus = focusQuestion
		m.editor.Blur()
		cmd := m.question.Focus()
		return m.refreshKeys(), cmd

	case key.Matches(msg, m.keyMap.Submit) && m.focus == focusQuestion:
		return m.ask()

	case key.Matches(msg, m.keyMap.Stop):
		return m.stop()

	// Disabled bindings never match, so each case below is allowed by
	// refreshKeys.
	case key.Matches(msg, m.keyMap.Run):
		return m.runSQL(0)

	case key.Matches(msg, m.keyMap.NextPage):
		return m.submitSQL(m.session.BeginNextPage())

	case key.Matches(msg, m.keyMap.PrevPage):
		return m.submitSQL(m.session.BeginPrevPage())

	case key.Matches(msg, m.keyMap.Widget):
		m.focus = focusLabel
		m.question.Blur()
		m.editor.Blur()
		m.label.SetValue("")
		cmd := m.label.Focus()
		return m.refreshKeys(), cmd

	case key.Matches(msg, m.keyMap.Copy):
		return m, copyToClipboard(m.opts.Clipboard, m.session.State().SQL)

	case key.Matches(msg, m.keyMap.Output):
		mode := runstate.OutputChart
		if m.session.State().OutputMode == runstate.OutputChart {
			mode = runstate.OutputTable
		}
		m.session.SetOutputMode(mode)
		return m, nil
	}

	return m.updateFocused(msg)
}

// updateFocused forwards msg to the focused component. Editor changes feed
// the session so Run follows the dirty flag.
func (m Model) updateFocused(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if m.view == PickerView {
		m.datasources, cmd = m.datasources.Update(msg)
		return m, cmd
	}
	switch m.focus {
	case focusQuestion:
		m.question, cmd = m.question.Update(msg)
	case focusEditor:
		before := m.editor.Value()
		m.editor, cmd = m.editor.Update(msg)
		if after := m.editor.Value(); after != before {
			m.session.Edit(after)
		}
	case focusLabel:
		m.label, cmd = m.label.Update(msg)
	}
	return m.refreshKeys(), cmd
}

func (m Model) handleLabelInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keyMap.Back):
		m.focus = focusQuestion
		m.label.Blur()
		cmd := m.question.Focus()
		return m.refreshKeys(), cmd

	case key.Matches(msg, m.keyMap.Submit):
		req, err := m.session.WidgetRequest(strings.TrimSpace(m.label.Value()))
		if err != nil {
			m.lastErr = err
			return m, nil
		}
		m.focus = focusQuestion
		m.label.Blur()
		m.statusMsg = "Creating widget..."
		focus := m.question.Focus()
		return m.refreshKeys(), tea.Batch(
			createWidget(m.session, m.opts.DashboardID, m.opts.SectionID, req),
			focus,
		)
	}
	return m.updateFocused(msg)
}

func (m Model) ask() (tea.Model, tea.Cmd) {
	question := strings.TrimSpace(m.question.Value())
	if question == "" || m.starting {
		return m, nil
	}
	if err := m.session.Begin(); err != nil {
		m.lastErr = err
		return m, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelStream = cancel
	m.starting = true
	m.lastErr = nil
	m.editor.SetValue("")
	m.statusMsg = "Starting run..."
	m.syncTranscript()
	return m.refreshKeys(), openStream(ctx, m.session, question)
}

// stop asks the backend to stop the run. Before the run id is known the
// only option is to drop the stream.
func (m Model) stop() (tea.Model, tea.Cmd) {
	if m.session == nil || !m.session.Streaming() {
		return m, nil
	}
	runID := m.session.State().RunID
	if runID == "" {
		if m.cancelStream != nil {
			m.cancelStream()
		}
		m.statusMsg = "Run cancelled"
		return m, nil
	}
	m.statusMsg = "Stopping run " + runID + "..."
	return m, stopRun(m.session, runID)
}

func (m Model) finishRun(streamErr error) (tea.Model, tea.Cmd) {
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
	if m.cancelStream != nil {
		m.cancelStream()
		m.cancelStream = nil
	}

	if err := m.session.Finish(streamErr); err != nil {
		m.lastErr = err
	}
	m.syncEditor()
	m.syncTranscript()

	st := m.session.State()
	if st.Failed {
		m.statusMsg = "Run failed"
		return m.refreshKeys(), nil
	}
	m.statusMsg = "Run complete"
	if strings.TrimSpace(st.SQL) == "" {
		return m.refreshKeys(), nil
	}
	return m.runSQL(0)
}

func (m Model) runSQL(page int) (tea.Model, tea.Cmd) {
	return m.submitSQL(m.session.BeginSQL(page))
}

func (m Model) submitSQL(req studio.SQLRequest, err error) (tea.Model, tea.Cmd) {
	if err != nil {
		m.lastErr = err
		return m, nil
	}
	m.pendingSQL = true
	m.statusMsg = fmt.Sprintf("Loading page %d...", req.Page+1)
	return m.refreshKeys(), executeSQL(m.session, req)
}

// syncEditor mirrors SQL the run put into the state. User edits are already
// in the state, so they are never overwritten.
func (m *Model) syncEditor() {
	if sql := m.session.State().SQL; sql != m.editor.Value() {
		m.editor.SetValue(sql)
	}
}

func (m *Model) syncTranscript() {
	if m.session == nil {
		return
	}
	var sb strings.Builder
	ui.RenderGroups(&sb, m.session.Groups(), m.opts.NoColor)
	ui.RenderFailures(&sb, transcript.Failures(m.session.Thoughts()), m.opts.NoColor)
	m.transcript.SetContent(sb.String())
	m.transcript.GotoBottom()
}

// refreshKeys enables exactly the actions the current state allows.
func (m Model) refreshKeys() Model {
	if m.session == nil {
		for _, b := range []*key.Binding{&m.keyMap.Run, &m.keyMap.Stop, &m.keyMap.NextPage, &m.keyMap.PrevPage, &m.keyMap.Widget, &m.keyMap.Copy, &m.keyMap.Output} {
			b.SetEnabled(false)
		}
		return m
	}

	st := m.session.State()
	pager := m.session.Pager()
	_, loaded := pager.Frame()
	streaming := m.session.Streaming() || m.starting
	idle := !streaming && !m.pendingSQL

	m.keyMap.Submit.SetEnabled(!streaming)
	m.keyMap.Stop.SetEnabled(streaming)
	m.keyMap.Run.SetEnabled(idle && st.ActiveRun && strings.TrimSpace(st.SQL) != "")
	m.keyMap.NextPage.SetEnabled(idle && loaded && !pager.IsLastPage() && !st.ActiveRun)
	m.keyMap.PrevPage.SetEnabled(idle && pager.HasPrev() && !st.ActiveRun)
	m.keyMap.Widget.SetEnabled(idle && st.CanAddWidget() && m.opts.DashboardID != "" && m.opts.SectionID != "")
	m.keyMap.Copy.SetEnabled(strings.TrimSpace(st.SQL) != "")
	m.keyMap.Output.SetEnabled(loaded || len(st.VisualizationConfig) > 0)
	return m
}

// View renders the UI.
func (m Model) View() string {
	if m.err != nil {
		return errorView(m.err)
	}
	if m.view == PickerView {
		return m.datasources.View() + "\n" + m.renderStatusBar() + "\n"
	}

	var content strings.Builder
	content.WriteString(m.renderHeader())
	content.WriteString("\n\n")
	content.WriteString(m.question.View())
	content.WriteString("\n\n")

	if m.session.Streaming() || m.starting {
		step := m.session.State().NextStep
		if step == "" {
			step = "working"
		}
		content.WriteString(m.spinner.View() + " " + step + "\n")
	}
	content.WriteString(m.transcript.View())
	content.WriteString("\n")

	content.WriteString(m.renderEditorTitle())
	content.WriteString("\n")
	content.WriteString(m.editor.View())
	content.WriteString("\n")

	content.WriteString(m.renderResults())

	if m.focus == focusLabel {
		content.WriteString("\n" + m.label.View() + "\n")
	}
	if m.lastErr != nil {
		content.WriteString("\n" + m.styles.Error.Render("Error: "+m.lastErr.Error()) + "\n")
	}

	content.WriteString("\n")
	content.WriteString(m.renderStatusBar())
	content.WriteString("\n")
	content.WriteString(m.help.View(m.keyMap))
	return content.String()
}

func (m Model) renderHeader() string {
	st := m.session.State()
	phase := st.Phase()
	title := m.styles.Title.Render("studio") + " " + m.styles.Muted.Render(m.session.DatasourceID())
	status := ui.RenderStatus(ui.PhaseStatus(phase), m.opts.NoColor, true) + " " + string(phase)
	if st.HasConfidence {
		status += fmt.Sprintf(" · confidence %d%%", st.ConfidenceScore)
	}
	return title + "  " + status
}

func (m Model) renderEditorTitle() string {
	title := m.styles.Label.Render("SQL")
	if m.session.State().ActiveRun {
		title += " " + m.styles.Muted.Render("(modified, ctrl+r to run)")
	}
	return title
}

func (m Model) renderResults() string {
	st := m.session.State()
	pager := m.session.Pager()
	frame, loaded := pager.Frame()

	if st.OutputMode == runstate.OutputChart {
		if len(st.VisualizationConfig) == 0 {
			return m.styles.Muted.Render("no visualization config") + "\n"
		}
		out, err := ui.FormatJSON(st.VisualizationConfig, m.opts.NoColor)
		if err != nil {
			return m.styles.Error.Render(err.Error()) + "\n"
		}
		return m.styles.Label.Render("chart") + "\n" + out
	}

	if !loaded {
		if m.pendingSQL {
			return m.styles.Muted.Render("loading results...") + "\n"
		}
		return ""
	}
	table := ui.FrameTable(frame, ui.TableConfig{
		NoColor:    m.opts.NoColor,
		Compact:    m.opts.Compact,
		MaxWidth:   m.width,
		UseUnicode: !m.opts.NoColor,
	})
	return table.Render() + m.styles.Muted.Render(ui.PageFooter(pager)) + "\n"
}

// renderStatusBar renders the status bar
func (m Model) renderStatusBar() string {
	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Padding(0, 1)
	return style.Render(m.statusMsg)
}

// errorView renders an error message
func errorView(err error) string {
	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("9")).
		Padding(1, 2)

	return style.Render(fmt.Sprintf("Error: %s\n\nPress ctrl+c to quit", err.Error()))
}

// List items

type datasourceItem struct {
	ds client.Datasource
}

func (d datasourceItem) FilterValue() string { return d.ds.Name }
func (d datasourceItem) Title() string {
	if d.ds.Name == "" {
		return d.ds.ID
	}
	return d.ds.Name
}
func (d datasourceItem) Description() string {
	parts := []string{d.ds.ID}
	if d.ds.Type != "" {
		parts = append(parts, d.ds.Type)
	}
	if d.ds.Description != "" {
		parts = append(parts, d.ds.Description)
	}
	return strings.Join(parts, " · ")
}
