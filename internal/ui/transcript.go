package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/dataframe"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/events"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/runstate"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/transcript"
)

// RenderGroups writes the grouped transcript: one block per tool execution
// and one paragraph per assistant response.
func RenderGroups(w io.Writer, groups []transcript.Group, noColor bool) {
	st := NewStyles(noColor)
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		switch g.Kind {
		case transcript.KindAssistantResponse:
			fmt.Fprintln(w, g.Response.Text())
		case transcript.KindToolExecution:
			tool := g.Request.RegisterAs()
			if tool == "" {
				tool = "tool"
			}
			fmt.Fprintf(w, "%s %s\n", RenderStatus(StatusSuccess, noColor, !noColor), st.Title.Render(tool))
			if g.Execution != nil && g.Execution.SQL != nil {
				fmt.Fprintln(w, renderLines(st.SQL, *g.Execution.SQL, "  "))
			}
			if len(g.Dataframe) > 0 {
				if f, err := dataframe.Parse(g.Dataframe); err == nil {
					fmt.Fprintln(w, st.Muted.Render(fmt.Sprintf("  %d rows × %d columns", f.NumRows(), len(f.Columns()))))
				}
			}
			if g.Validation != nil {
				fmt.Fprintln(w, st.Muted.Render("  validated"))
			}
		}
	}
}

// RenderThoughts writes the detail panel: requests, generation steps and
// tool responses in stream order, failed tools marked.
func RenderThoughts(w io.Writer, thoughts []transcript.Thought, noColor bool) {
	st := NewStyles(noColor)
	for _, th := range thoughts {
		switch th.Event.Type {
		case events.TypeSQLGenerate:
			fmt.Fprintln(w, st.Label.Render("plan"))
			for _, step := range th.Event.Steps() {
				fmt.Fprintf(w, "  %s\n", step)
			}
		case events.TypeToolExecRequest:
			fmt.Fprintf(w, "%s %s\n", st.Label.Render("call"), th.Tool)
		case events.TypeToolExecResponse:
			if th.Failed {
				fmt.Fprintf(w, "%s %s: %s\n", RenderStatus(StatusError, noColor, !noColor), th.Tool, st.Error.Render(th.Event.ErrorText()))
			} else {
				fmt.Fprintf(w, "%s %s\n", RenderStatus(StatusSuccess, noColor, !noColor), th.Tool)
			}
		}
	}
}

// RenderFailures lists failed tools by name.
func RenderFailures(w io.Writer, failures map[string]string, noColor bool) {
	if len(failures) == 0 {
		return
	}
	st := NewStyles(noColor)
	tools := make([]string, 0, len(failures))
	for tool := range failures {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	for _, tool := range tools {
		fmt.Fprintf(w, "%s %s: %s\n", RenderStatus(StatusWarning, noColor, !noColor), tool, st.Error.Render(failures[tool]))
	}
}

// RenderRun writes the resolved run: status, SQL, score, examples, error and
// visualization config.
func RenderRun(w io.Writer, s runstate.State, noColor bool) {
	st := NewStyles(noColor)

	phase := s.Phase()
	header := fmt.Sprintf("%s run %s", RenderStatus(PhaseStatus(phase), noColor, !noColor), phase)
	if s.RunID != "" {
		header += st.Muted.Render(" (" + s.RunID + ")")
	}
	fmt.Fprintln(w, header)

	if s.ErrorMessage != nil {
		fmt.Fprintln(w, renderLines(st.Error, "error: "+*s.ErrorMessage, ""))
	}
	if s.SQL != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderLines(st.SQL, s.SQL, ""))
		fmt.Fprintln(w)
	}
	if s.HasConfidence {
		fmt.Fprintf(w, "%s %d%%\n", st.Label.Render("confidence:"), s.ConfidenceScore)
	}
	if len(s.UsedExamples) > 0 {
		names := make([]string, len(s.UsedExamples))
		for i, ex := range s.UsedExamples {
			names[i] = dataframe.Format(ex)
		}
		fmt.Fprintf(w, "%s %s\n", st.Label.Render("examples:"), strings.Join(names, ", "))
	}
	if len(s.VisualizationConfig) > 0 && string(s.VisualizationConfig) != "null" {
		fmt.Fprintf(w, "%s %s\n", st.Label.Render("visualization:"), string(s.VisualizationConfig))
	}
}

// renderLines styles each line on its own; rendering a block would pad every
// line to the widest one.
func renderLines(style lipgloss.Style, s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + style.Render(l)
	}
	return strings.Join(lines, "\n")
}
