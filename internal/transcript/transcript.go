// Package transcript groups the events of a conversational run into the units
// a client renders: tool execution groups and standalone assistant responses.
//
// Grouping is a left-to-right fold. A group opens on tool_exec_request and is
// emitted only when it holds at least one successful execution and no failed
// one. It closes on sql_datasource_validation, on an assistant_response, or at
// end of stream. Groups that fail the rule are dropped without surfacing an
// error; the optional logger receives a debug record for each drop.
package transcript

import (
	"encoding/json"
	"log/slog"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/events"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/logger"
)

// Kind distinguishes the two group variants.
type Kind string

const (
	KindToolExecution     Kind = "tool_execution"
	KindAssistantResponse Kind = "assistant_response"
)

// Group is one rendering unit. For KindToolExecution, Request is always set
// and Execution/Validation/Dataframe may be nil. For KindAssistantResponse only
// Response is set.
type Group struct {
	Kind Kind `json:"kind"`

	Request    *events.Event   `json:"request,omitempty"`
	Execution  *events.Event   `json:"execution,omitempty"`
	Validation *events.Event   `json:"validation,omitempty"`
	Dataframe  json.RawMessage `json:"dataframe,omitempty"`
	// Events lists every event appended to the group, request first.
	Events []events.Event `json:"events,omitempty"`

	Response *events.Event `json:"response,omitempty"`
}

// Grouper is the incremental form of the grouping fold. The zero value is
// ready to use. A Grouper is not safe for concurrent use.
type Grouper struct {
	log *slog.Logger

	out     []Group
	current *Group

	hasExecution  bool
	hasValidation bool
	discardGroup  bool
	closed        bool
}

// NewGrouper returns a Grouper that reports dropped groups to log.
// A nil log disables the diagnostics.
func NewGrouper(log *slog.Logger) *Grouper {
	return &Grouper{log: log}
}

// Push folds one event. Events pushed after Close are ignored.
func (g *Grouper) Push(ev events.Event) {
	if g.closed {
		return
	}

	switch ev.Type {
	case events.TypeToolExecRequest:
		if g.current != nil {
			g.flush("superseded by a new request")
		}
		g.open(ev)

	case events.TypeSQLExecution:
		if g.current == nil {
			return
		}
		g.current.Events = append(g.current.Events, ev)
		if ev.HasError() {
			g.discardGroup = true
			return
		}
		g.hasExecution = true
		if df := ev.DataframeJSON(); df != nil {
			g.current.Dataframe = df
		}

	case events.TypeValidation:
		if g.current == nil {
			return
		}
		g.current.Events = append(g.current.Events, ev)
		g.hasValidation = true
		g.flush("closed by validation")

	case events.TypeAssistantResponse:
		if g.current != nil {
			g.flush("flushed by assistant response")
		}
		resp := ev
		g.out = append(g.out, Group{Kind: KindAssistantResponse, Response: &resp})

	default:
		// Unknown and non-grouping event types leave the state unchanged.
	}
}

// Groups returns the groups emitted so far followed by the open group when it
// would be emitted at end of stream. It does not change the Grouper.
func (g *Grouper) Groups() []Group {
	out := make([]Group, len(g.out), len(g.out)+1)
	copy(out, g.out)
	if g.current != nil && g.eligible() {
		out = append(out, g.finish(*g.current))
	}
	return out
}

// Close applies the end-of-stream rule: an eligible open group is emitted,
// any other open group is dropped.
func (g *Grouper) Close() []Group {
	if !g.closed {
		if g.current != nil {
			g.flush("dangling at end of stream")
		}
		g.closed = true
	}
	return g.Groups()
}

// Reset returns the Grouper to its initial state, keeping the logger.
func (g *Grouper) Reset() {
	*g = Grouper{log: g.log}
}

func (g *Grouper) open(req events.Event) {
	g.current = &Group{
		Kind:   KindToolExecution,
		Events: []events.Event{req},
	}
	g.hasExecution = false
	g.hasValidation = false
	g.discardGroup = false
}

func (g *Grouper) eligible() bool {
	return !g.discardGroup && g.hasExecution
}

// flush closes the open group, emitting it when eligible.
func (g *Grouper) flush(reason string) {
	if g.eligible() {
		g.out = append(g.out, g.finish(*g.current))
	} else if g.log != nil {
		g.log.Debug("tool execution group dropped",
			logger.Scope("transcript"),
			slog.String("reason", reason),
			slog.String("tool", g.current.Events[0].RegisterAs()),
			slog.Bool("has_execution", g.hasExecution),
			slog.Bool("discarded", g.discardGroup),
			slog.Bool("has_validation", g.hasValidation),
		)
	}
	g.current = nil
	g.hasExecution = false
	g.hasValidation = false
	g.discardGroup = false
}

// finish copies the group's events and points Request, Execution and
// Validation into the copy, so emitted groups never alias working storage.
// The latest successful execution wins.
func (g *Grouper) finish(grp Group) Group {
	evs := make([]events.Event, len(grp.Events))
	copy(evs, grp.Events)
	grp.Events = evs
	grp.Request, grp.Execution, grp.Validation = nil, nil, nil
	for i := range evs {
		switch {
		case i == 0:
			grp.Request = &evs[i]
		case evs[i].Type == events.TypeSQLExecution && !evs[i].HasError():
			grp.Execution = &evs[i]
		case evs[i].Type == events.TypeValidation:
			grp.Validation = &evs[i]
		}
	}
	return grp
}

// Build replays list from scratch and returns its groups, applying the
// end-of-stream rule to a trailing open group.
func Build(list []events.Event) []Group {
	return BuildWithLogger(list, nil)
}

// BuildWithLogger is Build with drop diagnostics sent to log.
func BuildWithLogger(list []events.Event, log *slog.Logger) []Group {
	g := NewGrouper(log)
	for _, ev := range list {
		g.Push(ev)
	}
	return g.Close()
}
