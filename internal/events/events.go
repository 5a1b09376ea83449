// Package events defines the records pushed by the studio backend while a
// datasource run is in progress.
//
// Every record carries an event_type. The set of types the client understands
// is closed (see Type); records of any other type decode without error and are
// ignored by the folds in the transcript and runstate packages.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Type is the event_type tag of a run event.
type Type string

const (
	// TypeDatasourceRun marks the start of a run and carries run_id.
	TypeDatasourceRun Type = "datasource_run"

	// TypeSQLGenerate carries generation metadata (steps_to_follow, examples_used).
	TypeSQLGenerate Type = "sql_datasource_sql_generate"

	// TypeSQLExecution carries the executed SQL, visualization config and score.
	TypeSQLExecution Type = "sql_datasource_sql_execution"

	// TypeSQLRegenerate is the follow-up correction pass of a generation.
	TypeSQLRegenerate Type = "sql_datasource_sql_regenerate"

	// TypeValidation closes a generation/regeneration cycle.
	TypeValidation Type = "sql_datasource_validation"

	// TypeToolExecRequest opens a tool execution in the conversational mode.
	TypeToolExecRequest Type = "tool_exec_request"

	// TypeToolExecResponse reports the outcome of a tool execution.
	TypeToolExecResponse Type = "tool_exec_response"

	// TypeAssistantResponse is a plain narrative answer.
	TypeAssistantResponse Type = "assistant_response"
)

// Known reports whether t is one of the event types the client understands.
func (t Type) Known() bool {
	switch t {
	case TypeDatasourceRun, TypeSQLGenerate, TypeSQLExecution, TypeSQLRegenerate,
		TypeValidation, TypeToolExecRequest, TypeToolExecResponse, TypeAssistantResponse:
		return true
	default:
		return false
	}
}

// SQLSource tells which phase produced an execution event.
type SQLSource string

const (
	SQLSourceGeneration SQLSource = "SQLDatasourceSQLGeneration"
	SQLSourceRegenerate SQLSource = "SQLDatasourceSQLRegenerate"
)

// ToolRouting identifies the tool a tool_exec_* event belongs to.
type ToolRouting struct {
	RegisterAs string `json:"register_as"`
}

// Event is one record of a run stream. Field names follow the backend wire
// format. Optional fields are pointers or raw JSON so that "absent" and
// "present but empty" stay distinguishable.
type Event struct {
	Type                   Type            `json:"event_type"`
	RunID                  string          `json:"run_id,omitempty"`
	ID                     string          `json:"id,omitempty"`
	NextEvent              *string         `json:"next_event,omitempty"`
	SQL                    *string         `json:"sql,omitempty"`
	SQLSource              SQLSource       `json:"sql_source,omitempty"`
	VisualizationConfig    json.RawMessage `json:"data_visualization_config,omitempty"`
	HighestConfidenceScore *float64        `json:"highest_confidence_score,omitempty"`
	ErrorMessage           *string         `json:"error_message,omitempty"`
	StepsToFollow          json.RawMessage `json:"steps_to_follow,omitempty"`
	ExamplesUsed           []any           `json:"examples_used,omitempty"`
	Dataframe              json.RawMessage `json:"dataframe,omitempty"`
	Response               json.RawMessage `json:"response,omitempty"`
	ToolRouting            *ToolRouting    `json:"tool_routing,omitempty"`

	// Raw is the undecoded object as received.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes an event and keeps the original bytes in Raw.
// Unknown fields are accepted.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Event(p)
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns Raw when the event was decoded from the wire so that
// fields the client does not model survive a round trip.
func (e Event) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	type plain Event
	return json.Marshal(plain(e))
}

// HasError reports whether error_message is present and non-null.
func (e *Event) HasError() bool {
	return e.ErrorMessage != nil
}

// ErrorText returns error_message, or "" when absent.
func (e *Event) ErrorText() string {
	if e.ErrorMessage == nil {
		return ""
	}
	return *e.ErrorMessage
}

// DataframeJSON returns the result payload of an execution event: the first
// present of dataframe, response.dataframe and response. It returns nil when
// none is present.
func (e *Event) DataframeJSON() json.RawMessage {
	if present(e.Dataframe) {
		return e.Dataframe
	}
	if !present(e.Response) {
		return nil
	}
	var inner struct {
		Dataframe json.RawMessage `json:"dataframe"`
	}
	if err := json.Unmarshal(e.Response, &inner); err == nil && present(inner.Dataframe) {
		return inner.Dataframe
	}
	return e.Response
}

// Text returns the narrative of an assistant response.
func (e *Event) Text() string {
	var fields struct {
		Content string `json:"content"`
		Message string `json:"message"`
		Text    string `json:"text"`
	}
	if len(e.Raw) > 0 {
		_ = json.Unmarshal(e.Raw, &fields)
	}
	switch {
	case fields.Content != "":
		return fields.Content
	case fields.Message != "":
		return fields.Message
	case fields.Text != "":
		return fields.Text
	}
	var s string
	if present(e.Response) && json.Unmarshal(e.Response, &s) == nil {
		return s
	}
	return ""
}

// Steps returns steps_to_follow as lines. The backend sends either a single
// string or a list of strings.
func (e *Event) Steps() []string {
	if !present(e.StepsToFollow) {
		return nil
	}
	var s string
	if err := json.Unmarshal(e.StepsToFollow, &s); err == nil {
		if s == "" {
			return nil
		}
		return splitLines(s)
	}
	var list []any
	if err := json.Unmarshal(e.StepsToFollow, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if str, ok := item.(string); ok {
				out = append(out, str)
			} else {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	}
	return []string{string(e.StepsToFollow)}
}

// ConfidenceScore returns highest_confidence_score rounded and clamped to
// [0, 100], and false when the event carries no score.
func (e *Event) ConfidenceScore() (int, bool) {
	if e.HighestConfidenceScore == nil {
		return 0, false
	}
	v := *e.HighestConfidenceScore
	switch {
	case v < 0:
		v = 0
	case v > 100:
		v = 100
	}
	return int(v + 0.5), true
}

// RegisterAs returns tool_routing.register_as, or "".
func (e *Event) RegisterAs() string {
	if e.ToolRouting == nil {
		return ""
	}
	return e.ToolRouting.RegisterAs
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func splitLines(s string) []string {
	var out []string
	for _, line := range bytes.Split([]byte(s), []byte("\n")) {
		out = append(out, string(bytes.TrimRight(line, "\r")))
	}
	return out
}
