// Package runstate folds the events of a single SQL-generation run into the
// summary that drives the studio affordances: the SQL editor text, the
// visualization config, the confidence score, the progress label and the
// completion or failure banner.
package runstate

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/events"
)

// OutputMode selects how results are presented.
type OutputMode string

const (
	OutputTable OutputMode = "table"
	OutputChart OutputMode = "chart"
)

// Phase is the coarse progress of a run, derived from the folded events.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseStarted      Phase = "started"
	PhaseGenerating   Phase = "generating"
	PhaseExecuted     Phase = "executed"
	PhaseRegenerating Phase = "regenerating"
	PhaseValidated    Phase = "validated"
	PhaseComplete     Phase = "complete"
	PhaseFailed       Phase = "failed"
)

// State is the derived summary of one run. The zero value is the empty state.
// A State is owned by a single run driver and is not safe for concurrent use.
type State struct {
	RunID string `json:"run_id,omitempty"`

	Generation          *events.Event `json:"generation,omitempty"`
	GenerationExecution *events.Event `json:"generation_execution,omitempty"`
	Regenerate          *events.Event `json:"regenerate,omitempty"`
	RegenerateExecution *events.Event `json:"regenerate_execution,omitempty"`
	Validation          *events.Event `json:"validation,omitempty"`

	// SQL is the editor text. InitialSQL is the snapshot of the last
	// executed or absorbed SQL, used to detect edits.
	SQL                 string          `json:"sql,omitempty"`
	InitialSQL          string          `json:"initial_sql,omitempty"`
	VisualizationConfig json.RawMessage `json:"visualization_config,omitempty"`
	EventID             string          `json:"event_id,omitempty"`
	ConfidenceScore     int             `json:"confidence_score"`
	HasConfidence       bool            `json:"-"`
	ErrorMessage        *string         `json:"error_message"`

	// NextStep is the progress label. It is cleared and frozen once a
	// validation event is seen.
	NextStep        string `json:"next_step,omitempty"`
	NextStepLatched bool   `json:"-"`

	UsedExamples []any `json:"used_examples,omitempty"`

	Complete bool   `json:"complete"`
	Failed   bool   `json:"failed"`
	ResetKey uint64 `json:"reset_key"`

	OutputMode OutputMode      `json:"output_mode,omitempty"`
	Dataframe  json.RawMessage `json:"dataframe,omitempty"`
	ActiveRun  bool            `json:"active_run"`
}

// Apply folds one event into the state. Unknown event types only take part
// in next_event tracking.
func (s *State) Apply(ev events.Event) {
	switch ev.Type {
	case events.TypeDatasourceRun:
		if ev.RunID != "" {
			s.RunID = ev.RunID
		}

	case events.TypeSQLGenerate:
		e := ev
		s.Generation = &e
		s.UsedExamples = UsedExamples(s.Generation, s.Regenerate)

	case events.TypeSQLRegenerate:
		e := ev
		s.Regenerate = &e
		s.UsedExamples = UsedExamples(s.Generation, s.Regenerate)

	case events.TypeSQLExecution:
		s.absorbExecution(ev)

	case events.TypeValidation:
		e := ev
		s.Validation = &e
	}

	s.trackNextStep(ev)
}

func (s *State) absorbExecution(ev events.Event) {
	if ev.HasError() {
		return
	}
	e := ev
	switch ev.SQLSource {
	case events.SQLSourceGeneration:
		s.GenerationExecution = &e
	case events.SQLSourceRegenerate:
		s.RegenerateExecution = &e
	default:
		return
	}

	if ev.SQL != nil {
		s.SQL = *ev.SQL
		s.InitialSQL = *ev.SQL
		s.ActiveRun = false
	}
	if len(ev.VisualizationConfig) > 0 && string(ev.VisualizationConfig) != "null" {
		s.VisualizationConfig = ev.VisualizationConfig
	}
	if ev.ID != "" {
		s.EventID = ev.ID
	}
	if score, ok := ev.ConfidenceScore(); ok {
		s.ConfidenceScore = score
		s.HasConfidence = true
	}
}

func (s *State) trackNextStep(ev events.Event) {
	if s.NextStepLatched {
		return
	}
	if ev.Type == events.TypeValidation {
		s.NextStep = ""
		s.NextStepLatched = true
		return
	}
	if ev.NextEvent != nil {
		s.NextStep = *ev.NextEvent
	}
}

// Resolve applies the completion rule for a closed stream. A run with an id
// is marked complete. A run without any successful execution is marked
// failed, the editor receives the generation steps as a SQL comment, and the
// generation error becomes ErrorMessage.
func (s *State) Resolve() {
	if s.RunID != "" {
		s.Complete = true
	}
	if s.GenerationExecution != nil || s.RegenerateExecution != nil {
		return
	}
	s.Failed = true
	if s.Generation == nil {
		return
	}
	if steps := s.Generation.Steps(); len(steps) > 0 {
		s.SQL = StepsComment(steps)
	}
	if s.Generation.HasError() {
		msg := s.Generation.ErrorText()
		s.ErrorMessage = &msg
	}
}

// Reset clears every field and advances ResetKey by one. Components caching
// data derived from the run compare ResetKey to know when to drop it.
func (s *State) Reset() {
	*s = State{ResetKey: s.ResetKey + 1}
}

// Edit records a change of the editor text and recomputes ActiveRun.
func (s *State) Edit(text string) {
	s.SQL = text
	s.ActiveRun = text != s.InitialSQL
}

// MarkExecuted records that text was just run.
func (s *State) MarkExecuted(text string) {
	s.SQL = text
	s.InitialSQL = text
	s.ActiveRun = false
}

// Phase reports the coarse progress of the run.
func (s *State) Phase() Phase {
	switch {
	case s.Failed:
		return PhaseFailed
	case s.Complete:
		return PhaseComplete
	case s.Validation != nil:
		return PhaseValidated
	case s.Regenerate != nil && s.RegenerateExecution == nil:
		return PhaseRegenerating
	case s.GenerationExecution != nil || s.RegenerateExecution != nil:
		return PhaseExecuted
	case s.Generation != nil:
		return PhaseGenerating
	case s.RunID != "":
		return PhaseStarted
	default:
		return PhaseIdle
	}
}

// CanAddWidget reports whether the current SQL may be pinned to a dashboard:
// the SQL of a completed run, or SQL whose results are loaded. Loaded
// results also count after a failed generation.
func (s *State) CanAddWidget() bool {
	if strings.TrimSpace(s.SQL) == "" {
		return false
	}
	return len(s.Dataframe) > 0 || (s.Complete && !s.Failed)
}

// Fold replays list from the empty state.
func Fold(list []events.Event) State {
	var s State
	for _, ev := range list {
		s.Apply(ev)
	}
	return s
}

// UsedExamples returns the union of the generation and regeneration
// examples_used lists by value equality, in first-seen order.
func UsedExamples(generation, regenerate *events.Event) []any {
	var out []any
	for _, ev := range []*events.Event{generation, regenerate} {
		if ev == nil {
			continue
		}
		for _, ex := range ev.ExamplesUsed {
			if !containsValue(out, ex) {
				out = append(out, ex)
			}
		}
	}
	return out
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

// StepsComment renders steps as a SQL line comment block.
func StepsComment(steps []string) string {
	var b strings.Builder
	for i, step := range steps {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("-- ")
		b.WriteString(step)
	}
	return b.String()
}
