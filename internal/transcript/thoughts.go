package transcript

import "github.com/emergent-company/emergent/tools/studio-cli/internal/events"

// Thought is an entry of the detail panel that shows how the assistant
// reached its answer.
type Thought struct {
	Event events.Event `json:"event"`
	// Failed marks a tool_exec_response that carried error_message.
	Failed bool `json:"failed,omitempty"`
	// Tool is tool_routing.register_as for tool events.
	Tool string `json:"tool,omitempty"`
}

// Thoughts filters list down to the request, generation and tool response
// events, in stream order. It is independent of grouping.
func Thoughts(list []events.Event) []Thought {
	var out []Thought
	for _, ev := range list {
		switch ev.Type {
		case events.TypeToolExecRequest, events.TypeSQLGenerate:
			out = append(out, Thought{Event: ev, Tool: ev.RegisterAs()})
		case events.TypeToolExecResponse:
			out = append(out, Thought{Event: ev, Tool: ev.RegisterAs(), Failed: ev.HasError()})
		}
	}
	return out
}

// Failures returns the failed tool thoughts keyed by tool name. Later
// failures of the same tool replace earlier ones.
func Failures(thoughts []Thought) map[string]string {
	out := make(map[string]string)
	for _, th := range thoughts {
		if th.Failed {
			out[th.Tool] = th.Event.ErrorText()
		}
	}
	return out
}
