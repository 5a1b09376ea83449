package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/client"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/events"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/runstate"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/studio"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/transcript"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/ui"
)

type replayResult struct {
	Events   int                  `json:"events"`
	State    runstate.State       `json:"state"`
	Phase    runstate.Phase       `json:"phase"`
	Groups   []transcript.Group   `json:"groups"`
	Thoughts []transcript.Thought `json:"thoughts,omitempty"`
	Failures map[string]string    `json:"tool_failures,omitempty"`
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	var showThoughts bool

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Fold a recorded run offline",
		Long: `Replay a recorded run stream and print the transcript and final run state.

The file may hold a JSON array of events, newline-delimited JSON (as written
by ask --record) or a raw server-sent event capture. Use - for stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log := opts.logger(cfg)

			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			list, err := decodeRecording(data)
			if err != nil {
				return err
			}

			session := studio.New(nil, "", studio.Options{Logger: log})
			session.Replay(list)

			state := session.State()
			result := replayResult{
				Events:   len(list),
				State:    state,
				Phase:    state.Phase(),
				Groups:   session.Groups(),
				Failures: transcript.Failures(session.Thoughts()),
			}
			if showThoughts {
				result.Thoughts = session.Thoughts()
			}

			out := cmd.OutOrStdout()
			noColor := opts.noColorFor(cfg, out)
			if opts.output != "table" {
				return writeStructured(out, opts.output, result, noColor)
			}

			var sb strings.Builder
			if showThoughts {
				ui.RenderThoughts(&sb, result.Thoughts, noColor)
				sb.WriteString("\n")
			}
			ui.RenderGroups(&sb, result.Groups, noColor)
			ui.RenderFailures(&sb, result.Failures, noColor)
			ui.RenderRun(&sb, state, noColor)
			return pagerFor(cfg, out).Page(sb.String())
		},
	}

	cmd.Flags().BoolVar(&showThoughts, "show-thoughts", false, "print the steps the assistant took")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	return data, nil
}

// decodeRecording accepts SSE captures as well as the JSON forms Decode
// reads.
func decodeRecording(data []byte) ([]events.Event, error) {
	if !client.LooksLikeSSE(data) {
		list, err := events.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode recording: %w", err)
		}
		return list, nil
	}

	dec := client.NewDecoder(bytes.NewReader(data), nil)
	var list []events.Event
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return list, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode recording: %w", err)
		}
		list = append(list, ev)
	}
}
