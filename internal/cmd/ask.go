package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/client"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/completion"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/config"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/dataframe"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/events"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/logger"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/runstate"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/studio"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/transcript"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/ui"
)

type askFlags struct {
	datasourceID string
	dashboardID  string
	sectionID    string
	addWidget    string
	showThoughts bool
	noResults    bool
	record       string
	pageSize     int
}

// askResult is the structured output of ask.
type askResult struct {
	Question  string             `json:"question"`
	State     runstate.State     `json:"state"`
	Phase     runstate.Phase     `json:"phase"`
	Groups    []transcript.Group `json:"groups"`
	Failures  map[string]string  `json:"tool_failures,omitempty"`
	Dataframe *dataframe.Frame   `json:"dataframe,omitempty"`
	Widget    *client.Widget     `json:"widget,omitempty"`
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	flags := &askFlags{}

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question against a datasource",
		Long: `Ask a question in natural language and follow the run as it streams in.

The spinner shows the step the backend announced next. Once the stream ends
the grouped transcript, the final SQL and the first page of results are
printed. Press Ctrl-C once to stop the run on the backend, twice to drop the
stream.

Examples:
  studio ask "monthly revenue by region"
  studio ask -d sales --show-thoughts "top customers last quarter"
  studio ask --add-widget "Revenue" --dashboard d1 --section s1 "revenue by month"
  studio ask --record run.ndjson "orders per day"`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completion.NoCompletion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, opts, flags, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&flags.datasourceID, "datasource", "d", "", "datasource ID (defaults to datasource_id from config)")
	cmd.Flags().StringVar(&flags.dashboardID, "dashboard", "", "dashboard ID for --add-widget")
	cmd.Flags().StringVar(&flags.sectionID, "section", "", "dashboard section ID for --add-widget")
	cmd.Flags().StringVar(&flags.addWidget, "add-widget", "", "pin the result to a dashboard with this label")
	cmd.Flags().BoolVar(&flags.showThoughts, "show-thoughts", false, "print the steps the assistant took")
	cmd.Flags().BoolVar(&flags.noResults, "no-results", false, "do not execute the final SQL")
	cmd.Flags().StringVar(&flags.record, "record", "", "save the raw run events to this file (NDJSON)")
	cmd.Flags().IntVar(&flags.pageSize, "page-size", 0, "rows per result page (defaults to page_size from config)")

	_ = cmd.RegisterFlagCompletionFunc("datasource", completion.DatasourceIDsCompletionFunc())
	_ = cmd.RegisterFlagCompletionFunc("dashboard", completion.DashboardIDsCompletionFunc())
	_ = cmd.RegisterFlagCompletionFunc("section", completion.SectionIDsCompletionFunc())
	return cmd
}

func runAsk(cmd *cobra.Command, opts *rootOptions, flags *askFlags, question string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	log := opts.logger(cfg)
	c, err := opts.getClient(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	datasourceID := firstNonEmpty(flags.datasourceID, cfg.DatasourceID)
	if datasourceID == "" {
		return fmt.Errorf("datasource is required. Use --datasource, set STUDIO_DATASOURCE_ID, or configure datasource_id in your config file")
	}
	dashboardID := firstNonEmpty(flags.dashboardID, cfg.DashboardID)
	sectionID := firstNonEmpty(flags.sectionID, cfg.SectionID)
	if flags.addWidget != "" && (dashboardID == "" || sectionID == "") {
		return fmt.Errorf("--add-widget needs --dashboard and --section")
	}
	pageSize := flags.pageSize
	if pageSize <= 0 {
		pageSize = cfg.PageSize
	}

	session := studio.New(c, datasourceID, studio.Options{PageSize: pageSize, Logger: log})
	if err := askWithInterrupt(cmd.Context(), cmd.ErrOrStderr(), session, cfg, log, opts.noColor, question); err != nil {
		return err
	}

	if flags.record != "" {
		if err := recordEvents(flags.record, session.Events()); err != nil {
			return err
		}
		log.Info("run recorded", logger.Scope("ask"), slog.String("path", flags.record))
	}

	state := session.State()
	result := askResult{
		Question: question,
		State:    state,
		Phase:    state.Phase(),
		Groups:   session.Groups(),
		Failures: transcript.Failures(session.Thoughts()),
	}

	ctx := commandContext(cmd)
	var queryErr error
	if !flags.noResults && !state.Failed && strings.TrimSpace(state.SQL) != "" {
		frame, err := session.RunSQL(ctx, 0)
		if err != nil {
			queryErr = err
		} else {
			result.Dataframe = &frame
		}
	}

	if flags.addWidget != "" {
		w, err := session.AddWidget(ctx, dashboardID, sectionID, flags.addWidget)
		if err != nil {
			return err
		}
		result.Widget = w
	}

	out := cmd.OutOrStdout()
	noColor := opts.noColorFor(cfg, out)
	if opts.output != "table" {
		if err := writeStructured(out, opts.output, result, noColor); err != nil {
			return err
		}
		return queryErr
	}

	var sb strings.Builder
	if flags.showThoughts {
		ui.RenderThoughts(&sb, session.Thoughts(), noColor)
		sb.WriteString("\n")
	}
	ui.RenderGroups(&sb, result.Groups, noColor)
	ui.RenderFailures(&sb, result.Failures, noColor)
	ui.RenderRun(&sb, state, noColor)
	if result.Dataframe != nil {
		sb.WriteString("\n")
		if err := ui.RenderFrame(&sb, *result.Dataframe); err != nil {
			return err
		}
		sb.WriteString(ui.PageFooter(session.Pager()) + "\n")
	}
	if result.Widget != nil {
		fmt.Fprintf(&sb, "\nWidget %q created (%s)\n", result.Widget.Label, result.Widget.ID)
	}
	if err := pagerFor(cfg, out).Page(sb.String()); err != nil {
		return err
	}
	return queryErr
}

// askWithInterrupt runs the question while a spinner follows next_event.
// The first Ctrl-C asks the backend to stop the run; the next one, or a
// Ctrl-C before the run ID is known, drops the stream.
func askWithInterrupt(parent context.Context, errOut io.Writer, session *studio.Session, cfg *config.Config, log *slog.Logger, noColor bool, question string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if timeout := cfg.StreamTimeout(); timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	var runID atomic.Value
	runID.Store("")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)
	go func() {
		stopping := false
		for {
			select {
			case <-done:
				return
			case <-sigCh:
				id, _ := runID.Load().(string)
				if id == "" || stopping {
					cancel()
					return
				}
				stopping = true
				fmt.Fprintf(errOut, "\nStopping run %s (Ctrl-C again to abort)\n", id)
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := session.StopRun(stopCtx, id); err != nil {
					log.Warn("stop run failed", logger.Scope("ask"), logger.Error(err))
				}
				stopCancel()
			}
		}
	}()

	spinner := ui.NewSpinner("starting run", noColor)
	spinner.Start()
	defer spinner.Stop()

	return session.Ask(ctx, question, func(ev events.Event) {
		st := session.State()
		if st.RunID != "" {
			runID.Store(st.RunID)
		}
		spinner.SetMessage(stepLabel(st))
	})
}

// stepLabel names what the run is doing for the spinner.
func stepLabel(st runstate.State) string {
	if st.NextStep != "" {
		return strings.ReplaceAll(st.NextStep, "_", " ")
	}
	return string(st.Phase())
}

func recordEvents(path string, list []events.Event) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create record file: %w", err)
	}
	if err := events.Encode(f, list); err != nil {
		f.Close()
		return fmt.Errorf("failed to record events: %w", err)
	}
	return f.Close()
}

func pagerFor(cfg *config.Config, out io.Writer) *ui.Pager {
	return ui.NewPager(cfg.UI.Pager && out == io.Writer(os.Stdout), out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
