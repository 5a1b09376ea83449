package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/client"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/completion"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/ui"
)

// openBrowser is replaced in tests.
var openBrowser = browser.OpenURL

type widgetFlags struct {
	datasourceID string
	dashboardID  string
	sectionID    string
	label        string
	sql          string
	vizConfig    string
	open         bool
}

func newWidgetsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "widgets",
		Short: "Manage dashboard widgets",
	}
	cmd.AddCommand(newWidgetsAddCmd(opts))
	return cmd
}

func newWidgetsAddCmd(opts *rootOptions) *cobra.Command {
	flags := &widgetFlags{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Pin a query to a dashboard section",
		Long: `Create a widget from a SQL query and an optional visualization config.

Examples:
  studio widgets add --dashboard d1 --section s1 --label "Revenue" --sql "SELECT ..."
  studio widgets add --label "Orders" --sql "SELECT ..." --viz-config bar.json --open`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWidgetsAdd(cmd, opts, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.datasourceID, "datasource", "d", "", "datasource ID (defaults to datasource_id from config)")
	cmd.Flags().StringVar(&flags.dashboardID, "dashboard", "", "dashboard ID (defaults to dashboard_id from config)")
	cmd.Flags().StringVar(&flags.sectionID, "section", "", "section ID (defaults to section_id from config)")
	cmd.Flags().StringVar(&flags.label, "label", "", "widget label")
	cmd.Flags().StringVar(&flags.sql, "sql", "", "SQL of the widget")
	cmd.Flags().StringVar(&flags.vizConfig, "viz-config", "", "JSON file with the visualization config")
	cmd.Flags().BoolVar(&flags.open, "open", false, "open the dashboard in a browser")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("sql")

	_ = cmd.RegisterFlagCompletionFunc("datasource", completion.DatasourceIDsCompletionFunc())
	_ = cmd.RegisterFlagCompletionFunc("dashboard", completion.DashboardIDsCompletionFunc())
	_ = cmd.RegisterFlagCompletionFunc("section", completion.SectionIDsCompletionFunc())
	return cmd
}

func runWidgetsAdd(cmd *cobra.Command, opts *rootOptions, flags *widgetFlags) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	c, err := opts.getClient(cfg, opts.logger(cfg))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	req := client.WidgetRequest{
		Label:        strings.TrimSpace(flags.label),
		SQLCmd:       strings.TrimSpace(flags.sql),
		DatasourceID: firstNonEmpty(flags.datasourceID, cfg.DatasourceID),
	}
	dashboardID := firstNonEmpty(flags.dashboardID, cfg.DashboardID)
	sectionID := firstNonEmpty(flags.sectionID, cfg.SectionID)
	switch {
	case req.Label == "":
		return fmt.Errorf("--label must not be empty")
	case req.SQLCmd == "":
		return fmt.Errorf("--sql must not be empty")
	case req.DatasourceID == "":
		return fmt.Errorf("datasource is required. Use --datasource or configure datasource_id")
	case dashboardID == "" || sectionID == "":
		return fmt.Errorf("dashboard and section are required. Use --dashboard and --section or configure them")
	}
	if flags.vizConfig != "" {
		data, err := os.ReadFile(flags.vizConfig)
		if err != nil {
			return fmt.Errorf("failed to read visualization config: %w", err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("visualization config %s is not valid JSON", flags.vizConfig)
		}
		req.DataVisualizationConfig = json.RawMessage(data)
	}

	ctx := commandContext(cmd)
	w, err := c.CreateWidget(ctx, dashboardID, sectionID, req)
	if err != nil {
		return fmt.Errorf("failed to create widget: %w", err)
	}

	out := cmd.OutOrStdout()
	if opts.output != "table" {
		if err := writeStructured(out, opts.output, w, opts.noColorFor(cfg, out)); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "%s Widget %q created\n", ui.RenderStatus(ui.StatusSuccess, opts.noColorFor(cfg, out), true), w.Label)
		fmt.Fprintf(out, "  ID:        %s\n", w.ID)
		fmt.Fprintf(out, "  Dashboard: %s\n", dashboardID)
		fmt.Fprintf(out, "  Section:   %s\n", sectionID)
	}

	if flags.open {
		link := dashboardURL(cfg.ServerURL, dashboardID)
		if err := openBrowser(link); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Could not open a browser; the dashboard is at %s\n", link)
		}
	}
	return nil
}

func dashboardURL(serverURL, dashboardID string) string {
	return strings.TrimRight(serverURL, "/") + "/dashboards/" + url.PathEscape(dashboardID)
}
