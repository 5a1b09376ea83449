package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/completion"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/logger"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/tui"
)

func newTUICmd(opts *rootOptions) *cobra.Command {
	var datasourceID, dashboardID, sectionID string
	var pageSize int

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Interactive studio",
		Long: `Launch the interactive studio.

Pick a datasource (or pass --datasource), ask a question and watch the run
stream in. The generated SQL lands in an editor; edit it and press ctrl+r to
run it again. Results are paged with ctrl+n/ctrl+p and can be pinned to a
dashboard with ctrl+w. Press f1 for all keys.

Logs are discarded while the studio owns the terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			c, err := opts.getClient(cfg, logger.Discard())
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			if pageSize <= 0 {
				pageSize = cfg.PageSize
			}

			model := tui.New(c, tui.Options{
				DatasourceID: firstNonEmpty(datasourceID, cfg.DatasourceID),
				DashboardID:  firstNonEmpty(dashboardID, cfg.DashboardID),
				SectionID:    firstNonEmpty(sectionID, cfg.SectionID),
				PageSize:     pageSize,
				NoColor:      !cfg.ShouldUseColor(opts.noColor),
				Compact:      cfg.UI.Compact,
				Logger:       logger.Discard(),
			})

			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(commandContext(cmd)))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&datasourceID, "datasource", "d", "", "open this datasource instead of the picker")
	cmd.Flags().StringVar(&dashboardID, "dashboard", "", "dashboard for new widgets")
	cmd.Flags().StringVar(&sectionID, "section", "", "dashboard section for new widgets")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "rows per result page")
	_ = cmd.RegisterFlagCompletionFunc("datasource", completion.DatasourceIDsCompletionFunc())
	_ = cmd.RegisterFlagCompletionFunc("dashboard", completion.DashboardIDsCompletionFunc())
	_ = cmd.RegisterFlagCompletionFunc("section", completion.SectionIDsCompletionFunc())
	return cmd
}
