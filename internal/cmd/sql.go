package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/completion"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/dataframe"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/ui"
)

type sqlFlags struct {
	datasourceID string
	page         int
	pageSize     int
	file         string
}

// sqlResult is the structured output of sql.
type sqlResult struct {
	Query     string          `json:"query"`
	Page      int             `json:"page"`
	PageSize  int             `json:"page_size"`
	LastPage  bool            `json:"last_page"`
	Dataframe dataframe.Frame `json:"dataframe"`
}

func newSQLCmd(opts *rootOptions) *cobra.Command {
	flags := &sqlFlags{}

	cmd := &cobra.Command{
		Use:   "sql [query]",
		Short: "Execute SQL against a datasource",
		Long: `Execute SQL against a datasource and print one page of the result.

Pages are numbered from 1. The query can come from the arguments, from a file
with --file, or from stdin with --file -.

Examples:
  studio sql "SELECT region, SUM(total) FROM sales GROUP BY region"
  studio sql --page 2 --page-size 50 "SELECT * FROM orders"
  studio sql -f report.sql -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readQuery(cmd.InOrStdin(), flags.file, args)
			if err != nil {
				return err
			}
			return runSQL(cmd, opts, flags, query)
		},
	}

	cmd.Flags().StringVarP(&flags.datasourceID, "datasource", "d", "", "datasource ID (defaults to datasource_id from config)")
	cmd.Flags().IntVar(&flags.page, "page", 1, "page to fetch, starting at 1")
	cmd.Flags().IntVar(&flags.pageSize, "page-size", 0, "rows per page (defaults to page_size from config)")
	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "read the query from a file (- for stdin)")
	_ = cmd.RegisterFlagCompletionFunc("datasource", completion.DatasourceIDsCompletionFunc())
	return cmd
}

func runSQL(cmd *cobra.Command, opts *rootOptions, flags *sqlFlags, query string) error {
	if flags.page < 1 {
		return fmt.Errorf("--page must be 1 or more")
	}
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
	pageSize := flags.pageSize
	if pageSize <= 0 {
		pageSize = cfg.PageSize
	}

	pager := dataframe.NewPager(func(ctx context.Context, skip, limit int) (dataframe.Frame, error) {
		res, err := c.ExecuteSQL(ctx, datasourceID, query, skip, limit)
		if err != nil {
			return dataframe.Frame{}, err
		}
		return res.Dataframe, nil
	}, pageSize)

	ctx := commandContext(cmd)
	frame, err := pager.Load(ctx, flags.page-1)
	if err != nil {
		return fmt.Errorf("execute sql: %w", err)
	}

	out := cmd.OutOrStdout()
	if opts.output != "table" {
		return writeStructured(out, opts.output, sqlResult{
			Query:     query,
			Page:      flags.page,
			PageSize:  pageSize,
			LastPage:  pager.IsLastPage(),
			Dataframe: frame,
		}, opts.noColorFor(cfg, out))
	}

	var sb strings.Builder
	if err := ui.RenderFrame(&sb, frame); err != nil {
		return err
	}
	sb.WriteString(ui.PageFooter(pager) + "\n")
	return pagerFor(cfg, out).Page(sb.String())
}

// readQuery takes the query from file ("-" is stdin) or the joined args.
func readQuery(stdin io.Reader, file string, args []string) (string, error) {
	var query string
	switch {
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read query from stdin: %w", err)
		}
		query = string(data)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read query file: %w", err)
		}
		query = string(data)
	default:
		query = strings.Join(args, " ")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("a query is required")
	}
	return query, nil
}
