package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/emergent-company/emergent/tools/studio-cli/internal/client"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/completion"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/config"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/logger"
	"github.com/emergent-company/emergent/tools/studio-cli/internal/ui"
)

// rootOptions holds the global flags shared by every subcommand.
type rootOptions struct {
	cfgFile   string
	serverURL string
	output    string
	debug     bool
	noColor   bool
}

// NewRootCommand builds the command tree. Every call returns a fresh tree so
// flag values never leak between invocations.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "studio",
		Short: "CLI for the data analytics studio",
		Long: `Command-line interface for the data analytics studio.

Ask questions against a datasource and watch the run stream in, edit and
re-run the generated SQL, page through the results and pin them to a
dashboard. Runs can be recorded and replayed offline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd, opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.studio/config.yaml)")
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "", "studio server URL")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "output format (table, json, yaml)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	_ = root.RegisterFlagCompletionFunc("output", completion.OutputFormatCompletionFunc())

	root.AddCommand(
		newAskCmd(opts),
		newStopCmd(opts),
		newSQLCmd(opts),
		newWidgetsCmd(opts),
		newReplayCmd(opts),
		newDatasourcesCmd(opts),
		newDashboardsCmd(opts),
		newConfigCmd(opts),
		newTUICmd(opts),
		newCompletionCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI. It is called by main.main().
func Execute() error {
	return NewRootCommand().Execute()
}

// initConfig loads .env files from the working directory, then resolves the
// global flags through viper so STUDIO_OUTPUT, STUDIO_DEBUG and
// STUDIO_NO_COLOR work like their flags. Flags set explicitly win.
func initConfig(cmd *cobra.Command, opts *rootOptions) error {
	if err := config.LoadDotEnv("."); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	opts.output = v.GetString("output")
	opts.debug = v.GetBool("debug")
	opts.noColor = v.GetBool("no-color")
	switch opts.output {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("invalid output format %q (must be table, json or yaml)", opts.output)
	}
	return nil
}

// loadConfig reads the config file and environment, then applies --server.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithEnv(config.DiscoverPath(o.cfgFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.serverURL != "" {
		cfg.ServerURL = o.serverURL
	}
	if o.debug {
		cfg.Debug = true
	}
	return cfg, nil
}

func (o *rootOptions) logger(cfg *config.Config) *slog.Logger {
	return logger.New(logger.Options{Debug: cfg.Debug})
}

// noColorFor reports whether output to w should be plain.
func (o *rootOptions) noColorFor(cfg *config.Config, w io.Writer) bool {
	if !cfg.ShouldUseColor(o.noColor) {
		return true
	}
	f, ok := w.(*os.File)
	return !ok || f != os.Stdout || ui.IsPiped()
}

func (o *rootOptions) getClient(cfg *config.Config, log *slog.Logger) (*client.Client, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("no server URL configured. Set STUDIO_SERVER_URL or run: studio config set-server <url>")
	}
	return client.New(client.Options{
		ServerURL: cfg.ServerURL,
		APIKey:    cfg.APIKey,
		UserAgent: "studio-cli/" + Version,
		Logger:    log,
	})
}
