package cmd

import (
	"github.com/spf13/cobra"
)

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for the studio CLI.

Besides commands and flags, the scripts complete --output values and
datasource, dashboard and section IDs fetched from the server.

To load completions:

Bash:
  $ source <(studio completion bash)

Zsh:
  $ studio completion zsh > "${fpath[1]}/_studio"

Fish:
  $ studio completion fish | source

PowerShell:
  PS> studio completion powershell | Out-String | Invoke-Expression

Notes:
- Dynamic completions are cached locally (cache.ttl, 5 minutes by default)
- Cache location: ~/.studio/cache/
- Completion timeout: completion.timeout, 2 seconds by default
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
}
