package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the version, commit hash, and build date of the studio CLI",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Studio CLI\n")
			fmt.Fprintf(out, "  Version:    %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
