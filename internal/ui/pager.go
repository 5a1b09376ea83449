package ui

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// Pager sends long output (transcripts, replays) through $PAGER.
type Pager struct {
	enabled bool
	command string
	args    []string
	out     io.Writer
}

// NewPager picks $PAGER, then less or more. Paging is off when disabled in
// the config or when stdout is piped.
func NewPager(enabled bool, out io.Writer) *Pager {
	if out == nil {
		out = os.Stdout
	}
	if !enabled || IsPiped() {
		return &Pager{out: out}
	}

	pagerCmd := os.Getenv("PAGER")
	if pagerCmd == "" {
		for _, cmd := range []string{"less", "more"} {
			if _, err := exec.LookPath(cmd); err == nil {
				pagerCmd = cmd
				break
			}
		}
	}
	parts := strings.Fields(pagerCmd)
	if len(parts) == 0 {
		return &Pager{out: out}
	}

	args := parts[1:]
	if parts[0] == "less" && len(args) == 0 {
		args = []string{"-R", "-F", "-X"}
	}
	return &Pager{enabled: true, command: parts[0], args: args, out: out}
}

// Page prints content, through the pager when it does not fit the screen.
func (p *Pager) Page(content string) error {
	if !p.enabled || strings.Count(content, "\n") < terminalHeight()-2 {
		_, err := fmt.Fprint(p.out, content)
		return err
	}

	cmd := exec.Command(p.command, p.args...)
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = p.out
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func terminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return 24
	}
	return height
}
