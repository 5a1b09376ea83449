package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Spinner shows the current step of a run on one terminal line. The message
// can change while it spins, so the ask command can follow next_event.
type Spinner struct {
	mu      sync.Mutex
	message string
	width   int

	frames   []string
	interval time.Duration
	writer   io.Writer
	noColor  bool
	active   bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSpinner creates a spinner writing to stderr.
func NewSpinner(message string, noColor bool) *Spinner {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	if noColor || !isTerminal() {
		frames = []string{"|", "/", "-", "\\"}
	}

	return &Spinner{
		message:  message,
		frames:   frames,
		interval: 100 * time.Millisecond,
		writer:   os.Stderr,
		noColor:  noColor,
	}
}

// SetMessage replaces the label shown next to the spinner.
func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Message returns the current label.
func (s *Spinner) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// Start starts the animation. Nothing is drawn when stdout is not a terminal.
func (s *Spinner) Start() {
	if !isTerminal() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.stopCh, s.doneCh)
}

// Stop stops the spinner and clears its line. It is safe to call twice.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.mu.Lock()
	fmt.Fprintf(s.writer, "\r%s\r", strings.Repeat(" ", s.width))
	s.mu.Unlock()
}

func (s *Spinner) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	frameStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	for i := 0; ; i++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		frame := s.frames[i%len(s.frames)]
		if !s.noColor {
			frame = frameStyle.Render(frame)
		}

		s.mu.Lock()
		line := frame + " " + s.message
		// Pad over the remains of a longer previous label.
		w := lipgloss.Width(line)
		pad := ""
		if s.width > w {
			pad = strings.Repeat(" ", s.width-w)
		}
		s.width = max(s.width, w)
		fmt.Fprint(s.writer, "\r"+line+pad)
		s.mu.Unlock()
	}
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// IsPiped reports whether stdout is not a terminal.
func IsPiped() bool {
	return !isTerminal()
}
