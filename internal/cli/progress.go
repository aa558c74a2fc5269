package cli

import (
	"fmt"
	"os"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"golang.org/x/term"
)

const pollInterval = 150 * time.Millisecond

// progressState is one poll of a running operation.
type progressState struct {
	Status   string
	Current  int
	Total    int     // zero when unknown
	Fraction float64 // used instead of Current/Total when Total is zero
	Unit     string
	Done     bool
	Err      error
	Summary  string // shown on success
}

func (s progressState) pct() float64 {
	if s.Total > 0 {
		return float64(s.Current) / float64(s.Total)
	}
	return s.Fraction
}

// tickMsg triggers polling the operation state
type tickMsg time.Time

// progressModel is the bubbletea model for a long-running operation.
type progressModel struct {
	poll     func() progressState
	state    progressState
	progress progress.Model
	theme    Theme
	quitHint string
	done     bool
	quitting bool
}

// newProgressModel creates a new progress model.
func newProgressModel(poll func() progressState, quitHint string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		poll:     poll,
		state:    poll(),
		progress: prog,
		theme:    defaultTheme,
		quitHint: quitHint,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		m.state = m.poll()
		if m.state.Done {
			m.done = true
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.state.Status))
	bar := m.progress.ViewAs(m.state.pct())
	counts := fmt.Sprintf("%d %s", m.state.Current, m.state.Unit)
	if m.state.Total > 0 {
		counts = fmt.Sprintf("%d/%d %s", m.state.Current, m.state.Total, m.state.Unit)
	}
	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop watching")
	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, hint)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render("\n"+m.quitHint) + "\n"
	}
	if m.state.Err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("✗ Failed: %s", m.state.Err)) + "\n"
	}
	out := m.theme.completedStyle().Render("✓ Completed") + "\n"
	if m.state.Summary != "" {
		out += "\n" + m.state.Summary
	}
	return out
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// interactive reports whether stdout is a terminal.
func interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// runProgress shows a progress bar until poll reports done. Without a
// terminal it waits quietly and prints the summary. Returns the operation's
// error; stopping the view early is not an error.
func runProgress(poll func() progressState, quitHint string) error {
	if !interactive() {
		for {
			s := poll()
			if s.Done {
				if s.Err == nil && s.Summary != "" {
					fmt.Print(s.Summary)
				}
				return s.Err
			}
			time.Sleep(pollInterval)
		}
	}

	p := tea.NewProgram(newProgressModel(poll, quitHint))
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := final.(progressModel); ok && !m.quitting {
		return m.state.Err
	}
	return nil
}
