package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/relayport/rdx/internal/ports"
)

// Surface renders the busy indicator for in-flight connection work. Each
// ShowIndicator call runs its own bubbletea program; the job gate upstream
// guarantees only one is alive at a time.
type Surface struct {
	input  io.Reader
	output io.Writer
}

var _ ports.ProgressSurface = (*Surface)(nil)

func NewSurface(input io.Reader, output io.Writer) *Surface {
	return &Surface{input: input, output: output}
}

func (s *Surface) ShowIndicator(message string, onCancel func()) (ports.ProgressIndicator, error) {
	opts := []tea.ProgramOption{tea.WithInput(s.input)}
	if s.output != nil {
		opts = append(opts, tea.WithOutput(s.output))
	}

	program := tea.NewProgram(newIndicatorModel(message, onCancel), opts...)
	handle := &indicatorHandle{program: program, done: make(chan struct{})}

	go func() {
		_, err := program.Run()
		handle.runErr = err
		close(handle.done)
	}()

	return handle, nil
}

// indicatorHandle closes over a running indicator program. Close is safe to
// call once the program has finished on its own; Send is a no-op then.
type indicatorHandle struct {
	program   *tea.Program
	done      chan struct{}
	closeOnce sync.Once
	runErr    error
}

var _ ports.ProgressIndicator = (*indicatorHandle)(nil)

func (h *indicatorHandle) Close() error {
	h.closeOnce.Do(func() {
		h.program.Send(indicatorClosedMsg{})
	})
	<-h.done

	if h.runErr != nil {
		return fmt.Errorf("stop progress indicator: %w", h.runErr)
	}

	return nil
}

type indicatorClosedMsg struct{}

type indicatorModel struct {
	spinner         spinner.Model
	message         string
	onCancel        func()
	cancelRequested bool
	done            bool
}

func newIndicatorModel(message string, onCancel func()) indicatorModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return indicatorModel{
		spinner:  s,
		message:  message,
		onCancel: onCancel,
	}
}

func (m indicatorModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m indicatorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "ctrl+c":
			if !m.cancelRequested {
				m.cancelRequested = true
				if m.onCancel != nil {
					m.onCancel()
				}
			}
		}
		return m, nil
	case indicatorClosedMsg:
		m.done = true
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m indicatorModel) View() string {
	if m.done {
		return ""
	}

	if m.cancelRequested {
		return fmt.Sprintf("%s %s (cancelling)", m.spinner.View(), m.message)
	}

	return fmt.Sprintf("%s %s", m.spinner.View(), m.message)
}
