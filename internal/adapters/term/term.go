// Package term implements the control-loop collaborators for a terminal
// session: the reauthorization prompt, the identity status line, and the
// failure reporter. All of them are invoked on the control loop, so reads
// and writes here never interleave with other presentation output.
package term

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/charmbracelet/lipgloss"

	"github.com/relayport/rdx/internal/domain"
	"github.com/relayport/rdx/internal/mainloop"
	"github.com/relayport/rdx/internal/ports"
)

type styles struct {
	prompt   lipgloss.Style
	identity lipgloss.Style
	signedIn lipgloss.Style
	cleared  lipgloss.Style
	failure  lipgloss.Style
	detail   lipgloss.Style
}

func newStyles() styles {
	return styles{
		prompt:   lipgloss.NewStyle().Bold(true),
		identity: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		signedIn: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		cleared:  lipgloss.NewStyle().Faint(true),
		failure:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		detail:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
	}
}

// Prompt asks the user whether the session should be reauthorized after a
// credential failure. It blocks on input, which is acceptable on the control
// loop: nothing else may touch the terminal while the question is open.
type Prompt struct {
	input  io.Reader
	output io.Writer
	styles styles
}

var _ ports.ReauthorizationPrompt = (*Prompt)(nil)

func NewPrompt(input io.Reader, output io.Writer) *Prompt {
	return &Prompt{input: input, output: output, styles: newStyles()}
}

func (p *Prompt) ConfirmReauthorization(_ mainloop.Token, email string) bool {
	who := "your session"
	if email != "" {
		who = sanitizeForTerminal(email)
	}

	_, _ = fmt.Fprintf(p.output, "%s\n", p.styles.prompt.Render(fmt.Sprintf("Access for %s has expired.", who)))
	_, _ = fmt.Fprint(p.output, "Sign in again now? [y/N]: ")

	reader := bufio.NewReader(p.input)
	answer, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}

	answer = strings.TrimSpace(answer)
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}

// Presenter keeps the terminal's identity line in step with the session.
type Presenter struct {
	output io.Writer
	styles styles
}

var _ ports.IdentityPresenter = (*Presenter)(nil)

func NewPresenter(output io.Writer) *Presenter {
	return &Presenter{output: output, styles: newStyles()}
}

func (p *Presenter) ShowIdentity(_ mainloop.Token, identity domain.Identity) {
	line := fmt.Sprintf("● Signed in as %s", sanitizeForTerminal(identity.DisplayName()))
	_, _ = fmt.Fprintln(p.output, p.styles.signedIn.Render(line))
}

func (p *Presenter) ClearIdentity(_ mainloop.Token) {
	_, _ = fmt.Fprintln(p.output, p.styles.cleared.Render("○ Signed out"))
}

// Reporter surfaces operation failures on the terminal.
type Reporter struct {
	output io.Writer
	styles styles
}

var _ ports.ErrorReporter = (*Reporter)(nil)

func NewReporter(output io.Writer) *Reporter {
	return &Reporter{output: output, styles: newStyles()}
}

func (r *Reporter) Report(_ mainloop.Token, label string, err error) {
	detail := ""
	if err != nil {
		detail = sanitizeForTerminal(err.Error())
	}

	_, _ = fmt.Fprintf(r.output, "%s %s\n",
		r.styles.failure.Render(fmt.Sprintf("✗ %s:", label)),
		r.styles.detail.Render(detail))
}

func sanitizeForTerminal(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
}
