// Package report prints plugin results.
package report

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/woxQAQ/i18n-greeter/internal/plugin"
)

var (
	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	greetingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))
)

// Printer writes each result as a "Language:" line followed by a
// "Greeting:" line.
type Printer struct {
	out    io.Writer
	styled bool
}

// NewPrinter returns a printer that writes plain text to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// NewStdoutPrinter returns a printer on stdout, styled when stdout is a terminal.
func NewStdoutPrinter() *Printer {
	return &Printer{
		out:    os.Stdout,
		styled: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// Styled reports whether labels are rendered with terminal styles.
func (p *Printer) Styled() bool {
	return p.styled
}

// Report implements plugin.Reporter.
func (p *Printer) Report(_ context.Context, result plugin.Result) error {
	_, err := fmt.Fprintf(p.out, "%s %s\n%s %s\n",
		p.label("Language:"), result.Language,
		p.label("Greeting:"), p.greeting(result.Greeting),
	)
	return err
}

func (p *Printer) label(s string) string {
	if !p.styled {
		return s
	}
	return labelStyle.Render(s)
}

func (p *Printer) greeting(s string) string {
	if !p.styled {
		return s
	}
	return greetingStyle.Render(s)
}

var _ plugin.Reporter = (*Printer)(nil)
