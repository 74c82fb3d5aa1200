package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// theme groups reusable styles for command output.
type theme struct {
	title lipgloss.Style
	key   lipgloss.Style
	value lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	err   lipgloss.Style
	box   lipgloss.Style
}

var styles = defaultTheme()

func defaultTheme() theme {
	return theme{
		title: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("22")),
		key: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		ok: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true),
		warn: lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")).
			Bold(true),
		err: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("109")).
			Padding(0, 1),
	}
}

func printTitle(w io.Writer, text string) {
	fmt.Fprintln(w, styles.title.Render(text))
}

func printField(w io.Writer, key string, value any) {
	fmt.Fprintf(w, "%s %s\n", styles.key.Render(key+":"), styles.value.Render(fmt.Sprint(value)))
}

func printOK(w io.Writer, text string) {
	fmt.Fprintln(w, styles.ok.Render("✓ "+text))
}

func printWarn(w io.Writer, text string) {
	fmt.Fprintln(w, styles.warn.Render("! "+text))
}

func printBox(w io.Writer, text string) {
	fmt.Fprintln(w, styles.box.Render(text))
}

// stateStyle colors a connection state.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "open":
		return styles.ok
	case "connecting":
		return styles.warn
	default:
		return styles.err
	}
}
