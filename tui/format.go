// Package tui renders relay state for humans: a lipgloss-styled formatter
// for session snapshots, stack traces, and variables, and an interactive
// bubbletea monitor over the session manager.
package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/roasbeef/dap-relay/adapter"
	"github.com/roasbeef/dap-relay/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	stateStyles = map[session.State]lipgloss.Style{
		session.StateCreated:    lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		session.StateLaunching:  lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		session.StateRunning:    lipgloss.NewStyle().Foreground(lipgloss.Color("82")),
		session.StatePaused:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		session.StateTerminated: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		session.StateFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// FormatState renders a session state with its status color.
func FormatState(state session.State) string {
	style, ok := stateStyles[state]
	if !ok {
		return string(state)
	}
	return style.Render(string(state))
}

// FormatSessionInfo renders one session snapshot as a boxed summary.
func FormatSessionInfo(info session.Info) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(info.Name))
	b.WriteString(dimStyle.Render(fmt.Sprintf(" (%s)", info.ID)))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s  %s %s\n",
		headerStyle.Render("state:"), FormatState(info.State),
		headerStyle.Render("language:"), info.Language))
	b.WriteString(fmt.Sprintf("%s %s\n",
		headerStyle.Render("project:"), info.ProjectRoot))

	if info.StopReason != "" {
		b.WriteString(fmt.Sprintf("%s %s (thread %d)\n",
			headerStyle.Render("stopped:"),
			info.StopReason, info.CurrentThreadID))
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("last activity: %s",
		info.LastActivity.Format("15:04:05"))))

	return boxStyle.Render(b.String())
}

// FormatStackTrace renders frames as an aligned table, topmost first. The
// current frame (index 0) is marked with an arrow.
func FormatStackTrace(frames []adapter.StackFrame) string {
	if len(frames) == 0 {
		return dimStyle.Render("(no frames)")
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("  #  function") + "\n")

	for i, frame := range frames {
		marker := "  "
		if i == 0 {
			marker = "→ "
		}

		location := ""
		if frame.Source != nil && frame.Source.Path != "" {
			location = fmt.Sprintf("%s:%d",
				shortFilename(frame.Source.Path), frame.Line)
		}

		b.WriteString(fmt.Sprintf("%s%2d  %-32s %s\n",
			marker, i, truncate(frame.Name, 32),
			dimStyle.Render(location)))
	}

	return b.String()
}

// FormatVariables renders variables as name, value, type columns.
// Expandable variables are marked with a + prefix.
func FormatVariables(variables []adapter.Variable) string {
	if len(variables) == 0 {
		return dimStyle.Render("(no variables)")
	}

	var b strings.Builder
	for _, v := range variables {
		marker := "  "
		if v.VariablesReference > 0 {
			marker = "+ "
		}
		b.WriteString(fmt.Sprintf("%s%-24s %-40s %s\n",
			marker, truncate(v.Name, 24), truncate(v.Value, 40),
			dimStyle.Render(v.Type)))
	}
	return b.String()
}

// FormatWatchResults renders watch evaluations, with failures inline.
func FormatWatchResults(results []session.WatchResult) string {
	if len(results) == 0 {
		return dimStyle.Render("(no watches)")
	}

	var b strings.Builder
	for _, r := range results {
		if r.Error != "" {
			b.WriteString(fmt.Sprintf("  %-24s %s\n",
				truncate(r.Expression, 24),
				errorStyle.Render(r.Error)))
			continue
		}
		b.WriteString(fmt.Sprintf("  %-24s %-40s %s\n",
			truncate(r.Expression, 24), truncate(r.Result, 40),
			dimStyle.Render(r.Type)))
	}
	return b.String()
}

// FormatBreakpointVerdicts renders the adapter's verdicts for one file.
func FormatBreakpointVerdicts(file string, verdicts []adapter.Breakpoint) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(shortFilename(file)) + "\n")
	for _, v := range verdicts {
		mark := "✓"
		style := stateStyles[session.StateRunning]
		if !v.Verified {
			mark = "○"
			style = dimStyle
		}
		line := fmt.Sprintf("  %s line %d", mark, v.Line)
		if v.Message != "" {
			line += dimStyle.Render(" — " + v.Message)
		}
		b.WriteString(style.Render(line) + "\n")
	}
	return b.String()
}

// FormatOutputLines renders captured output with line numbers, stderr in
// red.
func FormatOutputLines(lines []session.OutputLine) string {
	var b strings.Builder
	for _, line := range lines {
		content := strings.TrimRight(line.Content, "\n")
		prefix := dimStyle.Render(fmt.Sprintf("%5d │ ", line.LineNumber))
		if line.Category == "stderr" {
			content = errorStyle.Render(content)
		}
		b.WriteString(prefix + content + "\n")
	}
	return b.String()
}

func shortFilename(path string) string {
	if path == "" {
		return "?"
	}
	return filepath.Base(path)
}

func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	if max <= 1 {
		return "…"
	}
	return text[:max-1] + "…"
}
