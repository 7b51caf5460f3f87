package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/roasbeef/dap-relay/session"
)

// refreshInterval is how often the monitor re-reads the manager.
const refreshInterval = time.Second

// keyMap defines the monitor's key bindings.
type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Output key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Output: key.NewBinding(
		key.WithKeys("enter", "o"),
		key.WithHelp("enter", "toggle output"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Output, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down}, {k.Output, k.Quit}}
}

// tickMsg drives the periodic refresh.
type tickMsg time.Time

// Monitor is a terminal dashboard over the session manager: a live table
// of sessions and an output pane for the selected one.
type Monitor struct {
	manager *session.Manager

	sessions   table.Model
	output     viewport.Model
	help       help.Model
	showOutput bool
	width      int
	height     int
	quitting   bool
}

// NewMonitor creates a monitor over the given manager.
func NewMonitor(manager *session.Manager) *Monitor {
	columns := []table.Column{
		{Title: "ID", Width: 14},
		{Title: "Name", Width: 20},
		{Title: "Lang", Width: 10},
		{Title: "State", Width: 12},
		{Title: "Last Activity", Width: 14},
	}

	sessions := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	sessions.SetStyles(styles)

	return &Monitor{
		manager:  manager,
		sessions: sessions,
		output:   viewport.New(80, 12),
		help:     help.New(),
	}
}

// Run blocks running the monitor until the user quits.
func (m *Monitor) Run() error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// Init implements tea.Model.
func (m *Monitor) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.output.Width = msg.Width - 4
		m.output.Height = msg.Height / 2
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Output):
			m.showOutput = !m.showOutput
			m.refreshOutput()
			return m, nil
		}

	case tickMsg:
		m.refreshSessions()
		if m.showOutput {
			m.refreshOutput()
		}
		return m, tick()
	}

	var cmd tea.Cmd
	m.sessions, cmd = m.sessions.Update(msg)
	return m, cmd
}

// refreshSessions re-reads the manager into the table.
func (m *Monitor) refreshSessions() {
	sessions := m.manager.List()
	rows := make([]table.Row, len(sessions))
	for i, s := range sessions {
		info := s.ToInfo()
		rows[i] = table.Row{
			info.ID,
			info.Name,
			info.Language,
			string(info.State),
			info.LastActivity.Format("15:04:05"),
		}
	}
	m.sessions.SetRows(rows)
}

// refreshOutput fills the viewport with the selected session's output.
func (m *Monitor) refreshOutput() {
	row := m.sessions.SelectedRow()
	if row == nil {
		m.output.SetContent(dimStyle.Render("(no session selected)"))
		return
	}

	sess, err := m.manager.Get(row[0])
	if err != nil {
		m.output.SetContent(errorStyle.Render(err.Error()))
		return
	}

	page := sess.Output().GetPage(0, 500, "")
	if len(page.Lines) == 0 {
		m.output.SetContent(dimStyle.Render("(no output yet)"))
		return
	}
	m.output.SetContent(FormatOutputLines(page.Lines))
	m.output.GotoBottom()
}

// View implements tea.Model.
func (m *Monitor) View() string {
	if m.quitting {
		return ""
	}

	var sections []string
	sections = append(sections,
		titleStyle.Render("dap-relay sessions"),
		fmt.Sprintf("%d active", m.manager.ActiveCount()),
		m.sessions.View(),
	)

	if m.showOutput {
		sections = append(sections,
			headerStyle.Render("output"),
			boxStyle.Render(m.output.View()),
		)
	}

	sections = append(sections, m.help.View(keys))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
