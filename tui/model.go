package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexcodex/mcphub/orchestrator"
)

// Run drives the chat TUI over one session until the user quits.
func Run(ctx context.Context, session *orchestrator.Session) error {
	if session == nil {
		return fmt.Errorf("tui: session is required")
	}
	program := tea.NewProgram(
		NewModel(ctx, session),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
	)
	_, err := program.Run()
	return err
}

// streamEventMsg wraps one session event for the update loop.
type streamEventMsg struct {
	event orchestrator.StreamEvent
}

// streamClosedMsg signals that the turn's event stream ended.
type streamClosedMsg struct{}

// Model renders the conversation feed, a prompt bar and a status line.
type Model struct {
	ctx     context.Context
	session *orchestrator.Session

	feed  viewport.Model
	input textinput.Model

	lines     []string
	current   strings.Builder
	streaming bool
	events    <-chan orchestrator.StreamEvent
	status    string

	width  int
	height int
	ready  bool
}

// NewModel builds the initial TUI state.
func NewModel(ctx context.Context, session *orchestrator.Session) *Model {
	input := textinput.New()
	input.Placeholder = "ask something, or quit to exit"
	input.Focus()
	return &Model{
		ctx:     ctx,
		session: session,
		input:   input,
		status:  "ready",
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// waitForEvent turns the next stream event into a tea message.
func waitForEvent(ch <-chan orchestrator.StreamEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return streamEventMsg{event: ev}
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.feed = viewport.New(msg.Width, msg.Height-3)
			m.ready = true
		} else {
			m.feed.Width = msg.Width
			m.feed.Height = msg.Height - 3
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}

	case streamEventMsg:
		m.apply(msg.event)
		m.refresh()
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		m.streaming = false
		m.events = nil
		m.status = "ready"
		m.refresh()
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.feed, cmd = m.feed.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.streaming {
		return m, nil
	}
	if text == "quit" || text == "exit" {
		return m, tea.Quit
	}
	m.input.Reset()
	events, err := m.session.Submit(m.ctx, text)
	if err != nil {
		m.lines = append(m.lines, toolErrStyle.Render(err.Error()))
		m.refresh()
		return m, nil
	}
	m.lines = append(m.lines, userStyle.Render("you: ")+text)
	m.streaming = true
	m.events = events
	m.status = "thinking"
	m.refresh()
	return m, waitForEvent(events)
}

// apply folds one stream event into the feed.
func (m *Model) apply(ev orchestrator.StreamEvent) {
	switch ev.Type {
	case orchestrator.EventTextDelta:
		m.current.WriteString(ev.Text)
	case orchestrator.EventToolCallStarted:
		m.flushCurrent()
		m.lines = append(m.lines, toolStyle.Render("→ "+ev.Call.Name))
		m.status = "running " + ev.Call.Name
	case orchestrator.EventToolCallFinished:
		m.lines = append(m.lines, toolOkStyle.Render("✓ "+ev.Result.Name))
	case orchestrator.EventToolCallFailed:
		m.lines = append(m.lines, toolErrStyle.Render("✗ "+ev.Result.Name+": "+ev.Result.Err))
	case orchestrator.EventTurnComplete:
		m.flushCurrent()
	}
}

func (m *Model) flushCurrent() {
	if m.current.Len() == 0 {
		return
	}
	m.lines = append(m.lines, m.current.String())
	m.current.Reset()
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	content := strings.Join(m.lines, "\n")
	if m.current.Len() > 0 {
		content += "\n" + m.current.String()
	}
	m.feed.SetContent(content)
	m.feed.GotoBottom()
}

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "starting..."
	}
	var b strings.Builder
	b.WriteString(m.feed.View())
	b.WriteString("\n")
	b.WriteString(promptBarStyle.Width(m.width).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(statusStyle.Width(m.width).Render(headerStyle.Render("mcphub") + " · " + m.status))
	return b.String()
}
