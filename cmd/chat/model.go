package main

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/dylangamachefl/portfolio-website-v3/chat"
)

type (
	chunkMsg    string
	retryMsg    string
	turnDoneMsg struct{ err error }
	resetMsg    struct{ err error }
)

var (
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#87ceeb"))
	modelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#b48ead"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ebcb8b"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5555"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

type keymap struct {
	Send  key.Binding
	Reset key.Binding
	Quit  key.Binding
}

func defaultKeymap() keymap {
	return keymap{
		Send:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Reset: key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "new conversation")),
		Quit:  key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "quit")),
	}
}

type model struct {
	// ctx scopes every turn and reset; quitting cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	session    *chat.Session
	transcript *chat.Transcript
	// events carries chunks and retry banners from the running turn.
	events chan tea.Msg

	history  viewport.Model
	input    textinput.Model
	keys     keymap
	renderer *glamour.TermRenderer
	width    int
	status   string
	err      error
	// pending is set from enter until the turn reports back.
	pending bool
}

func newModel(ctx context.Context, s *chat.Session, t *chat.Transcript, events chan tea.Msg) model {
	in := textinput.New()
	in.Focus()
	in.Placeholder = "Ask about projects, skills, or experience"
	in.Prompt = "> "
	in.CharLimit = 2048

	ctx, cancel := context.WithCancel(ctx)
	m := model{
		ctx:        ctx,
		cancel:     cancel,
		session:    s,
		transcript: t,
		events:     events,
		history:    viewport.New(80, 20),
		input:      in,
		keys:       defaultKeymap(),
		width:      80,
	}
	m.refresh()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.events))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.history.Width, m.history.Height = msg.Width, max(msg.Height-4, 1)
		m.renderer = nil
		m.refresh()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Reset):
			if m.pending {
				return m, nil
			}
			return m, resetConversation(m.ctx, m.session, m.transcript)
		case key.Matches(msg, m.keys.Send):
			line := strings.TrimSpace(m.input.Value())
			if line == "" || m.pending {
				return m, nil
			}
			m.input.Reset()
			m.input.Blur()
			m.err = nil
			m.pending = true
			return m, runTurn(m.ctx, m.session, m.transcript, line, m.events)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case chunkMsg:
		m.status = ""
		m.refresh()
		return m, waitForEvent(m.events)

	case retryMsg:
		m.status = string(msg)
		m.refresh()
		return m, waitForEvent(m.events)

	case turnDoneMsg:
		m.pending = false
		m.status = ""
		m.err = msg.err
		m.input.Focus()
		m.refresh()

	case resetMsg:
		m.err = msg.err
		m.status = ""
		m.refresh()
	}

	var cmd tea.Cmd
	m.history, cmd = m.history.Update(msg)
	return m, cmd
}

func (m model) View() string {
	footer := helpStyle.Render("enter send • ctrl+r new conversation • esc quit")
	switch {
	case m.err != nil:
		footer = errorStyle.Render("error: "+m.err.Error()) + "\n" + footer
	case m.status != "":
		footer = statusStyle.Render(m.status) + "\n" + footer
	case m.pending:
		footer = statusStyle.Render("Thinking...") + "\n" + footer
	}
	return m.history.View() + "\n" + m.input.View() + "\n" + footer
}

func (m *model) refresh() {
	m.history.SetContent(m.renderTranscript())
	m.history.GotoBottom()
}

func (m *model) renderTranscript() string {
	if m.renderer == nil {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(max(m.width-4, 20)))
		if err == nil {
			m.renderer = r
		}
	}
	var b strings.Builder
	for _, msg := range m.transcript.Messages() {
		switch msg.Role {
		case chat.RoleUser:
			b.WriteString(userStyle.Render("You") + "\n" + msg.Text + "\n\n")
		case chat.RoleModel:
			b.WriteString(modelStyle.Render("Assistant") + "\n")
			b.WriteString(m.markdown(msg.Text))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *model) markdown(text string) string {
	if m.renderer == nil || text == "" {
		return text + "\n"
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-events }
}

// runTurn streams the answer into t, announcing each chunk on events. The
// turn is abandoned once ctx is done.
func runTurn(ctx context.Context, s *chat.Session, t *chat.Transcript, text string, events chan<- tea.Msg) tea.Cmd {
	return func() tea.Msg {
		err := chat.RunTurn(ctx, s, t, text, func(chunk string) bool {
			select {
			case <-ctx.Done():
				return false
			case events <- chunkMsg(chunk):
				return true
			}
		})
		return turnDoneMsg{err: err}
	}
}

func resetConversation(ctx context.Context, s *chat.Session, t *chat.Transcript) tea.Cmd {
	return func() tea.Msg {
		err := s.Initialize(ctx)
		t.Reset()
		return resetMsg{err: err}
	}
}
