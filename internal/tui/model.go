// Package tui is the terminal front end of the chat client.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/gymchat/internal/chat"
	"github.com/ashureev/gymchat/internal/domain"
	"github.com/ashureev/gymchat/internal/session"
	"github.com/ashureev/gymchat/internal/uistate"
)

const refreshInterval = 500 * time.Millisecond

// Conversation is the part of session.Coordinator the UI drives.
type Conversation interface {
	Send(ctx context.Context, input string, onChunk func(string)) (*chat.Reply, error)
	Dismiss() error
	Messages() []domain.ChatMessage
	Pending() string
	State() uistate.State
}

// Options configures the model.
type Options struct {
	Title        string
	GlamourStyle string
}

// Model is the bubbletea model for one conversation.
type Model struct {
	conv Conversation
	opts Options

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	help     help.Model
	keys     keyMap

	width  int
	height int

	stream <-chan tea.Msg
	cancel context.CancelFunc

	renderer      *glamour.TermRenderer
	rendererWidth int
	rendered      map[string]string

	status string
	err    error
}

type chunkMsg struct{ text string }

type turnDoneMsg struct {
	reply *chat.Reply
	err   error
}

type refreshMsg struct{}

// NewModel creates the model.
func NewModel(conv Conversation, opts Options) Model {
	if opts.Title == "" {
		opts.Title = string(domain.DefaultPersonality)
	}
	if opts.GlamourStyle == "" {
		opts.GlamourStyle = "dark"
	}

	ti := textinput.New()
	ti.Placeholder = "Ask about training, nutrition, recovery..."
	ti.Prompt = "> "
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	vp := viewport.New(80, 20)

	return Model{
		conv:     conv,
		opts:     opts,
		viewport: vp,
		input:    ti,
		spinner:  sp,
		help:     help.New(),
		keys:     defaultKeys(),
		rendered: make(map[string]string),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, refresh())
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}

// sendCmd runs one turn in the background. Chunks and the final result are
// delivered through the returned channel, which is closed after the result.
// Once ctx is done undelivered messages are dropped.
func (m Model) sendCmd(ctx context.Context, input string) (<-chan tea.Msg, tea.Cmd) {
	ch := make(chan tea.Msg, 64)
	deliver := func(msg tea.Msg) {
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	}
	go func() {
		defer close(ch)
		reply, err := m.conv.Send(ctx, input, func(text string) {
			deliver(chunkMsg{text: text})
		})
		deliver(turnDoneMsg{reply: reply, err: err})
	}()
	return ch, listen(ch)
}

func listen(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.syncViewport()

	case refreshMsg:
		m.syncViewport()
		cmds = append(cmds, refresh())

	case chunkMsg:
		m.syncViewport()
		if m.stream != nil {
			cmds = append(cmds, listen(m.stream))
		}

	case turnDoneMsg:
		m.stream = nil
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.err = msg.err
		switch {
		case msg.err != nil:
			m.status = "Request failed"
		case msg.reply == nil:
			m.status = "Off topic"
		default:
			m.status = fmt.Sprintf("Reply in %d chunks", msg.reply.Chunks)
		}
		m.syncViewport()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case key.Matches(msg, m.keys.Dismiss):
			if err := m.conv.Dismiss(); err != nil {
				m.err = err
			} else {
				m.err = nil
				m.status = ""
			}
			m.syncViewport()
			return m, nil
		case key.Matches(msg, m.keys.PageUp):
			m.viewport.HalfViewUp()
			return m, nil
		case key.Matches(msg, m.keys.PageDown):
			m.viewport.HalfViewDown()
			return m, nil
		case key.Matches(msg, m.keys.Send):
			return m.submit()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.stream != nil || m.conv.State().Busy() {
		return m, nil
	}
	m.input.Reset()
	m.err = nil
	m.status = ""

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	stream, cmd := m.sendCmd(ctx, text)
	m.stream = stream
	m.syncViewport()
	return m, cmd
}

func (m *Model) resize() {
	inputHeight := 1
	chrome := 1 + 1 + inputHeight + 1 // title, banner, input, status
	m.viewport.Width = max(m.width, 20)
	m.viewport.Height = max(m.height-chrome, 3)
	m.input.Width = max(m.width-len(m.input.Prompt)-1, 10)
}

// syncViewport redraws the transcript, following the bottom when the user
// has not scrolled up.
func (m *Model) syncViewport() {
	atBottom := m.viewport.AtBottom()
	content := Transcript(m.conv.Messages(), m.conv.Pending(), m.renderMarkdown)
	m.viewport.SetContent(content)
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderMarkdown(id, md string) string {
	wrap := max(m.viewport.Width-4, 20)
	cacheKey := fmt.Sprintf("%s|%d", id, wrap)
	if id != "" {
		if out, ok := m.rendered[cacheKey]; ok {
			return out
		}
	}
	if m.renderer == nil || m.rendererWidth != wrap {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(m.opts.GlamourStyle),
			glamour.WithWordWrap(wrap),
		)
		if err != nil {
			return md
		}
		m.renderer, m.rendererWidth = r, wrap
	}
	out, err := m.renderer.Render(md)
	if err != nil {
		return md
	}
	out = strings.Trim(out, "\n")
	if id != "" {
		m.rendered[cacheKey] = out
	}
	return out
}

// Transcript lays out the conversation. render converts assistant Markdown
// for display; pending is the partially streamed reply.
func Transcript(messages []domain.ChatMessage, pending string, render func(id, md string) string) string {
	if len(messages) == 0 && pending == "" {
		return "Say hi to get started."
	}
	var b strings.Builder
	for _, msg := range messages {
		if msg.IsUser() {
			b.WriteString(userStyle.Render("you: ") + msg.Content)
		} else {
			b.WriteString(render(msg.ID, msg.Content))
		}
		b.WriteString("\n\n")
	}
	if pending != "" {
		b.WriteString(pending)
		b.WriteString("▌")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Banner is the notice shown for states that need the user's attention.
func Banner(state uistate.State, err error) string {
	switch state {
	case uistate.OffTopic:
		return offTopicStyle.Render("That's outside what I can help with. Press esc and try a fitness question.")
	case uistate.Error:
		msg := "Something went wrong."
		if errors.Is(err, chat.ErrWatchdogTimeout) {
			msg = "The reply took too long."
		}
		return errorStyle.Render(msg + " Press esc to dismiss.")
	default:
		return ""
	}
}

func (m Model) View() string {
	state := m.conv.State()

	status := string(state)
	if state.Busy() || m.stream != nil {
		status = m.spinner.View() + " " + status
	}
	if m.status != "" {
		status += "  " + m.status
	}
	if m.err != nil && !errors.Is(m.err, session.ErrBusy) {
		status += "  err=" + m.err.Error()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(m.opts.Title),
		m.viewport.View(),
		Banner(state, m.err),
		m.input.View(),
		statusStyle.Render(status)+" "+m.help.View(m.keys),
	)
}
