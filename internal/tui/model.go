// Package tui is the interactive terminal front end: a streaming transcript,
// a permission overlay for tool calls, and slash commands for session
// control.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/SamInTheShell/delver/internal/app"
	"github.com/SamInTheShell/delver/internal/chat"
)

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryTool
	entryError
	entryNotice
)

type entry struct {
	kind     entryKind
	content  string
	thinking string
	toolName string
}

// Turn events are delivered from the loop goroutine over one channel so the
// bubbletea update loop stays the only writer of model state.
type (
	chunkMsg      chat.Chunk
	appendedMsg   chat.Message
	turnDoneMsg   struct{}
	turnErrMsg    struct{ err error }
	permissionMsg struct {
		call    chat.ToolCall
		respond chan bool
	}
)

type Model struct {
	app   *app.Application
	sess  *chat.Session
	theme Theme

	viewport viewport.Model
	input    textarea.Model
	spin     spinner.Model

	events chan tea.Msg
	cancel context.CancelFunc

	transcript []entry
	// draft indexes the streaming assistant entry, -1 when none. An index is
	// used because transcript appends reallocate the slice.
	draft      int
	permission *permissionMsg
	permChoice int

	generating bool
	ready      bool
	width      int
	height     int
	status     string
}

func New(application *app.Application, sess *chat.Session) *Model {
	theme := NewTheme()

	ta := textarea.New()
	ta.Placeholder = "Ask about your notes... (enter to send, /help for commands)"
	ta.Focus()
	ta.CharLimit = 8000
	ta.SetHeight(3)
	ta.Prompt = "▍ "
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Muted

	m := &Model{
		app:    application,
		sess:   sess,
		theme:  theme,
		input:  ta,
		spin:   sp,
		draft:  -1,
		events: make(chan tea.Msg, 16),
		width:  80,
		height: 24,
	}
	m.transcript = append(m.transcript, entry{
		kind:    entryNotice,
		content: fmt.Sprintf("Session %q — model %s, %s context", sess.Name, sess.Model, sess.ContextMode),
	})
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spin.Tick)
}

func (m *Model) waitEvent() tea.Cmd {
	return func() tea.Msg { return <-m.events }
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(msg.Width - 4)
		headerHeight := 1
		footerHeight := m.input.Height() + 4
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		if m.permission != nil {
			return m.updatePermission(msg)
		}
		switch msg.String() {
		case "ctrl+c":
			m.stopTurn()
			return m, tea.Quit
		case "esc":
			if m.generating {
				m.stopTurn()
				m.status = "cancelling..."
				return m, nil
			}
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.generating {
				return m, nil
			}
			m.input.Reset()
			if strings.HasPrefix(text, "/") {
				return m.runCommand(text)
			}
			return m, m.startTurn(text)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case chunkMsg:
		m.applyChunk(chat.Chunk(msg))
		m.refreshViewport()
		return m, m.waitEvent()

	case appendedMsg:
		m.applyAppended(chat.Message(msg))
		m.refreshViewport()
		return m, m.waitEvent()

	case permissionMsg:
		pm := msg
		m.permission = &pm
		m.permChoice = 0
		return m, m.waitEvent()

	case turnDoneMsg:
		m.finishTurn("")
		return m, nil

	case turnErrMsg:
		if chat.IsContextLimit(msg.err) {
			m.transcript = append(m.transcript, entry{
				kind:    entryError,
				content: msg.err.Error() + " — switch modes with /mode rolling or /mode compaction",
			})
		} else {
			m.transcript = append(m.transcript, entry{kind: entryError, content: msg.err.Error()})
		}
		m.finishTurn("")
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) updatePermission(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k", "1":
		m.permChoice = 0
	case "down", "j", "2":
		m.permChoice = 1
	case "enter":
		m.resolvePermission(m.permChoice == 0)
	case "esc", "ctrl+c":
		m.resolvePermission(false)
	}
	return m, nil
}

func (m *Model) resolvePermission(allowed bool) {
	if m.permission == nil {
		return
	}
	m.permission.respond <- allowed
	m.permission = nil
}

func (m *Model) startTurn(text string) tea.Cmd {
	m.transcript = append(m.transcript, entry{kind: entryUser, content: text})
	m.generating = true
	m.status = ""
	m.refreshViewport()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	events := m.events

	callbacks := chat.TurnCallbacks{
		OnChunk: func(c chat.Chunk) { events <- chunkMsg(c) },
		OnAppend: func(msg chat.Message) {
			if msg.Role == chat.RoleTool {
				events <- appendedMsg(msg)
			}
		},
		OnComplete: func(msg chat.Message) { events <- appendedMsg(msg) },
		OnToolPermission: func(ctx context.Context, call chat.ToolCall) (bool, error) {
			respond := make(chan bool, 1)
			select {
			case events <- permissionMsg{call: call, respond: respond}:
			case <-ctx.Done():
				return false, ctx.Err()
			}
			select {
			case allowed := <-respond:
				return allowed, nil
			case <-ctx.Done():
				return false, ctx.Err()
			}
		},
	}

	go func() {
		if err := m.app.RunTurn(ctx, m.sess, text, callbacks); err != nil {
			events <- turnErrMsg{err: err}
			return
		}
		events <- turnDoneMsg{}
	}()

	return tea.Batch(m.waitEvent(), m.spin.Tick)
}

func (m *Model) stopTurn() {
	if m.cancel != nil {
		m.cancel()
	}
	// An in-flight permission prompt can never be answered once the turn is
	// cancelled.
	m.permission = nil
}

func (m *Model) finishTurn(status string) {
	m.generating = false
	m.draft = -1
	m.status = status
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.refreshViewport()
}

func (m *Model) applyChunk(c chat.Chunk) {
	switch c.Type {
	case chat.ChunkContent, chat.ChunkThinking:
		if m.draft < 0 {
			m.transcript = append(m.transcript, entry{kind: entryAssistant})
			m.draft = len(m.transcript) - 1
		}
		m.transcript[m.draft].content += c.Content
		m.transcript[m.draft].thinking += c.Thinking
	case chat.ChunkToolCalls:
		for _, call := range c.ToolCalls {
			m.transcript = append(m.transcript, entry{
				kind:     entryTool,
				toolName: call.Name,
				content:  "running...",
			})
		}
		m.draft = -1
	}
}

func (m *Model) applyAppended(msg chat.Message) {
	switch msg.Role {
	case chat.RoleTool:
		// Fill in the most recent pending tool entry for this tool.
		for i := len(m.transcript) - 1; i >= 0; i-- {
			e := &m.transcript[i]
			if e.kind == entryTool && e.toolName == msg.ToolName && e.content == "running..." {
				e.content = summarize(msg.Content, 200)
				break
			}
		}
	case chat.RoleAssistant:
		if m.draft >= 0 {
			m.transcript[m.draft].content = msg.Content
			m.transcript[m.draft].thinking = msg.Thinking
		} else if msg.Content != "" || msg.Thinking != "" {
			m.transcript = append(m.transcript, entry{
				kind:     entryAssistant,
				content:  msg.Content,
				thinking: msg.Thinking,
			})
		}
		m.draft = -1
	}
}

func summarize(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func (m *Model) runCommand(text string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(text)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/help":
		m.notice("commands: /new [name], /mode <rolling|compaction|halting>, /model <name>, /tokens, /quit")
	case "/new":
		name := "chat"
		if len(args) > 0 {
			name = strings.Join(args, " ")
		}
		sess, err := m.app.NewSession(name)
		if err != nil {
			m.errorf("failed to create session: %v", err)
			break
		}
		m.sess = sess
		m.transcript = nil
		m.draft = -1
		m.notice(fmt.Sprintf("started session %q", name))
	case "/mode":
		if len(args) != 1 {
			m.errorf("usage: /mode <rolling|compaction|halting>")
			break
		}
		mode, ok := chat.ParseContextMode(args[0])
		if !ok {
			m.errorf("unknown context mode: %s", args[0])
			break
		}
		m.sess.ContextMode = mode
		if err := m.app.Store.SaveSession(m.sess); err != nil {
			m.errorf("failed to save session: %v", err)
			break
		}
		m.notice("context mode: " + args[0])
	case "/model":
		if len(args) != 1 {
			m.errorf("usage: /model <name>")
			break
		}
		m.sess.Model = args[0]
		if err := m.app.Store.SaveSession(m.sess); err != nil {
			m.errorf("failed to save session: %v", err)
			break
		}
		m.notice("model: " + args[0])
	case "/tokens":
		state := m.app.Loop.Context.State(m.sess, chat.DefaultContextTokens)
		m.notice(fmt.Sprintf("%d tokens across %d active messages (budget %d)",
			state.CurrentTokens, len(state.ActiveMessages), state.MaxTokens))
	default:
		m.errorf("unknown command: %s", cmd)
	}
	m.refreshViewport()
	return m, nil
}

func (m *Model) notice(text string) {
	m.transcript = append(m.transcript, entry{kind: entryNotice, content: text})
}

func (m *Model) errorf(format string, args ...interface{}) {
	m.transcript = append(m.transcript, entry{kind: entryError, content: fmt.Sprintf(format, args...)})
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript(m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m *Model) renderTranscript(width int) string {
	var b strings.Builder
	for i, e := range m.transcript {
		if i > 0 {
			b.WriteString("\n")
		}
		switch e.kind {
		case entryUser:
			b.WriteString(m.theme.RoleYou.Render("you") + "  " + e.content + "\n")
		case entryAssistant:
			if e.thinking != "" {
				b.WriteString(m.theme.Thinking.Render(wrap("· "+e.thinking, width)) + "\n")
			}
			b.WriteString(m.theme.RoleAI.Render("delver") + "  " + wrap(e.content, width) + "\n")
		case entryTool:
			b.WriteString(m.theme.RoleTool.Render("⚙ "+e.toolName) + "  " + m.theme.Muted.Render(e.content) + "\n")
		case entryError:
			b.WriteString(m.theme.RoleErr.Render("error") + "  " + e.content + "\n")
		case entryNotice:
			b.WriteString(m.theme.Muted.Render(e.content) + "\n")
		}
	}
	return b.String()
}

func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func (m *Model) renderPermission() string {
	if m.permission == nil {
		return ""
	}
	width := m.width - 6
	if width > 70 {
		width = 70
	}
	row := func(idx int, text string) string {
		prefix := "  "
		style := m.theme.Muted
		if idx == m.permChoice {
			prefix = "› "
			style = m.theme.Selected
		}
		return style.Render(prefix + text)
	}

	var b strings.Builder
	b.WriteString(m.theme.Selected.Render("Tool permission") + "\n")
	b.WriteString(fmt.Sprintf("%s wants to run with arguments:\n", m.permission.call.Name))
	b.WriteString(m.theme.Muted.Render(summarize(string(m.permission.call.Arguments), 200)) + "\n\n")
	b.WriteString(row(0, "1. Allow") + "\n")
	b.WriteString(row(1, "2. Deny") + "\n")
	b.WriteString(m.theme.Footer.Render("↑/↓ choose  •  enter confirm  •  esc deny"))
	return m.theme.Overlay.Width(width).Render(b.String())
}

func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}
	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.permission != nil {
		b.WriteString(m.renderPermission())
		b.WriteString("\n")
	}
	b.WriteString(m.theme.InputBox.Width(m.width - 2).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.footer())
	return b.String()
}

func (m *Model) footer() string {
	left := fmt.Sprintf("%s · %s", m.sess.Model, m.sess.ContextMode)
	if m.generating {
		left = m.spin.View() + " generating (esc to cancel) · " + left
	}
	if m.status != "" {
		left += " · " + m.status
	}
	return m.theme.Footer.Render(left)
}

// Run starts the TUI program and blocks until it exits.
func Run(application *app.Application, sess *chat.Session) error {
	program := tea.NewProgram(New(application, sess), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
