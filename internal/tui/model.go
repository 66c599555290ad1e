package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MegaGrindStone/saige-web-ui/internal/models"
	"github.com/MegaGrindStone/saige-web-ui/internal/session"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

// Tab is the console page currently shown.
type Tab int

const (
	TabChat Tab = iota
	TabLogs
	TabCommand

	tabCount = 3
)

// Backend is the non-streaming part of the SAIGE backend API.
type Backend interface {
	Logs(ctx context.Context) (models.Logs, error)
	VerifyBlockchain(ctx context.Context, entry models.SignedEntry) (models.Verification, error)
	Command(ctx context.Context, command string) (models.CommandResult, error)
}

// Model is the root BubbleTea model of the terminal console.
type Model struct {
	session *session.Session
	backend Backend

	// Components
	input    textarea.Model
	command  textinput.Model
	chatView viewport.Model
	logsView viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	style    string

	// UI state
	activeTab Tab
	width     int
	height    int

	// Reply in flight
	pending   *models.Message
	reply     *replyTarget
	replyText string
	replyErr  error

	// Logs tab
	logs         models.Logs
	logsErr      error
	logsLoading  bool
	verifyResult string
	verifyFailed bool

	// Command tab
	commandOutput  string
	commandFailed  bool
	commandRunning bool

	statusMsg string
}

const requestTimeout = 30 * time.Second

// Messages

type replyDoneMsg struct {
	target  *replyTarget
	message models.Message
	err     error
}

type logsLoadedMsg struct {
	logs models.Logs
	err  error
}

type verifyDoneMsg struct {
	text   string
	failed bool
}

type commandDoneMsg struct {
	text   string
	failed bool
}

// NewModel creates the console over sess. style names the glamour style used for assistant
// replies; "auto" picks one from the terminal background.
func NewModel(sess *session.Session, backend Backend, style string) Model {
	input := textarea.New()
	input.Placeholder = "Message SAIGE (enter to send, alt+enter for a new line)"
	input.ShowLineNumbers = false
	input.SetHeight(3)
	input.KeyMap.InsertNewline.SetKeys("alt+enter")
	input.Focus()

	command := textinput.New()
	command.Placeholder = "Command"
	command.Prompt = "$ "

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = assistantLabelStyle

	return Model{
		session:   sess,
		backend:   backend,
		input:     input,
		command:   command,
		chatView:  viewport.New(0, 0),
		logsView:  viewport.New(0, 0),
		spinner:   sp,
		style:     style,
		statusMsg: "Ready",
	}
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		if m.activeTab == TabLogs {
			m.logsView, cmd = m.logsView.Update(msg)
		} else {
			m.chatView, cmd = m.chatView.Update(msg)
		}
		return m, cmd

	case spinner.TickMsg:
		if m.reply == nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refreshChat()
		return m, cmd

	case replyRenderMsg:
		if msg.target != m.reply {
			return m, nil
		}
		m.replyText = msg.text
		m.refreshChat()
		return m, msg.target.wait()

	case replyErrorMsg:
		if msg.target != m.reply {
			return m, nil
		}
		m.replyErr = msg.err
		m.refreshChat()
		return m, msg.target.wait()

	case replyDoneMsg:
		if msg.target != m.reply {
			return m, nil
		}
		return m.finishReply(msg), nil

	case logsLoadedMsg:
		m.logsLoading = false
		m.logs = msg.logs
		m.logsErr = msg.err
		if msg.err != nil {
			m.statusMsg = fmt.Sprintf("Error: %v", msg.err)
		} else {
			m.statusMsg = "Logs loaded"
		}
		m.refreshLogs()
		return m, nil

	case verifyDoneMsg:
		m.verifyResult = msg.text
		m.verifyFailed = msg.failed
		m.statusMsg = msg.text
		m.refreshLogs()
		return m, nil

	case commandDoneMsg:
		m.commandRunning = false
		m.commandOutput = msg.text
		m.commandFailed = msg.failed
		m.statusMsg = "Command finished"
		return m, nil
	}

	return m, nil
}

// handleKey routes keyboard input based on the active tab.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// Global

	switch key {
	case "ctrl+c":
		return m.quit()

	case "tab":
		return m.openTab((m.activeTab + 1) % tabCount)

	case "shift+tab":
		return m.openTab((m.activeTab + tabCount - 1) % tabCount)

	case "esc":
		if m.session.Abort() {
			m.statusMsg = "Aborting reply..."
		}
		return m, nil
	}

	// Tab-specific

	var cmd tea.Cmd
	switch m.activeTab {
	case TabChat:
		switch key {
		case "enter":
			return m.send()
		case "pgup", "pgdown":
			m.chatView, cmd = m.chatView.Update(msg)
			return m, cmd
		}
		m.input, cmd = m.input.Update(msg)

	case TabLogs:
		switch key {
		case "r":
			m.logsLoading = true
			m.statusMsg = "Loading logs..."
			return m, m.loadLogs()
		case "v":
			m.statusMsg = "Verifying latest entry..."
			return m, m.verify()
		case "q":
			return m.quit()
		}
		m.logsView, cmd = m.logsView.Update(msg)

	case TabCommand:
		if key == "enter" {
			return m.runCommand()
		}
		m.command, cmd = m.command.Update(msg)
	}

	return m, cmd
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.session.Abort()
	if m.reply != nil {
		m.reply.stop()
	}
	return m, tea.Quit
}

func (m Model) openTab(tab Tab) (tea.Model, tea.Cmd) {
	m.activeTab = tab
	m.input.Blur()
	m.command.Blur()

	switch tab {
	case TabChat:
		return m, m.input.Focus()
	case TabLogs:
		m.logsLoading = true
		m.statusMsg = "Loading logs..."
		return m, m.loadLogs()
	case TabCommand:
		return m, m.command.Focus()
	}
	return m, nil
}

// send claims the session for the typed message and starts streaming the reply.
func (m Model) send() (tea.Model, tea.Cmd) {
	if m.reply != nil {
		m.statusMsg = "A reply is still streaming (esc to abort)"
		return m, nil
	}

	ex, err := m.session.Prepare(context.Background(), m.input.Value())
	if err != nil {
		if !errors.Is(err, session.ErrEmptyMessage) {
			m.statusMsg = fmt.Sprintf("Error: %v", err)
		}
		return m, nil
	}

	m.input.Reset()
	um := ex.UserMessage()
	m.pending = &um
	m.reply = newReplyTarget()
	m.replyText = ""
	m.replyErr = nil
	m.statusMsg = "Streaming reply..."
	m.refreshChat()

	return m, tea.Batch(runExchange(ex, m.reply), m.reply.wait(), m.spinner.Tick)
}

func runExchange(ex *session.Exchange, target *replyTarget) tea.Cmd {
	return func() tea.Msg {
		ai, err := ex.Run(target)
		target.close()
		return replyDoneMsg{target: target, message: ai, err: err}
	}
}

// finishReply clears the exchange in flight. On failure the pending user message leaves the chat
// view, since it was never committed, and goes back to the input box when that is empty; the error
// stays shown below the conversation until the next send.
func (m Model) finishReply(msg replyDoneMsg) Model {
	if msg.err != nil {
		m.replyErr = msg.err
		m.statusMsg = fmt.Sprintf("Error: %v", msg.err)
		// Nothing was committed: give the message back for another try.
		if m.pending != nil && m.input.Value() == "" {
			m.input.SetValue(m.pending.Content)
		}
	} else {
		m.replyErr = nil
		m.statusMsg = fmt.Sprintf("%d messages", m.session.Len())
	}

	m.pending = nil
	m.reply = nil
	m.replyText = ""
	m.refreshChat()
	return m
}

func (m Model) loadLogs() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		logs, err := m.backend.Logs(ctx)
		return logsLoadedMsg{logs: logs, err: err}
	}
}

func (m Model) verify() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		logs, err := m.backend.Logs(ctx)
		if err != nil {
			return verifyDoneMsg{text: fmt.Sprintf("Error: %v", err), failed: true}
		}
		entry, err := models.LastSignedEntry(logs.ChatLogs)
		if err != nil {
			return verifyDoneMsg{text: fmt.Sprintf("Error: %v", err), failed: true}
		}
		v, err := m.backend.VerifyBlockchain(ctx, entry)
		if err != nil {
			return verifyDoneMsg{text: fmt.Sprintf("Error: %v", err), failed: true}
		}
		return verifyDoneMsg{text: v.Text(), failed: !v.Valid}
	}
}

func (m Model) runCommand() (tea.Model, tea.Cmd) {
	cmd := strings.TrimSpace(m.command.Value())
	if cmd == "" || m.commandRunning {
		return m, nil
	}

	m.commandRunning = true
	m.statusMsg = fmt.Sprintf("Running %q...", cmd)

	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		res, err := m.backend.Command(ctx, cmd)
		if err != nil {
			return commandDoneMsg{text: fmt.Sprintf("Error: %v", err), failed: true}
		}
		text := res.Text()
		if text == "" {
			text = "(no output)"
		}
		return commandDoneMsg{text: text, failed: res.Output == "" && res.Error != ""}
	}
}

// resize lays the components out for a terminal of the given size.
func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	// header + footer
	bodyHeight := max(height-2, 1)

	m.input.SetWidth(max(width-2, 1))
	chatHeight := max(bodyHeight-m.input.Height()-2, 1)
	m.chatView.Width = width
	m.chatView.Height = chatHeight

	m.logsView.Width = width
	m.logsView.Height = max(bodyHeight-1, 1)

	m.command.Width = max(width-4, 1)

	if r, err := newTermRenderer(m.style, max(width-4, 20)); err == nil {
		m.renderer = r
	}

	m.refreshChat()
	m.refreshLogs()
}

func newTermRenderer(style string, wrap int) (*glamour.TermRenderer, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(wrap)}
	if style == "" || style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	return glamour.NewTermRenderer(opts...)
}

func (m *Model) refreshChat() {
	m.chatView.SetContent(renderConversation(m))
	m.chatView.GotoBottom()
}

func (m *Model) refreshLogs() {
	m.logsView.SetContent(renderLogs(m))
}
