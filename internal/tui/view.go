package tui

import (
	"fmt"
	"strings"

	"github.com/MegaGrindStone/saige-web-ui/internal/models"
	"github.com/charmbracelet/lipgloss"
)

var tabNames = [tabCount]string{"Chat", "Logs", "Command"}

func (t Tab) String() string {
	if t < 0 || int(t) >= len(tabNames) {
		return fmt.Sprintf("Tab(%d)", int(t))
	}
	return tabNames[t]
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := renderHeader(&m)
	footer := renderFooter(&m)

	var body string
	switch m.activeTab {
	case TabChat:
		body = lipgloss.JoinVertical(lipgloss.Left,
			m.chatView.View(),
			inputBorderStyle.Width(max(m.width-2, 1)).Render(m.input.View()),
		)
	case TabLogs:
		body = m.logsView.View()
	case TabCommand:
		body = renderCommand(&m)
	}

	bodyHeight := max(m.height-2, 1)
	body = lipgloss.NewStyle().Height(bodyHeight).MaxHeight(bodyHeight).Render(body)

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

// renderHeader produces the top bar:
//
//	SAIGE  Chat  Logs  Command
func renderHeader(m *Model) string {
	parts := []string{headerBrandStyle.Render("SAIGE"), " "}
	for i, name := range tabNames {
		if Tab(i) == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(name))
		} else {
			parts = append(parts, tabStyle.Render(name))
		}
	}
	return headerBarStyle.Width(m.width).Render(strings.Join(parts, ""))
}

// renderFooter produces the bottom status bar with keyboard hints.
func renderFooter(m *Model) string {
	left := statusStyle.Render(m.statusMsg)

	var hints []hint
	switch m.activeTab {
	case TabChat:
		hints = []hint{{"enter", "send"}, {"esc", "abort"}, {"pgup/pgdn", "scroll"}}
	case TabLogs:
		hints = []hint{{"r", "refresh"}, {"v", "verify"}, {"↑↓", "scroll"}}
	case TabCommand:
		hints = []hint{{"enter", "run"}}
	}
	hints = append(hints, hint{"tab", "switch"}, hint{"ctrl+c", "quit"})
	right := renderHints(hints)

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right), 0)

	bar := left + strings.Repeat(" ", gap) + right
	return lipgloss.NewStyle().
		Background(colorBgSurface).
		Width(m.width).
		Render(bar)
}

type hint struct {
	key  string
	desc string
}

func renderHints(hints []hint) string {
	var parts []string
	for _, h := range hints {
		parts = append(parts,
			hintKeyStyle.Render(h.key)+" "+hintDescStyle.Render(h.desc))
	}
	return strings.Join(parts, hintDescStyle.Render("  "))
}

// renderConversation renders the committed messages, then the exchange in flight or the error of
// the last failed one.
func renderConversation(m *Model) string {
	var sb strings.Builder

	msgs := m.session.Messages()
	if len(msgs) == 0 && m.pending == nil && m.replyErr == nil {
		sb.WriteString(dimStyle.Render("Say hello to SAIGE."))
		return sb.String()
	}

	for _, msg := range msgs {
		sb.WriteString(renderMessage(m, msg))
		sb.WriteString("\n")
	}

	if m.pending != nil {
		sb.WriteString(renderMessage(m, *m.pending))
		sb.WriteString("\n")

		sb.WriteString(assistantLabelStyle.Render("SAIGE"))
		sb.WriteString("\n")
		if m.replyText == "" && m.replyErr == nil {
			sb.WriteString("  " + m.spinner.View() + dimStyle.Render(" thinking"))
			sb.WriteString("\n")
		} else if m.replyText != "" {
			sb.WriteString(renderMarkdown(m, m.replyText))
			sb.WriteString("\n")
		}
	}

	if m.replyErr != nil {
		sb.WriteString(errorStyle.Render(fmt.Sprintf("  Error: %v", m.replyErr)))
		sb.WriteString("\n")
	}

	return sb.String()
}

func renderMessage(m *Model, msg models.Message) string {
	ts := timestampStyle.Render(msg.Timestamp.Format("15:04"))
	if msg.Role == models.RoleUser {
		return userLabelStyle.Render("You") + " " + ts + "\n" +
			userContentStyle.Width(max(m.width-2, 1)).Render(msg.Content) + "\n"
	}
	return assistantLabelStyle.Render("SAIGE") + " " + ts + "\n" + renderMarkdown(m, msg.Content) + "\n"
}

// renderMarkdown falls back to the raw text when glamour is unavailable or fails.
func renderMarkdown(m *Model, text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

func renderLogs(m *Model) string {
	var sb strings.Builder

	if m.verifyResult != "" {
		style := successStyle
		if m.verifyFailed {
			style = errorStyle
		}
		sb.WriteString(style.Render(m.verifyResult))
		sb.WriteString("\n\n")
	}

	if m.logsLoading && m.logs == (models.Logs{}) && m.logsErr == nil {
		sb.WriteString(dimStyle.Render("Loading logs..."))
		return sb.String()
	}

	chatLogs := m.logs.ChatLogsText()
	if m.logsErr != nil {
		chatLogs = errorStyle.Render(fmt.Sprintf("Error: %v", m.logsErr))
	}

	sb.WriteString(sectionTitleStyle.Render("Chat logs"))
	sb.WriteString("\n")
	sb.WriteString(chatLogs)
	sb.WriteString("\n\n")
	sb.WriteString(sectionTitleStyle.Render("Inference logs"))
	sb.WriteString("\n")
	sb.WriteString(m.logs.InferenceLogsText())
	sb.WriteString("\n")

	return sb.String()
}

func renderCommand(m *Model) string {
	var sb strings.Builder

	sb.WriteString(inputBorderStyle.Width(max(m.width-2, 1)).Render(m.command.View()))
	sb.WriteString("\n")

	switch {
	case m.commandRunning:
		sb.WriteString(dimStyle.Render("Running..."))
	case m.commandFailed:
		sb.WriteString(errorStyle.Render(m.commandOutput))
	default:
		sb.WriteString(m.commandOutput)
	}

	return sb.String()
}
