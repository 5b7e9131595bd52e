package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles holds the lipgloss styles for the chat view.
type Styles struct {
	Header    lipgloss.Style
	UserLabel lipgloss.Style
	BotLabel  lipgloss.Style
	Muted     lipgloss.Style
	ModeTag   lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Padding(0, 1),
		UserLabel: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		BotLabel:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("36")),
		Muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		ModeTag:   lipgloss.NewStyle().Foreground(lipgloss.Color("99")),
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	footer := m.styles.Muted.Render("enter: send · ctrl+c: quit")
	if m.isLoading {
		footer = m.spinner.View() + m.styles.Muted.Render(" thinking...")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render("quarry"),
		m.viewport.View(),
		m.textarea.View(),
		footer,
	)
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) renderHistory() string {
	var sb strings.Builder

	for _, msg := range m.history {
		switch msg.Role {
		case "user":
			sb.WriteString(m.styles.UserLabel.Render("You") + "\n")
			sb.WriteString(msg.Content)
			sb.WriteString("\n\n")

		case "system":
			sb.WriteString(m.styles.Muted.Render(msg.Content))
			sb.WriteString("\n\n")

		default: // assistant
			label := m.styles.BotLabel.Render("quarry")
			if msg.Mode != "" {
				label += " " + m.styles.ModeTag.Render("["+msg.Mode+"]")
			}
			sb.WriteString(label + "\n")
			sb.WriteString(m.safeRenderMarkdown(msg.Content))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// safeRenderMarkdown renders markdown with panic recovery; glamour can
// panic on malformed terminal state.
func (m Model) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()

	if m.renderer != nil && content != "" {
		rendered, err := m.renderer.Render(content)
		if err == nil {
			return rendered
		}
	}
	return content
}
